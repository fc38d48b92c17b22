// Package main runs a headless wallet session: it keeps a websocket open to
// the backend for the keypair on disk and answers signing directives.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drunk-bob/internal/config"
	"drunk-bob/internal/logging"
	"drunk-bob/internal/observability"
	"drunk-bob/internal/solana"
	"drunk-bob/internal/wallet"
)

var (
	cfg         config.Config
	autoApprove bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Run a headless wallet session",
	Long: `Run a headless wallet session against the Drunk BOB backend.

The keypair file is re-read every --reobserve interval. A new key switches
the session to the new identity, a missing file disconnects it, and a
dropped socket is redialed on the next observation.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	cfg = config.Load()

	f := rootCmd.Flags()
	f.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "Backend websocket URL")
	f.StringVar(&cfg.WalletKeypair, "keypair", cfg.WalletKeypair, "Path to a Solana keypair JSON file")
	f.DurationVar(&cfg.ReobserveInterval, "reobserve", cfg.ReobserveInterval, "How often the keypair file is re-read")
	f.BoolVar(&autoApprove, "yes", false, "Approve every signing request without prompting")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.BoolVar(&cfg.LogDevelopment, "log-dev", cfg.LogDevelopment, "Human-readable development logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfg.WalletKeypair == "" {
		return errors.New("--keypair or WALLET_KEYPAIR is required")
	}
	if cfg.ReobserveInterval <= 0 {
		return fmt.Errorf("--reobserve must be positive, got %s", cfg.ReobserveInterval)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	approver := wallet.AutoApprove
	if !autoApprove {
		approver = wallet.PromptApprover(os.Stdin, cmd.OutOrStdout())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	session := wallet.NewSession(wallet.DefaultSessionConfig(cfg.WSURL), wallet.WithLogger(logger))
	defer session.Close()

	obs := &observer{session: session, path: cfg.WalletKeypair, approver: approver, logger: logger}
	obs.observe(ctx)

	ticker := time.NewTicker(cfg.ReobserveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			obs.observe(ctx)
		}
	}
}

// observer reports the keypair on disk to the session.
type observer struct {
	session  *wallet.Session
	path     string
	approver wallet.Approver
	logger   *zap.Logger

	current *wallet.LocalWallet
}

func (o *observer) observe(ctx context.Context) {
	kp, err := solana.LoadKeypairFile(o.path)
	if err != nil {
		if o.current != nil {
			o.logger.Warn("keypair unavailable, disconnecting", zap.String("path", o.path), zap.Error(err))
			o.current = nil
			_ = o.session.SetWallet(ctx, nil)
		}
		return
	}

	if o.current == nil || o.current.PublicKey() != kp.PublicKey() {
		o.current = wallet.NewLocalWallet(kp, o.approver)
		o.logger.Info("wallet observed", zap.Stringer("wallet", kp.PublicKey()))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := o.session.SetWallet(dialCtx, o.current); err != nil {
		o.logger.Warn("connect session", zap.Error(err))
	}
}
