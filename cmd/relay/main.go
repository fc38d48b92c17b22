// Package main runs the directive relay: wallet sessions register over the
// websocket endpoint, the HTTP API issues signing directives to them and
// parses agent replies into recommendations.
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
	"drunk-bob/internal/relay"
	"drunk-bob/internal/solana"
	"drunk-bob/internal/storage"
	chstore "drunk-bob/internal/storage/clickhouse"
	"drunk-bob/internal/storage/memory"
	"drunk-bob/internal/storage/migrations"
	pgstore "drunk-bob/internal/storage/postgres"
)

// shutdownTimeout bounds graceful shutdown after the first signal.
const shutdownTimeout = 30 * time.Second

var (
	cfg       config.Config
	envFile   string
	useMemory bool
	sweepTick time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the wallet directive relay",
	Long: `Run the wallet directive relay.

Wallet sessions connect to /ws and register their address. The HTTP API
sends sign-message, lock and claim directives to registered wallets,
records their acknowledgements and parses agent replies into
recommendations.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			loaded := config.Load(envFile)
			applyUnsetFlags(cmd, loaded)
		}
	},
	RunE: run,
}

func init() {
	cfg = config.Load()

	f := rootCmd.Flags()
	f.StringVar(&envFile, "env-file", "", "Load settings from this .env file")
	f.StringVar(&cfg.RelayAddr, "addr", cfg.RelayAddr, "HTTP listen address")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")
	f.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "Allowed CORS origins")
	f.DurationVar(&cfg.DirectiveTimeout, "directive-timeout", cfg.DirectiveTimeout, "Pending directives older than this expire")
	f.DurationVar(&sweepTick, "sweep-interval", 15*time.Second, "How often expired directives are swept")
	f.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", cfg.RateLimitRPS, "API requests per second (0 disables)")
	f.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", cfg.RateLimitBurst, "API request burst")
	f.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string for directives")
	f.StringVar(&cfg.ClickHouseDSN, "clickhouse-dsn", cfg.ClickHouseDSN, "ClickHouse connection string for recommendation events")
	f.StringVar(&cfg.SolanaRPCEndpoint, "rpc-endpoint", cfg.SolanaRPCEndpoint, "Solana RPC endpoint used to broadcast signed transactions")
	f.BoolVar(&useMemory, "use-memory", false, "Use in-memory storage even if DSNs are set")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	f.BoolVar(&cfg.LogDevelopment, "log-dev", cfg.LogDevelopment, "Human-readable development logging")
}

// applyUnsetFlags copies values from an explicitly loaded env file into
// settings whose flags were not given on the command line.
func applyUnsetFlags(cmd *cobra.Command, loaded config.Config) {
	set := func(name string, fn func()) {
		if !cmd.Flags().Changed(name) {
			fn()
		}
	}
	set("addr", func() { cfg.RelayAddr = loaded.RelayAddr })
	set("metrics-addr", func() { cfg.MetricsAddr = loaded.MetricsAddr })
	set("allowed-origin", func() { cfg.AllowedOrigins = loaded.AllowedOrigins })
	set("directive-timeout", func() { cfg.DirectiveTimeout = loaded.DirectiveTimeout })
	set("rate-limit-rps", func() { cfg.RateLimitRPS = loaded.RateLimitRPS })
	set("rate-limit-burst", func() { cfg.RateLimitBurst = loaded.RateLimitBurst })
	set("postgres-dsn", func() { cfg.PostgresDSN = loaded.PostgresDSN })
	set("clickhouse-dsn", func() { cfg.ClickHouseDSN = loaded.ClickHouseDSN })
	set("rpc-endpoint", func() { cfg.SolanaRPCEndpoint = loaded.SolanaRPCEndpoint })
	set("log-level", func() { cfg.LogLevel = loaded.LogLevel })
	set("log-dev", func() { cfg.LogDevelopment = loaded.LogDevelopment })
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// stores holds the storage implementations the relay uses.
type stores struct {
	directives      storage.DirectiveStore
	recommendations storage.RecommendationStore
	health          map[string]func(context.Context) error
}

// createStores picks Postgres for directives and ClickHouse for
// recommendation events when their DSNs are set, memory otherwise.
func createStores(ctx context.Context, logger *zap.Logger) (*stores, func(), error) {
	if useMemory {
		logger.Info("using in-memory storage")
		return &stores{
			directives:      memory.NewDirectiveStore(),
			recommendations: memory.NewRecommendationStore(),
		}, func() {}, nil
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	s := &stores{health: make(map[string]func(context.Context) error)}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithMaxConns(10))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s.directives = pgstore.NewDirectiveStore(pool)
		s.health["postgres"] = pool.Healthy
		logger.Info("directives stored in postgres")
	} else {
		s.directives = memory.NewDirectiveStore()
		logger.Info("directives stored in memory")
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		cleanups = append(cleanups, func() { _ = conn.Close() })
		s.recommendations = chstore.NewRecommendationStore(conn)
		s.health["clickhouse"] = conn.Healthy
		logger.Info("recommendation events stored in clickhouse")
	} else {
		s.recommendations = memory.NewRecommendationStore()
		logger.Info("recommendation events stored in memory")
	}

	return s, cleanup, nil
}

// checkIntervals rejects durations a ticker or cutoff cannot use.
func checkIntervals() error {
	if sweepTick <= 0 {
		return fmt.Errorf("--sweep-interval must be positive, got %s", sweepTick)
	}
	if cfg.DirectiveTimeout <= 0 {
		return fmt.Errorf("--directive-timeout must be positive, got %s", cfg.DirectiveTimeout)
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	if err := checkIntervals(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	hubOpts := []relay.HubOption{relay.WithHubLogger(logger)}
	if cfg.SolanaRPCEndpoint != "" {
		rpc := solana.NewHTTPClient(cfg.SolanaRPCEndpoint, solana.WithRPCLogger(logger))
		hubOpts = append(hubOpts, relay.WithBroadcaster(rpc))
		logger.Info("broadcasting signed transactions", zap.String("rpc", cfg.SolanaRPCEndpoint))
	}
	hub := relay.NewHub(relay.DefaultHubConfig(), st.directives, hubOpts...)

	api := relay.NewServer(relay.ServerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		HealthChecks:   st.health,
	}, hub, st.directives, st.recommendations, logger)

	srv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.RelayAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.RelayAddr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	go func() {
		if err := hub.RunExpiry(ctx, sweepTick, cfg.DirectiveTimeout); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("directive sweeper: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case runErr = <-errCh:
		logger.Error("component failed, shutting down", zap.Error(runErr))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
			os.Exit(1)
		case <-done:
		}
	}()
	defer close(done)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Hub first: hijacked websocket connections are not tracked by srv.
	if err := hub.Close(); err != nil {
		logger.Warn("close hub", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown relay server", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
