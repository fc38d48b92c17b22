// Package main is a command line client for BOB: it sends messages to the
// agent, extracts whisky recommendations from replies and looks up a user's
// Boozapp bar.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drunk-bob/internal/config"
	"drunk-bob/internal/logging"
)

// cfg is loaded before any init so subcommand flags default to it.
var cfg = config.Load()

var (
	verbose bool
	logger  *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to BOB and extract whisky recommendations",
	Long: `Talk to BOB and extract whisky recommendations.

Available subcommands:
  send       - Send a message and print the reply and its recommendations
  parse      - Extract recommendations from a reply read from a file or stdin
  collection - Print a user's Boozapp bar
  agents     - List the agents the backend runs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		l, err := logging.New(level, true)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "Agent backend base URL")

	rootCmd.AddCommand(sendCmd, parseCmd, collectionCmd, agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
