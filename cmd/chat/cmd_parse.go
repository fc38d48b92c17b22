package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"drunk-bob/internal/observability"
	"drunk-bob/internal/recommendation"
)

// parseCmd runs the extractor on a saved reply
var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Extract recommendations from a reply read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open reply: %w", err)
			}
			defer f.Close()
			in = f
		}

		text, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		records := recommendation.Parse(string(text))
		observability.RecordRecommendations(len(records))
		return printJSON(cmd.OutOrStdout(), recommendation.FormatResponse(records))
	},
}
