package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"drunk-bob/internal/collection"
)

var collectionJSON bool

// collectionCmd prints a Boozapp bar
var collectionCmd = &cobra.Command{
	Use:   "collection <username>",
	Short: "Print a user's Boozapp bar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fetcher := collection.NewFetcher(collection.WithLogger(logger), collection.WithCacheTTL(0))
		items, err := fetcher.Fetch(cmd.Context(), &collection.ProxyCursor{}, args[0])
		if err != nil {
			return err
		}
		if collectionJSON {
			return printJSON(cmd.OutOrStdout(), items)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSPIRIT\tPROOF\tFILL\tMSRP")
		for _, it := range items {
			p := it.Product
			fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.0f%%\t$%.2f\n", p.Name, p.Spirit, p.Proof, it.FillPercentage, p.AverageMSRP)
		}
		return tw.Flush()
	},
}

// agentsCmd lists backend agents
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents the backend runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := newBackendClient().GetAgents(cmd.Context())
		if err != nil {
			return err
		}
		for _, a := range agents {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", a.ID, a.Name)
		}
		return nil
	},
}

func init() {
	collectionCmd.Flags().BoolVar(&collectionJSON, "json", false, "Print the raw items as JSON")
}
