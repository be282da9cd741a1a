package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch accepted evidence from CIViC",
	Long: `Fetch accepted evidence items from the CIViC GraphQL API into the local
snapshot store. Use --gene to restrict to profiles mentioning a gene symbol;
the configured default is ALK.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "fetch"))

		gene, _ := cmd.Flags().GetString("gene")
		if gene == "" {
			gene = cfg.Curate.Gene
		}

		s, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "fetch: open store")
		}
		defer s.Close() //nolint:errcheck

		client := newCivicClient()

		log.Info("fetching evidence", zap.String("gene", gene))
		records, err := client.EvidenceItems(ctx, gene)
		if err != nil {
			return eris.Wrap(err, "fetch: evidence items")
		}

		n, err := s.SaveEvidence(ctx, records)
		if err != nil {
			return eris.Wrap(err, "fetch: save evidence")
		}

		fmt.Printf("Fetched %d evidence items\n", n)
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("gene", "", "restrict to profiles mentioning this gene symbol")
	rootCmd.AddCommand(fetchCmd)
}
