package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alkfred/alkfred/internal/civic"
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Curate resistance rules from fetched evidence",
	Long: `Fold stored evidence into one rule per (disease, molecular profile) pair.
Only evidence matching the configured significance/direction predicate is
curated; everything else is counted and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "curate"))

		s, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "curate: open store")
		}
		defer s.Close() //nolint:errcheck

		records, err := s.LoadEvidence(ctx)
		if err != nil {
			return eris.Wrap(err, "curate: load evidence")
		}
		if len(records) == 0 {
			return eris.New("curate: no evidence stored; run fetch first")
		}

		curator := civic.NewCurator(civic.CuratorOptions{
			Lookup:       cachedLookup(s, newCivicClient()),
			Significance: cfg.Curate.Significance,
			Direction:    cfg.Curate.Direction,
			GeneFilter:   cfg.Curate.Gene,
		})

		for i := range records {
			curator.Ingest(ctx, records[i])
		}
		rules := curator.Finalize()
		stats := curator.Stats()

		log.Info("curation complete",
			zap.Int("rules", len(rules)),
			zap.Int("ingested", stats.Ingested),
			zap.Int("skipped_filter", stats.SkippedFilter),
			zap.Int("skipped_gene_filter", stats.SkippedGeneFilter),
			zap.Int("skipped_missing_disease", stats.SkippedMissingDisease),
			zap.Int("skipped_blank_profile", stats.SkippedBlankProfile),
			zap.Int("skipped_no_therapies", stats.SkippedNoTherapies),
		)

		n, err := s.SaveRules(ctx, rules)
		if err != nil {
			return eris.Wrap(err, "curate: save rules")
		}

		fmt.Printf("Curated %d rules from %d evidence items\n", n, stats.Ingested)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(curateCmd)
}
