package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alkfred/alkfred/internal/warehouse"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load filtered evidence into the warehouse",
	Long: `Resolve stored evidence against the civic.* dimension tables and insert
the missing dimension, link, and fact rows. Every write is insert-if-absent,
so re-running against the same input adds nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "load"))

		s, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "load: open store")
		}
		defer s.Close() //nolint:errcheck

		records, err := s.LoadEvidence(ctx)
		if err != nil {
			return eris.Wrap(err, "load: load evidence")
		}
		if len(records) == 0 {
			return eris.New("load: no evidence stored; run fetch first")
		}

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := warehouse.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "load: migrate")
		}

		buildLog := warehouse.NewBuildLog(pool)
		runID, err := buildLog.Start(ctx, "load")
		if err != nil {
			return eris.Wrap(err, "load: start build log")
		}

		builder := warehouse.NewBuilder(warehouse.BuilderOptions{
			Pool:         pool,
			Lookup:       cachedLookup(s, newCivicClient()),
			BatchSize:    cfg.Warehouse.BatchSize,
			RunID:        uuid.New().String(),
			DefaultGene:  cfg.Curate.DefaultGene,
			Significance: cfg.Curate.Significance,
			Direction:    cfg.Curate.Direction,
		})

		report, err := builder.Build(ctx, records)
		if err != nil {
			if logErr := buildLog.Fail(ctx, runID, err.Error()); logErr != nil {
				log.Warn("failed to record build failure", zap.Error(logErr))
			}
			return eris.Wrap(err, "load: build")
		}

		if err := buildLog.Complete(ctx, runID, &warehouse.BuildResult{
			RowsWritten: report.Links + report.Facts,
			Metadata: map[string]any{
				"evidence":  report.Evidence,
				"diseases":  report.Diseases,
				"therapies": report.Therapies,
				"variants":  report.Variants,
				"links":     report.Links,
				"facts":     report.Facts,
			},
		}); err != nil {
			return eris.Wrap(err, "load: complete build log")
		}

		fmt.Printf("Loaded %d links and %d facts (%d evidence, %d diseases, %d therapies, %d variants)\n",
			report.Links, report.Facts, report.Evidence, report.Diseases, report.Therapies, report.Variants)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}
