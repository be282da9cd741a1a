package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alkfred/alkfred/internal/civic"
)

var mutationsCmd = &cobra.Command{
	Use:   "mutations",
	Short: "Project per-mutation resistance records from curated rules",
	Long: `Re-key curated rules by individual variant, merging aliases and therapies
across every profile the variant appears in, and classify each variant as
resistant, driver, or unknown based on inhibitor generation exposure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "mutations"))

		s, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "mutations: open store")
		}
		defer s.Close() //nolint:errcheck

		rules, err := s.LoadRules(ctx)
		if err != nil {
			return eris.Wrap(err, "mutations: load rules")
		}
		if len(rules) == 0 {
			return eris.New("mutations: no rules stored; run curate first")
		}

		gens := civic.Generations{
			First:  cfg.Generations.First,
			Second: cfg.Generations.Second,
			Third:  cfg.Generations.Third,
		}
		mutations := civic.ProjectMutations(rules, gens)

		byCategory := make(map[string]int)
		for _, m := range mutations {
			byCategory[m.Category]++
		}
		log.Info("projection complete",
			zap.Int("mutations", len(mutations)),
			zap.Int("resistant", byCategory[civic.CategoryResistant]),
			zap.Int("driver", byCategory[civic.CategoryDriver]),
			zap.Int("unknown", byCategory[civic.CategoryUnknown]),
		)

		n, err := s.SaveMutations(ctx, mutations)
		if err != nil {
			return eris.Wrap(err, "mutations: save")
		}

		fmt.Printf("Projected %d mutation records from %d rules\n", n, len(rules))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mutationsCmd)
}
