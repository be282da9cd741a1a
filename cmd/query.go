package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alkfred/alkfred/internal/civic"
)

var queryCmd = &cobra.Command{
	Use:   "query [mutation]",
	Short: "Query projected mutation records",
	Long: `Look up projected mutation records by name or alias. With no argument,
lists all records; use --category to restrict the listing. Matching is
case-insensitive over normalized names and aliases.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "query: open store")
		}
		defer s.Close() //nolint:errcheck

		mutations, err := s.LoadMutations(ctx)
		if err != nil {
			return eris.Wrap(err, "query: load mutations")
		}
		if len(mutations) == 0 {
			return eris.New("query: no mutation records stored; run mutations first")
		}

		category, _ := cmd.Flags().GetString("category")
		asJSON, _ := cmd.Flags().GetBool("json")

		var matches []*civic.Mutation
		if len(args) == 1 {
			needle := civic.NormalizeText(args[0])
			for _, m := range mutations {
				if matchesMutation(m, needle) {
					matches = append(matches, m)
				}
			}
			if len(matches) == 0 {
				return eris.Errorf("query: no mutation matching %q", args[0])
			}
		} else {
			for _, m := range mutations {
				if category != "" && m.Category != category {
					continue
				}
				matches = append(matches, m)
			}
		}

		sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(matches)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MUTATION\tCATEGORY\tTHERAPIES\tPROFILES")
		for _, m := range matches {
			names := make([]string, len(m.Therapies))
			for i, t := range m.Therapies {
				names[i] = t.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				m.Name, m.Category, strings.Join(names, ", "), len(m.ProfileKeys))
		}
		return w.Flush()
	},
}

// matchesMutation reports whether the normalized needle equals the mutation's
// normalized name or any of its aliases.
func matchesMutation(m *civic.Mutation, needle string) bool {
	if civic.NormalizeText(m.Name) == needle {
		return true
	}
	for _, a := range m.Aliases {
		if civic.NormalizeText(a) == needle {
			return true
		}
	}
	return false
}

func init() {
	queryCmd.Flags().String("category", "", "restrict listing to a category: resistant, driver, unknown")
	queryCmd.Flags().Bool("json", false, "emit matching records as JSON")
	rootCmd.AddCommand(queryCmd)
}
