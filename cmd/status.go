package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alkfred/alkfred/internal/warehouse"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse build history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		entries, err := warehouse.NewBuildLog(pool).ListAll(ctx)
		if err != nil {
			return eris.Wrap(err, "status: list build log")
		}
		if len(entries) == 0 {
			fmt.Println("No builds recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTAGE\tSTATUS\tSTARTED\tDURATION\tROWS\tERROR")
		for _, e := range entries {
			duration := "-"
			if e.CompletedAt != nil {
				duration = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.ID, e.Stage, e.Status,
				e.StartedAt.Format(time.RFC3339),
				duration, e.RowsWritten, e.Error)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
