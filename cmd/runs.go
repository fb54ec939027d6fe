package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/internal/store"
)

var (
	runsStatus    string
	runsAccession string
	runsLimit     int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:    model.RunStatus(runsStatus),
			Accession: runsAccession,
			Limit:     runsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status")
	runsCmd.Flags().StringVar(&runsAccession, "accession", "", "filter by accession number")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "max runs to list")
	rootCmd.AddCommand(runsCmd)
}
