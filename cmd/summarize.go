package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/model"
)

var (
	summarizeFile  string
	summarizeForce bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate a summary for a single filing",
	Long:  "Reads a filing document as JSON from --file or stdin, runs the summary pipeline, prints progress to stderr and the result JSON to stdout.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var input io.Reader = os.Stdin
		if summarizeFile != "" {
			f, err := os.Open(summarizeFile)
			if err != nil {
				return eris.Wrap(err, "open filing document")
			}
			defer f.Close()
			input = f
		}

		var doc model.FilingDocument
		if err := json.NewDecoder(input).Decode(&doc); err != nil {
			return eris.Wrap(err, "decode filing document")
		}
		if doc.AccessionNumber == "" || doc.Text == "" {
			return eris.New("filing document requires accession_number and text")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		progress := func(ev model.ProgressEvent) {
			marker := ""
			if ev.Heartbeat {
				marker = " ..."
			}
			fmt.Fprintf(os.Stderr, "[%7.1fs] %-12s %s%s\n", ev.ElapsedSeconds, ev.Stage, ev.Message, marker)
		}

		var result *model.SummaryResult
		if summarizeForce {
			result, err = env.Pipeline.Run(ctx, doc, progress)
		} else {
			result, err = env.Pipeline.GetOrRun(ctx, doc, progress)
		}
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("summary complete",
			zap.String("accession", result.Accession),
			zap.String("result_type", string(result.ResultType)),
			zap.Int("covered", result.Coverage.CoveredCount),
			zap.Int("total", result.Coverage.TotalCount),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	summarizeCmd.Flags().StringVar(&summarizeFile, "file", "", "filing document JSON (default stdin)")
	summarizeCmd.Flags().BoolVar(&summarizeForce, "force", false, "regenerate even if a persisted summary exists")
	rootCmd.AddCommand(summarizeCmd)
}
