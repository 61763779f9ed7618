package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/sheetload/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion pass",
		Long: `Runs one pass over the input directory. Exit status is 0 when every file
was processed or skipped, 1 when at least one file failed, and 2 when the
run could not start or was interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			result := a.Orchestrator.Run(ctx)
			if asJSON {
				err = writeResultJSON(cmd.OutOrStdout(), result)
			} else {
				err = writeResultText(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}

			if result.ExitCode != pipeline.ExitOK {
				return &exitError{code: result.ExitCode, err: result.Err}
			}
			return nil
		},
	}

	addPipelineFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}

func writeResultJSON(w io.Writer, result *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func writeResultText(w io.Writer, result *pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tROWS\tDETAIL")
	for _, f := range result.Files {
		detail := f.JobID
		switch {
		case f.State == pipeline.StateFailed:
			detail = f.Stage + ": " + f.Error
		case f.DryRun:
			detail = "dry run"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.Path, f.State, f.RowCount, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nrun %s: discovered=%d processed=%d skipped=%d failed=%d duration=%s exit=%d\n",
		result.RunID, result.Discovered, result.Processed, result.Skipped, result.Failed,
		result.Duration().Round(time.Millisecond), result.ExitCode)
	return err
}
