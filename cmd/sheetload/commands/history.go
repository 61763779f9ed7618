package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/sheetload/internal/app"
	"github.com/dshills/sheetload/internal/pipeline"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <file_name>",
		Short: "Show registry records for a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			_, sink, err := app.Logging(cfg, cmd.ErrOrStderr())
			if err != nil {
				return &exitError{code: ExitUnhandled, err: err}
			}

			reg, err := app.OpenRegistry(ctx, cfg.Registry, sink)
			if err != nil {
				return &exitError{code: pipeline.ExitFatal, err: err}
			}
			defer reg.Close()

			if err := reg.EnsureExists(ctx); err != nil {
				return &exitError{code: pipeline.ExitFatal, err: err}
			}
			records, err := reg.History(ctx, args[0], limit)
			if err != nil {
				return &exitError{code: pipeline.ExitFatal, err: err}
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				_, err := fmt.Fprintf(out, "no records for %s\n", args[0])
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROCESSED_AT\tSTATUS\tROWS\tCHECKSUM\tERROR")
			for _, r := range records {
				rows, msg := "-", ""
				if r.RowCount != nil {
					rows = fmt.Sprint(*r.RowCount)
				}
				if r.ErrorMessage != nil {
					msg = *r.ErrorMessage
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.ProcessedAt.UTC().Format(time.RFC3339), r.Status, rows, r.Checksum, msg)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}
