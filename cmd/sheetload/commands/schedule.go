package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dshills/sheetload/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run ingestion on a cron schedule until interrupted",
		Long: `Runs ingestion on the configured cron expression (five fields or a
descriptor such as "@every 15m"). A tick that fires while the previous run
is still going is skipped. Stops on SIGINT or SIGTERM after the current run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			s, err := scheduler.New(a.Config.Schedule, a.Orchestrator, a.Sink)
			if err != nil {
				if errors.Is(err, scheduler.ErrEmptySchedule) {
					err = errors.New("no schedule configured; set schedule or pass --schedule")
				}
				return &exitError{code: ExitUnhandled, err: err}
			}
			return s.Run(ctx)
		},
	}

	addPipelineFlags(cmd)
	cmd.Flags().String("schedule", "", `Cron expression, e.g. "0 * * * *" or "@every 15m"`)
	return cmd
}
