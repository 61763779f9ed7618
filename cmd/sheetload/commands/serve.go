package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dshills/sheetload/internal/mcp"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve ingestion tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			server, err := mcp.NewServer(a.Orchestrator, a.Registry, Version)
			if err != nil {
				return err
			}
			a.Logger.Info("mcp server ready, listening on stdio")
			return server.Serve(ctx)
		},
	}

	addPipelineFlags(cmd)
	return cmd
}
