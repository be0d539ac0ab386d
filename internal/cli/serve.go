package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/threadsched/internal/config"
	"github.com/me/threadsched/internal/server"
)

func newServeCmd() *cobra.Command {
	cfg := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API on the local database",
		Long: `Starts the schedsim API server on --db together with the runner loop that
executes queued runs. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, err := openLocal(ctx, flagDB)
			if err != nil {
				return err
			}
			defer b.Close()

			return server.Serve(ctx, cfg, b.store, logger)
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	cmd.Flags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "How often queued runs are picked up")
	cmd.Flags().DurationVar(&cfg.RunTimeout, "run-timeout", cfg.RunTimeout, "Wall-clock limit per run (0 for none)")

	return cmd
}
