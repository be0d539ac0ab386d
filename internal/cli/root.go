// Package cli implements the schedsim command-line tool.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/threadsched/internal/config"
	"github.com/me/threadsched/internal/logging"
)

var (
	flagServer    string
	flagDB        string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

// defaultServer returns the server URL from SCHEDSIM_SERVER, or "" to work
// on the local database.
func defaultServer() string {
	return os.Getenv("SCHEDSIM_SERVER")
}

// NewRootCmd creates the root cobra command for the schedsim CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedsim",
		Short: "schedsim runs workloads on a simulated single-CPU thread scheduler",
		Long: `schedsim boots a simulated single-CPU kernel, runs scenario workloads on it
under the priority-donation or the multi-level feedback queue policy, and keeps
every run with its scheduler trace in a SQLite database.

Commands work on the local database (--db, or SCHEDSIM_DB) unless --server
(or SCHEDSIM_SERVER) names a running schedsim API server.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			format, err := logging.ParseFormat(flagLogFormat)
			if err != nil {
				return err
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), format, cmd.ErrOrStderr())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "schedsim server URL (or SCHEDSIM_SERVER env); empty uses the local database")
	root.PersistentFlags().StringVar(&flagDB, "db", config.DefaultDBPath(), "SQLite database path (or "+config.DBEnvVar+" env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newShowCmd(),
		newEventsCmd(),
		newDeleteCmd(),
		newServeCmd(),
	)

	return root
}
