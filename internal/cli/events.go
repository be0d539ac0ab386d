package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/threadsched/pkg/model"
)

func newEventsCmd() *cobra.Command {
	var kind string
	var output string

	cmd := &cobra.Command{
		Use:   "events <run_id>",
		Short: "Print the scheduler trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			events, err := b.Events(cmd.Context(), args[0], model.EventKind(kind))
			if err != nil {
				return fmt.Errorf("get events: %w", err)
			}

			out := cmd.OutOrStdout()
			if output != formatText {
				return encode(out, output, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events.")
				return nil
			}
			printEvents(out, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (e.g. dispatch, donate, log)")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format: text, json or yaml")
	return cmd
}
