package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/threadsched/internal/workload"
	"github.com/me/threadsched/pkg/model"
)

func newRunCmd() *cobra.Command {
	var policy string
	var output string
	var events bool

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario and print the result",
		Long: `Boots the simulated machine, runs the scenario to completion and records the
run with its scheduler trace. The command fails when the run fails.

--policy overrides the policy named in the scenario file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}

			sc, err := workload.ParseFile(args[0])
			if err != nil {
				return err
			}
			if policy != "" {
				sc.Policy = policy
			}
			if apiErr := workload.Validate(sc); apiErr != nil {
				return validationFailure(apiErr)
			}
			text, err := workload.Marshal(sc)
			if err != nil {
				return fmt.Errorf("encode scenario: %w", err)
			}

			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			run, err := b.Run(cmd.Context(), sc, text)
			if err != nil {
				return err
			}
			if events && len(run.Events) == 0 && run.EventCount > 0 {
				if run.Events, err = b.Events(cmd.Context(), run.ID, ""); err != nil {
					return fmt.Errorf("fetch events: %w", err)
				}
			}
			if !events && output != formatText {
				run.Events = nil
			}

			out := cmd.OutOrStdout()
			if output == formatText {
				printRun(out, run)
				if events {
					fmt.Fprintln(out)
					printEvents(out, run.Events)
				}
			} else if err := encode(out, output, run); err != nil {
				return err
			}

			if run.State == model.RunStateFailed {
				return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policy, "policy", "", "Scheduling policy: priority or mlfqs (overrides the scenario)")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format: text, json or yaml")
	cmd.Flags().BoolVar(&events, "events", false, "Include the scheduler trace")

	return cmd
}

// validationFailure flattens a validation error and its details into one
// error message.
func validationFailure(apiErr *model.APIError) error {
	var sb strings.Builder
	sb.WriteString(apiErr.Message)
	for _, d := range apiErr.Details {
		where := d.Field
		if where == "" {
			where = d.Path
		}
		fmt.Fprintf(&sb, "\n  %s: %s", where, d.Message)
	}
	return errors.New(sb.String())
}
