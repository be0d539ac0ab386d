package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/me/threadsched/pkg/model"
)

func newListCmd() *cobra.Command {
	var opts model.ListOptions
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			b, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			runs, page, err := b.ListRuns(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if output != formatText {
				return encode(out, output, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPOLICY\tSTATE\tTICKS\tEVENTS\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.Name, r.Policy, r.State, r.Ticks, r.EventCount,
					r.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			tw.Flush()

			sum := model.ComputeRunSummary(runs)
			fmt.Fprintf(out, "\n%d runs: %d completed, %d failed, %d pending, %d running\n",
				sum.Total, sum.Completed, sum.Failed, sum.Pending, sum.Running)
			if page != nil && page.HasMore {
				fmt.Fprintf(out, "(%d of %d shown)\n", len(runs), page.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "Only runs in this state (PENDING, RUNNING, COMPLETED, FAILED)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "Only runs under this policy")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum number of runs to list (at most 100)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")
	cmd.Flags().StringVarP(&output, "output", "o", formatText, "Output format: text, json or yaml")

	return cmd
}
