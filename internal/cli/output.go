package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/me/threadsched/pkg/model"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

// printRun writes the text report of a run.
func printRun(w io.Writer, run *model.Run) {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "  Name:    %s\n", run.Name)
	fmt.Fprintf(w, "  Policy:  %s\n", run.Policy)
	fmt.Fprintf(w, "  State:   %s\n", run.State)
	fmt.Fprintf(w, "  Ticks:   %d (%d idle, %d kernel, %d switches)\n",
		run.Ticks, run.Stats.IdleTicks, run.Stats.KernelTicks, run.Stats.Switches)
	fmt.Fprintf(w, "  Load:    %d.%02d\n", run.LoadAvg/100, abs(run.LoadAvg%100))
	fmt.Fprintf(w, "  Events:  %d\n", run.EventCount)
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:   %s\n", run.Error)
	}
	fmt.Fprintf(w, "  Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Done:    %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	if len(run.Threads) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TID\tTHREAD\tBASE\tFINAL\tNICE\tRECENT_CPU\tCREATED\tEXITED\tRAN")
	for _, th := range run.Threads {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			th.TID, th.Name, th.BasePriority, th.FinalPriority, th.Nice,
			th.RecentCPU, th.CreatedTick, th.ExitTick, th.RunTicks)
	}
	tw.Flush()
}

// printEvents writes a scheduler trace, one event per line.
func printEvents(w io.Writer, events []model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTICK\tKIND\tTID\tTHREAD\tPRI\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%d\t%s\n",
			e.Seq, e.Tick, e.Kind, e.TID, e.Thread, e.Priority, e.Detail)
	}
	tw.Flush()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
