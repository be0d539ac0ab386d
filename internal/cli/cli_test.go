package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/me/threadsched/internal/config"
	"github.com/me/threadsched/internal/logging"
	"github.com/me/threadsched/internal/server"
	"github.com/me/threadsched/internal/store"
	"github.com/me/threadsched/pkg/model"
)

const orderScenario = `name: order
policy: priority
threads:
  - name: high
    priority: 40
    steps:
      - log: high
  - name: low
    priority: 20
    steps:
      - run: 2
      - log: low
`

const failingScenario = `name: broken
threads:
  - name: js
    script: |
      throw new Error("boom");
`

// writeScenario writes a scenario file into a temp dir and returns its path.
func writeScenario(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

// tempDB returns a database path that lives for the duration of the test.
func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "db", "schedsim.db")
}

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SCHEDSIM_SERVER", "")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("schedsim %s: %v\noutput:\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decodeRun(t *testing.T, out string) model.Run {
	t.Helper()
	var run model.Run
	if err := json.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode run: %v\n%s", err, out)
	}
	return run
}

func logMessages(events []model.Event) []string {
	var msgs []string
	for _, e := range model.FilterEvents(events, model.EventLog) {
		msgs = append(msgs, e.Detail)
	}
	return msgs
}

// startTestServer serves an in-memory store over HTTP and returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := server.New(config.DefaultServerConfig(), st, nil, logging.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRunText(t *testing.T) {
	path := writeScenario(t, orderScenario)
	out := mustExecute(t, "--db", tempDB(t), "run", path, "--events")

	for _, want := range []string{"Name:    order", "Policy:  priority", "State:   COMPLETED", "THREAD", "high", "low", "dispatch"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunJSON(t *testing.T) {
	path := writeScenario(t, orderScenario)
	db := tempDB(t)

	run := decodeRun(t, mustExecute(t, "--db", db, "run", path, "-o", "json"))
	if run.State != model.RunStateCompleted {
		t.Fatalf("State = %s (%s), want COMPLETED", run.State, run.Error)
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("ID = %q, want run_ prefix", run.ID)
	}
	if len(run.Threads) != 2 {
		t.Errorf("len(Threads) = %d, want 2", len(run.Threads))
	}
	if run.Events != nil {
		t.Errorf("events included without --events: %d", len(run.Events))
	}
	if run.EventCount == 0 {
		t.Error("EventCount = 0")
	}

	run = decodeRun(t, mustExecute(t, "--db", db, "run", path, "-o", "json", "--events"))
	got := strings.Join(logMessages(run.Events), ",")
	if got != "high,low" {
		t.Errorf("log order = %q, want %q", got, "high,low")
	}
}

func TestRunYAML(t *testing.T) {
	path := writeScenario(t, orderScenario)
	out := mustExecute(t, "--db", tempDB(t), "run", path, "--output", "yaml")

	var run model.Run
	if err := yaml.Unmarshal([]byte(out), &run); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out)
	}
	if run.State != model.RunStateCompleted || run.Name != "order" {
		t.Errorf("run = %s/%s, want order/COMPLETED", run.Name, run.State)
	}
}

func TestRunPolicyOverride(t *testing.T) {
	path := writeScenario(t, orderScenario)
	run := decodeRun(t, mustExecute(t, "--db", tempDB(t), "run", path, "--policy", "mlfqs", "-o", "json"))
	if run.Policy != "mlfqs" {
		t.Errorf("Policy = %q, want mlfqs", run.Policy)
	}
	if run.State != model.RunStateCompleted {
		t.Errorf("State = %s (%s), want COMPLETED", run.State, run.Error)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(t *testing.T) []string
		wantErr string
	}{
		{
			name: "failed run",
			args: func(t *testing.T) []string {
				return []string{"--db", tempDB(t), "run", writeScenario(t, failingScenario)}
			},
			wantErr: "boom",
		},
		{
			name: "invalid scenario",
			args: func(t *testing.T) []string {
				sc := strings.Replace(orderScenario, "priority: 40", "priority: 99", 1)
				return []string{"--db", tempDB(t), "run", writeScenario(t, sc)}
			},
			wantErr: "threads[0].priority",
		},
		{
			name: "unknown policy",
			args: func(t *testing.T) []string {
				return []string{"--db", tempDB(t), "run", writeScenario(t, orderScenario), "--policy", "fifo"}
			},
			wantErr: "scenario validation failed",
		},
		{
			name: "missing file",
			args: func(t *testing.T) []string {
				return []string{"--db", tempDB(t), "run", filepath.Join(t.TempDir(), "nope.yaml")}
			},
			wantErr: "read scenario",
		},
		{
			name: "unknown output",
			args: func(t *testing.T) []string {
				return []string{"--db", tempDB(t), "run", writeScenario(t, orderScenario), "-o", "xml"}
			},
			wantErr: "unknown output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args(t)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestFailedRunIsRecorded(t *testing.T) {
	db := tempDB(t)
	out, err := execute(t, "--db", db, "run", writeScenario(t, failingScenario), "-o", "json")
	if err == nil {
		t.Fatal("expected error for failed run")
	}
	run := decodeRun(t, out)
	if run.State != model.RunStateFailed {
		t.Errorf("State = %s, want FAILED", run.State)
	}

	out = mustExecute(t, "--db", db, "list", "--state", "FAILED")
	if !strings.Contains(out, run.ID) {
		t.Errorf("list --state FAILED missing %s:\n%s", run.ID, out)
	}
}

func TestListShowEvents(t *testing.T) {
	db := tempDB(t)
	path := writeScenario(t, orderScenario)
	first := decodeRun(t, mustExecute(t, "--db", db, "run", path, "-o", "json"))
	mustExecute(t, "--db", db, "run", path, "--policy", "mlfqs")

	out := mustExecute(t, "--db", db, "list")
	if !strings.Contains(out, "2 runs: 2 completed, 0 failed") {
		t.Errorf("list footer missing:\n%s", out)
	}

	var runs []*model.Run
	if err := json.Unmarshal([]byte(mustExecute(t, "--db", db, "list", "--policy", "priority", "-o", "json")), &runs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != first.ID {
		t.Fatalf("list --policy priority = %v, want only %s", runs, first.ID)
	}

	out = mustExecute(t, "--db", db, "show", first.ID)
	for _, want := range []string{first.ID, "Name:    order", "high", "low"} {
		if !strings.Contains(out, want) {
			t.Errorf("show missing %q:\n%s", want, out)
		}
	}

	var events []model.Event
	if err := json.Unmarshal([]byte(mustExecute(t, "--db", db, "events", first.ID, "--kind", "log", "-o", "json")), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if got := strings.Join(logMessages(events), ","); got != "high,low" || len(events) != 2 {
		t.Errorf("log events = %q (%d), want high,low", got, len(events))
	}

	out = mustExecute(t, "--db", db, "events", first.ID)
	if !strings.Contains(out, "SEQ") || !strings.Contains(out, "create") {
		t.Errorf("events text output:\n%s", out)
	}
}

func TestListEmpty(t *testing.T) {
	out := mustExecute(t, "--db", tempDB(t), "list")
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("output = %q", out)
	}
}

func TestDelete(t *testing.T) {
	local := []string{"--db", tempDB(t)}
	remote := []string{"--server", startTestServer(t)}

	for name, global := range map[string][]string{"local": local, "remote": remote} {
		t.Run(name, func(t *testing.T) {
			args := append(append([]string{}, global...), "run", writeScenario(t, orderScenario), "-o", "json")
			run := decodeRun(t, mustExecute(t, args...))

			out := mustExecute(t, append(append([]string{}, global...), "delete", run.ID)...)
			if !strings.Contains(out, "Deleted "+run.ID) {
				t.Errorf("delete output = %q", out)
			}
			if _, err := execute(t, append(append([]string{}, global...), "show", run.ID)...); err == nil {
				t.Error("show after delete succeeded")
			}
			if _, err := execute(t, append(append([]string{}, global...), "delete", run.ID)...); err == nil {
				t.Error("second delete succeeded")
			}
		})
	}
}

func TestUnknownLogFormat(t *testing.T) {
	_, err := execute(t, "--db", tempDB(t), "--log-format", "xml", "list")
	if err == nil || !strings.Contains(err.Error(), "unknown log format") {
		t.Errorf("error = %v, want unknown log format", err)
	}
}

func TestListRejectsUnknownState(t *testing.T) {
	_, err := execute(t, "--db", tempDB(t), "list", "--state", "done")
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("error = %v, want VALIDATION_ERROR", err)
	}
}

func TestShowMissingRun(t *testing.T) {
	_, err := execute(t, "--db", tempDB(t), "show", "run_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
	_, err = execute(t, "--db", tempDB(t), "events", "run_missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("events error = %v, want not found", err)
	}
}

func TestRemoteServer(t *testing.T) {
	url := startTestServer(t)
	path := writeScenario(t, orderScenario)

	run := decodeRun(t, mustExecute(t, "--server", url, "run", path, "-o", "json", "--events"))
	if run.State != model.RunStateCompleted {
		t.Fatalf("State = %s (%s), want COMPLETED", run.State, run.Error)
	}
	if got := strings.Join(logMessages(run.Events), ","); got != "high,low" {
		t.Errorf("log order = %q, want high,low", got)
	}

	out := mustExecute(t, "--server", url, "list")
	if !strings.Contains(out, run.ID) || !strings.Contains(out, "1 runs: 1 completed") {
		t.Errorf("list output:\n%s", out)
	}

	out = mustExecute(t, "--server", url, "show", run.ID, "-o", "yaml")
	var shown model.Run
	if err := yaml.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if shown.ID != run.ID || len(shown.Threads) != 2 {
		t.Errorf("show = %s with %d threads", shown.ID, len(shown.Threads))
	}

	var events []model.Event
	if err := json.Unmarshal([]byte(mustExecute(t, "--server", url, "events", run.ID, "--kind", "log", "-o", "json")), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("len(events) = %d, want 2", len(events))
	}

	if _, err := execute(t, "--server", url, "show", "run_missing"); err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestRemoteValidatesBeforeSubmit(t *testing.T) {
	url := startTestServer(t)
	sc := strings.Replace(orderScenario, "name: high", "name: low", 1)
	_, err := execute(t, "--server", url, "run", writeScenario(t, sc))
	if err == nil || !strings.Contains(err.Error(), "duplicate thread name") {
		t.Errorf("error = %v, want duplicate thread name", err)
	}

	out := mustExecute(t, "--server", url, "list")
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("invalid scenario reached the server:\n%s", out)
	}
}
