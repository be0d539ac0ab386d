package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/threadsched/internal/logging"
	"github.com/me/threadsched/internal/runner"
	"github.com/me/threadsched/pkg/model"
)

// readSSE collects the event names and data lines of a stream until it ends.
func readSSE(t *testing.T, resp *http.Response, onInit func()) (events, data []string) {
	t.Helper()
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
			if len(data) == 1 && onInit != nil {
				onInit()
			}
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events, data
}

func TestSSEFinishedRun(t *testing.T) {
	srv, _ := testServer(t)
	run := decode[model.Run](t, do(t, srv, "POST", "/api/v1/runs?wait=true", scenarioYAML, http.StatusCreated))

	req := httptest.NewRequest("GET", "/api/v1/sse/runs/"+run.ID, nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: init\n") || !strings.Contains(body, "event: complete\n") {
		t.Errorf("stream = %q, want init and complete", body)
	}
	if strings.Contains(body, "event: update") {
		t.Errorf("unexpected update for a finished run: %q", body)
	}
}

func TestSSEFollowsQueuedRun(t *testing.T) {
	srv, st := testServer(t)
	srv.config.PollInterval = 10 * time.Millisecond
	run := decode[model.Run](t, do(t, srv, "POST", "/api/v1/runs", scenarioYAML, http.StatusCreated))

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(ts.URL + "/api/v1/sse/runs/" + run.ID)
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close()

	execErr := make(chan error, 1)
	events, data := readSSE(t, resp, func() {
		go func() {
			execErr <- runner.Execute(context.Background(), st, &run, 0, logging.Discard())
		}()
	})
	if err := <-execErr; err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(events) < 2 || events[0] != "init" || events[len(events)-1] != "complete" {
		t.Fatalf("events = %v, want init ... complete", events)
	}
	if !strings.Contains(data[len(data)-1], `"state":"COMPLETED"`) {
		t.Errorf("last data = %s", data[len(data)-1])
	}
}

func TestSSEMissingRun(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/sse/runs/run_missing", "", http.StatusNotFound)
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v", env.Error)
	}
}
