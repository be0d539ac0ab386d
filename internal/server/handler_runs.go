package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/threadsched/internal/runner"
	"github.com/me/threadsched/internal/workload"
	"github.com/me/threadsched/pkg/model"
)

// maxScenarioBytes bounds the size of a posted scenario.
const maxScenarioBytes = 1 << 20

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxScenarioBytes))
	if err != nil {
		respondError(w, reqID, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid request body: " + err.Error(),
		})
		return
	}

	sc, err := workload.Parse(body)
	if err != nil {
		respondError(w, reqID, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid scenario: " + err.Error(),
		})
		return
	}
	if sc.Name == "" {
		sc.Name = "unnamed"
	}
	if apiErr := workload.Validate(sc); apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}

	run := runner.NewRun(sc, string(body))
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("run created", "id", run.ID, "name", run.Name, "policy", run.Policy, "threads", len(sc.Threads))

	if r.URL.Query().Get("wait") == "true" {
		err := runner.Execute(r.Context(), s.store, run, s.config.RunTimeout, s.logger)
		var te *model.InvalidTransitionError
		switch {
		case errors.As(err, &te):
			// The runner loop claimed it first; report what it has so far.
			if run, err = s.store.GetRun(r.Context(), run.ID); err != nil {
				respondErr(w, reqID, err)
				return
			}
		case err != nil:
			respondErr(w, reqID, err)
			return
		}
		// The trace is served by the events endpoint.
		run.Events = nil
	}
	respondCreated(w, reqID, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	opts.Clamp()
	respondList(w, reqID, runs, model.NewPagination(total, opts))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.State == model.RunStateRunning {
		respondError(w, reqID, &model.APIError{
			Code:    model.ErrConflict,
			Message: "run " + run.ID + " is still running",
		})
		return
	}
	if err := s.store.DeleteRun(r.Context(), run.ID); err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("run deleted", "id", run.ID)
	respondOK(w, reqID, map[string]any{"deleted": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	kind := model.EventKind(r.URL.Query().Get("kind"))
	events, err := s.store.ListEvents(r.Context(), run.ID, kind)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	respondOK(w, reqID, events)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	threads := run.Threads
	if threads == nil {
		threads = []model.ThreadSummary{}
	}
	respondOK(w, reqID, threads)
}

// lookupRun loads the run named in the URL, writing the error response
// itself when it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondErr(w, reqID, err)
		return nil, false
	}
	if run == nil {
		respondError(w, reqID, model.NewNotFoundError("run", id))
		return nil, false
	}
	return run, true
}

func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	q := r.URL.Query()
	opts := model.DefaultListOptions()
	opts.State = q.Get("state")
	opts.Policy = q.Get("policy")

	var errs []model.FieldError
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: p.name, Message: errors.Unwrap(err).Error()})
			continue
		}
		*p.dst = n
	}
	opts.Normalize()
	errs = append(errs, opts.Validate()...)
	if len(errs) > 0 {
		return opts, model.NewValidationError("invalid query parameters", errs...)
	}
	return opts, nil
}
