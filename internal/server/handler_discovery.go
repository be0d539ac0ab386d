package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "schedsim API",
		Version:     "v1",
		Description: "Single-CPU thread scheduler simulator: queue scenarios, inspect runs and traces",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "Run management. POST takes a YAML scenario; ?wait=true executes it before responding"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run with thread summaries"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduler trace of a run, optionally filtered with ?kind="},
			{"/api/v1/runs/{id}/threads", []string{"GET"}, "Per-thread summaries of a run"},
			{"/api/v1/sse/runs/{id}", []string{"GET"}, "Server-Sent Events stream of run state changes until the run finishes"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
