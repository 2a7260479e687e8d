package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	// Run history
	mux.HandleFunc("GET /api/v1/jobs/{job}/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/jobs/{job}/runs/{number}", s.handleGetRun)

	// Recording
	mux.HandleFunc("PUT /api/v1/jobs/{job}/runs/{number}/graph", s.handlePutGraph)
	mux.HandleFunc("POST /api/v1/jobs/{job}/runs/{number}/contributions", s.handleRecord)
	mux.HandleFunc("POST /api/v1/jobs/{job}/runs/{number}/status", s.handleReportStatus)
	mux.HandleFunc("POST /api/v1/jobs/{job}/runs/{number}/complete", s.handleComplete)

	// Queries
	mux.HandleFunc("GET /api/v1/jobs/{job}/runs/{number}/result", s.handleResult)
	mux.HandleFunc("GET /api/v1/jobs/{job}/runs/{number}/blocks/{node}/result", s.handleBlockResult)
	mux.HandleFunc("GET /api/v1/jobs/{job}/runs/{number}/failures", s.handleFailures)
}
