package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quay/pipeline-results/internal/db"
	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/results"
	"github.com/quay/pipeline-results/internal/step"
)

const maxBodyBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- Run history ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(r.Context(), r.PathValue("job"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	job, number, ok := runParams(w, r)
	if !ok {
		return
	}
	if b, ok := s.builds.get(job, number); ok {
		writeJSON(w, http.StatusOK, b.Summary())
		return
	}

	ctx := r.Context()
	rec, err := s.db.GetRun(ctx, job, number)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	run, err := s.db.LoadRun(ctx, job, number)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	res := run.Result()
	health := res.Health(s.opts.HealthScaleFactor)
	writeJSON(w, http.StatusOK, model.RunSummary{
		Job:       job,
		Number:    number,
		Status:    rec.Status,
		Completed: true,
		Health:    &health,
		Summary:   res.Summary(),
	})
}

// --- Recording ---

func (s *Server) handlePutGraph(w http.ResponseWriter, r *http.Request) {
	job, number, ok := runParams(w, r)
	if !ok {
		return
	}
	nodes, err := flowgraph.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b, err := s.activeBuild(r.Context(), job, number)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	added, err := b.Graph().Extend(nodes)
	if errors.Is(err, flowgraph.ErrDuplicateNode) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "nodes": b.Graph().Len()})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	job, number, ok := runParams(w, r)
	if !ok {
		return
	}
	var req model.ContributionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode contribution: %w", err))
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("node_id is required"))
		return
	}

	b, err := s.activeBuild(r.Context(), job, number)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	res, err := b.Record(req.NodeID, req.Suites)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Summary())
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	job, number, ok := runParams(w, r)
	if !ok {
		return
	}
	var req model.StatusReport
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode status: %w", err))
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", req.Status))
		return
	}

	b, err := s.activeBuild(r.Context(), job, number)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	b.MarkStatus(req.Status)
	if req.Status != model.BuildSuccess {
		s.logger.Warn("run status reported", "job", job, "number", number, "status", req.Status, "reason", req.Reason)
	}
	writeJSON(w, http.StatusOK, b.Summary())
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	job, number, ok := runParams(w, r)
	if !ok {
		return
	}
	b, ok := s.builds.get(job, number)
	if !ok {
		if _, err := s.db.GetRun(r.Context(), job, number); err == nil {
			writeError(w, http.StatusConflict, fmt.Errorf("%s #%d: %w", job, number, results.ErrRunCompleted))
			return
		}
		writeError(w, http.StatusNotFound, fmt.Errorf("%s #%d is not being recorded", job, number))
		return
	}

	run := b.Complete()
	if run != nil {
		if _, err := s.db.SaveRun(r.Context(), run, b.Status()); err != nil {
			writeStoreError(w, err)
			return
		}
		s.trend.Forget(job)
	} else {
		s.logger.Info("run completed without test results", "job", job, "number", number)
	}
	s.builds.remove(job, number)
	writeJSON(w, http.StatusOK, b.Summary())
}

// --- Queries ---

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.resolveRun(w, r)
	if !ok {
		return
	}

	if nodes := splitNodes(r.URL.Query().Get("nodes")); len(nodes) > 0 {
		writeJSON(w, http.StatusOK, run.ResultForNodes(nodes...).Summary())
		return
	}
	res, err := run.RequireResult(s.allowEmpty(r))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Summary())
}

func (s *Server) handleBlockResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.resolveRun(w, r)
	if !ok {
		return
	}
	node := r.PathValue("node")
	nodes := run.NodesWithTests(node)
	if nodes == nil {
		nodes = []string{}
	}
	writeJSON(w, http.StatusOK, model.BlockResult{
		NodeID:         node,
		NodesWithTests: nodes,
		Summary:        run.ResultForBlock(node).Summary(),
	})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	run, ok := s.resolveRun(w, r)
	if !ok {
		return
	}
	views, err := s.trend.Failures(r.Context(), run)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Helpers ---

// activeBuild returns the in-progress build of job/number, starting one if
// the run has not been saved yet.
func (s *Server) activeBuild(ctx context.Context, job string, number int) (*step.Build, error) {
	if b, ok := s.builds.get(job, number); ok {
		return b, nil
	}
	_, err := s.db.GetRun(ctx, job, number)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s #%d: %w", job, number, results.ErrRunCompleted)
	case !errors.Is(err, db.ErrRunNotFound):
		return nil, err
	}
	return s.builds.getOrCreate(job, number, func() *step.Build {
		s.logger.Info("recording run", "job", job, "number", number)
		b := step.NewBuild(job, number, nil, s.logger)
		b.SetHealthScaleFactor(s.opts.HealthScaleFactor)
		return b
	}), nil
}

// resolveRun finds the run a query targets: the live one while it is being
// recorded, the saved one afterwards. A live build with nothing recorded
// yet reads as an empty run.
func (s *Server) resolveRun(w http.ResponseWriter, r *http.Request) (*results.Run, bool) {
	job, number, ok := runParams(w, r)
	if !ok {
		return nil, false
	}
	if b, ok := s.builds.get(job, number); ok {
		if run := b.Run(); run != nil {
			return run, true
		}
		return results.NewRun(job, number, b.Graph()), true
	}
	run, err := s.db.LoadRun(r.Context(), job, number)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return run, true
}

func (s *Server) allowEmpty(r *http.Request) bool {
	if v := r.URL.Query().Get("allow_empty"); v != "" {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return s.opts.AllowEmptyResults
}

func runParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	job := r.PathValue("job")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run number %q", r.PathValue("number")))
		return "", 0, false
	}
	return job, number, true
}

func splitNodes(v string) []string {
	var out []string
	for _, n := range strings.Split(v, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, results.ErrRunCompleted), errors.Is(err, db.ErrRunExists):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
