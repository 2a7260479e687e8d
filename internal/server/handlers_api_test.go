package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quay/pipeline-results/internal/db"
	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/trend"
)

const parallelGraph = `[
	{"id": "2", "kind": "other"},
	{"id": "3", "parent": "2", "kind": "stage", "name": "first"},
	{"id": "8", "parent": "3", "kind": "branch", "name": "a"},
	{"id": "9", "parent": "3", "kind": "branch", "name": "b"},
	{"id": "11", "parent": "8", "kind": "step", "name": "junit"},
	{"id": "12", "parent": "9", "kind": "step", "name": "junit"}
]`

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	correlator, err := trend.New(database, trend.Policy{}, 0, logger)
	require.NoError(t, err)
	return New(database, correlator, ":0", Options{}, logger)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func contribution(node, class string, pass int, failing ...string) string {
	var cases []map[string]any
	for i := 0; i < pass; i++ {
		cases = append(cases, map[string]any{"classname": class, "name": fmt.Sprintf("pass%d", i), "status": "passed"})
	}
	for _, name := range failing {
		cases = append(cases, map[string]any{"classname": class, "name": name, "status": "failed", "failure_msg": "boom"})
	}
	body, _ := json.Marshal(map[string]any{
		"node_id": node,
		"suites":  []map[string]any{{"name": class, "cases": cases}},
	})
	return string(body)
}

// recordRun records a full parallel run of job and completes it.
func recordRun(t *testing.T, srv *Server, job string, number int, failingA ...string) model.RunSummary {
	t.Helper()
	base := fmt.Sprintf("/api/v1/jobs/%s/runs/%d", job, number)

	w := do(t, srv, "PUT", base+"/graph", parallelGraph)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, "POST", base+"/contributions", contribution("11", "A", 2, failingA...))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = do(t, srv, "POST", base+"/contributions", contribution("12", "B", 3))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, "POST", base+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[model.RunSummary](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)
	base := "/api/v1/jobs/demo/runs/1"

	w := do(t, srv, "PUT", base+"/graph", parallelGraph)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 6, decode[map[string]int](t, w)["nodes"])

	// Resending the graph is harmless.
	w = do(t, srv, "PUT", base+"/graph", parallelGraph)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[map[string]int](t, w)["added"])

	w = do(t, srv, "POST", base+"/contributions", contribution("11", "A", 2, "broken"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sum := decode[model.ResultSummary](t, w)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Failed)

	w = do(t, srv, "POST", base+"/contributions", contribution("12", "B", 3))
	require.Equal(t, http.StatusCreated, w.Code)

	// Live queries.
	w = do(t, srv, "GET", base+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ResultSummary{Total: 6, Passed: 5, Failed: 1, Suites: 2}, decode[model.ResultSummary](t, w))

	w = do(t, srv, "GET", base+"/result?nodes=12", "")
	assert.Equal(t, 3, decode[model.ResultSummary](t, w).Total)

	w = do(t, srv, "GET", base+"/blocks/3/result", "")
	block := decode[model.BlockResult](t, w)
	assert.Equal(t, []string{"11", "12"}, block.NodesWithTests)
	assert.Equal(t, 6, block.Summary.Total)

	w = do(t, srv, "GET", base+"/failures", "")
	failures := decode[[]model.CaseView](t, w)
	require.Len(t, failures, 1)
	assert.Equal(t, "first / a / A.broken", failures[0].DisplayName)
	assert.Equal(t, 1, failures[0].FailedSince)
	assert.Equal(t, 1, failures[0].Age)

	w = do(t, srv, "GET", "/api/v1/jobs/demo/runs/1", "")
	live := decode[model.RunSummary](t, w)
	assert.Equal(t, model.BuildUnstable, live.Status)
	assert.False(t, live.Completed)

	// Complete and read back from the database.
	w = do(t, srv, "POST", base+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[model.RunSummary](t, w)
	assert.True(t, done.Completed)
	require.NotNil(t, done.Health)
	assert.Equal(t, 83, done.Health.Score)
	assert.Equal(t, "Test Result: 1 tests failing out of a total of 6 tests.", done.Health.Description)

	w = do(t, srv, "GET", base+"/blocks/8/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[model.BlockResult](t, w).Summary.Total)

	w = do(t, srv, "GET", "/api/v1/jobs/demo/runs/1", "")
	stored := decode[model.RunSummary](t, w)
	assert.Equal(t, model.BuildUnstable, stored.Status)
	assert.True(t, stored.Completed)
	assert.Equal(t, 6, stored.Summary.Total)

	// The run is frozen.
	w = do(t, srv, "POST", base+"/contributions", contribution("11", "A", 1))
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(t, srv, "POST", base+"/complete", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, "GET", "/api/v1/jobs/demo/runs", "")
	runs := decode[[]model.RunRecord](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Number)
}

func TestFailuresAcrossRuns(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)

	recordRun(t, srv, "demo", 1)
	recordRun(t, srv, "demo", 2, "flaky")
	recordRun(t, srv, "demo", 3, "flaky", "fresh")

	w := do(t, srv, "GET", "/api/v1/jobs/demo/runs/3/failures", "")
	require.Equal(t, http.StatusOK, w.Code)
	failures := decode[[]model.CaseView](t, w)
	require.Len(t, failures, 2)

	since := map[string]int{}
	age := map[string]int{}
	for _, f := range failures {
		since[f.FullName] = f.FailedSince
		age[f.FullName] = f.Age
	}
	assert.Equal(t, map[string]int{"A.flaky": 2, "A.fresh": 3}, since)
	assert.Equal(t, map[string]int{"A.flaky": 2, "A.fresh": 1}, age)
}

func TestResult_EmptyRun(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)
	base := "/api/v1/jobs/demo/runs/1"

	w := do(t, srv, "PUT", base+"/graph", parallelGraph)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", base+"/result", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "no test results recorded")

	w = do(t, srv, "GET", base+"/result?allow_empty=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[model.ResultSummary](t, w).Total)

	// Completing a run with nothing recorded stores nothing.
	w = do(t, srv, "POST", base+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[model.RunSummary](t, w)
	assert.Nil(t, sum.Health)
	assert.Equal(t, model.BuildSuccess, sum.Status)

	w = do(t, srv, "GET", base+"/result", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecord_BadRequests(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad number", "POST", "/api/v1/jobs/demo/runs/x/contributions", contribution("1", "A", 1), http.StatusBadRequest},
		{"zero number", "POST", "/api/v1/jobs/demo/runs/0/contributions", contribution("1", "A", 1), http.StatusBadRequest},
		{"bad json", "POST", "/api/v1/jobs/demo/runs/1/contributions", "{", http.StatusBadRequest},
		{"missing node", "POST", "/api/v1/jobs/demo/runs/1/contributions", `{"suites":[]}`, http.StatusBadRequest},
		{"bad graph", "PUT", "/api/v1/jobs/demo/runs/1/graph", `[{"id":"1","kind":"loop"}]`, http.StatusBadRequest},
		{"orphan node", "PUT", "/api/v1/jobs/demo/runs/1/graph", `[{"id":"1","parent":"0","kind":"step"}]`, http.StatusBadRequest},
		{"complete unknown", "POST", "/api/v1/jobs/demo/runs/7/complete", "", http.StatusNotFound},
		{"query unknown", "GET", "/api/v1/jobs/demo/runs/7/result", "", http.StatusNotFound},
		{"bad status", "POST", "/api/v1/jobs/demo/runs/1/status", `{"status":"BROKEN"}`, http.StatusBadRequest},
		{"status bad json", "POST", "/api/v1/jobs/demo/runs/1/status", "{", http.StatusBadRequest},
		{"redefined node", "PUT", "/api/v1/jobs/demo/runs/2/graph", `[{"id":"1","kind":"step"},{"id":"1","kind":"stage"}]`, http.StatusConflict},
	}
	for _, tt := range tests {
		w := do(t, srv, tt.method, tt.path, tt.body)
		assert.Equal(t, tt.want, w.Code, "%s: %s", tt.name, w.Body.String())
	}
}

func TestResult_UnknownNodeIsEmpty(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)
	recordRun(t, srv, "demo", 1)

	w := do(t, srv, "GET", "/api/v1/jobs/demo/runs/1/result?nodes=404", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ResultSummary{}, decode[model.ResultSummary](t, w))

	w = do(t, srv, "GET", "/api/v1/jobs/demo/runs/1/blocks/404/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[model.BlockResult](t, w).NodesWithTests)
}

func TestReportStatus(t *testing.T) {
	t.Parallel()
	srv := setupTestServer(t)
	base := "/api/v1/jobs/demo/runs/1"

	// A failure reported before anything else still opens the run.
	w := do(t, srv, "POST", base+"/status", `{"status":"FAILURE","reason":"No test report files were found. Configuration error?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.BuildFailure, decode[model.RunSummary](t, w).Status)

	w = do(t, srv, "PUT", base+"/graph", parallelGraph)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, "POST", base+"/contributions", contribution("11", "A", 2))
	require.Equal(t, http.StatusCreated, w.Code)

	// Status never improves.
	w = do(t, srv, "POST", base+"/status", `{"status":"SUCCESS"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.BuildFailure, decode[model.RunSummary](t, w).Status)

	w = do(t, srv, "POST", base+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.BuildFailure, decode[model.RunSummary](t, w).Status)

	w = do(t, srv, "GET", "/api/v1/jobs/demo/runs", "")
	runs := decode[[]model.RunRecord](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, model.BuildFailure, runs[0].Status)

	w = do(t, srv, "POST", base+"/status", `{"status":"FAILURE"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
