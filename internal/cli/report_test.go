package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quay/pipeline-results/internal/db"
	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/junit"
	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/server"
	"github.com/quay/pipeline-results/internal/step"
	"github.com/quay/pipeline-results/internal/trend"
)

const graphYAML = `nodes:
  - {id: "2", kind: other}
  - {id: "3", parent: "2", kind: stage, name: first}
  - {id: "7", parent: "3", kind: step, name: junit}
`

func startServer(t *testing.T) string {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	correlator, err := trend.New(database, trend.Policy{}, 0, logger)
	require.NoError(t, err)
	srv := server.New(database, correlator, ":0", server.Options{}, logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	run := Run{Server: startServer(t), Job: "demo", Number: 1}
	dir := t.TempDir()

	graphFile := writeFile(t, dir, "graph.yaml", graphYAML)
	writeFile(t, dir, "TEST-a.xml", `<testsuite name="a">
		<testcase classname="A" name="ok"/>
		<testcase classname="A" name="bad"><failure message="nope"/></testcase>
	</testsuite>`)

	var out bytes.Buffer
	require.NoError(t, ReportGraph(ctx, GraphReport{Run: run, File: graphFile}, &out))
	assert.Contains(t, out.String(), "3 new nodes")

	sum, err := ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: step.New("TEST-*.xml")},
		junit.DirSource{BaseDir: dir}, discard(), &out)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, model.ResultSummary{Total: 2, Passed: 1, Failed: 1, Suites: 1}, *sum)
	assert.Contains(t, out.String(), "failed: 1 passed, 1 failed, 0 skipped")

	done, err := CompleteRun(ctx, run, &out)
	require.NoError(t, err)
	assert.Equal(t, model.BuildUnstable, done.Status)
	require.NotNil(t, done.Health)
	assert.Equal(t, 50, done.Health.Score)
	assert.Contains(t, out.String(), "Test Result: 1 tests failing out of a total of 2 tests.")

	// A completed run rejects further reports.
	_, err = ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: step.New("TEST-*.xml")},
		junit.DirSource{BaseDir: dir}, discard(), &out)
	assert.ErrorContains(t, err, "409")
}

func TestReportResults_EmptyPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	run := Run{Server: startServer(t), Job: "demo", Number: 1}
	src := junit.DirSource{BaseDir: t.TempDir()}

	allow := step.New("*.xml")
	allow.AllowEmptyResults = true
	var out bytes.Buffer
	sum, err := ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: allow}, src, discard(), &out)
	require.NoError(t, err)
	assert.Nil(t, sum)
	assert.Contains(t, out.String(), "No test results to report")

	_, err = ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: step.New("*.xml")}, src, discard(), io.Discard)
	assert.ErrorIs(t, err, junit.ErrNoFilesMatched)

	// The failed step reaches the server even though no results were sent.
	done, err := CompleteRun(ctx, run, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, model.BuildFailure, done.Status)
	assert.Nil(t, done.Health)
}

func TestReportResults_FailureOutranksResults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	run := Run{Server: startServer(t), Job: "demo", Number: 1}
	dir := t.TempDir()
	writeFile(t, dir, "TEST-a.xml", `<testsuite name="a"><testcase classname="A" name="ok"/></testsuite>`)
	src := junit.DirSource{BaseDir: dir}

	_, err := ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: step.New("TEST-*.xml")}, src, discard(), io.Discard)
	require.NoError(t, err)
	_, err = ReportResults(ctx, ResultsReport{Run: run, NodeID: "7", Step: step.New("missing/*.xml")}, src, discard(), io.Discard)
	require.ErrorIs(t, err, junit.ErrNoFilesMatched)

	done, err := CompleteRun(ctx, run, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, model.BuildFailure, done.Status)
	require.NotNil(t, done.Health)
	assert.Equal(t, 100, done.Health.Score)
}

func TestReport_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := CompleteRun(ctx, Run{Job: "demo", Number: 1}, io.Discard)
	assert.Error(t, err)

	_, err = ReportResults(ctx, ResultsReport{Run: Run{Server: "http://x", Job: "demo", Number: 1}},
		junit.DirSource{}, discard(), io.Discard)
	assert.ErrorContains(t, err, "node id")

	dir := t.TempDir()
	bad := writeFile(t, dir, "graph.yaml", `[{id: "1", parent: "0", kind: step}]`)
	err = ReportGraph(ctx, GraphReport{Run: Run{Server: "http://x", Job: "demo", Number: 1}, File: bad}, io.Discard)
	assert.ErrorIs(t, err, flowgraph.ErrUnknownParent)
}
