package results

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/model"
)

// suite builds a suite with the given number of passing, failing and
// skipped cases.
func suite(name string, pass, fail, skip int) *model.Suite {
	var cases []*model.Case
	add := func(n int, status model.Status) {
		for i := 0; i < n; i++ {
			cases = append(cases, &model.Case{
				ClassName: "org.example." + name,
				Name:      fmt.Sprintf("test%s%d", status, i),
				Status:    status,
			})
		}
	}
	add(pass, model.StatusPassed)
	add(fail, model.StatusFailed)
	add(skip, model.StatusSkipped)
	return model.NewSuite(name, cases...)
}

// The three report shapes used throughout: one suite of six passing cases,
// one suite with a single passing case, and a nested report that flattens
// to three single-case suites of which two fail.
func report1463() []*model.Suite { return []*model.Suite{suite("Report1463", 6, 0, 0)} }
func report2874() []*model.Suite { return []*model.Suite{suite("Report2874", 1, 0, 0)} }
func reportNested() []*model.Suite {
	return []*model.Suite{
		suite("NestedA", 1, 0, 0),
		suite("NestedB", 0, 1, 0),
		suite("NestedC", 0, 1, 0),
	}
}

// singleStageGraph is stage('first') { node { junit; junit; junit } } with
// the steps at nodes 7, 8 and 9.
func singleStageGraph(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g := flowgraph.New()
	require.NoError(t, g.Add("2", "", flowgraph.KindOther, "start"))
	require.NoError(t, g.Add("3", "2", flowgraph.KindStage, "first"))
	require.NoError(t, g.Add("5", "3", flowgraph.KindOther, "node"))
	for _, id := range []string{"7", "8", "9"} {
		require.NoError(t, g.Add(id, "5", flowgraph.KindStep, "junit"))
	}
	return g
}

// parallelGraph is stage('first') { node { parallel(a, b, c) } } with one
// junit step per branch at nodes 11, 12 and 13.
func parallelGraph(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g := flowgraph.New()
	require.NoError(t, g.Add("2", "", flowgraph.KindOther, "start"))
	require.NoError(t, g.Add("3", "2", flowgraph.KindStage, "first"))
	require.NoError(t, g.Add("5", "3", flowgraph.KindOther, "node"))
	require.NoError(t, g.Add("6", "5", flowgraph.KindOther, "parallel"))
	require.NoError(t, g.Add("8", "6", flowgraph.KindParallelBranch, "a"))
	require.NoError(t, g.Add("9", "6", flowgraph.KindParallelBranch, "b"))
	require.NoError(t, g.Add("10", "6", flowgraph.KindParallelBranch, "c"))
	require.NoError(t, g.Add("11", "8", flowgraph.KindStep, "junit"))
	require.NoError(t, g.Add("12", "9", flowgraph.KindStep, "junit"))
	require.NoError(t, g.Add("13", "10", flowgraph.KindStep, "junit"))
	return g
}

// twoStageGraph is node { stage('first') { junit } stage('second') { junit } }.
func twoStageGraph(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g := flowgraph.New()
	require.NoError(t, g.Add("2", "", flowgraph.KindOther, "start"))
	require.NoError(t, g.Add("3", "2", flowgraph.KindOther, "node"))
	require.NoError(t, g.Add("5", "3", flowgraph.KindStage, "first"))
	require.NoError(t, g.Add("7", "5", flowgraph.KindStep, "junit"))
	require.NoError(t, g.Add("9", "3", flowgraph.KindStage, "second"))
	require.NoError(t, g.Add("11", "9", flowgraph.KindStep, "junit"))
	return g
}

func mustRecord(t *testing.T, r *Run, nodeID string, suites []*model.Suite) {
	t.Helper()
	_, err := r.Record(nodeID, suites)
	require.NoError(t, err)
}
