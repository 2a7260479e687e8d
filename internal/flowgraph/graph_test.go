package flowgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quay/pipeline-results/internal/model"
)

// parallelGraph is stage('first') { node { parallel(a: {junit}, b: {junit}) } }.
func parallelGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.Add("2", "", KindOther, "start"))
	require.NoError(t, g.Add("3", "2", KindStage, "first"))
	require.NoError(t, g.Add("5", "3", KindOther, "node"))
	require.NoError(t, g.Add("8", "5", KindParallelBranch, "a"))
	require.NoError(t, g.Add("9", "5", KindParallelBranch, "b"))
	require.NoError(t, g.Add("11", "8", KindStep, "junit"))
	require.NoError(t, g.Add("12", "9", KindStep, "junit"))
	return g
}

func TestEnclosingContexts_OutermostFirst(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	got := g.EnclosingContexts("11")
	assert.Equal(t, []Context{
		{Kind: KindStage, Name: "first", NodeID: "3"},
		{Kind: KindParallelBranch, Name: "a", NodeID: "8"},
	}, got)
}

func TestEnclosingContexts_RootAndUnknown(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	assert.Empty(t, g.EnclosingContexts("2"))
	assert.Empty(t, g.EnclosingContexts("nope"))
	// A stage does not enclose itself.
	assert.Empty(t, g.EnclosingContexts("3"))
}

func TestDescendants(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	assert.Equal(t, []string{"5", "8", "9", "11", "12"}, g.Descendants("3"))
	assert.Equal(t, []string{"11"}, g.Descendants("8"))
	assert.Empty(t, g.Descendants("11"))
	assert.Empty(t, g.Descendants("missing"))

	assert.True(t, g.IsContainer("3"))
	assert.False(t, g.IsContainer("12"))
}

func TestAdd_Errors(t *testing.T) {
	t.Parallel()
	g := New()
	require.NoError(t, g.Add("1", "", KindOther, ""))

	assert.ErrorIs(t, g.Add("1", "", KindOther, ""), ErrDuplicateNode)
	assert.ErrorIs(t, g.Add("2", "99", KindStep, ""), ErrUnknownParent)
	assert.Equal(t, 1, g.Len())
}

func TestLookup(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	n, err := g.Lookup("9")
	require.NoError(t, err)
	assert.Equal(t, Node{ID: "9", Parent: "5", Kind: KindParallelBranch, Name: "b"}, n)

	_, err = g.Lookup("404")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestFindFirst(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	id, ok := g.FindFirst(KindParallelBranch, "b")
	assert.True(t, ok)
	assert.Equal(t, "9", id)

	_, ok = g.FindFirst(KindStage, "b")
	assert.False(t, ok)
}

func TestLoad_RoundTripsNodes(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	doc := `
nodes:
  - {id: "2", kind: other, name: start}
  - {id: "3", parent: "2", kind: stage, name: first}
  - {id: "5", parent: "3", kind: other, name: node}
  - {id: "8", parent: "5", kind: branch, name: a}
  - {id: "9", parent: "5", kind: branch, name: b}
  - {id: "11", parent: "8", kind: step, name: junit}
  - {id: "12", parent: "9", kind: step, name: junit}
`
	loaded, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, g.Nodes(), loaded.Nodes())
}

func TestLoad_JSONList(t *testing.T) {
	t.Parallel()

	doc := `[{"id":"1","kind":"stage","name":"build"},{"id":"2","parent":"1","kind":"step"}]`
	g, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []Context{{Kind: KindStage, Name: "build", NodeID: "1"}}, g.EnclosingContexts("2"))
}

func TestLoad_BadKind(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader(`[{"id":"1","kind":"loop"}]`))
	assert.Error(t, err)
}

func TestExtend(t *testing.T) {
	t.Parallel()
	g := parallelGraph(t)

	added, err := g.Extend([]model.GraphNode{
		{ID: "11", Parent: "8", Kind: "step", Name: "junit"},
		{ID: "13", Parent: "9", Kind: "step", Name: "junit"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 8, g.Len())

	_, err = g.Extend([]model.GraphNode{{ID: "13", Parent: "8", Kind: "step", Name: "junit"}})
	assert.ErrorIs(t, err, ErrDuplicateNode)

	_, err = g.Extend([]model.GraphNode{{ID: "20", Parent: "404", Kind: "step"}})
	assert.ErrorIs(t, err, ErrUnknownParent)
}
