// Package flowgraph models the execution graph of one pipeline run.
//
// Nodes live in an indexed table and refer to their enclosing block by
// index, so a node never holds a pointer to its stage or branch. Nodes are
// appended in creation order and a parent must exist before its children.
package flowgraph

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/quay/pipeline-results/internal/model"
)

var (
	ErrUnknownNode   = errors.New("unknown graph node")
	ErrDuplicateNode = errors.New("duplicate graph node")
	ErrUnknownParent = errors.New("unknown parent node")
)

// Kind is the structural role of a node, fixed when the node is created.
type Kind int

const (
	KindOther Kind = iota
	KindStage
	KindParallelBranch
	KindStep
)

func (k Kind) String() string {
	switch k {
	case KindStage:
		return "stage"
	case KindParallelBranch:
		return "branch"
	case KindStep:
		return "step"
	default:
		return "other"
	}
}

// ParseKind accepts the names produced by Kind.String plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stage":
		return KindStage, nil
	case "branch", "parallel", "parallel_branch":
		return KindParallelBranch, nil
	case "step", "atom":
		return KindStep, nil
	case "", "other", "block":
		return KindOther, nil
	}
	return KindOther, fmt.Errorf("unrecognized node kind %q", s)
}

// Node is a read-only view of one graph entry.
type Node struct {
	ID     string
	Parent string
	Kind   Kind
	Name   string
}

// Context is one enclosing stage or parallel branch of a node.
type Context struct {
	Kind   Kind
	Name   string
	NodeID string
}

type node struct {
	id     string
	kind   Kind
	name   string
	parent int // -1 for a root
}

// Graph is safe for concurrent use; the engine may keep adding nodes while
// parallel branches query it.
type Graph struct {
	mu       sync.RWMutex
	nodes    []node
	children [][]int
	index    map[string]int
}

func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add appends a node. An empty parent makes the node a root.
func (g *Graph) Add(id, parent string, kind Kind, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	p := -1
	if parent != "" {
		i, ok := g.index[parent]
		if !ok {
			return fmt.Errorf("%w: %s (child %s)", ErrUnknownParent, parent, id)
		}
		p = i
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{id: id, kind: kind, name: name, parent: p})
	g.children = append(g.children, nil)
	g.index[id] = idx
	if p >= 0 {
		g.children[p] = append(g.children[p], idx)
	}
	return nil
}

// AddNodes appends wire-form nodes in order.
func (g *Graph) AddNodes(nodes []model.GraphNode) error {
	for _, n := range nodes {
		kind, err := ParseKind(n.Kind)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		if err := g.Add(n.ID, n.Parent, kind, n.Name); err != nil {
			return err
		}
	}
	return nil
}

// Extend adds the nodes not yet in the graph and returns how many were
// added. Resending a node unchanged is a no-op; resending it with another
// parent, kind or name fails with ErrDuplicateNode.
func (g *Graph) Extend(nodes []model.GraphNode) (int, error) {
	added := 0
	for _, n := range nodes {
		kind, err := ParseKind(n.Kind)
		if err != nil {
			return added, fmt.Errorf("node %s: %w", n.ID, err)
		}
		if have, err := g.Lookup(n.ID); err == nil {
			if have.Parent != n.Parent || have.Kind != kind || have.Name != n.Name {
				return added, fmt.Errorf("%w: %s redefined", ErrDuplicateNode, n.ID)
			}
			continue
		}
		if err := g.Add(n.ID, n.Parent, kind, n.Name); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Nodes returns the graph in creation order.
func (g *Graph) Nodes() []model.GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.GraphNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, model.GraphNode{
			ID:     n.id,
			Parent: g.idAt(n.parent),
			Kind:   n.kind.String(),
			Name:   n.name,
		})
	}
	return out
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) Lookup(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n := g.nodes[i]
	return Node{ID: n.id, Parent: g.idAt(n.parent), Kind: n.kind, Name: n.name}, nil
}

// EnclosingContexts returns the stages and parallel branches enclosing id,
// outermost first. The node itself is not included. Unknown ids and roots
// yield nil.
func (g *Graph) EnclosingContexts(id string) []Context {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var chain []Context
	for p := g.nodes[i].parent; p >= 0; p = g.nodes[p].parent {
		n := g.nodes[p]
		if n.kind == KindStage || n.kind == KindParallelBranch {
			chain = append(chain, Context{Kind: n.kind, Name: n.name, NodeID: n.id})
		}
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

// IsContainer reports whether id encloses any other node.
func (g *Graph) IsContainer(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	return ok && len(g.children[i]) > 0
}

// Descendants returns every node structurally inside id, in creation order.
func (g *Graph) Descendants(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil
	}
	var found []int
	stack := append([]int(nil), g.children[i]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		found = append(found, n)
		stack = append(stack, g.children[n]...)
	}
	if len(found) == 0 {
		return nil
	}
	sort.Ints(found)
	out := make([]string, len(found))
	for j, n := range found {
		out[j] = g.nodes[n].id
	}
	return out
}

// FindFirst returns the first node, in creation order, with the given kind
// and name.
func (g *Graph) FindFirst(kind Kind, name string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		if n.kind == kind && n.name == name {
			return n.id, true
		}
	}
	return "", false
}

func (g *Graph) idAt(i int) string {
	if i < 0 {
		return ""
	}
	return g.nodes[i].id
}

type document struct {
	Nodes []model.GraphNode `yaml:"nodes"`
}

// Decode reads a graph document. Both YAML and JSON are accepted, either
// as a bare list of nodes or as an object with a "nodes" list.
func Decode(r io.Reader) ([]model.GraphNode, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	var nodes []model.GraphNode
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		var doc document
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("decode graph: %w", err2)
		}
		nodes = doc.Nodes
	}
	return nodes, nil
}

// Load decodes a graph document into a new graph.
func Load(r io.Reader) (*Graph, error) {
	nodes, err := Decode(r)
	if err != nil {
		return nil, err
	}

	g := New()
	if err := g.AddNodes(nodes); err != nil {
		return nil, err
	}
	return g, nil
}
