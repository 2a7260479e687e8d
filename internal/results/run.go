// Package results records the test suites contributed at pipeline graph
// nodes and answers aggregate queries over any subtree of the graph.
package results

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/model"
)

var (
	ErrEmptyResult  = errors.New("no test results recorded")
	ErrRunCompleted = errors.New("run is completed")
	ErrSuiteOwned   = errors.New("suite already recorded")
)

// Contribution is the unit recorded by one ingestion call.
type Contribution struct {
	ID     string
	Seq    int
	NodeID string
	Suites []*model.Suite
}

// Run owns every contribution made during one pipeline run. It is
// append-only while in progress and immutable once completed.
type Run struct {
	job    string
	number int
	graph  *flowgraph.Graph

	mu            sync.RWMutex
	contributions []*Contribution
	owner         map[*model.Suite]*Contribution
	completed     bool
}

// NewRun starts an empty run. graph may be nil, in which case container
// expansion and stage naming are unavailable.
func NewRun(job string, number int, graph *flowgraph.Graph) *Run {
	if graph == nil {
		graph = flowgraph.New()
	}
	return &Run{
		job:    job,
		number: number,
		graph:  graph,
		owner:  make(map[*model.Suite]*Contribution),
	}
}

// Restore rebuilds a completed run from persisted contributions.
func Restore(job string, number int, graph *flowgraph.Graph, contributions []*Contribution) *Run {
	r := NewRun(job, number, graph)
	for _, c := range contributions {
		r.appendLocked(c)
	}
	r.completed = true
	return r
}

func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

func (r *Run) Job() string { return r.job }
func (r *Run) Number() int { return r.number }
func (r *Run) Graph() *flowgraph.Graph { return r.graph }

// Record appends suites contributed at nodeID. Recording at a node that
// already has contributions adds to them. A suite can only be recorded
// once; recording it again fails with ErrSuiteOwned and records nothing.
func (r *Run) Record(nodeID string, suites []*model.Suite) (*Contribution, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("record: empty node id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return nil, fmt.Errorf("record at node %s: %w", nodeID, ErrRunCompleted)
	}

	c := &Contribution{
		ID:     NewID(),
		Seq:    len(r.contributions),
		NodeID: nodeID,
		Suites: make([]*model.Suite, 0, len(suites)),
	}
	seen := make(map[*model.Suite]bool, len(suites))
	for _, s := range suites {
		if s == nil {
			continue
		}
		if owner, ok := r.owner[s]; ok {
			return nil, fmt.Errorf("record suite %q at node %s: %w at node %s", s.Name, nodeID, ErrSuiteOwned, owner.NodeID)
		}
		if seen[s] {
			return nil, fmt.Errorf("record suite %q at node %s: %w", s.Name, nodeID, ErrSuiteOwned)
		}
		seen[s] = true
		c.Suites = append(c.Suites, s)
	}
	for _, s := range c.Suites {
		if s.ID == "" {
			s.ID = NewID()
		}
	}
	r.appendLocked(c)
	return c, nil
}

func (r *Run) appendLocked(c *Contribution) {
	r.contributions = append(r.contributions, c)
	for _, s := range c.Suites {
		s.Link()
		r.owner[s] = c
	}
}

// Complete freezes the run. Later Record calls fail with ErrRunCompleted.
func (r *Run) Complete() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
}

func (r *Run) Completed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed
}

// Contributions returns a snapshot of everything recorded so far, in
// ingestion order.
func (r *Run) Contributions() []*Contribution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Contribution(nil), r.contributions...)
}

// ContributionsFor returns the contributions recorded exactly at one of
// nodeIDs, in ingestion order.
func (r *Run) ContributionsFor(nodeIDs ...string) []*Contribution {
	want := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = true
	}
	var out []*Contribution
	for _, c := range r.Contributions() {
		if want[c.NodeID] {
			out = append(out, c)
		}
	}
	return out
}

// NodeOf returns the node a case was contributed at.
func (r *Run) NodeOf(c *model.Case) (string, bool) {
	if c == nil || c.Suite() == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owner[c.Suite()]
	if !ok {
		return "", false
	}
	return owner.NodeID, true
}
