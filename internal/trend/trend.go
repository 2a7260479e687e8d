// Package trend correlates test cases across consecutive runs of a job.
package trend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/results"
)

const defaultCacheSize = 64

// History supplies finalized runs of a job.
type History interface {
	// Previous returns the newest completed run of job numbered below
	// before, or nil when there is none.
	Previous(ctx context.Context, job string, before int) (*results.Run, error)
}

// Policy bounds how far back a failure streak may reach.
type Policy struct {
	// MaxDepth caps the number of earlier runs consulted. Zero means no cap.
	MaxDepth int
	// ResetBefore maps a job to the first run number that still counts as
	// history, e.g. the run after the job was reconfigured.
	ResetBefore map[string]int
}

type runKey struct {
	job    string
	before int
}

// runIndex holds the identities failing in one finalized run.
type runIndex struct {
	number  int
	cases   int
	failing map[string]bool
}

// Correlator computes failure streaks. Per-run indexes are cached; history
// is only ever read, never held whole.
type Correlator struct {
	history History
	policy  Policy
	cache   *lru.Cache[runKey, *runIndex]
	logger  *slog.Logger
}

func New(history History, policy Policy, cacheSize int, logger *slog.Logger) (*Correlator, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[runKey, *runIndex](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create trend cache: %w", err)
	}
	return &Correlator{history: history, policy: policy, cache: cache, logger: logger}, nil
}

// Identity is the key a case is matched by across runs: its enclosing
// stage and branch names plus its class-qualified name.
func Identity(run *results.Run, c *model.Case) string {
	names := run.EnclosingNames(c)
	return strings.Join(append(names, c.FullName()), "\x1f")
}

// FailedSince returns the run number at which the current failure streak
// of c began, or 0 when c is not failing.
func (t *Correlator) FailedSince(ctx context.Context, run *results.Run, c *model.Case) (int, error) {
	if !c.Status.IsFailure() {
		return 0, nil
	}
	id := Identity(run, c)
	since := run.Number()
	before := run.Number()

	for depth := 0; t.policy.MaxDepth == 0 || depth < t.policy.MaxDepth; depth++ {
		idx, err := t.previous(ctx, run.Job(), before)
		if err != nil {
			return 0, err
		}
		if idx == nil || !idx.failing[id] {
			break
		}
		since = idx.number
		before = idx.number
	}
	return since, nil
}

// Age is the length of the current failure streak of c, counting run itself.
func (t *Correlator) Age(ctx context.Context, run *results.Run, c *model.Case) (int, error) {
	since, err := t.FailedSince(ctx, run, c)
	if err != nil || since == 0 {
		return 0, err
	}
	return run.Number() - since + 1, nil
}

// Failures decorates every failed case of run with its display name and
// streak data, in run order.
func (t *Correlator) Failures(ctx context.Context, run *results.Run) ([]model.CaseView, error) {
	failed := run.Result().FailedTests()
	views := make([]model.CaseView, 0, len(failed))
	for _, c := range failed {
		since, err := t.FailedSince(ctx, run, c)
		if err != nil {
			return nil, err
		}
		node, _ := run.NodeOf(c)
		views = append(views, model.CaseView{
			NodeID:      node,
			DisplayName: run.DisplayName(c),
			FullName:    c.FullName(),
			Status:      c.Status,
			FailureMsg:  c.FailureMsg,
			FailedSince: since,
			Age:         run.Number() - since + 1,
		})
	}
	return views, nil
}

// Forget drops cached indexes for job. Call it when a run of job completes
// so a newer run never keeps a stale view of its predecessor.
func (t *Correlator) Forget(job string) {
	for _, k := range t.cache.Keys() {
		if k.job == job {
			t.cache.Remove(k)
		}
	}
}

func (t *Correlator) previous(ctx context.Context, job string, before int) (*runIndex, error) {
	key := runKey{job: job, before: before}
	if idx, ok := t.cache.Get(key); ok {
		return idx, nil
	}

	prev, err := t.history.Previous(ctx, job, before)
	if err != nil {
		return nil, fmt.Errorf("previous run of %s before #%d: %w", job, before, err)
	}
	var idx *runIndex
	if prev != nil && prev.Number() >= t.policy.ResetBefore[job] {
		idx = index(prev)
		t.logger.Debug("indexed run", "job", job, "number", prev.Number(), "cases", idx.cases, "failing", len(idx.failing))
	}
	t.cache.Add(key, idx)
	return idx, nil
}

func index(run *results.Run) *runIndex {
	res := run.Result()
	idx := &runIndex{number: run.Number(), cases: res.TotalCount(), failing: make(map[string]bool)}
	for _, c := range res.FailedTests() {
		idx.failing[Identity(run, c)] = true
	}
	return idx
}
