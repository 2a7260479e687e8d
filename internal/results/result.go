package results

import (
	"fmt"

	"github.com/quay/pipeline-results/internal/model"
)

// TestResult is a merged, read-only view over a set of suites.
type TestResult struct {
	suites  []*model.Suite
	passed  []*model.Case
	failed  []*model.Case
	skipped []*model.Case
	dur     float64
}

// FromSuites merges suites, ignoring any suite that appears more than once.
func FromSuites(suites []*model.Suite) *TestResult {
	t := &TestResult{}
	seen := make(map[*model.Suite]bool, len(suites))
	for _, s := range suites {
		if s == nil || seen[s] {
			continue
		}
		seen[s] = true
		t.suites = append(t.suites, s)
		t.dur += s.DurationSec
		for _, c := range s.Cases {
			switch {
			case c.Status.IsFailure():
				t.failed = append(t.failed, c)
			case c.Status == model.StatusSkipped:
				t.skipped = append(t.skipped, c)
			default:
				t.passed = append(t.passed, c)
			}
		}
	}
	return t
}

func fromContributions(contribs []*Contribution) *TestResult {
	var suites []*model.Suite
	for _, c := range contribs {
		suites = append(suites, c.Suites...)
	}
	return FromSuites(suites)
}

func (t *TestResult) Suites() []*model.Suite { return t.suites }
func (t *TestResult) PassedTests() []*model.Case { return t.passed }
func (t *TestResult) FailedTests() []*model.Case { return t.failed }
func (t *TestResult) SkippedTests() []*model.Case { return t.skipped }
func (t *TestResult) PassCount() int { return len(t.passed) }
func (t *TestResult) FailCount() int { return len(t.failed) }
func (t *TestResult) SkipCount() int { return len(t.skipped) }
func (t *TestResult) DurationSec() float64 { return t.dur }

func (t *TestResult) TotalCount() int {
	return len(t.passed) + len(t.failed) + len(t.skipped)
}

func (t *TestResult) Summary() model.ResultSummary {
	return model.ResultSummary{
		Total:   t.TotalCount(),
		Passed:  t.PassCount(),
		Failed:  t.FailCount(),
		Skipped: t.SkipCount(),
		Suites:  len(t.suites),
	}
}

// BuildStatus is UNSTABLE when any case failed.
func (t *TestResult) BuildStatus() model.BuildStatus {
	if t.FailCount() > 0 {
		return model.BuildUnstable
	}
	return model.BuildSuccess
}

// Health scores the result from 0 to 100. Each failure costs scaleFactor
// times its share of the total; a zero factor disables the penalty. The
// score is truncated, not rounded.
func (t *TestResult) Health(scaleFactor float64) model.Health {
	total, failed := t.TotalCount(), t.FailCount()
	score := 100
	if total > 0 && scaleFactor > 0 {
		ratio := 1 - scaleFactor*float64(failed)/float64(total)
		ratio = max(0, min(1, ratio))
		score = int(100*ratio + 1e-9)
	}
	return model.Health{
		Score:       score,
		Description: fmt.Sprintf("Test Result: %d tests failing out of a total of %d tests.", failed, total),
	}
}
