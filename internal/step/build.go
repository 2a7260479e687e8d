package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/junit"
	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/results"
)

const (
	msgNoFiles   = "No test report files were found. Configuration error?"
	msgNoResults = "None of the test reports contained any result"
	msgNoCases   = "Test reports were found but contained no test cases"
)

// Source collects the suites of every report matching a pattern list.
// junit.DirSource and the s3 client both satisfy it.
type Source interface {
	Collect(ctx context.Context, patterns string) ([]*model.Suite, error)
}

// Build is one in-progress pipeline run as seen by the junit step. Its
// run result is only attached once some step records a case.
type Build struct {
	job    string
	number int
	graph  *flowgraph.Graph
	logger *slog.Logger

	mu          sync.Mutex
	status      model.BuildStatus
	run         *results.Run
	scaleFactor float64
	completed   bool
}

// NewBuild starts a build. graph may be nil and can be extended later
// through Graph().
func NewBuild(job string, number int, graph *flowgraph.Graph, logger *slog.Logger) *Build {
	if graph == nil {
		graph = flowgraph.New()
	}
	return &Build{
		job:         job,
		number:      number,
		graph:       graph,
		logger:      logger.With("job", job, "run", number),
		status:      model.BuildSuccess,
		scaleFactor: DefaultHealthScaleFactor,
	}
}

func (b *Build) Job() string             { return b.job }
func (b *Build) Number() int             { return b.number }
func (b *Build) Graph() *flowgraph.Graph { return b.graph }

func (b *Build) Status() model.BuildStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// MarkStatus worsens the build status. A build never improves.
func (b *Build) MarkStatus(s model.BuildStatus) {
	b.mu.Lock()
	b.status = b.status.Worse(s)
	b.mu.Unlock()
}

// Run returns the attached run result, or nil when nothing was recorded.
func (b *Build) Run() *results.Run {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.run
}

// SetHealthScaleFactor sets the factor the summary health is scored with.
func (b *Build) SetHealthScaleFactor(f float64) {
	b.mu.Lock()
	b.scaleFactor = f
	b.mu.Unlock()
}

func (b *Build) attach() (*results.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.run == nil {
		if b.completed {
			return nil, fmt.Errorf("%s #%d: %w", b.job, b.number, results.ErrRunCompleted)
		}
		b.run = results.NewRun(b.job, b.number, b.graph)
	}
	return b.run, nil
}

// Record stores suites contributed at nodeID and returns the result of
// this contribution alone. Zero cases is not an error; nothing is
// attached in that case.
func (b *Build) Record(nodeID string, suites []*model.Suite) (*results.TestResult, error) {
	if junit.CountCases(suites) == 0 {
		b.logger.Info(msgNoCases, "node", nodeID)
		return results.FromSuites(nil), nil
	}

	run, err := b.attach()
	if err != nil {
		return nil, err
	}
	c, err := run.Record(nodeID, suites)
	if err != nil {
		return nil, err
	}
	res := results.FromSuites(c.Suites)
	b.MarkStatus(res.BuildStatus())
	b.logger.Debug("recorded contribution",
		"node", nodeID,
		"suites", len(c.Suites),
		"total", res.TotalCount(),
		"failed", res.FailCount(),
	)
	return res, nil
}

// Collect reads the reports of step s from src and applies the empty
// result policy. Soft conditions are logged and yield nil suites with a
// nil error.
func (s JUnitResultsStep) Collect(ctx context.Context, src Source, logger *slog.Logger) ([]*model.Suite, error) {
	suites, err := src.Collect(ctx, s.TestResults)
	switch {
	case errors.Is(err, junit.ErrNoFilesMatched):
		if s.AllowEmptyResults {
			logger.Info(msgNoResults)
			return nil, nil
		}
		logger.Error(msgNoFiles, "patterns", s.TestResults)
		return nil, fmt.Errorf("%s: %w", msgNoFiles, err)
	case errors.Is(err, junit.ErrZeroCases):
		logger.Info(msgNoCases, "patterns", s.TestResults)
		return nil, nil
	case err != nil:
		logger.Error("collect test reports", "error", err)
		return nil, err
	}
	return suites, nil
}

// Execute runs step s at nodeID, reading reports from src. It is the only
// place where ingestion errors turn into a build status.
func (b *Build) Execute(ctx context.Context, s JUnitResultsStep, src Source, nodeID string) (*results.TestResult, error) {
	b.SetHealthScaleFactor(s.HealthScaleFactor)

	suites, err := s.Collect(ctx, src, b.logger.With("node", nodeID))
	if err != nil {
		b.MarkStatus(model.BuildFailure)
		return nil, err
	}
	if suites == nil {
		return results.FromSuites(nil), nil
	}

	res, err := b.Record(nodeID, suites)
	if err != nil {
		b.MarkStatus(model.BuildFailure)
		return nil, err
	}
	return res, nil
}

// Complete freezes the attached run, if any, and returns it.
func (b *Build) Complete() *results.Run {
	b.mu.Lock()
	b.completed = true
	run := b.run
	b.mu.Unlock()
	if run != nil {
		run.Complete()
	}
	return run
}

// Summary describes the build. Health is only reported once a run result
// is attached.
func (b *Build) Summary() model.RunSummary {
	b.mu.Lock()
	run, status, scale, completed := b.run, b.status, b.scaleFactor, b.completed
	b.mu.Unlock()

	sum := model.RunSummary{
		Job:       b.job,
		Number:    b.number,
		Status:    status,
		Completed: completed,
	}
	if run == nil {
		return sum
	}
	res := run.Result()
	h := res.Health(scale)
	sum.Health = &h
	sum.Summary = res.Summary()
	return sum
}
