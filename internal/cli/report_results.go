package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/step"
)

type ResultsReport struct {
	Run
	NodeID string
	Step   step.JUnitResultsStep
}

// ReportResults runs the junit step against src and posts what it found
// as one contribution. When the step yields nothing under the empty
// result policy, nothing is sent and the summary is nil.
func ReportResults(ctx context.Context, r ResultsReport, src step.Source, logger *slog.Logger, w io.Writer) (*model.ResultSummary, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}

	suites, err := r.Step.Collect(ctx, src, logger.With("node", r.NodeID))
	if err != nil {
		if rerr := reportFailure(ctx, r.Run, err); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	if suites == nil {
		fmt.Fprintf(w, "No test results to report (%s)\n", r.Step)
		return nil, nil
	}

	data, err := json.Marshal(model.ContributionRequest{NodeID: r.NodeID, Suites: suites})
	if err != nil {
		return nil, err
	}

	var sum model.ResultSummary
	if err := send(ctx, "POST", r.url("contributions"), "application/json", data, http.StatusCreated, &sum); err != nil {
		return nil, fmt.Errorf("POST contributions: %w", err)
	}

	status := "passed"
	if sum.Failed > 0 {
		status = "failed"
	}
	fmt.Fprintf(w, "Results recorded at node %s (%s: %d passed, %d failed, %d skipped)\n",
		r.NodeID, status, sum.Passed, sum.Failed, sum.Skipped)
	return &sum, nil
}

// reportFailure marks the run FAILURE on the server after a hard
// ingestion error.
func reportFailure(ctx context.Context, r Run, cause error) error {
	data, err := json.Marshal(model.StatusReport{Status: model.BuildFailure, Reason: cause.Error()})
	if err != nil {
		return err
	}
	if err := send(ctx, "POST", r.url("status"), "application/json", data, http.StatusOK, nil); err != nil {
		return fmt.Errorf("POST status: %w", err)
	}
	return nil
}
