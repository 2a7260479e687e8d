package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/quay/pipeline-results/internal/model"
)

// CompleteRun finalizes a run on the server and prints its summary.
func CompleteRun(ctx context.Context, r Run, w io.Writer) (*model.RunSummary, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	var sum model.RunSummary
	if err := send(ctx, "POST", r.url("complete"), "", nil, http.StatusOK, &sum); err != nil {
		return nil, fmt.Errorf("POST complete: %w", err)
	}

	fmt.Fprintf(w, "Run %s #%d completed: %s\n", sum.Job, sum.Number, sum.Status)
	if sum.Health != nil {
		fmt.Fprintf(w, "%s (health %d%%)\n", sum.Health.Description, sum.Health.Score)
	}
	return &sum, nil
}
