package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/quay/pipeline-results/internal/flowgraph"
)

type GraphReport struct {
	Run
	File string
}

// ReportGraph uploads the execution graph described in a YAML or JSON file.
func ReportGraph(ctx context.Context, r GraphReport, w io.Writer) error {
	if err := r.validate(); err != nil {
		return err
	}
	f, err := os.Open(r.File)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	nodes, err := flowgraph.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", r.File, err)
	}
	// Validate locally before sending.
	if _, err := flowgraph.New().Extend(nodes); err != nil {
		return fmt.Errorf("%s: %w", r.File, err)
	}

	data, err := json.Marshal(nodes)
	if err != nil {
		return err
	}
	var result map[string]int
	if err := send(ctx, "PUT", r.url("graph"), "application/json", data, http.StatusOK, &result); err != nil {
		return fmt.Errorf("PUT graph: %w", err)
	}

	fmt.Fprintf(w, "Graph uploaded: %d new nodes, %d total\n", result["added"], result["nodes"])
	return nil
}
