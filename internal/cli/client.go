package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Run identifies the pipeline run a report is sent for.
type Run struct {
	Server string
	Job    string
	Number int
}

func (r Run) url(suffix string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/runs/%d/%s",
		strings.TrimSuffix(r.Server, "/"), url.PathEscape(r.Job), r.Number, suffix)
}

func (r Run) validate() error {
	if r.Server == "" || r.Job == "" || r.Number <= 0 {
		return fmt.Errorf("server, job and a positive run number are required")
	}
	return nil
}

// send issues one API call and decodes the response into out when the
// server answers with want.
func send(ctx context.Context, method, u, contentType string, body []byte, want int, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
