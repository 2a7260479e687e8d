package junit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/quay/pipeline-results/internal/model"
)

// SplitPatterns splits a comma-separated list of ant-style file patterns.
func SplitPatterns(patterns string) []string {
	var out []string
	for _, p := range strings.Split(patterns, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Match returns the paths in names matching any of patterns, sorted and
// without duplicates.
func Match(names []string, patterns string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, p := range SplitPatterns(patterns) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid report pattern %q", p)
		}
		for _, n := range names {
			if !seen[n] && doublestar.MatchUnvalidated(p, n) {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// DirSource reads reports from a workspace directory on local disk.
type DirSource struct {
	BaseDir string
}

// Collect parses every report under BaseDir matching patterns. It fails
// with ErrNoFilesMatched when nothing matches and with ErrZeroCases when
// the matched files held no cases.
func (d DirSource) Collect(ctx context.Context, patterns string) ([]*model.Suite, error) {
	fsys := os.DirFS(d.BaseDir)
	var files []string
	seen := make(map[string]bool)
	for _, p := range SplitPatterns(patterns) {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s matching %q", ErrNoFilesMatched, d.BaseDir, patterns)
	}
	sort.Strings(files)

	var suites []*model.Suite
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed, err := ParseFile(filepath.Join(d.BaseDir, filepath.FromSlash(f)))
		if err != nil {
			return nil, err
		}
		for _, s := range parsed {
			s.File = f
		}
		suites = append(suites, parsed...)
	}
	if CountCases(suites) == 0 {
		return nil, fmt.Errorf("%w: %d file(s) matching %q", ErrZeroCases, len(files), patterns)
	}
	return suites, nil
}
