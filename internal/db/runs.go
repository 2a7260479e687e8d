package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quay/pipeline-results/internal/flowgraph"
	"github.com/quay/pipeline-results/internal/model"
	"github.com/quay/pipeline-results/internal/results"
)

// SaveRun persists a completed run with its graph and every contribution.
// A job/number pair can only be saved once.
func (d *DB) SaveRun(ctx context.Context, run *results.Run, status model.BuildStatus) (*model.RunRecord, error) {
	if !run.Completed() {
		return nil, fmt.Errorf("save %s #%d: run is still in progress", run.Job(), run.Number())
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE job = ? AND number = ?`, run.Job(), run.Number()).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check run: %w", err)
	}
	if exists > 0 {
		return nil, fmt.Errorf("save %s #%d: %w", run.Job(), run.Number(), ErrRunExists)
	}

	completedAt := time.Now().UTC().Truncate(time.Second)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (job, number, status, completed_at)
		VALUES (?, ?, ?, ?)`,
		run.Job(), run.Number(), string(status), formatTime(completedAt))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	runID, _ := res.LastInsertId()

	for i, n := range run.Graph().Nodes() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flow_nodes (run_id, seq, node_id, parent_id, kind, name)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, n.ID, n.Parent, n.Kind, n.Name)
		if err != nil {
			return nil, fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	for _, c := range run.Contributions() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contributions (run_id, id, seq, node_id)
			VALUES (?, ?, ?, ?)`,
			runID, c.ID, c.Seq, c.NodeID)
		if err != nil {
			return nil, fmt.Errorf("insert contribution %s: %w", c.ID, err)
		}

		for si, s := range c.Suites {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO suites (contribution_id, suite_key, seq, name, file, duration_sec)
				VALUES (?, ?, ?, ?, ?, ?)`,
				c.ID, s.ID, si, s.Name, s.File, s.DurationSec)
			if err != nil {
				return nil, fmt.Errorf("insert suite %s: %w", s.Name, err)
			}
			suiteID, _ := res.LastInsertId()

			for ci, tc := range s.Cases {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO cases (suite_id, seq, classname, name, status, duration_sec, failure_msg, failure_text)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
					suiteID, ci, tc.ClassName, tc.Name, string(tc.Status), tc.DurationSec, tc.FailureMsg, tc.FailureText)
				if err != nil {
					return nil, fmt.Errorf("insert case %s: %w", tc.FullName(), err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &model.RunRecord{
		ID:          runID,
		Job:         run.Job(),
		Number:      run.Number(),
		Status:      status,
		CompletedAt: completedAt,
	}, nil
}

// GetRun returns the record of a saved run.
func (d *DB) GetRun(ctx context.Context, job string, number int) (*model.RunRecord, error) {
	row := d.QueryRowContext(ctx, `
		SELECT id, job, number, status, completed_at
		FROM runs WHERE job = ? AND number = ?`, job, number)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s #%d: %w", job, number, ErrRunNotFound)
	}
	return rec, err
}

// ListRuns returns every saved run of job, newest first.
func (d *DB) ListRuns(ctx context.Context, job string) ([]model.RunRecord, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, job, number, status, completed_at
		FROM runs WHERE job = ?
		ORDER BY number DESC`, job)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []model.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.RunRecord, error) {
	var (
		rec         model.RunRecord
		status      string
		completedAt string
	)
	if err := s.Scan(&rec.ID, &rec.Job, &rec.Number, &status, &completedAt); err != nil {
		return nil, err
	}
	rec.Status = model.BuildStatus(status)
	rec.CompletedAt = parseTime(completedAt)
	return &rec, nil
}

// LoadRun rebuilds a saved run. The result is completed and read-only.
func (d *DB) LoadRun(ctx context.Context, job string, number int) (*results.Run, error) {
	rec, err := d.GetRun(ctx, job, number)
	if err != nil {
		return nil, err
	}
	return d.loadRun(ctx, rec)
}

// PreviousRun loads the newest saved run of job numbered below before.
// It returns nil without error when there is none.
func (d *DB) PreviousRun(ctx context.Context, job string, before int) (*results.Run, error) {
	row := d.QueryRowContext(ctx, `
		SELECT id, job, number, status, completed_at
		FROM runs WHERE job = ? AND number < ?
		ORDER BY number DESC LIMIT 1`, job, before)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.loadRun(ctx, rec)
}

// Previous makes DB a trend.History.
func (d *DB) Previous(ctx context.Context, job string, before int) (*results.Run, error) {
	return d.PreviousRun(ctx, job, before)
}

func (d *DB) loadRun(ctx context.Context, rec *model.RunRecord) (*results.Run, error) {
	graph, err := d.loadGraph(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load graph of %s #%d: %w", rec.Job, rec.Number, err)
	}
	contribs, err := d.loadContributions(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load contributions of %s #%d: %w", rec.Job, rec.Number, err)
	}
	return results.Restore(rec.Job, rec.Number, graph, contribs), nil
}

func (d *DB) loadGraph(ctx context.Context, runID int64) (*flowgraph.Graph, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT node_id, parent_id, kind, name
		FROM flow_nodes WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var nodes []model.GraphNode
	for rows.Next() {
		var n model.GraphNode
		if err := rows.Scan(&n.ID, &n.Parent, &n.Kind, &n.Name); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	g := flowgraph.New()
	if err := g.AddNodes(nodes); err != nil {
		return nil, err
	}
	return g, nil
}

func (d *DB) loadContributions(ctx context.Context, runID int64) ([]*results.Contribution, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT id, seq, node_id
		FROM contributions WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	var (
		contribs []*results.Contribution
		byID     = make(map[string]*results.Contribution)
	)
	for rows.Next() {
		c := &results.Contribution{}
		if err := rows.Scan(&c.ID, &c.Seq, &c.NodeID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		contribs = append(contribs, c)
		byID[c.ID] = c
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	suites, err := d.QueryContext(ctx, `
		SELECT s.id, s.contribution_id, s.suite_key, s.name, s.file, s.duration_sec
		FROM suites s
		JOIN contributions c ON c.id = s.contribution_id
		WHERE c.run_id = ?
		ORDER BY c.seq, s.seq`, runID)
	if err != nil {
		return nil, err
	}
	bySuite := make(map[int64]*model.Suite)
	for suites.Next() {
		var (
			id      int64
			contrib string
			s       = &model.Suite{}
		)
		if err := suites.Scan(&id, &contrib, &s.ID, &s.Name, &s.File, &s.DurationSec); err != nil {
			_ = suites.Close()
			return nil, err
		}
		bySuite[id] = s
		if c, ok := byID[contrib]; ok {
			c.Suites = append(c.Suites, s)
		}
	}
	_ = suites.Close()
	if err := suites.Err(); err != nil {
		return nil, err
	}

	cases, err := d.QueryContext(ctx, `
		SELECT cs.suite_id, cs.classname, cs.name, cs.status, cs.duration_sec, cs.failure_msg, cs.failure_text
		FROM cases cs
		JOIN suites s ON s.id = cs.suite_id
		JOIN contributions c ON c.id = s.contribution_id
		WHERE c.run_id = ?
		ORDER BY c.seq, s.seq, cs.seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cases.Close() }()
	for cases.Next() {
		var (
			suiteID int64
			status  string
			tc      = &model.Case{}
		)
		if err := cases.Scan(&suiteID, &tc.ClassName, &tc.Name, &status, &tc.DurationSec, &tc.FailureMsg, &tc.FailureText); err != nil {
			return nil, err
		}
		tc.Status = model.Status(status)
		if s, ok := bySuite[suiteID]; ok {
			s.Cases = append(s.Cases, tc)
		}
	}
	if err := cases.Err(); err != nil {
		return nil, err
	}

	for _, s := range bySuite {
		s.Link()
	}
	return contribs, nil
}
