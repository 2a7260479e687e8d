package db

import "fmt"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    job          TEXT NOT NULL,
    number       INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'SUCCESS',
    completed_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
    UNIQUE (job, number)
);

CREATE INDEX IF NOT EXISTS idx_runs_job_number ON runs(job, number DESC);

CREATE TABLE IF NOT EXISTS flow_nodes (
    run_id    INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq       INTEGER NOT NULL,
    node_id   TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    kind      TEXT NOT NULL,
    name      TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS contributions (
    run_id  INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    id      TEXT NOT NULL PRIMARY KEY,
    seq     INTEGER NOT NULL,
    node_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contributions_run ON contributions(run_id, seq);

CREATE TABLE IF NOT EXISTS suites (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    contribution_id TEXT NOT NULL REFERENCES contributions(id) ON DELETE CASCADE,
    suite_key       TEXT NOT NULL DEFAULT '',
    seq             INTEGER NOT NULL,
    name            TEXT NOT NULL DEFAULT '',
    file            TEXT NOT NULL DEFAULT '',
    duration_sec    REAL NOT NULL DEFAULT 0.0
);

CREATE INDEX IF NOT EXISTS idx_suites_contribution ON suites(contribution_id, seq);

CREATE TABLE IF NOT EXISTS cases (
    suite_id     INTEGER NOT NULL REFERENCES suites(id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    classname    TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL,
    status       TEXT NOT NULL,
    duration_sec REAL NOT NULL DEFAULT 0.0,
    failure_msg  TEXT NOT NULL DEFAULT '',
    failure_text TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (suite_id, seq)
);
`

func (d *DB) migrate() error {
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}
