package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore implements Store on database/sql. Queries are written with ?
// placeholders and rebound for postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// NewSQLiteStore opens (or creates) a sqlite database file and migrates it.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers; sqlite would otherwise answer
	// concurrent claims with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return openSQL(db, false)
}

// NewPostgresStore connects to postgres and migrates the schema.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return openSQL(db, true)
}

func openSQL(db *sql.DB, postgres bool) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &SQLStore{db: db, postgres: postgres}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS run_jobs (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL,
		suite_dir TEXT NOT NULL,
		project_root TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		heal INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '{}',
		artifacts TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		started_at BIGINT NOT NULL DEFAULT 0,
		finished_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS run_jobs_status ON run_jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS run_results (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		name TEXT NOT NULL,
		file TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		steps TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (run_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS healing_attempts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		rerun_id TEXT NOT NULL DEFAULT '',
		spec_path TEXT NOT NULL,
		failure_message TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		updated_spec TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		lines_added INTEGER NOT NULL DEFAULT 0,
		lines_removed INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	)`,
}

func (s *SQLStore) migrate() error {
	for _, q := range schema {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2... for postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nanos(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) *time.Time {
	if n == 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) Create(ctx context.Context, job *RunJob) error {
	summary, _ := json.Marshal(job.Summary)
	artifacts, _ := json.Marshal(job.Artifacts)
	created := job.CreatedAt
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO run_jobs
		(id, parent_id, target, suite_dir, project_root, base_url, heal, status,
		 failure_kind, error, summary, artifacts, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.ParentID, job.Target, job.SuiteDir, job.ProjectRoot, job.BaseURL,
		boolInt(job.Heal), string(job.Status), string(job.FailureKind), job.Error,
		string(summary), string(artifacts), nanos(&created), nanos(job.StartedAt), nanos(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert run job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, parent_id, target, suite_dir, project_root, base_url, heal, status,
	failure_kind, error, summary, artifacts, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*RunJob, error) {
	var (
		j                          RunJob
		heal                       int
		status, kind               string
		summary, artifacts         string
		created, started, finished int64
	)
	err := row.Scan(&j.ID, &j.ParentID, &j.Target, &j.SuiteDir, &j.ProjectRoot, &j.BaseURL,
		&heal, &status, &kind, &j.Error, &summary, &artifacts, &created, &started, &finished)
	if err != nil {
		return nil, err
	}
	j.Heal = heal != 0
	j.Status = Status(status)
	j.FailureKind = FailureKind(kind)
	if err := json.Unmarshal([]byte(summary), &j.Summary); err != nil {
		return nil, fmt.Errorf("decode summary of %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(artifacts), &j.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts of %s: %w", j.ID, err)
	}
	j.CreatedAt = time.Unix(0, created).UTC()
	j.StartedAt = fromNanos(started)
	j.FinishedAt = fromNanos(finished)
	return &j, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*RunJob, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM run_jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLStore) List(ctx context.Context, status Status, limit int) ([]RunJob, error) {
	q := `SELECT ` + jobColumns + ` FROM run_jobs`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list run jobs: %w", err)
	}
	defer rows.Close()

	var out []RunJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, from Status, u Update) (*RunJob, error) {
	if err := checkTransition(from, u); err != nil {
		return nil, err
	}
	var (
		res sql.Result
		err error
	)
	at := u.At.UnixNano()
	if u.To == StatusRunning {
		res, err = s.db.ExecContext(ctx, s.rebind(
			`UPDATE run_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`),
			string(u.To), at, id, string(from))
	} else {
		summary, _ := json.Marshal(u.Summary)
		artifacts, _ := json.Marshal(u.Artifacts)
		res, err = s.db.ExecContext(ctx, s.rebind(
			`UPDATE run_jobs SET status = ?, finished_at = ?, failure_kind = ?, error = ?,
			 summary = ?, artifacts = ? WHERE id = ? AND status = ?`),
			string(u.To), at, string(u.FailureKind), u.Error, string(summary), string(artifacts),
			id, string(from))
	}
	if err != nil {
		return nil, fmt.Errorf("update run job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update run job %s: %w", id, err)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, transitionError(id, cur.Status, from)
	}
	return cur, nil
}

func (s *SQLStore) SaveResults(ctx context.Context, runID string, results []RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save results for %s: %w", runID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM run_results WHERE run_id = ?`), runID); err != nil {
		return fmt.Errorf("save results for %s: %w", runID, err)
	}
	insert := s.rebind(`INSERT INTO run_results
		(run_id, idx, name, file, status, duration_ms, message, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, r := range results {
		steps, _ := json.Marshal(r.Steps)
		if _, err := tx.ExecContext(ctx, insert, runID, i, r.Name, r.File, string(r.Status),
			r.DurationMs, r.Message, string(steps)); err != nil {
			return fmt.Errorf("save result %d for %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Results(ctx context.Context, runID string) ([]RunResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT name, file, status, duration_ms, message, steps
		FROM run_results WHERE run_id = ? ORDER BY idx`), runID)
	if err != nil {
		return nil, fmt.Errorf("results for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []RunResult
	for rows.Next() {
		r := RunResult{RunID: runID}
		var status, steps string
		if err := rows.Scan(&r.Name, &r.File, &status, &r.DurationMs, &r.Message, &steps); err != nil {
			return nil, err
		}
		r.Status = ResultStatus(status)
		if err := json.Unmarshal([]byte(steps), &r.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", runID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveHealing(ctx context.Context, a *HealingAttempt) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO healing_attempts
		(id, run_id, rerun_id, spec_path, failure_message, summary, updated_spec, outcome,
		 error, lines_added, lines_removed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.RunID, a.RerunID, a.SpecPath, a.FailureMessage, a.Summary, a.UpdatedSpec,
		string(a.Outcome), a.Error, a.LinesAdded, a.LinesRemoved, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save healing attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLStore) Healings(ctx context.Context, runID string) ([]HealingAttempt, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, rerun_id, spec_path, failure_message,
		summary, updated_spec, outcome, error, lines_added, lines_removed, created_at
		FROM healing_attempts WHERE run_id = ? ORDER BY created_at, id`), runID)
	if err != nil {
		return nil, fmt.Errorf("healings for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []HealingAttempt
	for rows.Next() {
		a := HealingAttempt{RunID: runID}
		var outcome string
		var created int64
		if err := rows.Scan(&a.ID, &a.RerunID, &a.SpecPath, &a.FailureMessage, &a.Summary,
			&a.UpdatedSpec, &outcome, &a.Error, &a.LinesAdded, &a.LinesRemoved, &created); err != nil {
			return nil, err
		}
		a.Outcome = HealOutcome(outcome)
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
