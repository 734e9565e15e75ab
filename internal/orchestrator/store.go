package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Update describes a status transition and the fields it sets.
type Update struct {
	To          Status
	At          time.Time
	FailureKind FailureKind
	Error       string
	Summary     Summary
	Artifacts   Artifacts
}

// Store persists run jobs, their results and healing attempts.
// UpdateStatus is a compare-and-swap on status: it applies only when the
// job is currently in from, so a terminal status is written exactly once
// and at most one worker claims a queued job.
type Store interface {
	Create(ctx context.Context, job *RunJob) error
	Get(ctx context.Context, id string) (*RunJob, error)
	List(ctx context.Context, status Status, limit int) ([]RunJob, error)
	UpdateStatus(ctx context.Context, id string, from Status, u Update) (*RunJob, error)

	SaveResults(ctx context.Context, runID string, results []RunResult) error
	Results(ctx context.Context, runID string) ([]RunResult, error)

	SaveHealing(ctx context.Context, a *HealingAttempt) error
	Healings(ctx context.Context, runID string) ([]HealingAttempt, error)

	Close() error
}

// StoreConfig selects a storage backend.
type StoreConfig struct {
	Type string // memory, sqlite or postgres
	DSN  string // file path for sqlite, connection string for postgres
}

// DefaultSQLitePath is used when a sqlite store is configured without a
// path.
const DefaultSQLitePath = ".specforge.db"

// NewStore creates the configured store.
func NewStore(cfg StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "memory", "mem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres connection string is required")
		}
		return NewPostgresStore(cfg.DSN)
	case "sqlite", "sqlite3", "":
		if cfg.DSN == "" {
			cfg.DSN = DefaultSQLitePath
		}
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// applyUpdate sets the fields of u on job. The caller has already checked
// the transition.
func applyUpdate(job *RunJob, u Update) {
	job.Status = u.To
	at := u.At
	switch u.To {
	case StatusRunning:
		job.StartedAt = &at
	case StatusSucceeded, StatusFailed:
		job.FinishedAt = &at
		job.FailureKind = u.FailureKind
		job.Error = u.Error
		job.Summary = u.Summary
		job.Artifacts = u.Artifacts
	}
}

// transitionError explains why a CAS on a job currently in cur failed.
func transitionError(id string, cur, from Status) error {
	if cur.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, id, cur)
	}
	return fmt.Errorf("%w: %s is %s, not %s", ErrNotClaimed, id, cur, from)
}

func checkTransition(from Status, u Update) error {
	if !validTransition(from, u.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, u.To)
	}
	return nil
}
