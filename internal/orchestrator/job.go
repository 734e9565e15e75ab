// Package orchestrator queues generated suites, runs them through external
// test runners on a worker pool and records per-case results.
package orchestrator

import (
	"errors"
	"time"
)

// Status is the state of a RunJob: queued -> running -> succeeded|failed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// validTransition is the whole state machine.
func validTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// FailureKind tells apart why a job failed.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureTest means the runner completed and some case did not pass.
	FailureTest FailureKind = "test_failure"
	// FailureRunner means the runner could not start or crashed.
	FailureRunner FailureKind = "runner_error"
	// FailureTimeout means the runner exceeded its time bound.
	FailureTimeout FailureKind = "timeout"
)

var (
	ErrNotFound = errors.New("run job not found")
	// ErrTerminal is returned when a transition is attempted on a job that
	// already finished.
	ErrTerminal = errors.New("run job already finished")
	// ErrNotClaimed is returned when the job is not in the state the
	// transition expects, typically because another worker claimed it.
	ErrNotClaimed        = errors.New("run job not in expected state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Summary counts case outcomes of a run.
type Summary struct {
	Total      int   `json:"total"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"durationMs"`
}

// Artifacts are paths to the files a run produced.
type Artifacts struct {
	Dir        string `json:"dir,omitempty"`
	Report     string `json:"report,omitempty"`
	Results    string `json:"results,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Summary    string `json:"summary,omitempty"`
	HTMLReport string `json:"htmlReport,omitempty"`
}

// RunJob is one execution of a generated suite.
type RunJob struct {
	ID          string      `json:"runId"`
	ParentID    string      `json:"parentRunId,omitempty"`
	Target      string      `json:"target"`
	SuiteDir    string      `json:"suiteDir"`
	ProjectRoot string      `json:"projectRoot"`
	BaseURL     string      `json:"baseUrl"`
	Heal        bool        `json:"heal"`
	Status      Status      `json:"status"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
	Error       string      `json:"error,omitempty"`
	Summary     Summary     `json:"summary"`
	Artifacts   Artifacts   `json:"artifacts"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
}

// ResultStatus is the outcome of one case.
type ResultStatus string

const (
	ResultPassed  ResultStatus = "passed"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
	ResultError   ResultStatus = "error"
)

// Passing reports whether s counts towards a succeeded verdict. Skipped
// cases do not fail a run.
func (s ResultStatus) Passing() bool {
	return s == ResultPassed || s == ResultSkipped
}

// RunResult is one case outcome parsed from a runner report.
type RunResult struct {
	RunID      string       `json:"runId"`
	Name       string       `json:"name"`
	File       string       `json:"file"`
	Status     ResultStatus `json:"status"`
	DurationMs int64        `json:"durationMs"`
	Message    string       `json:"message,omitempty"`
	Steps      []string     `json:"steps,omitempty"`
}

// HealOutcome is how a healing attempt ended.
type HealOutcome string

const (
	HealApplied  HealOutcome = "applied"
	HealRejected HealOutcome = "rejected"
	HealFailed   HealOutcome = "failed"
	HealSkipped  HealOutcome = "skipped"
)

// HealingAttempt records one repair attempt of a failing spec.
type HealingAttempt struct {
	ID             string      `json:"id"`
	RunID          string      `json:"runId"`
	RerunID        string      `json:"rerunId,omitempty"`
	SpecPath       string      `json:"specPath"`
	FailureMessage string      `json:"failureMessage"`
	Summary        string      `json:"summary,omitempty"`
	UpdatedSpec    string      `json:"updatedSpecContent,omitempty"`
	Outcome        HealOutcome `json:"outcome"`
	Error          string      `json:"error,omitempty"`
	LinesAdded     int         `json:"linesAdded"`
	LinesRemoved   int         `json:"linesRemoved"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Summarize counts results. The duration is the sum of case durations.
func Summarize(results []RunResult) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		s.DurationMs += r.DurationMs
		switch r.Status {
		case ResultPassed:
			s.Passed++
		case ResultSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}
