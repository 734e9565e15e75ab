package heal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/v0xg/specforge/internal/orchestrator"
)

// Enqueuer queues a rerun of a healed suite.
type Enqueuer interface {
	Enqueue(ctx context.Context, req orchestrator.EnqueueRequest) (*orchestrator.RunJob, error)
}

// Loop connects a Healer to the orchestrator's failure path. Each failed
// run gets one attempt per failing spec file and at most one rerun.
type Loop struct {
	healer *Healer
	queue  Enqueuer
	log    zerolog.Logger
}

func NewLoop(h *Healer, q Enqueuer, log zerolog.Logger) *Loop {
	return &Loop{healer: h, queue: q, log: log.With().Str("component", "heal").Logger()}
}

type failingSpec struct {
	file     string
	messages []string
}

// failingSpecs groups non-passing results by spec file in report order.
func failingSpecs(results []orchestrator.RunResult) []failingSpec {
	var out []failingSpec
	index := map[string]int{}
	for _, r := range results {
		if r.Status.Passing() {
			continue
		}
		i, ok := index[r.File]
		if !ok {
			i = len(out)
			index[r.File] = i
			out = append(out, failingSpec{file: r.File})
		}
		msg := r.Name
		if r.Message != "" {
			msg += ": " + r.Message
		}
		out[i].messages = append(out[i].messages, msg)
	}
	return out
}

// specPath resolves a report file name inside the suite directory.
func specPath(suiteDir, file string) (string, error) {
	rel := file
	if filepath.IsAbs(file) {
		r, err := filepath.Rel(suiteDir, file)
		if err != nil {
			return "", err
		}
		rel = r
	}
	rel = filepath.Clean(filepath.FromSlash(rel))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s is outside the suite directory", file)
	}
	return filepath.Join(suiteDir, rel), nil
}

func readTail(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return truncate(string(b), MaxFieldChars)
}

// HealRun implements orchestrator.Healer.
func (l *Loop) HealRun(ctx context.Context, job *orchestrator.RunJob, results []orchestrator.RunResult) ([]orchestrator.HealingAttempt, error) {
	log := l.log.With().Str("run_id", job.ID).Logger()
	if job.FailureKind == orchestrator.FailureRunner {
		return []orchestrator.HealingAttempt{{
			Outcome:        orchestrator.HealSkipped,
			FailureMessage: job.Error,
			Error:          "runner errors are not healed",
		}}, nil
	}
	specs := failingSpecs(results)
	if len(specs) == 0 {
		return []orchestrator.HealingAttempt{{
			Outcome:        orchestrator.HealSkipped,
			FailureMessage: job.Error,
			Error:          "no failing spec to heal",
		}}, nil
	}

	stdout := readTail(job.Artifacts.Stdout)
	stderr := readTail(job.Artifacts.Stderr)
	var attempts []orchestrator.HealingAttempt
	applied := 0
	for n, spec := range specs {
		a := orchestrator.HealingAttempt{
			SpecPath:       spec.file,
			FailureMessage: truncate(strings.Join(spec.messages, "\n"), MaxFieldChars),
		}
		alog := log.With().Int("attempt", n+1).Str("spec", spec.file).Logger()

		path, err := specPath(job.SuiteDir, spec.file)
		if err != nil {
			a.Outcome, a.Error = orchestrator.HealSkipped, err.Error()
			attempts = append(attempts, a)
			continue
		}
		a.SpecPath = path
		content, err := os.ReadFile(path)
		if err != nil {
			a.Outcome, a.Error = orchestrator.HealSkipped, fmt.Sprintf("spec not readable: %v", err)
			attempts = append(attempts, a)
			continue
		}

		res, err := l.healer.Heal(ctx, Request{
			SpecPath:       spec.file,
			FailureMessage: a.FailureMessage,
			SpecContent:    string(content),
			Stdout:         stdout,
			Stderr:         stderr,
		})
		if res != nil {
			a.Summary = res.Summary
			a.UpdatedSpec = res.UpdatedSpec
			a.LinesAdded, a.LinesRemoved = LineDiff(string(content), res.UpdatedSpec)
		}
		switch {
		case errors.Is(err, ErrTestRenamed):
			a.Outcome, a.Error = orchestrator.HealRejected, err.Error()
		case err != nil:
			a.Outcome, a.Error = orchestrator.HealFailed, err.Error()
		default:
			if werr := os.WriteFile(path, []byte(res.UpdatedSpec), 0o644); werr != nil {
				a.Outcome, a.Error = orchestrator.HealFailed, fmt.Sprintf("write spec: %v", werr)
				break
			}
			a.Outcome = orchestrator.HealApplied
			applied++
		}
		alog.Info().Str("outcome", string(a.Outcome)).Int("added", a.LinesAdded).Int("removed", a.LinesRemoved).Msg("heal attempt finished")
		attempts = append(attempts, a)
	}

	if applied == 0 {
		return attempts, nil
	}
	rerun, err := l.queue.Enqueue(ctx, orchestrator.EnqueueRequest{
		SuiteDir:    job.SuiteDir,
		Target:      job.Target,
		BaseURL:     job.BaseURL,
		ProjectRoot: job.ProjectRoot,
		ParentID:    job.ID,
	})
	if err != nil {
		return attempts, fmt.Errorf("queue rerun of %s: %w", job.ID, err)
	}
	for i := range attempts {
		if attempts[i].Outcome == orchestrator.HealApplied {
			attempts[i].RerunID = rerun.ID
		}
	}
	log.Info().Str("rerun", rerun.ID).Int("applied", applied).Msg("rerun queued")
	return attempts, nil
}
