// Package executor replays plan cases directly in a browser, without
// generating a suite first.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
	"github.com/v0xg/specforge/internal/snapshot"
)

// Page is one isolated browser tab. Element lookups wait up to the
// context deadline.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, sel plan.Selector) error
	Fill(ctx context.Context, sel plan.Selector, value string) error
	Upload(ctx context.Context, sel plan.Selector, path string) error
	Visible(ctx context.Context, sel plan.Selector) error
	HasText(ctx context.Context, text string) error
	Screenshot() ([]byte, error)
	Close() error
}

// Browser hands out a fresh Page per case.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Options configures replay behavior
type Options struct {
	BaseURL       string
	StepTimeout   time.Duration // per step
	StepDelay     time.Duration // pause after each action
	ScreenshotDir string        // failure screenshots, one per failed case
	AssetsDir     string        // base for relative upload paths
	Locators      *locator.Store
	Logger        zerolog.Logger
}

type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// CaseResult is the outcome of one replayed case.
type CaseResult struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Page       string        `json:"page"`
	Status     Status        `json:"status"`
	FailedStep int           `json:"failedStep"` // -1 unless failed
	Error      string        `json:"error,omitempty"`
	Notes      []string      `json:"notes,omitempty"`
	Duration   time.Duration `json:"duration"`
	Screenshot string        `json:"screenshot,omitempty"`
}

// Replay runs every case of p in order, each in its own page. A failing
// case never stops the replay. When ctx ends, the remaining cases are
// reported as skipped and ctx.Err() is returned with the results.
func Replay(ctx context.Context, b Browser, p *plan.TestPlan, opts Options) ([]CaseResult, error) {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = p.BaseURL
	}
	log := opts.Logger.With().Str("component", "replay").Logger()

	results := make([]CaseResult, 0, len(p.Cases))
	for i, tc := range p.Cases {
		if err := ctx.Err(); err != nil {
			for _, rest := range p.Cases[i:] {
				results = append(results, CaseResult{
					ID: rest.ID, Name: rest.Name, Page: rest.PageKey(),
					Status: StatusSkipped, FailedStep: -1, Error: "cancelled",
				})
			}
			return results, err
		}
		res := replayCase(ctx, b, tc, opts)
		log.Info().Str("case", tc.ID).Str("status", string(res.Status)).Dur("took", res.Duration).Msg("case replayed")
		results = append(results, res)
	}
	return results, nil
}

func replayCase(ctx context.Context, b Browser, tc plan.TestCase, opts Options) CaseResult {
	start := time.Now()
	res := CaseResult{ID: tc.ID, Name: tc.Name, Page: tc.PageKey(), FailedStep: -1}

	executable := 0
	for _, s := range tc.Steps {
		if s.Kind != plan.StepCustom {
			executable++
		}
	}
	if executable == 0 {
		res.Status = StatusSkipped
		for _, s := range tc.Steps {
			res.Notes = append(res.Notes, s.Note)
		}
		res.Duration = time.Since(start)
		return res
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		res.Status, res.Error = StatusFailed, fmt.Sprintf("open page: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	defer page.Close()

	r := &stepRunner{page: page, opts: opts, pageKey: res.Page}
	for i, s := range tc.Steps {
		if s.Kind == plan.StepCustom {
			res.Notes = append(res.Notes, s.Note)
			continue
		}
		if err := r.run(ctx, s); err != nil {
			res.Status = StatusFailed
			res.FailedStep = i
			res.Error = fmt.Sprintf("step %d (%s): %v", i+1, s.Kind, err)
			res.Screenshot = saveFailure(page, opts.ScreenshotDir, tc.ID)
			res.Duration = time.Since(start)
			return res
		}
		if opts.StepDelay > 0 && s.Kind != plan.StepExpectText && s.Kind != plan.StepExpectVisible {
			time.Sleep(opts.StepDelay)
		}
	}
	res.Status = StatusPassed
	res.Duration = time.Since(start)
	return res
}

func saveFailure(page Page, dir, caseID string) string {
	if dir == "" {
		return ""
	}
	shot, err := page.Screenshot()
	if err != nil {
		return ""
	}
	name := filepath.Join(dir, screenshotName(caseID)+".png")
	if err := snapshot.SaveThumbnail(shot, name, 1280); err != nil {
		return ""
	}
	return name
}

func screenshotName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
	if name == "" {
		return "case"
	}
	return name
}

// ErrMissingLocator means a logical "@bucket.name" selector has no entry
// for the case's page.
var ErrMissingLocator = errors.New("missing locator")
