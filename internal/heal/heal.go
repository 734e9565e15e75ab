// Package heal asks a reasoning service to repair failing specs and
// accepts the rewrite only when every test keeps its name.
package heal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/v0xg/specforge/internal/ai"
)

var (
	// ErrMalformedResponse means the reply could not be used; the spec is
	// left untouched.
	ErrMalformedResponse = errors.New("malformed healing response")
	// ErrTestRenamed means the rewrite dropped or renamed a test.
	ErrTestRenamed = errors.New("healed spec renamed a test")
)

const (
	// MaxFieldChars bounds each diagnostic field sent to the model.
	MaxFieldChars  = 4000
	DefaultTimeout = 60 * time.Second
)

// SpecHealer is the part of ai.Reasoner healing needs.
type SpecHealer interface {
	HealSpec(ctx context.Context, req ai.HealRequest) (*ai.HealResult, error)
}

// Request is one failing spec.
type Request struct {
	SpecPath       string
	FailureMessage string
	SpecContent    string
	Stdout         string
	Stderr         string
}

// Healer performs single repair attempts.
type Healer struct {
	reasoner SpecHealer
	timeout  time.Duration
	log      zerolog.Logger
}

type Options struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

func New(r SpecHealer, opts Options) *Healer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Healer{reasoner: r, timeout: opts.Timeout, log: opts.Logger}
}

// Heal sends the spec and its failure to the model and validates the
// rewrite. On ErrTestRenamed the rejected result is returned alongside the
// error so callers can record what came back.
func (h *Healer) Heal(ctx context.Context, req Request) (*ai.HealResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.reasoner.HealSpec(ctx, ai.HealRequest{
		SpecPath:       req.SpecPath,
		FailureMessage: truncate(req.FailureMessage, MaxFieldChars),
		Stdout:         truncate(req.Stdout, MaxFieldChars),
		Stderr:         truncate(req.Stderr, MaxFieldChars),
		SpecContent:    req.SpecContent,
	})
	switch {
	case errors.Is(err, ai.ErrInvalidResponse):
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	case err != nil:
		return nil, fmt.Errorf("heal %s: %w", req.SpecPath, err)
	case res == nil || res.UpdatedSpec == "":
		return nil, fmt.Errorf("%w: empty updated spec", ErrMalformedResponse)
	}

	if missing := missingTitles(req.SpecContent, res.UpdatedSpec); len(missing) > 0 {
		h.log.Warn().Str("spec", req.SpecPath).Strs("missing", missing).Msg("healed spec renamed tests")
		return res, fmt.Errorf("%w: %q no longer present", ErrTestRenamed, missing)
	}
	return res, nil
}

// truncate keeps the last n bytes of s, on a rune boundary. Runner output
// is most useful at its end.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !isRuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
