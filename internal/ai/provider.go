// Package ai talks to the reasoning services used for page analysis and
// spec repair.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/v0xg/specforge/internal/crawler"
)

// ErrInvalidResponse is returned when a model's reply is not the JSON the
// request asked for.
var ErrInvalidResponse = errors.New("invalid model response")

// PageInput is the page metadata sent for analysis.
type PageInput struct {
	BaseURL      string
	PageURL      string
	Instructions string
	Scan         crawler.RouteScan
}

// HealRequest describes a failing spec.
type HealRequest struct {
	SpecPath       string
	FailureMessage string
	Stdout         string
	Stderr         string
	SpecContent    string
}

// HealResult is the model's rewrite of a failing spec.
type HealResult struct {
	Summary     string
	UpdatedSpec string
	Raw         string
}

// Reasoner is the narrow surface the rest of the system needs from a
// model provider.
type Reasoner interface {
	AnalyzePage(ctx context.Context, in PageInput) (*crawler.PageAnalysis, error)
	HealSpec(ctx context.Context, req HealRequest) (*HealResult, error)
}

// completer sends one system+user exchange and returns the reply text.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
	name() string
}

// Config selects and authenticates a provider.
type Config struct {
	Provider string
	Model    string
	// APIKey overrides the key looked up from the environment.
	APIKey string
	// BaseURL points the client at a compatible endpoint.
	BaseURL string
}

// NewReasoner creates a Reasoner for the configured provider.
func NewReasoner(cfg Config) (Reasoner, error) {
	switch strings.ToLower(cfg.Provider) {
	case "claude", "anthropic", "":
		c, err := newClaude(cfg.Model, cfg.BaseURL, keyFrom(cfg.APIKey, "SPECFORGE_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"))
		if err != nil {
			return nil, err
		}
		return &reasoner{c: c}, nil
	case "openai", "gpt":
		c, err := newOpenAI(cfg.Model, cfg.BaseURL, keyFrom(cfg.APIKey, "SPECFORGE_OPENAI_KEY", "OPENAI_API_KEY"))
		if err != nil {
			return nil, err
		}
		return &reasoner{c: c}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", cfg.Provider)
	}
}

func keyFrom(explicit string, envs ...string) string {
	if explicit != "" {
		return explicit
	}
	for _, e := range envs {
		if v := os.Getenv(e); v != "" {
			return v
		}
	}
	return ""
}

type reasoner struct {
	c completer
}

func (r *reasoner) AnalyzePage(ctx context.Context, in PageInput) (*crawler.PageAnalysis, error) {
	user, err := analyzeUserPrompt(in)
	if err != nil {
		return nil, err
	}
	text, err := r.c.complete(ctx, analyzeSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", r.c.name(), err)
	}
	a, err := parseAnalysis(text)
	if err != nil {
		return nil, err
	}
	a.Path = crawler.PathOf(in.PageURL)
	return a, nil
}

func (r *reasoner) HealSpec(ctx context.Context, req HealRequest) (*HealResult, error) {
	text, err := r.c.complete(ctx, healSystemPrompt, healUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", r.c.name(), err)
	}
	return parseHeal(text)
}

// extractObject returns the first balanced JSON object in a reply that may
// be wrapped in prose or code fences.
func extractObject(response string) (string, error) {
	response = strings.TrimSpace(response)
	if json.Valid([]byte(response)) && strings.HasPrefix(response, "{") {
		return response, nil
	}
	start := strings.Index(response, "{")
	if start == -1 {
		return "", fmt.Errorf("%w: no JSON object found", ErrInvalidResponse)
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(response); i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				obj := response[start : i+1]
				if !json.Valid([]byte(obj)) {
					return "", fmt.Errorf("%w: malformed JSON object", ErrInvalidResponse)
				}
				return obj, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no matching closing brace found", ErrInvalidResponse)
}
