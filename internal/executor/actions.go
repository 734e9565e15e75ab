package executor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
)

// stepRunner executes the steps of one case against one page.
type stepRunner struct {
	page    Page
	opts    Options
	pageKey string
}

func (r *stepRunner) run(ctx context.Context, s plan.Step) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout)
	defer cancel()

	switch s.Kind {
	case plan.StepGoto:
		target, err := resolveURL(r.opts.BaseURL, s.URL)
		if err != nil {
			return err
		}
		if err := r.page.Navigate(ctx, target); err != nil {
			return err
		}
		return r.assertIdentity(ctx, plan.PathOf(target))
	case plan.StepClick:
		sel, err := r.selector(s.Selector)
		if err != nil {
			return err
		}
		return r.page.Click(ctx, sel)
	case plan.StepFill:
		sel, err := r.selector(s.Selector)
		if err != nil {
			return err
		}
		return r.page.Fill(ctx, sel, s.Value)
	case plan.StepExpectVisible:
		sel, err := r.selector(s.Selector)
		if err != nil {
			return err
		}
		return r.page.Visible(ctx, sel)
	case plan.StepExpectText:
		return r.page.HasText(ctx, s.Text)
	case plan.StepUpload:
		sel, err := r.selector(s.Selector)
		if err != nil {
			return err
		}
		path := s.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.opts.AssetsDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("upload file: %w", err)
		}
		return r.page.Upload(ctx, sel, path)
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

// selector parses raw and resolves logical references through the
// locator store for the case's page.
func (r *stepRunner) selector(raw string) (plan.Selector, error) {
	if strings.TrimSpace(raw) == "" {
		return plan.Selector{}, fmt.Errorf("empty selector")
	}
	sel := plan.ParseSelector(raw)
	if sel.Engine != plan.EngineRef {
		return sel, nil
	}
	bucket, ok := locator.ParseBucket(sel.Value)
	if ok && r.opts.Locators != nil {
		if resolved, _, found := r.opts.Locators.Resolve(r.pageKey, bucket, sel.Name); found {
			return plan.ParseSelector(resolved), nil
		}
	}
	return plan.Selector{}, fmt.Errorf("%w %s on %s", ErrMissingLocator, raw, r.pageKey)
}

func (r *stepRunner) assertIdentity(ctx context.Context, path string) error {
	if r.opts.Locators == nil {
		return nil
	}
	id, ok := r.opts.Locators.Identity(path)
	if !ok || id == nil {
		return nil
	}
	var err error
	switch id.Kind {
	case "text":
		err = r.page.HasText(ctx, id.Text)
	case "role":
		err = r.page.Visible(ctx, plan.Selector{Engine: plan.EngineRole, Value: id.Role, Name: id.Name})
	default:
		if id.Selector == "" {
			return nil
		}
		err = r.page.Visible(ctx, plan.ParseSelector(id.Selector))
	}
	if err != nil {
		return fmt.Errorf("page identity for %s: %w", path, err)
	}
	return nil
}

// resolveURL makes a goto target absolute against the base URL.
func resolveURL(base, target string) (string, error) {
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("goto %q: %w", target, err)
	}
	if t.IsAbs() {
		return t.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", fmt.Errorf("goto %q: relative URL needs an absolute base URL", target)
	}
	return b.ResolveReference(t).String(), nil
}
