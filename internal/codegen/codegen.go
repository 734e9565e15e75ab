// Package codegen lowers a test plan into runnable suites for several
// test frameworks. Each framework is one Emitter; files are grouped one
// per page and named from the slugified page path.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownTarget is returned for a target id no emitter is registered
	// under.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrNestedOutputRoot is returned when the output root already sits
	// inside a per-target directory. Nothing is written in that case.
	ErrNestedOutputRoot = errors.New("output root is nested inside a per-target directory")
)

// File is one generated file, relative to the target directory.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Manifest summarizes what an emitter produces for a plan.
type Manifest struct {
	Target string                `json:"target"`
	Files  []string              `json:"files"`
	Groups int                   `json:"groups"`
	Cases  int                   `json:"cases"`
	Steps  map[plan.StepKind]int `json:"steps"`
}

// Options carries what emitters need beyond the plan itself.
type Options struct {
	// Locators resolves @bucket.name selectors and page identities. It
	// may be nil.
	Locators *locator.Store
	Logger   zerolog.Logger
}

// Emitter lowers a plan into one framework's source files. Render must be
// total over the step union: unknown steps become comments.
type Emitter interface {
	ID() string
	Render(p *plan.TestPlan, opts Options) ([]File, error)
	Manifest(p *plan.TestPlan) Manifest
}

// Scaffolder is implemented by emitters that also need fixed config files
// next to the generated sources.
type Scaffolder interface {
	Scaffold(p *plan.TestPlan) []File
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Emitter{}
)

// Register makes an emitter available under its id. Registering the same
// id twice replaces the earlier emitter.
func Register(e Emitter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[e.ID()] = e
}

// Lookup returns the emitter registered under id.
func Lookup(id string) (Emitter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownTarget, id, strings.Join(targetsLocked(), ", "))
	}
	return e, nil
}

// Targets lists the registered target ids, sorted.
func Targets() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return targetsLocked()
}

func targetsLocked() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render renders plan p for a single target.
func Render(p *plan.TestPlan, targetID string, opts Options) ([]File, error) {
	e, err := Lookup(targetID)
	if err != nil {
		return nil, err
	}
	return e.Render(p, opts)
}

// Output is everything one target produced.
type Output struct {
	Target   string
	Files    []File
	Scaffold []File
	Manifest Manifest
}

// RenderAll renders every target in parallel. Emitters share no state, so
// each runs in its own goroutine.
func RenderAll(ctx context.Context, p *plan.TestPlan, targets []string, opts Options) ([]Output, error) {
	emitters := make([]Emitter, len(targets))
	for i, id := range targets {
		e, err := Lookup(id)
		if err != nil {
			return nil, err
		}
		emitters[i] = e
	}

	out := make([]Output, len(emitters))
	g, ctx := errgroup.WithContext(ctx)
	for i, e := range emitters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			files, err := e.Render(p, opts)
			if err != nil {
				return fmt.Errorf("render %s: %w", e.ID(), err)
			}
			o := Output{Target: e.ID(), Files: files, Manifest: e.Manifest(p)}
			if s, ok := e.(Scaffolder); ok {
				o.Scaffold = s.Scaffold(p)
			}
			out[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Written records where one target's files went.
type Written struct {
	Target   string
	Dir      string
	Files    []string
	Manifest Manifest
}

// Write renders every target and writes its files under root/<target>.
// All preconditions are checked and all rendering finishes before the
// first file is written.
func Write(ctx context.Context, root string, p *plan.TestPlan, targets []string, opts Options) ([]Written, error) {
	if err := CheckOutputRoot(root); err != nil {
		return nil, err
	}
	outputs, err := RenderAll(ctx, p, targets, opts)
	if err != nil {
		return nil, err
	}
	for _, o := range outputs {
		for _, f := range append(o.Files, o.Scaffold...) {
			if !filepath.IsLocal(filepath.FromSlash(f.Path)) {
				return nil, fmt.Errorf("%s: generated path %q escapes the target directory", o.Target, f.Path)
			}
		}
	}

	written := make([]Written, 0, len(outputs))
	for _, o := range outputs {
		dir := filepath.Join(root, o.Target)
		w := Written{Target: o.Target, Dir: dir, Manifest: o.Manifest}
		for _, f := range append(o.Files, o.Scaffold...) {
			path := filepath.Join(dir, filepath.FromSlash(f.Path))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return written, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
			}
			if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
				return written, fmt.Errorf("write %s: %w", path, err)
			}
			w.Files = append(w.Files, path)
		}
		opts.Logger.Info().Str("target", o.Target).Int("files", len(w.Files)).Str("dir", dir).Msg("suite written")
		written = append(written, w)
	}
	return written, nil
}

// CheckOutputRoot rejects an output root that already sits inside a
// per-target directory, such as out/playwright-ts or
// out/playwright-ts-acme/web. Writing there would nest the target
// directory twice. Only the components below the working directory are
// checked, or the last two when the root lies elsewhere, so an unrelated
// ancestor like ~/xctest-work does not count.
func CheckOutputRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return errors.New("output root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve output root: %w", err)
	}
	ids := Targets()
	for _, part := range ownComponents(abs) {
		for _, id := range ids {
			if part == id || strings.HasPrefix(part, id+"-") {
				return fmt.Errorf("%w: %s (component %q)", ErrNestedOutputRoot, root, part)
			}
		}
	}
	return nil
}

func ownComponents(abs string) []string {
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			if rel == "." {
				return nil
			}
			return strings.Split(filepath.ToSlash(rel), "/")
		}
	}
	parts := strings.Split(strings.Trim(filepath.ToSlash(abs), "/"), "/")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return parts
}
