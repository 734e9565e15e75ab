package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxRoutes bounds a crawl when Options.MaxRoutes is unset.
const DefaultMaxRoutes = 150

// ErrLaunch wraps failures to start the page-inspection engine. It aborts
// discovery; single-page failures never do.
var ErrLaunch = errors.New("launch page inspector")

// Inspector loads one page and summarizes its DOM. Implementations must
// release any per-page resources before returning, error or not.
type Inspector interface {
	Inspect(ctx context.Context, url string) (*RouteScan, error)
	Close() error
}

// Launcher starts an Inspector.
type Launcher func(ctx context.Context) (Inspector, error)

// Options configures the crawler behavior
type Options struct {
	MaxRoutes     int
	Timeout       time.Duration // per page
	Width         int
	Height        int
	Headless      bool
	ProfileDir    string // Chrome/Chromium profile directory for authenticated sessions
	ScreenshotDir string // when set, the browser engine saves a thumbnail per page
	Logger        zerolog.Logger

	// Launch selects the inspection engine. Nil means the headless browser.
	Launch Launcher
}

func (o *Options) withDefaults() {
	if o.MaxRoutes <= 0 {
		o.MaxRoutes = DefaultMaxRoutes
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.Launch == nil {
		o.Launch = BrowserLauncher(*o)
	}
}

// Discover crawls baseURL breadth-first, following same-origin links and
// the caller's seed routes, and visits at most opts.MaxRoutes URLs. If ctx
// is cancelled the crawl stops at the next page boundary and returns what
// was gathered together with the context error.
func Discover(ctx context.Context, baseURL string, seeds []string, opts Options) (*Discovery, error) {
	opts.withDefaults()
	log := opts.Logger

	base, err := url.Parse(baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	home, _ := normalizeURL(base, base.String())
	base = home

	insp, err := opts.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	defer insp.Close()

	var (
		seen    = map[string]bool{}
		queue   []string
		visited int
		scans   []RouteScan
	)
	enqueue := func(raw string) {
		abs, ok := followable(base, raw)
		if !ok || seen[abs] {
			return
		}
		if visited+len(queue) >= opts.MaxRoutes {
			return
		}
		seen[abs] = true
		queue = append(queue, abs)
	}
	visit := func(target string) {
		visited++
		scan, err := insp.Inspect(ctx, target)
		if err != nil {
			log.Debug().Err(err).Str("url", target).Msg("page skipped")
			return
		}
		scan.URL = target
		scan.Links = filterLinks(base, scan.Links)
		scans = append(scans, *scan)
		log.Info().Str("url", target).Int("links", len(scan.Links)).Int("fields", len(scan.Fields)).Msg("page scanned")
		for _, l := range scan.Links {
			enqueue(l)
		}
	}

	seen[base.String()] = true
	visit(base.String())
	for _, s := range seeds {
		enqueue(s)
	}

	for len(queue) > 0 && len(scans) < opts.MaxRoutes {
		if err := ctx.Err(); err != nil {
			return assemble(base, scans), err
		}
		next := queue[0]
		queue = queue[1:]
		visit(next)
	}

	log.Info().Int("visited", visited).Int("scanned", len(scans)).Msg("crawl finished")
	return assemble(base, scans), nil
}

// filterLinks keeps same-origin, non-asset links, normalized and deduped
// in first-seen order.
func filterLinks(base *url.URL, links []string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		abs, ok := followable(base, l)
		if !ok || seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func assemble(base *url.URL, scans []RouteScan) *Discovery {
	d := &Discovery{
		BaseURL: base.String(),
		Routes:  []string{},
		Forms:   []FormMeta{},
		Scans:   scans,
	}
	if d.Scans == nil {
		d.Scans = []RouteScan{}
	}
	seen := map[string]bool{}
	for _, s := range scans {
		p := PathOf(s.URL)
		if !seen[p] {
			seen[p] = true
			d.Routes = append(d.Routes, p)
		}
		if len(s.Fields) == 0 {
			continue
		}
		sel := s.FormSelector
		if sel == "" {
			sel = "form"
		}
		d.Forms = append(d.Forms, FormMeta{Selector: sel, Fields: s.Fields, RouteHint: p})
	}
	return d
}
