package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/v0xg/specforge/internal/plan"
)

// BrowserOptions configures the local Chromium used for replay.
type BrowserOptions struct {
	Headless   bool
	Width      int
	Height     int
	ProfileDir string
}

// RodBrowser drives a local headless Chromium. Every page lives in its own
// incognito context.
type RodBrowser struct {
	browser *rod.Browser
	opts    BrowserOptions
}

func Launch(ctx context.Context, opts BrowserOptions) (*RodBrowser, error) {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	path, _ := launcher.LookPath()
	l := launcher.New().Context(ctx).Bin(path).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &RodBrowser{browser: browser, opts: opts}, nil
}

func (b *RodBrowser) Close() error {
	return b.browser.Close()
}

func (b *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		incognito.Close()
		return nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		page.Close()
		incognito.Close()
		return nil, err
	}
	return &rodPage{page: page, incognito: incognito}, nil
}

type rodPage struct {
	page      *rod.Page
	incognito *rod.Browser
}

func (p *rodPage) Close() error {
	p.page.Close()
	return p.incognito.Close()
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, sel plan.Selector) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Fill(ctx context.Context, sel plan.Selector, value string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (p *rodPage) Upload(ctx context.Context, sel plan.Selector, path string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.SetFiles([]string{path})
}

func (p *rodPage) Visible(ctx context.Context, sel plan.Selector) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

func (p *rodPage) HasText(ctx context.Context, text string) error {
	_, err := p.page.Context(ctx).ElementR("body", "/"+jsRegexEscape(text)+"/")
	if err != nil {
		return fmt.Errorf("text %q not found: %w", text, err)
	}
	return nil
}

func (p *rodPage) Screenshot() ([]byte, error) {
	return p.page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// element waits for sel to match, retrying until ctx ends.
func (p *rodPage) element(ctx context.Context, sel plan.Selector) (*rod.Element, error) {
	page := p.page.Context(ctx)
	var (
		el  *rod.Element
		err error
	)
	switch sel.Engine {
	case plan.EngineText:
		el, err = page.ElementByJS(rod.Eval(findByTextJS, sel.Value))
	case plan.EngineLabel:
		el, err = page.ElementByJS(rod.Eval(findByLabelJS, sel.Value))
	case plan.EngineRole:
		el, err = page.ElementByJS(rod.Eval(findByRoleJS, sel.Value, sel.Name))
	default:
		el, err = page.Element(sel.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("element %s not found: %w", sel.String(), err)
	}
	return el, nil
}

func jsRegexEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\^$.|?*+()[]{}/`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// The deepest element whose text contains t.
const findByTextJS = `(t) => {
	const hits = Array.from(document.querySelectorAll('body *'))
		.filter(el => (el.innerText || '').includes(t));
	return hits.find(el => !Array.from(el.children).some(c => (c.innerText || '').includes(t))) || null;
}`

const findByLabelJS = `(t) => {
	for (const l of document.querySelectorAll('label')) {
		if ((l.textContent || '').trim().includes(t)) {
			return l.control || l.querySelector('input, select, textarea');
		}
	}
	return document.querySelector('[aria-label="' + CSS.escape(t) + '"]') ||
		document.querySelector('[placeholder="' + CSS.escape(t) + '"]');
}`

const findByRoleJS = `(role, name) => {
	const implicit = {
		button: 'button, input[type="submit"], input[type="button"]',
		link: 'a[href]',
		textbox: 'input:not([type]), input[type="text"], input[type="email"], input[type="password"], textarea',
		checkbox: 'input[type="checkbox"]',
		radio: 'input[type="radio"]',
		heading: 'h1, h2, h3, h4, h5, h6',
		combobox: 'select',
	};
	let sel = '[role="' + role + '"]';
	if (implicit[role]) sel += ', ' + implicit[role];
	for (const el of document.querySelectorAll(sel)) {
		if (!name) return el;
		const label = el.getAttribute('aria-label') || el.innerText || el.value || '';
		if (label.trim().includes(name)) return el;
	}
	return null;
}`
