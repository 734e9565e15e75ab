package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/v0xg/specforge/internal/snapshot"
)

// BrowserLauncher returns a Launcher backed by a local headless Chromium.
func BrowserLauncher(opts Options) Launcher {
	return func(ctx context.Context) (Inspector, error) {
		path, _ := launcher.LookPath()
		l := launcher.New().Context(ctx).Bin(path).Headless(opts.Headless)
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, err
		}
		browser := rod.New().ControlURL(u)
		if err := browser.Connect(); err != nil {
			l.Kill()
			return nil, err
		}
		if opts.ScreenshotDir != "" {
			if err := os.MkdirAll(opts.ScreenshotDir, 0o755); err != nil {
				browser.Close()
				return nil, err
			}
		}
		return &browserInspector{browser: browser, opts: opts}, nil
	}
}

type browserInspector struct {
	browser *rod.Browser
	opts    Options
}

func (b *browserInspector) Close() error {
	return b.browser.Close()
}

// Inspect opens target in a fresh incognito context, which is disposed
// before returning.
func (b *browserInspector) Inspect(ctx context.Context, target string) (*RouteScan, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.Width,
		Height:            b.opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, err
	}
	if err := page.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	// Don't hang on pages holding WebSockets or polling connections open.
	page.Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()

	isSPA := detectSPA(page)
	if isSPA {
		waitForInteractiveElements(page, 5*time.Second)
	}

	res, err := page.Eval(extractScanJS)
	if err != nil {
		return nil, fmt.Errorf("extract dom summary: %w", err)
	}
	v := res.Value
	scan := &RouteScan{
		URL:          target,
		Title:        v.Get("title").String(),
		Heading:      v.Get("heading").String(),
		FormSelector: v.Get("formSelector").String(),
		IsSPA:        isSPA,
		Links:        []string{},
		Buttons:      []string{},
		FileInputs:   []string{},
		Fields:       []FormField{},
	}
	for _, l := range v.Get("links").Arr() {
		scan.Links = append(scan.Links, l.String())
	}
	for _, s := range v.Get("buttons").Arr() {
		scan.Buttons = append(scan.Buttons, s.String())
	}
	for _, s := range v.Get("fileInputs").Arr() {
		scan.FileInputs = append(scan.FileInputs, s.String())
	}
	for _, f := range v.Get("fields").Arr() {
		scan.Fields = append(scan.Fields, FormField{
			Name:     f.Get("name").String(),
			Type:     FieldTypeOf(f.Get("tag").String(), f.Get("type").String()),
			Required: f.Get("required").Bool(),
			Min:      f.Get("min").String(),
			Max:      f.Get("max").String(),
			Pattern:  f.Get("pattern").String(),
			Selector: f.Get("selector").String(),
		})
	}

	if b.opts.ScreenshotDir != "" {
		if shot, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		}); err == nil {
			name := filepath.Join(b.opts.ScreenshotDir, screenshotName(PathOf(target))+".png")
			if err := snapshot.SaveThumbnail(shot, name, 640); err == nil {
				scan.Screenshot = name
			}
		}
	}
	return scan, nil
}

func screenshotName(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "home"
	}
	return strings.NewReplacer("/", "_", ".", "_").Replace(p)
}

// waitForInteractiveElements polls until interactive elements appear or timeout
func waitForInteractiveElements(page *rod.Page, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := page.Eval(`() => {
			const sel = 'button, [role="button"], input:not([type="hidden"]), textarea, select, a[href]';
			let visible = 0;
			document.querySelectorAll(sel).forEach(el => { if (el.offsetParent) visible++; });
			return visible;
		}`)
		if err != nil {
			return
		}
		if res.Value.Int() > 0 {
			time.Sleep(300 * time.Millisecond)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// detectSPA checks if the page is a Single Page Application
func detectSPA(page *rod.Page) bool {
	res, err := page.Eval(`() => {
		if (window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('[data-reactroot]') || document.querySelector('#__next')) return true;
		if (window.__VUE__ || document.querySelector('[data-v-app]')) return true;
		if (window.ng || document.querySelector('[ng-version]') || document.querySelector('app-root')) return true;
		if (document.querySelector('[class*="svelte-"]')) return true;
		return false;
	}`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

const extractScanJS = `() => {
	function validIdent(s) {
		return !!s && !/^[0-9]/.test(s) && !/^-[0-9]/.test(s) && !/[.:#\[\]()>~+*\/\\\s]/.test(s);
	}
	function selectorFor(el) {
		if (el.id && validIdent(el.id)) return '#' + el.id;
		const name = el.getAttribute('name');
		if (name) return el.tagName.toLowerCase() + '[name="' + name + '"]';
		const testid = el.getAttribute('data-testid');
		if (testid) return '[data-testid="' + testid + '"]';
		const type = (el.getAttribute('type') || '').toLowerCase();
		if (type === 'submit') return el.tagName.toLowerCase() + '[type="submit"]';
		const text = (el.textContent || el.value || '').trim().replace(/\s+/g, ' ').slice(0, 50);
		if (text) return 'text=' + text;
		return el.tagName.toLowerCase();
	}
	const heading = document.querySelector('h1');
	const form = document.querySelector('form');
	let formSelector = '';
	if (form) formSelector = form.id && validIdent(form.id) ? '#' + form.id : 'form';

	const links = [];
	document.querySelectorAll('a[href]').forEach(a => {
		const raw = a.getAttribute('href') || '';
		if (!raw || raw.startsWith('#') || raw.startsWith('javascript:')) return;
		links.push(a.href);
	});

	const buttons = [];
	const seenButtons = new Set();
	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach(el => {
		if (!el.offsetParent) return;
		const s = selectorFor(el);
		if (seenButtons.has(s)) return;
		seenButtons.add(s);
		buttons.push(s);
	});

	const fileInputs = [];
	const fields = [];
	document.querySelectorAll('input, textarea, select').forEach(el => {
		const tag = el.tagName.toLowerCase();
		const type = (el.getAttribute('type') || (tag === 'input' ? 'text' : '')).toLowerCase();
		if (['hidden', 'submit', 'button', 'image', 'reset'].includes(type)) return;
		const s = selectorFor(el);
		if (type === 'file') fileInputs.push(s);
		fields.push({
			tag: tag,
			type: type,
			name: el.getAttribute('name') || el.id || '',
			required: el.required === true,
			min: el.getAttribute('min') || '',
			max: el.getAttribute('max') || '',
			pattern: el.getAttribute('pattern') || '',
			selector: s
		});
	});

	return {
		title: document.title || '',
		heading: heading ? heading.textContent.trim().replace(/\s+/g, ' ').slice(0, 120) : '',
		formSelector: formSelector,
		links: links,
		buttons: buttons,
		fileInputs: fileInputs,
		fields: fields
	};
}`
