package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StaticLauncher returns a Launcher that fetches pages over plain HTTP and
// parses the markup without executing scripts. It suits server-rendered
// sites and environments without a browser.
func StaticLauncher(client *http.Client) Launcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(context.Context) (Inspector, error) {
		return &staticInspector{client: client}, nil
	}
}

type staticInspector struct {
	client *http.Client
}

func (s *staticInspector) Close() error { return nil }

func (s *staticInspector) Inspect(ctx context.Context, target string) (*RouteScan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("GET %s: not html (%s)", target, ct)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}
	base := resp.Request.URL
	scan := &RouteScan{
		URL:        target,
		Links:      []string{},
		Buttons:    []string{},
		FileInputs: []string{},
		Fields:     []FormField{},
	}
	seenButtons := map[string]bool{}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if scan.Title == "" {
					scan.Title = textOf(n)
				}
			case atom.H1:
				if scan.Heading == "" {
					scan.Heading = textOf(n)
				}
			case atom.Form:
				if scan.FormSelector == "" {
					scan.FormSelector = "form"
					if id := attr(n, "id"); validIdent(id) {
						scan.FormSelector = "#" + id
					}
				}
			case atom.A:
				href := attr(n, "href")
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(href, "javascript:") {
					if ref, err := base.Parse(href); err == nil {
						scan.Links = append(scan.Links, ref.String())
					}
				}
			case atom.Button:
				addButton(scan, seenButtons, selectorFor(n))
			case atom.Input, atom.Textarea, atom.Select:
				typ := strings.ToLower(attr(n, "type"))
				if n.DataAtom == atom.Input && typ == "" {
					typ = "text"
				}
				switch typ {
				case "hidden", "reset", "image":
				case "submit", "button":
					addButton(scan, seenButtons, selectorFor(n))
				default:
					sel := selectorFor(n)
					if typ == "file" {
						scan.FileInputs = append(scan.FileInputs, sel)
					}
					name := attr(n, "name")
					if name == "" {
						name = attr(n, "id")
					}
					_, required := attrOK(n, "required")
					scan.Fields = append(scan.Fields, FormField{
						Name:     name,
						Type:     FieldTypeOf(n.Data, typ),
						Required: required,
						Min:      attr(n, "min"),
						Max:      attr(n, "max"),
						Pattern:  attr(n, "pattern"),
						Selector: sel,
					})
				}
			}
			if attr(n, "role") == "button" && n.DataAtom != atom.Button {
				addButton(scan, seenButtons, selectorFor(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return scan, nil
}

func addButton(scan *RouteScan, seen map[string]bool, sel string) {
	if sel == "" || seen[sel] {
		return
	}
	seen[sel] = true
	scan.Buttons = append(scan.Buttons, sel)
}

var invalidIdent = regexp.MustCompile(`^[0-9]|^-[0-9]|[.:#\[\]()>~+*/\\\s]`)

func validIdent(s string) bool {
	return s != "" && !invalidIdent.MatchString(s)
}

// selectorFor mirrors the in-browser selector choice: id, name, test id,
// submit type, visible text, tag.
func selectorFor(n *html.Node) string {
	if id := attr(n, "id"); validIdent(id) {
		return "#" + id
	}
	if name := attr(n, "name"); name != "" {
		return n.Data + `[name="` + name + `"]`
	}
	if tid := attr(n, "data-testid"); tid != "" {
		return `[data-testid="` + tid + `"]`
	}
	if strings.EqualFold(attr(n, "type"), "submit") {
		return n.Data + `[type="submit"]`
	}
	text := textOf(n)
	if text == "" {
		text = attr(n, "value")
	}
	if text != "" {
		if r := []rune(text); len(r) > 50 {
			text = string(r[:50])
		}
		return "text=" + text
	}
	return n.Data
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return strings.TrimSpace(v)
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
