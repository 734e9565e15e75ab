package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Decode reads a plan document and lowers every case and step onto the
// canonical shapes. Legacy keys (title, testCases, by/value locators,
// camelCase kinds, agent {kind,target,value,note} steps) are accepted.
// Only a document that is not JSON at all is an error; odd steps degrade
// to custom notes.
func Decode(data []byte) (*TestPlan, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("plan is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("plan must be a JSON object")
	}

	p := &TestPlan{
		BaseURL: firstString(root, "baseUrl", "baseURL", "base_url", "url"),
	}

	cases := firstExisting(root, "cases", "testCases", "tests")
	idx := 0
	cases.ForEach(func(_, c gjson.Result) bool {
		p.Cases = append(p.Cases, NormalizeCase(c, idx))
		idx++
		return true
	})

	if meta := root.Get("meta"); meta.IsObject() {
		if err := json.Unmarshal([]byte(meta.Raw), &p.Meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
	}
	return p, nil
}

// NormalizeCase lowers one raw case. idx is used to derive an id when the
// case carries none.
func NormalizeCase(raw gjson.Result, idx int) TestCase {
	tc := TestCase{
		ID:   firstString(raw, "id", "key"),
		Name: firstString(raw, "name", "title"),
	}
	if tc.ID == "" {
		tc.ID = fmt.Sprintf("case-%d", idx+1)
	}
	if tc.Name == "" {
		tc.Name = tc.ID
	}

	switch g := raw.Get("group"); {
	case g.IsObject():
		tc.Group.Page = strings.TrimSpace(g.Get("page").String())
	case g.Type == gjson.String:
		tc.Group.Page = strings.TrimSpace(g.String())
	}
	if tc.Group.Page == "" {
		tc.Group.Page = firstString(raw, "page", "route")
	}

	tc.Steps = []Step{}
	raw.Get("steps").ForEach(func(_, s gjson.Result) bool {
		tc.Steps = append(tc.Steps, NormalizeStep(s))
		return true
	})
	return tc
}

// NormalizeStep maps one raw step onto the Step union. It never fails:
// anything unrecognized becomes a custom step carrying a note.
func NormalizeStep(raw gjson.Result) Step {
	if raw.Type == gjson.String {
		return Custom(raw.String())
	}
	if !raw.IsObject() {
		return Custom("unsupported step: " + raw.Raw)
	}

	kind := firstString(raw, "kind", "type", "action")
	switch canonicalKind(kind) {
	case "goto", "navigate", "visit", "open":
		u := firstString(raw, "url", "href", "target", "value", "path")
		if u == "" {
			return Custom("goto without url")
		}
		return Goto(u)

	case "click", "tap", "press":
		sel := selectorOf(raw, "value")
		if sel == "" {
			return Custom("click without selector")
		}
		return Click(sel)

	case "fill", "type", "input", "enter":
		if by := raw.Get("by"); by.Exists() {
			sel := byToSelector(by.String(), raw.Get("value").String(), raw.Get("name").String())
			return Fill(sel, raw.Get("text").String())
		}
		sel := firstString(raw, "selector", "target", "locator")
		if sel == "" {
			return Custom("fill without selector")
		}
		return Fill(sel, firstRaw(raw, "value", "text"))

	case "expecttext", "asserttext", "seetext", "text":
		t := firstString(raw, "text", "value", "target")
		if t == "" {
			return Custom("expect-text without text")
		}
		return ExpectText(t)

	case "expectvisible", "assertvisible", "visible", "see":
		if by := raw.Get("by"); by.Exists() {
			if strings.EqualFold(by.String(), "text") {
				return ExpectText(raw.Get("value").String())
			}
			return ExpectVisible(byToSelector(by.String(), raw.Get("value").String(), raw.Get("name").String()))
		}
		if sel := firstString(raw, "selector", "target", "locator"); sel != "" {
			return ExpectVisible(sel)
		}
		if t := firstString(raw, "text", "value"); t != "" {
			return ExpectText(t)
		}
		return Custom("expect-visible without selector")

	case "expect", "assert", "verify":
		if t := raw.Get("text"); t.Exists() && t.String() != "" {
			return ExpectText(t.String())
		}
		if sel := firstString(raw, "selector", "target", "locator"); sel != "" {
			return ExpectVisible(sel)
		}
		if t := raw.Get("value").String(); t != "" {
			return ExpectText(t)
		}
		return Custom(firstString(raw, "note", "description"))

	case "upload", "setfiles", "attach", "setinputfiles":
		sel := firstString(raw, "selector", "target", "locator")
		p := firstString(raw, "path", "file", "value")
		if sel == "" || p == "" {
			return Custom("upload without selector or file")
		}
		return Upload(sel, p)

	case "custom", "note", "comment":
		return Custom(firstString(raw, "note", "text", "value", "description"))
	}

	if note := firstString(raw, "note", "description"); note != "" {
		return Custom(fmt.Sprintf("unsupported step %q: %s", kind, note))
	}
	return Custom(fmt.Sprintf("unsupported step %q", kind))
}

// canonicalKind folds case and separators so expect_text, expectText and
// expect-text compare equal.
func canonicalKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(kind)
}

// selectorOf reads the selector of a click-like step, honoring the legacy
// {by, value} shape. fallback names the key holding the locator value
// for the by form.
func selectorOf(raw gjson.Result, fallback string) string {
	if by := raw.Get("by"); by.Exists() {
		return byToSelector(by.String(), raw.Get(fallback).String(), raw.Get("name").String())
	}
	return firstString(raw, "selector", "target", "locator")
}

func byToSelector(by, value, name string) string {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(by)) {
	case "text":
		return "text=" + value
	case "label":
		return "label=" + value
	case "role":
		if name != "" {
			return Selector{Engine: EngineRole, Value: value, Name: name}.String()
		}
		return "role=" + value
	case "testid", "test-id", "data-testid":
		return `[data-testid="` + value + `"]`
	case "placeholder":
		return `[placeholder="` + value + `"]`
	case "name":
		return `[name="` + value + `"]`
	}
	return value
}

func firstExisting(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// firstRaw is firstString without trimming, for typed values.
func firstRaw(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v.String()
		}
	}
	return ""
}
