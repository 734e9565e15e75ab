package locator

import (
	"regexp"
	"strings"
)

const quote = "['\"`]"

var (
	toBeVisibleRe = regexp.MustCompile(`(?i)(^|\s+)to be visible$`)
	locatorCallRe = regexp.MustCompile(`(?i)locator\(\s*` + quote + "([^'\"`]+)" + quote + `\s*\)`)
	getByTextRe   = regexp.MustCompile(`(?i)getByText\(\s*` + quote + "([^'\"`]+)" + quote + `\s*(?:,[^)]*)?\)`)
	getByLabelRe  = regexp.MustCompile(`(?i)getByLabel\(\s*` + quote + "([^'\"`]+)" + quote + `\s*(?:,[^)]*)?\)`)
	getByRoleRe   = regexp.MustCompile(`(?i)getByRole\(\s*` + quote + "([^'\"`]+)" + quote +
		`\s*,\s*\{\s*name:\s*` + quote + "([^'\"`]+)" + quote + `[^}]*\}\s*\)`)
	inputNameRe = regexp.MustCompile(`(?i)input\[name=(?:"([^"]+)"|'([^']+)')\]`)
	whitespace  = regexp.MustCompile(`\s`)
)

// NormalizeSelector reduces recorder and test-code wrapper syntax to a
// plain selector or a text=/role= shorthand. It reports false for blank
// input. Unrecognized input is returned trimmed.
func NormalizeSelector(value string) (string, bool) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return "", false
	}
	cleaned = strings.TrimSpace(toBeVisibleRe.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return "", false
	}

	if m := locatorCallRe.FindStringSubmatch(cleaned); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := getByTextRe.FindStringSubmatch(cleaned); m != nil {
		return "text=" + strings.TrimSpace(m[1]), true
	}
	if m := getByLabelRe.FindStringSubmatch(cleaned); m != nil {
		return "text=" + strings.TrimSpace(m[1]), true
	}
	if m := getByRoleRe.FindStringSubmatch(cleaned); m != nil {
		return `role=` + strings.TrimSpace(m[1]) + `[name="` + strings.TrimSpace(m[2]) + `"]`, true
	}
	if m := inputNameRe.FindStringSubmatch(cleaned); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		// A name with whitespace is a visible label captured by a recorder,
		// not a real name attribute.
		if whitespace.MatchString(name) {
			return "text=" + strings.TrimSpace(name), true
		}
	}
	return cleaned, true
}

// NormalizeSharedSteps builds a Store from a decoded locator document. Both
// the nested {pages: {path: {...}}} shape and the legacy
// {locators: {path: {name: selector}}} shape are accepted. Non-string and
// blank values are dropped; anything else unrecognized yields an empty
// store.
func NormalizeSharedSteps(raw any) *Store {
	store := &Store{Pages: map[string]Page{}}
	obj, ok := asMap(raw)
	if !ok {
		return store
	}

	if pages, ok := asMap(obj["pages"]); ok {
		store.Version = asInt(obj["version"])
		for key, value := range pages {
			store.Pages[normalizePathKey(key)] = normalizePage(value)
		}
		return store
	}

	if legacy, ok := asMap(obj["locators"]); ok {
		for key, value := range legacy {
			store.Pages[normalizePathKey(key)] = Page{Locators: normalizeMap(value)}
		}
	}
	return store
}

func normalizePage(value any) Page {
	obj, ok := asMap(value)
	if !ok {
		return Page{}
	}
	return Page{
		Identity: normalizeIdentity(obj["identity"]),
		Fields:   normalizeMap(obj["fields"]),
		Buttons:  normalizeMap(obj["buttons"]),
		Links:    normalizeMap(obj["links"]),
		Locators: normalizeMap(obj["locators"]),
	}
}

func normalizeIdentity(value any) *Identity {
	obj, ok := asMap(value)
	if !ok {
		return nil
	}
	str := func(k string) string {
		s, _ := obj[k].(string)
		return strings.TrimSpace(s)
	}
	id := &Identity{
		Kind: strings.ToLower(str("kind")),
		Role: str("role"),
		Name: str("name"),
		Text: str("text"),
	}
	if sel, ok := NormalizeSelector(str("selector")); ok {
		id.Selector = sel
	}
	switch id.Kind {
	case "role":
		if id.Role == "" {
			return nil
		}
	case "text":
		if id.Text == "" {
			return nil
		}
	case "locator":
		if id.Selector == "" {
			return nil
		}
	default:
		return nil
	}
	return id
}

func normalizeMap(value any) map[string]string {
	obj, ok := asMap(value)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if cleaned, ok := NormalizeSelector(s); ok {
			out[k] = cleaned
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// asMap accepts both JSON-decoded and YAML-decoded mappings.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	}
	return nil, false
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
