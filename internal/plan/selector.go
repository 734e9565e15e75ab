package plan

import (
	"regexp"
	"strings"
)

// Engine identifies how a selector string should be interpreted by a
// target framework.
type Engine string

const (
	EngineCSS   Engine = "css"
	EngineText  Engine = "text"
	EngineLabel Engine = "label"
	EngineRole  Engine = "role"
	// EngineRef is a logical reference "@bucket.name" resolved through a
	// locator store at generation time.
	EngineRef Engine = "ref"
)

// Selector is a parsed selector string.
type Selector struct {
	Engine Engine
	Value  string // css expression, text, label, role or ref bucket
	Name   string // accessible name for role, element name for ref
}

var roleSelectorRe = regexp.MustCompile(`^role=([\w-]+)(?:\[name=["'](.*)["']\])?$`)

// ParseSelector splits engine-prefixed selectors ("text=", "label=",
// "role=", "@bucket.name") from plain CSS.
func ParseSelector(s string) Selector {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "text="):
		return Selector{Engine: EngineText, Value: unquote(strings.TrimPrefix(s, "text="))}
	case strings.HasPrefix(s, "label="):
		return Selector{Engine: EngineLabel, Value: unquote(strings.TrimPrefix(s, "label="))}
	case strings.HasPrefix(s, "role="):
		if m := roleSelectorRe.FindStringSubmatch(s); m != nil {
			return Selector{Engine: EngineRole, Value: m[1], Name: m[2]}
		}
	case strings.HasPrefix(s, "@"):
		if bucket, name, ok := strings.Cut(strings.TrimPrefix(s, "@"), "."); ok && bucket != "" && name != "" {
			return Selector{Engine: EngineRef, Value: bucket, Name: name}
		}
	}
	return Selector{Engine: EngineCSS, Value: s}
}

// String renders the selector back into its engine-prefixed form.
func (s Selector) String() string {
	switch s.Engine {
	case EngineText:
		return "text=" + s.Value
	case EngineLabel:
		return "label=" + s.Value
	case EngineRole:
		if s.Name == "" {
			return "role=" + s.Value
		}
		return `role=` + s.Value + `[name="` + s.Name + `"]`
	case EngineRef:
		return "@" + s.Value + "." + s.Name
	}
	return s.Value
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
