package plan

import (
	"net/url"
	"strings"
)

// StepKind tags a Step. The JSON values are part of the plan file format.
type StepKind string

const (
	StepGoto          StepKind = "goto"
	StepClick         StepKind = "click"
	StepFill          StepKind = "fill"
	StepExpectText    StepKind = "expect-text"
	StepExpectVisible StepKind = "expect-visible"
	StepUpload        StepKind = "upload"
	StepCustom        StepKind = "custom"
)

// Kinds lists every step kind in a fixed order.
var Kinds = []StepKind{
	StepGoto, StepClick, StepFill, StepExpectText, StepExpectVisible, StepUpload, StepCustom,
}

// Step is one atomic action or assertion. Only the fields relevant to Kind
// are set:
//
//	goto           URL
//	click          Selector
//	fill           Selector, Value
//	expect-text    Text
//	expect-visible Selector
//	upload         Selector, Path
//	custom         Note
type Step struct {
	Kind     StepKind `json:"kind"`
	URL      string   `json:"url,omitempty"`
	Selector string   `json:"selector,omitempty"`
	Value    string   `json:"value,omitempty"`
	Text     string   `json:"text,omitempty"`
	Path     string   `json:"path,omitempty"`
	Note     string   `json:"note,omitempty"`
}

func Goto(u string) Step                 { return Step{Kind: StepGoto, URL: u} }
func Click(selector string) Step         { return Step{Kind: StepClick, Selector: selector} }
func Fill(selector, value string) Step   { return Step{Kind: StepFill, Selector: selector, Value: value} }
func ExpectText(text string) Step        { return Step{Kind: StepExpectText, Text: text} }
func ExpectVisible(selector string) Step { return Step{Kind: StepExpectVisible, Selector: selector} }
func Upload(selector, path string) Step {
	return Step{Kind: StepUpload, Selector: selector, Path: path}
}
func Custom(note string) Step { return Step{Kind: StepCustom, Note: note} }

// Group ties a case to its originating route.
type Group struct {
	Page string `json:"page,omitempty"`
}

// TestCase is a named sequence of steps belonging to one page group.
type TestCase struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group Group  `json:"group"`
	Steps []Step `json:"steps"`
}

// TestPlan is the framework-neutral artifact handed to the code generator.
// A plan is never mutated after handoff; regenerate instead.
type TestPlan struct {
	BaseURL string         `json:"baseUrl"`
	Cases   []TestCase     `json:"cases"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// MiscPage is the group key for cases with neither an explicit page nor a
// goto step.
const MiscPage = "misc"

// PageKey returns the grouping key for the case: the explicit group page,
// else the path of the first goto step, else MiscPage.
func (tc TestCase) PageKey() string {
	if p := strings.TrimSpace(tc.Group.Page); p != "" {
		return p
	}
	for _, s := range tc.Steps {
		if s.Kind == StepGoto && strings.TrimSpace(s.URL) != "" {
			return PathOf(s.URL)
		}
	}
	return MiscPage
}

// PathOf returns the path component of an absolute or relative URL, with
// query and fragment removed. An empty path is "/".
func PathOf(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			raw = raw[:i]
		}
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
		return raw
	}
	p := u.Path
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
