package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/v0xg/specforge/internal/plan"
)

// backend is what each framework supplies to the shared renderer.
type backend interface {
	Emitter
	fileName(g Group) string
	lines(a action) []string
	tmpl() *template.Template
}

type fileData struct {
	Target  string
	Page    string
	Slug    string
	Feature string
	Class   string
	BaseURL string
	Cases   []caseData
}

type caseData struct {
	ID    string
	Name  string
	Func  string
	Lines []string
}

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["str"] = jsString
	fm["swift"] = swiftString
	return fm
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcMap()).Parse(text))
}

// execString runs one of the fixed scaffold templates. Those only read
// plan fields, so a failure is a programming error.
func execString(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("scaffold template %s: %v", t.Name(), err))
	}
	return buf.String()
}

func renderWith(b backend, p *plan.TestPlan, opts Options) ([]File, error) {
	groups := GroupCases(p)
	files := make([]File, 0, len(groups))
	for _, g := range groups {
		data := fileData{
			Target:  b.ID(),
			Page:    g.Page,
			Slug:    g.Slug,
			Feature: featureName(g.Page),
			Class:   pascal(g.Slug) + "UITests",
			BaseURL: p.BaseURL,
		}
		used := map[string]bool{}
		for _, tc := range g.Cases {
			cd := caseData{ID: tc.ID, Name: oneLine(tc.Name)}
			cd.Func = uniqueFunc(used, "test"+pascal(tc.Name))
			for _, a := range lowerCase(tc, opts.Locators) {
				cd.Lines = append(cd.Lines, b.lines(a)...)
			}
			data.Cases = append(data.Cases, cd)
		}

		var buf bytes.Buffer
		if err := b.tmpl().Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render %s for %s: %w", b.ID(), g.Page, err)
		}
		files = append(files, File{Path: b.fileName(g), Content: buf.String()})
		opts.Logger.Debug().Str("target", b.ID()).Str("page", g.Page).Int("cases", len(g.Cases)).Msg("rendered group")
	}
	return files, nil
}

// uniqueFunc returns base, or base with the lowest numeric suffix from 2
// that is not taken yet, and marks the result as taken.
func uniqueFunc(used map[string]bool, base string) string {
	name := base
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s%d", base, n)
	}
	used[name] = true
	return name
}

func manifestOf(b backend, p *plan.TestPlan) Manifest {
	m := Manifest{Target: b.ID(), Steps: map[plan.StepKind]int{}}
	for _, g := range GroupCases(p) {
		m.Files = append(m.Files, b.fileName(g))
		m.Groups++
	}
	m.Cases = len(p.Cases)
	for _, tc := range p.Cases {
		for _, s := range tc.Steps {
			m.Steps[s.Kind]++
		}
	}
	return m
}

func featureName(page string) string {
	if page == "/" || page == "" {
		return "Home"
	}
	words := strings.FieldsFunc(page, func(r rune) bool {
		return r == '/' || r == '-' || r == '_'
	})
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[:1])) + string(r[1:])
	}
	if len(words) == 0 {
		return "Home"
	}
	return strings.Join(words, " ")
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// swiftString quotes s as a Swift string literal.
func swiftString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u{%x}`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// gherkinString quotes s for a cucumber {string} parameter.
func gherkinString(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(oneLine(s))
	return `"` + s + `"`
}

func comment(prefix string, a action) string {
	switch {
	case a.Missing != "":
		return prefix + " missing locator: " + oneLine(a.Missing)
	case a.Kind == plan.StepCustom:
		return strings.TrimRight(prefix+" "+oneLine(a.Note), " ")
	}
	return prefix + " unsupported step: " + oneLine(string(a.Kind))
}
