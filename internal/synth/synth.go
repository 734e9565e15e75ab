package synth

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/v0xg/specforge/internal/crawler"
	"github.com/v0xg/specforge/internal/plan"
)

// Persona tunes how much coverage a plan carries.
type Persona string

const (
	// PersonaAutomation covers every route, form and nav link.
	PersonaAutomation Persona = "automation"
	// PersonaManual keeps plans short enough to walk through by hand.
	PersonaManual Persona = "manual"
	// PersonaExploratory adds boundary-value cases on top of full coverage.
	PersonaExploratory Persona = "exploratory"
)

// ParsePersona maps user input to a Persona, defaulting to automation.
func ParsePersona(s string) Persona {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return PersonaManual
	case "exploratory", "explore":
		return PersonaExploratory
	}
	return PersonaAutomation
}

// manualNavLimit caps nav cases per page for the manual persona.
const manualNavLimit = 3

// UploadFixture is the file the upload case attaches, relative to the
// generated suite.
const UploadFixture = "tests/assets/sample.pdf"

// Indicator texts asserted by form cases.
const (
	SuccessText  = "success"
	RequiredText = "required"
	UploadedText = "uploaded"
)

// FallbackSubmit is clicked when no submit-like button was discovered.
const FallbackSubmit = `button[type="submit"], input[type="submit"]`

// Synthesize builds a test plan from a crawl. It is a pure function of
// its inputs and yields the same plan for the same discovery.
func Synthesize(d *crawler.Discovery, persona Persona) *plan.TestPlan {
	if persona == "" {
		persona = PersonaAutomation
	}
	b := &builder{d: d, persona: persona}
	b.base, _ = url.Parse(d.BaseURL)

	for _, route := range d.Routes {
		b.route(route)
	}
	for _, a := range d.Analyses {
		b.analysis(a)
	}

	p := &plan.TestPlan{
		BaseURL: strings.TrimSuffix(d.BaseURL, "/"),
		Cases:   disambiguate(b.cases),
		Meta: map[string]any{
			"persona": string(persona),
			"routes":  len(d.Routes),
			"forms":   len(d.Forms),
		},
	}
	if p.Cases == nil {
		p.Cases = []plan.TestCase{}
	}
	return p
}

type builder struct {
	d       *crawler.Discovery
	persona Persona
	base    *url.URL
	cases   []plan.TestCase
}

func (b *builder) add(id, name, page string, steps ...plan.Step) {
	b.cases = append(b.cases, plan.TestCase{
		ID:    id,
		Name:  name,
		Group: plan.Group{Page: page},
		Steps: steps,
	})
}

func (b *builder) abs(p string) string {
	if b.base == nil {
		return p
	}
	ref, err := url.Parse(p)
	if err != nil {
		return p
	}
	return b.base.ResolveReference(ref).String()
}

func (b *builder) route(route string) {
	scan, _ := b.d.ScanFor(route)
	u := b.abs(route)

	b.add("smoke:"+route, "Page loads: "+route, route, plan.Goto(u), pageExpectation(scan, route))

	if form, ok := b.formFor(route); ok {
		submit := submitSelector(scan)

		happy := []plan.Step{plan.Goto(u)}
		for _, f := range form.Fields {
			if s, ok := fieldStep(f); ok {
				happy = append(happy, s)
			}
		}
		happy = append(happy, plan.Click(submit), plan.ExpectText(SuccessText))
		b.add("form-happy:"+route, "Form submits – "+route, route, happy...)

		b.add("form-validation:"+route, "Validation blocks empty submission – "+route, route,
			plan.Goto(u), plan.Click(submit), plan.ExpectText(RequiredText))

		if b.persona == PersonaExploratory {
			b.boundary(route, u, form, submit)
		}
	}

	if scan != nil && len(scan.FileInputs) > 0 {
		b.add("upload:"+route, "Upload document – "+route, route,
			plan.Goto(u),
			plan.Upload(scan.FileInputs[0], UploadFixture),
			plan.Click(submitSelector(scan)),
			plan.ExpectText(UploadedText))
	}

	if scan == nil {
		return
	}
	emitted := 0
	for _, link := range scan.Links {
		to := crawler.PathOf(link)
		if to == route {
			continue
		}
		if b.persona == PersonaManual && emitted >= manualNavLimit {
			break
		}
		target, _ := b.d.ScanFor(to)
		b.add("nav:"+route+"->"+to, "Navigate "+route+" → "+to, route,
			plan.Goto(u), plan.Goto(b.abs(to)), pageExpectation(target, to))
		emitted++
	}
}

func (b *builder) boundary(route, u string, form crawler.FormMeta, submit string) {
	steps := []plan.Step{plan.Goto(u)}
	found := false
	for _, f := range form.Fields {
		sel := fieldSelector(f)
		if sel == "" {
			continue
		}
		if v, ok := BoundaryValue(f); ok {
			steps = append(steps, plan.Fill(sel, v))
			found = true
		}
	}
	if !found {
		return
	}
	formSel := form.Selector
	if formSel == "" {
		formSel = "form"
	}
	steps = append(steps, plan.Click(submit), plan.ExpectVisible(formSel+" :invalid"))
	b.add("boundary:"+route, "Boundary values – "+route, route, steps...)
}

func (b *builder) formFor(route string) (crawler.FormMeta, bool) {
	for _, f := range b.d.Forms {
		if f.RouteHint == route && len(f.Fields) > 0 {
			return f, true
		}
	}
	return crawler.FormMeta{}, false
}

// analysis lowers model-suggested scenarios through the same step
// normalizer used for hand-written plans.
func (b *builder) analysis(a crawler.PageAnalysis) {
	page := a.Path
	if page == "" {
		page = "/"
	}
	for i, sc := range a.Scenarios {
		steps := make([]plan.Step, 0, len(sc.Steps)+1)
		for _, s := range sc.Steps {
			raw, err := json.Marshal(s)
			if err != nil {
				continue
			}
			steps = append(steps, plan.NormalizeStep(gjson.ParseBytes(raw)))
		}
		if len(steps) == 0 || steps[0].Kind != plan.StepGoto {
			steps = append([]plan.Step{plan.Goto(b.abs(page))}, steps...)
		}
		name := strings.TrimSpace(sc.Title)
		if name == "" {
			name = fmt.Sprintf("Scenario %d – %s", i+1, page)
		}
		b.add(fmt.Sprintf("ai:%s:%d", page, i+1), name, page, steps...)
	}
}

// pageExpectation asserts the page heading, else its title, else that the
// body rendered at all.
func pageExpectation(scan *crawler.RouteScan, route string) plan.Step {
	if scan != nil {
		if h := strings.TrimSpace(scan.Heading); h != "" {
			return plan.ExpectText(h)
		}
		if t := strings.TrimSpace(scan.Title); t != "" {
			return plan.ExpectText(t)
		}
		return plan.ExpectVisible("body")
	}
	seg := path.Base(route)
	if seg == "/" || seg == "." || seg == "" {
		return plan.ExpectVisible("body")
	}
	seg = strings.ReplaceAll(seg, "-", " ")
	r, size := utf8.DecodeRuneInString(seg)
	return plan.ExpectText(string(unicode.ToUpper(r)) + seg[size:])
}

func fieldSelector(f crawler.FormField) string {
	if f.Selector != "" {
		return f.Selector
	}
	if f.Name != "" {
		return `[name="` + f.Name + `"]`
	}
	return ""
}

// fieldStep turns one field into the step that sets it.
func fieldStep(f crawler.FormField) (plan.Step, bool) {
	sel := fieldSelector(f)
	if sel == "" {
		return plan.Step{}, false
	}
	switch f.Type {
	case crawler.FieldFile:
		return plan.Upload(sel, UploadFixture), true
	case crawler.FieldCheckbox, crawler.FieldRadio:
		return plan.Click(sel), true
	case crawler.FieldSelect:
		return plan.Custom(fmt.Sprintf("choose an option in %s", sel)), true
	}
	return plan.Fill(sel, SyntheticValue(f)), true
}

var submitWords = []string{
	"submit", "sign up", "sign in", "signup", "signin", "log in", "login", "register",
	"send", "save", "continue", "create", "subscribe", "apply", "next", "upload",
}

func submitSelector(scan *crawler.RouteScan) string {
	if scan == nil {
		return FallbackSubmit
	}
	for _, sel := range scan.Buttons {
		lower := strings.ToLower(sel)
		if strings.Contains(lower, `type="submit"`) || strings.Contains(lower, "type=submit") {
			return sel
		}
	}
	for _, sel := range scan.Buttons {
		lower := strings.ToLower(sel)
		for _, w := range submitWords {
			if strings.Contains(lower, w) {
				return sel
			}
		}
	}
	return FallbackSubmit
}

// disambiguate suffixes repeated names and ids with " [n]" and "#n"; the
// first occurrence keeps its name.
func disambiguate(cases []plan.TestCase) []plan.TestCase {
	names := map[string]int{}
	ids := map[string]int{}
	for i := range cases {
		names[cases[i].Name]++
		if n := names[cases[i].Name]; n > 1 {
			cases[i].Name = fmt.Sprintf("%s [%d]", cases[i].Name, n)
		}
		ids[cases[i].ID]++
		if n := ids[cases[i].ID]; n > 1 {
			cases[i].ID = fmt.Sprintf("%s#%d", cases[i].ID, n)
		}
	}
	return cases
}
