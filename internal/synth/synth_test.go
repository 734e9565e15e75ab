package synth

import (
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0xg/specforge/internal/crawler"
	"github.com/v0xg/specforge/internal/plan"
)

func signupDiscovery() *crawler.Discovery {
	fields := []crawler.FormField{
		{Name: "name", Type: crawler.FieldText, Required: true},
		{Name: "email", Type: crawler.FieldEmail, Required: true},
		{Name: "password", Type: crawler.FieldPassword, Required: true},
	}
	return &crawler.Discovery{
		BaseURL: "https://example.com/",
		Routes:  []string{"/", "/signup"},
		Forms:   []crawler.FormMeta{{Selector: "#signup", Fields: fields, RouteHint: "/signup"}},
		Scans: []crawler.RouteScan{
			{URL: "https://example.com/", Title: "Acme", Heading: "Welcome", Links: []string{"https://example.com/signup"}},
			{URL: "https://example.com/signup", Title: "Sign up", Fields: fields, Buttons: []string{"#help", `button[type="submit"]`}},
		},
	}
}

func findCase(t *testing.T, p *plan.TestPlan, name string) plan.TestCase {
	t.Helper()
	for _, c := range p.Cases {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no case named %q", name)
	return plan.TestCase{}
}

func countKind(steps []plan.Step, kind plan.StepKind) int {
	n := 0
	for _, s := range steps {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func TestSignupForm(t *testing.T) {
	p := Synthesize(signupDiscovery(), PersonaAutomation)
	require.NoError(t, p.Validate())

	happy := findCase(t, p, "Form submits – /signup")
	assert.Equal(t, 3, countKind(happy.Steps, plan.StepFill))
	assert.Equal(t, "form-happy:/signup", happy.ID)
	assert.Equal(t, []plan.Step{
		plan.Goto("https://example.com/signup"),
		plan.Fill(`[name="name"]`, ValueName),
		plan.Fill(`[name="email"]`, ValueEmail),
		plan.Fill(`[name="password"]`, ValuePassword),
		plan.Click(`button[type="submit"]`),
		plan.ExpectText(SuccessText),
	}, happy.Steps)

	validation := findCase(t, p, "Validation blocks empty submission – /signup")
	assert.Zero(t, countKind(validation.Steps, plan.StepFill))
	assert.Equal(t, plan.ExpectText(RequiredText), validation.Steps[len(validation.Steps)-1])
}

func TestPageLoadsAndNav(t *testing.T) {
	p := Synthesize(signupDiscovery(), PersonaAutomation)

	home := findCase(t, p, "Page loads: /")
	assert.Equal(t, "smoke:/", home.ID)
	assert.Equal(t, "/", home.Group.Page)
	assert.Equal(t, []plan.Step{plan.Goto("https://example.com/"), plan.ExpectText("Welcome")}, home.Steps)

	// no heading, so the title is asserted
	signup := findCase(t, p, "Page loads: /signup")
	assert.Equal(t, plan.ExpectText("Sign up"), signup.Steps[1])

	nav := findCase(t, p, "Navigate / → /signup")
	assert.Equal(t, "nav:/->/signup", nav.ID)
	assert.Equal(t, []plan.Step{
		plan.Goto("https://example.com/"),
		plan.Goto("https://example.com/signup"),
		plan.ExpectText("Sign up"),
	}, nav.Steps)
}

func TestUncrawledPageExpectation(t *testing.T) {
	cases := []struct {
		route string
		want  plan.Step
	}{
		{"/pricing-plans", plan.ExpectText("Pricing plans")},
		{"/über-uns", plan.ExpectText("Über uns")},
		{"/docs/ñandú", plan.ExpectText("Ñandú")},
		{"/", plan.ExpectVisible("body")},
	}
	for _, tc := range cases {
		t.Run(tc.route, func(t *testing.T) {
			got := pageExpectation(nil, tc.route)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got.Text), got.Text)
		})
	}
}

func TestNoFormsNoFormCases(t *testing.T) {
	d := &crawler.Discovery{
		BaseURL: "https://example.com",
		Routes:  []string{"/", "/about", "/pricing"},
		Scans: []crawler.RouteScan{
			{URL: "https://example.com/", Links: []string{"https://example.com/about", "https://example.com/pricing"}},
			{URL: "https://example.com/about", Heading: "About us"},
		},
	}
	for _, persona := range []Persona{PersonaAutomation, PersonaManual, PersonaExploratory} {
		t.Run(string(persona), func(t *testing.T) {
			p := Synthesize(d, persona)
			for _, c := range p.Cases {
				assert.NotContains(t, c.Name, "Form submits")
				assert.NotContains(t, c.Name, "Validation blocks")
			}
			assert.Len(t, p.Cases, 5)

			// unscanned route falls back to its last path segment
			nav := findCase(t, p, "Navigate / → /pricing")
			assert.Equal(t, plan.ExpectText("Pricing"), nav.Steps[2])
			// a scan with neither heading nor title asserts the body
			assert.Equal(t, plan.ExpectVisible("body"), findCase(t, p, "Page loads: /").Steps[1])
		})
	}
}

func TestEmptyDiscovery(t *testing.T) {
	p := Synthesize(&crawler.Discovery{BaseURL: "https://example.com"}, "")
	assert.NotNil(t, p.Cases)
	assert.Empty(t, p.Cases)
	assert.Equal(t, "automation", p.Meta["persona"])
}

func TestManualPersonaCapsNav(t *testing.T) {
	var links []string
	for i := 0; i < 6; i++ {
		links = append(links, fmt.Sprintf("https://example.com/p%d", i))
	}
	d := &crawler.Discovery{
		BaseURL: "https://example.com",
		Routes:  []string{"/"},
		Scans:   []crawler.RouteScan{{URL: "https://example.com/", Links: links}},
	}

	nav := func(p *plan.TestPlan) int {
		n := 0
		for _, c := range p.Cases {
			if len(c.ID) > 4 && c.ID[:4] == "nav:" {
				n++
			}
		}
		return n
	}
	assert.Equal(t, manualNavLimit, nav(Synthesize(d, PersonaManual)))
	assert.Equal(t, 6, nav(Synthesize(d, PersonaAutomation)))
}

func TestExploratoryBoundary(t *testing.T) {
	d := signupDiscovery()
	d.Forms[0].Fields = append(d.Forms[0].Fields, crawler.FormField{Name: "age", Type: crawler.FieldNumber, Min: "18", Max: "99"})

	assert.NotContains(t, caseIDs(Synthesize(d, PersonaAutomation)), "boundary:/signup")

	p := Synthesize(d, PersonaExploratory)
	b := findCase(t, p, "Boundary values – /signup")
	assert.Equal(t, "boundary:/signup", b.ID)
	assert.Contains(t, b.Steps, plan.Fill(`[name="age"]`, "100"))
	assert.Equal(t, plan.ExpectVisible("#signup :invalid"), b.Steps[len(b.Steps)-1])
}

func TestUploadCase(t *testing.T) {
	d := signupDiscovery()
	d.Scans[1].FileInputs = []string{"#avatar"}
	d.Forms[0].Fields = append(d.Forms[0].Fields, crawler.FormField{Name: "avatar", Type: crawler.FieldFile, Selector: "#avatar"})

	p := Synthesize(d, PersonaAutomation)
	up := findCase(t, p, "Upload document – /signup")
	assert.Equal(t, "upload:/signup", up.ID)
	assert.Equal(t, plan.Upload("#avatar", UploadFixture), up.Steps[1])
	assert.Equal(t, plan.ExpectText(UploadedText), up.Steps[3])

	happy := findCase(t, p, "Form submits – /signup")
	assert.Equal(t, 3, countKind(happy.Steps, plan.StepFill))
	assert.Equal(t, 1, countKind(happy.Steps, plan.StepUpload))
}

func TestFieldKinds(t *testing.T) {
	s, ok := fieldStep(crawler.FormField{Name: "terms", Type: crawler.FieldCheckbox})
	require.True(t, ok)
	assert.Equal(t, plan.Click(`[name="terms"]`), s)

	s, ok = fieldStep(crawler.FormField{Name: "plan", Type: crawler.FieldSelect, Selector: `select[name="plan"]`})
	require.True(t, ok)
	assert.Equal(t, plan.StepCustom, s.Kind)

	_, ok = fieldStep(crawler.FormField{Type: crawler.FieldText})
	assert.False(t, ok)
}

func TestSyntheticValue(t *testing.T) {
	for _, tc := range []struct {
		field crawler.FormField
		want  string
	}{
		{crawler.FormField{Type: crawler.FieldEmail}, ValueEmail},
		{crawler.FormField{Name: "contact_email", Type: crawler.FieldText}, ValueEmail},
		{crawler.FormField{Type: crawler.FieldTel}, ValuePhone},
		{crawler.FormField{Name: "mobilePhone", Type: crawler.FieldText}, ValuePhone},
		{crawler.FormField{Name: "zip", Type: crawler.FieldText}, ValueZip},
		{crawler.FormField{Name: "first_name", Type: crawler.FieldText}, ValueName},
		{crawler.FormField{Type: crawler.FieldPassword}, ValuePassword},
		{crawler.FormField{Type: crawler.FieldDate}, ValueDate},
		{crawler.FormField{Type: crawler.FieldTextarea}, ValueMessage},
		{crawler.FormField{Type: crawler.FieldNumber}, "42"},
		{crawler.FormField{Type: crawler.FieldNumber, Min: "18"}, "18"},
		{crawler.FormField{Type: crawler.FieldNumber, Max: "10"}, "10"},
		{crawler.FormField{Type: crawler.FieldNumber, Min: "0.5", Max: "100"}, "0.5"},
		{crawler.FormField{Name: "company", Type: crawler.FieldText}, ValueDefault},
	} {
		assert.Equal(t, tc.want, SyntheticValue(tc.field), "%+v", tc.field)
	}
}

func TestBoundaryValue(t *testing.T) {
	v, ok := BoundaryValue(crawler.FormField{Min: "1", Max: "5"})
	assert.True(t, ok)
	assert.Equal(t, "6", v)

	v, ok = BoundaryValue(crawler.FormField{Min: "18"})
	assert.True(t, ok)
	assert.Equal(t, "17", v)

	_, ok = BoundaryValue(crawler.FormField{Pattern: "[0-9]{5}"})
	assert.True(t, ok)

	_, ok = BoundaryValue(crawler.FormField{Name: "x"})
	assert.False(t, ok)
}

func TestAnalysesLowered(t *testing.T) {
	d := signupDiscovery()
	d.Analyses = []crawler.PageAnalysis{{
		Path: "/signup",
		Scenarios: []crawler.Scenario{
			{
				Title: "Reject duplicate email",
				Steps: []crawler.ScenarioStep{
					{Kind: "fill", Target: `[name="email"]`, Value: "taken@example.com"},
					{Kind: "click", Target: "text=Sign up"},
					{Kind: "assertText", Value: "already registered"},
					{Kind: "hover", Target: "#help"},
				},
			},
			{Title: "Page loads: /"},
		},
	}}

	p := Synthesize(d, PersonaAutomation)
	require.NoError(t, p.Validate())

	ai := findCase(t, p, "Reject duplicate email")
	assert.Equal(t, "ai:/signup:1", ai.ID)
	assert.Equal(t, plan.Goto("https://example.com/signup"), ai.Steps[0])
	assert.Equal(t, plan.Fill(`[name="email"]`, "taken@example.com"), ai.Steps[1])
	assert.Equal(t, plan.StepCustom, ai.Steps[4].Kind)

	// colliding name gets a suffix, the crawl-derived case keeps its name
	assert.Equal(t, "smoke:/", findCase(t, p, "Page loads: /").ID)
	assert.Equal(t, "ai:/signup:2", findCase(t, p, "Page loads: / [2]").ID)
}

func TestDeterministic(t *testing.T) {
	a := Synthesize(signupDiscovery(), PersonaExploratory)
	b := Synthesize(signupDiscovery(), PersonaExploratory)
	assert.Equal(t, a, b)
}

func TestDisambiguate(t *testing.T) {
	cases := disambiguate([]plan.TestCase{
		{ID: "x", Name: "Same"},
		{ID: "x", Name: "Same"},
		{ID: "y", Name: "Same"},
	})
	assert.Equal(t, []string{"Same", "Same [2]", "Same [3]"}, []string{cases[0].Name, cases[1].Name, cases[2].Name})
	assert.Equal(t, []string{"x", "x#2", "y"}, []string{cases[0].ID, cases[1].ID, cases[2].ID})
}

func TestParsePersona(t *testing.T) {
	assert.Equal(t, PersonaManual, ParsePersona(" Manual "))
	assert.Equal(t, PersonaExploratory, ParsePersona("explore"))
	assert.Equal(t, PersonaAutomation, ParsePersona("sdet"))
}

func caseIDs(p *plan.TestPlan) []string {
	var ids []string
	for _, c := range p.Cases {
		ids = append(ids, c.ID)
	}
	return ids
}
