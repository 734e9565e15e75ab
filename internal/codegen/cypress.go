package codegen

import (
	"text/template"

	"github.com/v0xg/specforge/internal/plan"
)

func init() { Register(Cypress{}) }

// Cypress emits one Cypress spec per page.
type Cypress struct{}

func (Cypress) ID() string { return "cypress-js" }

func (e Cypress) Render(p *plan.TestPlan, opts Options) ([]File, error) {
	return renderWith(e, p, opts)
}

func (e Cypress) Manifest(p *plan.TestPlan) Manifest { return manifestOf(e, p) }

func (Cypress) fileName(g Group) string { return g.Slug + ".cy.js" }

func (Cypress) tmpl() *template.Template { return cypressSpec }

func (Cypress) get(sel plan.Selector) string {
	switch sel.Engine {
	case plan.EngineText:
		return "cy.contains(" + jsString(sel.Value) + ")"
	case plan.EngineLabel:
		return `cy.contains("label", ` + jsString(sel.Value) + `).invoke("attr", "for").then((id) => cy.get("#" + id))`
	case plan.EngineRole:
		if sel.Name != "" {
			return "cy.contains(" + jsString(roleCSS(sel.Value)) + ", " + jsString(sel.Name) + ")"
		}
		return "cy.get(" + jsString(roleCSS(sel.Value)) + ").first()"
	}
	return "cy.get(" + jsString(sel.Value) + ").first()"
}

func (e Cypress) lines(a action) []string {
	if a.Missing != "" {
		return []string{comment("//", a)}
	}
	switch a.Kind {
	case plan.StepGoto:
		return []string{"cy.visit(" + jsString(a.URL) + ");"}
	case plan.StepClick:
		return []string{e.get(a.Sel) + ".click();"}
	case plan.StepFill:
		return []string{e.get(a.Sel) + ".clear().type(" + jsString(a.Value) + ");"}
	case plan.StepExpectText:
		return []string{"cy.contains(" + jsString(a.Text) + `).should("be.visible");`}
	case plan.StepExpectVisible:
		return []string{e.get(a.Sel) + `.should("be.visible");`}
	case plan.StepUpload:
		return []string{e.get(a.Sel) + ".selectFile(" + jsString(a.Path) + ");"}
	}
	return []string{comment("//", a)}
}

// Scaffold writes cypress.config.js.
func (Cypress) Scaffold(p *plan.TestPlan) []File {
	return []File{{Path: "cypress.config.js", Content: execString(cypressConfig, p)}}
}

// roleCSS approximates an ARIA role with CSS for frameworks that have no
// role query.
func roleCSS(role string) string {
	native := map[string]string{
		"button":   `button, input[type="submit"], input[type="button"]`,
		"link":     "a[href]",
		"heading":  "h1, h2, h3, h4, h5, h6",
		"textbox":  `input:not([type]), input[type="text"], input[type="email"], textarea`,
		"checkbox": `input[type="checkbox"]`,
		"radio":    `input[type="radio"]`,
		"combobox": "select",
		"img":      "img",
	}
	css := `[role="` + role + `"]`
	if n, ok := native[role]; ok {
		css += ", " + n
	}
	return css
}

var cypressSpec = mustTemplate("cypress-spec", `// Page: {{ .Page }}, {{ len .Cases }} test(s)
describe({{ str .Page }}, () => {
{{- range $i, $c := .Cases }}
{{- if $i }}
{{ end }}
  it({{ str $c.Name }}, () => {
{{ join "\n" $c.Lines | indent 4 }}
  });
{{- end }}
});
`)

var cypressConfig = mustTemplate("cypress-config", `const { defineConfig } = require("cypress");

module.exports = defineConfig({
  e2e: {
    baseUrl: process.env.TM_BASE_URL || process.env.BASE_URL || {{ str (.BaseURL | default "http://localhost:3000") }},
    specPattern: "**/*.cy.js",
    supportFile: false,
    video: false,
  },
  reporter: "json",
});
`)
