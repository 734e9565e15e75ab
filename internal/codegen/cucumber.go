package codegen

import (
	"text/template"

	"github.com/v0xg/specforge/internal/plan"
)

func init() { Register(Cucumber{}) }

// Cucumber emits one Gherkin feature per page. A shared step-definition
// file backed by Playwright is scaffolded once.
type Cucumber struct{}

func (Cucumber) ID() string { return "cucumber-js" }

func (e Cucumber) Render(p *plan.TestPlan, opts Options) ([]File, error) {
	return renderWith(e, p, opts)
}

func (e Cucumber) Manifest(p *plan.TestPlan) Manifest { return manifestOf(e, p) }

func (Cucumber) fileName(g Group) string { return "features/" + g.Slug + ".feature" }

func (Cucumber) tmpl() *template.Template { return cucumberFeature }

func (Cucumber) lines(a action) []string {
	if a.Missing != "" {
		return []string{comment("#", a)}
	}
	sel := gherkinString(a.Sel.String())
	switch a.Kind {
	case plan.StepGoto:
		return []string{"Given I navigate to " + gherkinString(a.URL)}
	case plan.StepClick:
		return []string{"When I click " + sel}
	case plan.StepFill:
		return []string{"When I fill " + sel + " with " + gherkinString(a.Value)}
	case plan.StepExpectText:
		return []string{"Then I should see text " + gherkinString(a.Text)}
	case plan.StepExpectVisible:
		return []string{"Then I should see element " + sel}
	case plan.StepUpload:
		return []string{"When I upload " + gherkinString(a.Path) + " into " + sel}
	}
	return []string{comment("#", a)}
}

// Scaffold writes the shared step definitions.
func (Cucumber) Scaffold(*plan.TestPlan) []File {
	return []File{{Path: "support/steps.js", Content: cucumberSteps}}
}

var cucumberFeature = mustTemplate("cucumber-feature", `Feature: {{ .Feature }}
  Scenarios for {{ .Page }}
{{- range .Cases }}

  Scenario: {{ .Name }}
{{ join "\n" .Lines | indent 4 }}
{{- end }}
`)

const cucumberSteps = `const { Given, When, Then, Before, After, setDefaultTimeout } = require('@cucumber/cucumber');
const { chromium } = require('playwright');

setDefaultTimeout(30 * 1000);

function locate(page, selector) {
  if (selector.startsWith('text=')) return page.getByText(selector.slice(5)).first();
  if (selector.startsWith('label=')) return page.getByLabel(selector.slice(6)).first();
  const role = selector.match(/^role=([\w-]+)(?:\[name=["'](.*)["']\])?$/);
  if (role) return page.getByRole(role[1], role[2] ? { name: role[2] } : {}).first();
  return page.locator(selector).first();
}

Before(async function () {
  this.browser = await chromium.launch({ headless: true });
  this.context = await this.browser.newContext();
  this.page = await this.context.newPage();
  this.baseUrl = process.env.TM_BASE_URL || process.env.BASE_URL || '';
});

After(async function () {
  if (this.context) await this.context.close();
  if (this.browser) await this.browser.close();
});

Given('I navigate to {string}', async function (url) {
  await this.page.goto(url.startsWith('http') ? url : this.baseUrl + url);
});

When('I click {string}', async function (selector) {
  await locate(this.page, selector).click();
});

When('I fill {string} with {string}', async function (selector, value) {
  await locate(this.page, selector).fill(value);
});

When('I upload {string} into {string}', async function (file, selector) {
  await locate(this.page, selector).setInputFiles(file);
});

Then('I should see text {string}', async function (text) {
  await this.page.getByText(text).first().waitFor({ state: 'visible', timeout: 5000 });
});

Then('I should see element {string}', async function (selector) {
  await locate(this.page, selector).waitFor({ state: 'visible', timeout: 5000 });
});
`
