package codegen

import (
	"text/template"

	"github.com/v0xg/specforge/internal/plan"
)

func init() { Register(Playwright{}) }

// Playwright emits one @playwright/test spec per page.
type Playwright struct{}

func (Playwright) ID() string { return "playwright-ts" }

func (e Playwright) Render(p *plan.TestPlan, opts Options) ([]File, error) {
	return renderWith(e, p, opts)
}

func (e Playwright) Manifest(p *plan.TestPlan) Manifest { return manifestOf(e, p) }

func (Playwright) fileName(g Group) string { return g.Slug + ".spec.ts" }

func (Playwright) tmpl() *template.Template { return playwrightSpec }

// locator renders the Playwright locator expression for sel.
func (Playwright) locator(sel plan.Selector) string {
	switch sel.Engine {
	case plan.EngineText:
		return "page.getByText(" + jsString(sel.Value) + ")"
	case plan.EngineLabel:
		return "page.getByLabel(" + jsString(sel.Value) + ")"
	case plan.EngineRole:
		if sel.Name != "" {
			return "page.getByRole(" + jsString(sel.Value) + ", { name: " + jsString(sel.Name) + " })"
		}
		return "page.getByRole(" + jsString(sel.Value) + ")"
	}
	return "page.locator(" + jsString(sel.Value) + ")"
}

func (e Playwright) lines(a action) []string {
	if a.Missing != "" {
		return []string{comment("//", a)}
	}
	switch a.Kind {
	case plan.StepGoto:
		return []string{"await page.goto(" + jsString(a.URL) + ");"}
	case plan.StepClick:
		return []string{"await " + e.locator(a.Sel) + ".first().click();"}
	case plan.StepFill:
		return []string{"await " + e.locator(a.Sel) + ".first().fill(" + jsString(a.Value) + ");"}
	case plan.StepExpectText:
		return []string{"await expect(page.getByText(" + jsString(a.Text) + ").first()).toBeVisible();"}
	case plan.StepExpectVisible:
		return []string{"await expect(" + e.locator(a.Sel) + ".first()).toBeVisible();"}
	case plan.StepUpload:
		return []string{"await " + e.locator(a.Sel) + ".first().setInputFiles(" + jsString(a.Path) + ");"}
	}
	return []string{comment("//", a)}
}

// Scaffold writes the runner config and package manifest.
func (Playwright) Scaffold(p *plan.TestPlan) []File {
	return []File{
		{Path: "playwright.config.ts", Content: execString(playwrightConfig, p)},
		{Path: "package.json", Content: playwrightPackage},
	}
}

var playwrightSpec = mustTemplate("playwright-spec", `import { test, expect } from '@playwright/test';

// Page: {{ .Page }}, {{ len .Cases }} test(s)
{{- range .Cases }}

test({{ str .Name }}, async ({ page }) => {
{{ join "\n" .Lines | indent 2 }}
});
{{- end }}
`)

var playwrightConfig = mustTemplate("playwright-config", `/// <reference types="node" />
import { defineConfig } from '@playwright/test';

const reporters: any[] = [
  ['list'],
  ['json', { outputFile: process.env.PLAYWRIGHT_JSON_OUTPUT_NAME || 'report.json' }],
];
if (process.env.ALLURE_RESULTS_DIR) {
  reporters.push(['allure-playwright', { resultsDir: process.env.ALLURE_RESULTS_DIR }]);
}

export default defineConfig({
  testDir: '.',
  testMatch: '**/*.spec.ts',
  workers: Number(process.env.SPECFORGE_WORKERS || 1),
  reporter: reporters,
  use: {
    baseURL: process.env.TM_BASE_URL || process.env.BASE_URL || {{ str (.BaseURL | default "http://localhost:3000") }},
  },
});
`)

const playwrightPackage = `{
  "name": "specforge-playwright-ts",
  "private": true,
  "scripts": {
    "test": "playwright test -c playwright.config.ts"
  },
  "devDependencies": {
    "@playwright/test": "^1.47.2",
    "allure-playwright": "^3.0.0"
  }
}
`
