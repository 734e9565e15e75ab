package codegen

import (
	"strings"
	"text/template"

	"github.com/v0xg/specforge/internal/plan"
)

func init() { Register(Appium{}) }

// Appium emits WebdriverIO mocha specs driving a mobile browser through
// Appium.
type Appium struct{}

func (Appium) ID() string { return "appium-js" }

func (e Appium) Render(p *plan.TestPlan, opts Options) ([]File, error) {
	return renderWith(e, p, opts)
}

func (e Appium) Manifest(p *plan.TestPlan) Manifest { return manifestOf(e, p) }

func (Appium) fileName(g Group) string { return g.Slug + ".spec.js" }

func (Appium) tmpl() *template.Template { return appiumSpec }

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(parts, `, '"', `) + ")"
}

func (Appium) selector(sel plan.Selector) string {
	switch sel.Engine {
	case plan.EngineText:
		return "//*[contains(normalize-space(.), " + xpathLiteral(sel.Value) + ")]"
	case plan.EngineLabel:
		return "//label[normalize-space(.)=" + xpathLiteral(sel.Value) + "]/following::*[self::input or self::textarea or self::select][1]"
	case plan.EngineRole:
		if sel.Name != "" {
			return "//*[@role=" + xpathLiteral(sel.Value) + " or self::" + roleTag(sel.Value) + "][contains(normalize-space(.), " + xpathLiteral(sel.Name) + ")]"
		}
		return roleCSS(sel.Value)
	}
	return sel.Value
}

func roleTag(role string) string {
	switch role {
	case "link":
		return "a"
	case "heading":
		return "h1"
	case "textbox":
		return "input"
	}
	return "button"
}

func (e Appium) lines(a action) []string {
	if a.Missing != "" {
		return []string{comment("//", a)}
	}
	el := func() string { return "driver.$(" + jsString(e.selector(a.Sel)) + ")" }
	switch a.Kind {
	case plan.StepGoto:
		return []string{"await driver.url(" + jsString(a.URL) + ");"}
	case plan.StepClick:
		return []string{"await " + el() + ".click();"}
	case plan.StepFill:
		return []string{"await " + el() + ".setValue(" + jsString(a.Value) + ");"}
	case plan.StepExpectText:
		sel := "//*[contains(normalize-space(.), " + xpathLiteral(a.Text) + ")]"
		return []string{"await driver.$(" + jsString(sel) + ").waitForDisplayed();"}
	case plan.StepExpectVisible:
		return []string{"await " + el() + ".waitForDisplayed();"}
	case plan.StepUpload:
		return []string{
			"{",
			"  const remotePath = await driver.uploadFile(" + jsString(a.Path) + ");",
			"  await " + el() + ".setValue(remotePath);",
			"}",
		}
	}
	return []string{comment("//", a)}
}

// Scaffold writes wdio.conf.js holding the Appium capabilities.
func (Appium) Scaffold(*plan.TestPlan) []File {
	return []File{{Path: "wdio.conf.js", Content: appiumConfig}}
}

var appiumSpec = mustTemplate("appium-spec", `const { remote } = require("webdriverio");
const { config } = require("./wdio.conf.js");

// Page: {{ .Page }}, {{ len .Cases }} test(s)
describe({{ str .Page }}, function () {
  let driver;

  before(async function () {
    driver = await remote(config);
  });

  after(async function () {
    if (driver) await driver.deleteSession();
  });
{{- range .Cases }}

  it({{ str .Name }}, async function () {
{{ join "\n" .Lines | indent 4 }}
  });
{{- end }}
});
`)

const appiumConfig = `exports.config = {
  hostname: process.env.APPIUM_HOST || "127.0.0.1",
  port: Number(process.env.APPIUM_PORT || 4723),
  logLevel: "error",
  capabilities: {
    platformName: process.env.APPIUM_PLATFORM || "Android",
    browserName: process.env.APPIUM_BROWSER || "Chrome",
    "appium:deviceName": process.env.APPIUM_DEVICE || "Android Emulator",
    "appium:platformVersion": process.env.APPIUM_PLATFORM_VERSION || "12.0",
    "appium:automationName": process.env.APPIUM_AUTOMATION || "UiAutomator2",
  },
};
`
