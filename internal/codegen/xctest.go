package codegen

import (
	"regexp"
	"text/template"

	"github.com/v0xg/specforge/internal/plan"
)

func init() { Register(XCTest{}) }

// XCTest emits one XCUITest class per page.
type XCTest struct{}

func (XCTest) ID() string { return "xctest" }

func (e XCTest) Render(p *plan.TestPlan, opts Options) ([]File, error) {
	return renderWith(e, p, opts)
}

func (e XCTest) Manifest(p *plan.TestPlan) Manifest { return manifestOf(e, p) }

func (XCTest) fileName(g Group) string { return pascal(g.Slug) + "UITests.swift" }

func (XCTest) tmpl() *template.Template { return xctestClass }

var identifierRe = regexp.MustCompile(`^#([\w-]+)$|\[(?:name|id|data-testid|aria-label)=["']?([^"'\]]+)["']?\]`)

// accessibilityID pulls the most specific identifier out of a CSS
// selector. Web views expose id, name and test ids as accessibility
// identifiers.
func accessibilityID(css string) string {
	if m := identifierRe.FindStringSubmatch(css); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return css
}

func (XCTest) element(sel plan.Selector) string {
	switch sel.Engine {
	case plan.EngineText:
		return "specforgeText(app, " + swiftString(sel.Value) + ")"
	case plan.EngineLabel:
		return "app.textFields[" + swiftString(sel.Value) + "]"
	case plan.EngineRole:
		query := "app.descendants(matching: .any)"
		switch sel.Value {
		case "button":
			query = "app.buttons"
		case "link":
			query = "app.links"
		case "textbox":
			query = "app.textFields"
		case "checkbox":
			query = "app.switches"
		case "heading":
			query = "app.staticTexts"
		case "img":
			query = "app.images"
		}
		if sel.Name != "" {
			return query + "[" + swiftString(sel.Name) + "]"
		}
		return query + ".firstMatch"
	}
	return "specforgeElement(app, " + swiftString(accessibilityID(sel.Value)) + ")"
}

func (e XCTest) lines(a action) []string {
	if a.Missing != "" {
		return []string{comment("//", a)}
	}
	switch a.Kind {
	case plan.StepGoto:
		return []string{"specforgeOpen(app, " + swiftString(a.URL) + ")"}
	case plan.StepClick:
		return []string{e.element(a.Sel) + ".tap()"}
	case plan.StepFill:
		return []string{"specforgeFill(" + e.element(a.Sel) + ", " + swiftString(a.Value) + ")"}
	case plan.StepExpectText:
		return []string{"XCTAssertTrue(specforgeText(app, " + swiftString(a.Text) + ").waitForExistence(timeout: 10))"}
	case plan.StepExpectVisible:
		return []string{"XCTAssertTrue(" + e.element(a.Sel) + ".waitForExistence(timeout: 10))"}
	case plan.StepUpload:
		return []string{"// file upload has no XCUITest equivalent: " + oneLine(a.Path) + " into " + oneLine(a.Sel.String())}
	}
	return []string{comment("//", a)}
}

// Scaffold writes the helper functions the generated classes call.
func (XCTest) Scaffold(*plan.TestPlan) []File {
	return []File{{Path: "SpecforgeHelpers.swift", Content: xctestHelpers}}
}

var xctestClass = mustTemplate("xctest-class", `import XCTest

// Page: {{ .Page }}, {{ len .Cases }} test(s)
final class {{ .Class }}: XCTestCase {
    var app: XCUIApplication!

    override func setUpWithError() throws {
        continueAfterFailure = false
        app = XCUIApplication()
        app.launchEnvironment["BASE_URL"] = specforgeBaseURL({{ swift .BaseURL }})
        app.launch()
    }
{{- range .Cases }}

    // {{ .Name }}
    func {{ .Func }}() throws {
{{ join "\n" .Lines | indent 8 }}
    }
{{- end }}
}
`)

const xctestHelpers = `import XCTest

func specforgeBaseURL(_ fallback: String) -> String {
    ProcessInfo.processInfo.environment["TM_BASE_URL"]
        ?? ProcessInfo.processInfo.environment["BASE_URL"]
        ?? fallback
}

func specforgeOpen(_ app: XCUIApplication, _ url: String) {
    let base = specforgeBaseURL("")
    let target = url.hasPrefix("http") ? url : base + url
    guard let parsed = URL(string: target) else {
        XCTFail("invalid url \(target)")
        return
    }
    app.open(parsed)
}

func specforgeElement(_ app: XCUIApplication, _ identifier: String) -> XCUIElement {
    app.descendants(matching: .any)[identifier].firstMatch
}

func specforgeText(_ app: XCUIApplication, _ text: String) -> XCUIElement {
    app.staticTexts.containing(NSPredicate(format: "label CONTAINS %@", text)).firstMatch
}

func specforgeFill(_ element: XCUIElement, _ value: String) {
    XCTAssertTrue(element.waitForExistence(timeout: 10))
    element.tap()
    element.typeText(value)
}
`
