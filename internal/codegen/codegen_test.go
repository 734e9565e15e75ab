package codegen_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/v0xg/specforge/internal/codegen"
	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
)

func twoPagePlan() *plan.TestPlan {
	return &plan.TestPlan{
		BaseURL: "https://example.com",
		Cases: []plan.TestCase{
			{
				ID: "smoke:/", Name: "Page loads: /", Group: plan.Group{Page: "/"},
				Steps: []plan.Step{plan.Goto("https://example.com/"), plan.ExpectText("Welcome")},
			},
			{
				ID: "smoke:/pricing", Name: "Page loads: /pricing", Group: plan.Group{Page: "/pricing"},
				Steps: []plan.Step{plan.Goto("https://example.com/pricing"), plan.ExpectText("Plans")},
			},
		},
	}
}

func everyKindPlan() *plan.TestPlan {
	return &plan.TestPlan{
		BaseURL: "https://example.com",
		Cases: []plan.TestCase{{
			ID:    "all",
			Name:  `Every "step" kind`,
			Group: plan.Group{Page: "/signup"},
			Steps: []plan.Step{
				plan.Goto("https://example.com/signup"),
				plan.Fill(`[name="email"]`, "qa+auto@example.com"),
				plan.Fill("label=Password", "P@ssw0rd!"),
				plan.Click(`role=button[name="Sign up"]`),
				plan.Click("text=Terms"),
				plan.Upload("#avatar", "tests/assets/sample.pdf"),
				plan.ExpectVisible("#welcome"),
				plan.ExpectText("success"),
				plan.Custom("choose an option in #plan"),
				{Kind: "hover", Selector: "#menu"},
				{Kind: plan.StepClick},
			},
		}},
	}
}

func byPath(files []codegen.File) map[string]string {
	m := map[string]string{}
	for _, f := range files {
		m[f.Path] = f.Content
	}
	return m
}

var _ = Describe("Registry", func() {
	It("registers the five built-in targets", func() {
		Expect(codegen.Targets()).To(Equal([]string{"appium-js", "cucumber-js", "cypress-js", "playwright-ts", "xctest"}))
	})

	It("rejects unknown targets", func() {
		_, err := codegen.Render(twoPagePlan(), "selenium-java", codegen.Options{})
		Expect(err).To(MatchError(codegen.ErrUnknownTarget))
	})
})

var _ = Describe("Grouping", func() {
	It("prefers the explicit page, then the first goto, then misc", func() {
		p := &plan.TestPlan{Cases: []plan.TestCase{
			{ID: "a", Name: "a", Steps: []plan.Step{plan.Goto("https://example.com/docs/intro?x=1")}},
			{ID: "b", Name: "b", Group: plan.Group{Page: "/docs/intro"}},
			{ID: "c", Name: "c", Steps: []plan.Step{plan.Click("#x")}},
		}}
		groups := codegen.GroupCases(p)
		Expect(groups).To(HaveLen(2))
		Expect(groups[0].Page).To(Equal("/docs/intro"))
		Expect(groups[0].Slug).To(Equal("docs-intro"))
		Expect(groups[0].Cases).To(HaveLen(2))
		Expect(groups[1].Page).To(Equal(plan.MiscPage))
	})

	It("suffixes colliding slugs", func() {
		p := &plan.TestPlan{Cases: []plan.TestCase{
			{ID: "a", Name: "a", Group: plan.Group{Page: "/About"}},
			{ID: "b", Name: "b", Group: plan.Group{Page: "/about/"}},
			{ID: "c", Name: "c", Group: plan.Group{Page: "/about"}},
		}}
		groups := codegen.GroupCases(p)
		Expect([]string{groups[0].Slug, groups[1].Slug, groups[2].Slug}).To(Equal([]string{"about", "about-2", "about-3"}))
	})

	DescribeTable("Slug",
		func(page, want string) {
			Expect(codegen.Slug(page)).To(Equal(want))
		},
		Entry("root", "/", "home"),
		Entry("simple", "/pricing", "pricing"),
		Entry("nested", "/docs/api/v2", "docs-api-v2"),
		Entry("punctuation", "/Sign Up!", "sign-up"),
		Entry("only symbols", "/~~~", "page"),
		Entry("misc", "misc", "misc"),
	)
})

var _ = Describe("Playwright", func() {
	It("writes one spec per page group", func() {
		files, err := codegen.Render(twoPagePlan(), "playwright-ts", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(HaveLen(2))
		Expect(files[0].Path).To(Equal("home.spec.ts"))
		Expect(files[1].Path).To(Equal("pricing.spec.ts"))
		Expect(files[1].Content).To(Equal(`import { test, expect } from '@playwright/test';

// Page: /pricing, 1 test(s)

test("Page loads: /pricing", async ({ page }) => {
  await page.goto("https://example.com/pricing");
  await expect(page.getByText("Plans").first()).toBeVisible();
});
`))
	})

	It("maps every selector engine and degrades unknown steps", func() {
		files, err := codegen.Render(everyKindPlan(), "playwright-ts", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		src := files[0].Content
		Expect(src).To(ContainSubstring(`test("Every \"step\" kind", async ({ page }) => {`))
		Expect(src).To(ContainSubstring(`await page.locator("[name=\"email\"]").first().fill("qa+auto@example.com");`))
		Expect(src).To(ContainSubstring(`await page.getByLabel("Password").first().fill("P@ssw0rd!");`))
		Expect(src).To(ContainSubstring(`await page.getByRole("button", { name: "Sign up" }).first().click();`))
		Expect(src).To(ContainSubstring(`await page.getByText("Terms").first().click();`))
		Expect(src).To(ContainSubstring(`await page.locator("#avatar").first().setInputFiles("tests/assets/sample.pdf");`))
		Expect(src).To(ContainSubstring(`await expect(page.locator("#welcome").first()).toBeVisible();`))
		Expect(src).To(ContainSubstring("// choose an option in #plan"))
		Expect(src).To(ContainSubstring("// unsupported step: hover"))
		Expect(src).To(ContainSubstring("// missing locator: (empty selector)"))
	})

	It("scaffolds a config reading the base url from the environment", func() {
		files := codegen.Playwright{}.Scaffold(twoPagePlan())
		m := byPath(files)
		Expect(m).To(HaveKey("package.json"))
		Expect(m["playwright.config.ts"]).To(ContainSubstring(`process.env.TM_BASE_URL || process.env.BASE_URL || "https://example.com"`))
		Expect(m["playwright.config.ts"]).To(ContainSubstring("PLAYWRIGHT_JSON_OUTPUT_NAME"))
	})
})

var _ = Describe("Locator store integration", func() {
	var store *locator.Store

	BeforeEach(func() {
		store = &locator.Store{Pages: map[string]locator.Page{
			"/signup": {
				Identity: &locator.Identity{Kind: "role", Role: "heading", Name: "Create your account"},
				Fields:   map[string]string{"email": "#email"},
			},
		}}
	})

	refPlan := func() *plan.TestPlan {
		return &plan.TestPlan{BaseURL: "https://example.com", Cases: []plan.TestCase{{
			ID: "x", Name: "Refs", Group: plan.Group{Page: "/signup/step-2"},
			Steps: []plan.Step{
				plan.Goto("https://example.com/signup"),
				plan.Fill("@fields.email", "a@b.co"),
				plan.Fill("@fields.phone", "4045551234"),
				plan.Click("@nowhere.x"),
			},
		}}}
	}

	It("resolves references through the longest matching page", func() {
		files, err := codegen.Render(refPlan(), "playwright-ts", codegen.Options{Locators: store})
		Expect(err).ToNot(HaveOccurred())
		src := files[0].Content
		Expect(src).To(ContainSubstring(`await page.locator("#email").first().fill("a@b.co");`))
		Expect(src).To(ContainSubstring("// missing locator: @fields.phone"))
		Expect(src).To(ContainSubstring("// missing locator: @nowhere.x"))
	})

	It("asserts the page identity right after goto", func() {
		files, err := codegen.Render(refPlan(), "playwright-ts", codegen.Options{Locators: store})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Content).To(ContainSubstring(`  await page.goto("https://example.com/signup");
  await expect(page.getByRole("heading", { name: "Create your account" }).first()).toBeVisible();`))
	})

	It("leaves references unresolved without a store", func() {
		files, err := codegen.Render(refPlan(), "cypress-js", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Content).To(ContainSubstring("// missing locator: @fields.email"))
	})
})

var _ = Describe("Other targets", func() {
	It("renders cypress specs", func() {
		files, err := codegen.Render(everyKindPlan(), "cypress-js", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Path).To(Equal("signup.cy.js"))
		src := files[0].Content
		Expect(src).To(HavePrefix("// Page: /signup, 1 test(s)\ndescribe(\"/signup\", () => {\n  it("))
		Expect(src).To(ContainSubstring(`cy.visit("https://example.com/signup");`))
		Expect(src).To(ContainSubstring(`cy.get("#avatar").first().selectFile("tests/assets/sample.pdf");`))
		Expect(src).To(ContainSubstring(`cy.contains("success").should("be.visible");`))
		Expect(src).To(HaveSuffix("  });\n});\n"))
	})

	It("renders cucumber features with escaped parameters", func() {
		files, err := codegen.Render(everyKindPlan(), "cucumber-js", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Path).To(Equal("features/signup.feature"))
		src := files[0].Content
		Expect(src).To(HavePrefix("Feature: Signup\n"))
		Expect(src).To(ContainSubstring(`  Scenario: Every "step" kind`))
		Expect(src).To(ContainSubstring(`    When I fill "[name=\"email\"]" with "qa+auto@example.com"`))
		Expect(src).To(ContainSubstring(`    When I click "role=button[name=\"Sign up\"]"`))
		Expect(src).To(ContainSubstring(`    When I upload "tests/assets/sample.pdf" into "#avatar"`))
		Expect(src).To(ContainSubstring(`    # unsupported step: hover`))
		Expect(byPath(codegen.Cucumber{}.Scaffold(nil))).To(HaveKey("support/steps.js"))
	})

	It("renders appium specs", func() {
		files, err := codegen.Render(everyKindPlan(), "appium-js", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Path).To(Equal("signup.spec.js"))
		src := files[0].Content
		Expect(src).To(ContainSubstring(`await driver.url("https://example.com/signup");`))
		Expect(src).To(ContainSubstring(`await driver.$("#welcome").waitForDisplayed();`))
		Expect(src).To(ContainSubstring(`const remotePath = await driver.uploadFile("tests/assets/sample.pdf");`))
	})

	It("renders xctest classes with unique test functions", func() {
		p := twoPagePlan()
		p.Cases = append(p.Cases, plan.TestCase{
			ID: "dup", Name: "Page loads: /", Group: plan.Group{Page: "/"},
			Steps: []plan.Step{plan.Fill(`[name="email"]`, `say "hi"`)},
		})
		files, err := codegen.Render(p, "xctest", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files[0].Path).To(Equal("HomeUITests.swift"))
		src := files[0].Content
		Expect(src).To(ContainSubstring("final class HomeUITests: XCTestCase {"))
		Expect(src).To(ContainSubstring("    func testPageLoads() throws {"))
		Expect(src).To(ContainSubstring("    func testPageLoads2() throws {"))
		Expect(src).To(ContainSubstring(`specforgeFill(specforgeElement(app, "email"), "say \"hi\"")`))
		Expect(src).To(ContainSubstring(`XCTAssertTrue(specforgeText(app, "Welcome").waitForExistence(timeout: 10))`))
	})

	It("never reuses a suffixed xctest function name", func() {
		p := &plan.TestPlan{BaseURL: "https://example.com"}
		for i, to := range []string{"/a-b", "/a/b", "/a/b2"} {
			p.Cases = append(p.Cases, plan.TestCase{
				ID: fmt.Sprintf("nav:%d", i), Name: "Navigate / → " + to, Group: plan.Group{Page: "/"},
				Steps: []plan.Step{plan.Goto("https://example.com/"), plan.Click(`a[href="` + to + `"]`)},
			})
		}
		files, err := codegen.Render(p, "xctest", codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(files).To(HaveLen(1))

		seen := map[string]bool{}
		for _, line := range strings.Split(files[0].Content, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "func test") {
				continue
			}
			Expect(seen).ToNot(HaveKey(line))
			seen[line] = true
		}
		Expect(seen).To(HaveLen(3))
		Expect(seen).To(HaveKey("func testNavigateAB() throws {"))
		Expect(seen).To(HaveKey("func testNavigateAB2() throws {"))
		Expect(seen).To(HaveKey("func testNavigateAB22() throws {"))
	})
})

var _ = Describe("Every target", func() {
	for _, id := range []string{"playwright-ts", "cypress-js", "cucumber-js", "appium-js", "xctest"} {
		It("is deterministic for "+id, func() {
			a, err := codegen.Render(everyKindPlan(), id, codegen.Options{})
			Expect(err).ToNot(HaveOccurred())
			b, err := codegen.Render(everyKindPlan(), id, codegen.Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(a).To(Equal(b))
		})

		It("renders a single smoke file for an empty plan with "+id, func() {
			files, err := codegen.Render(&plan.TestPlan{BaseURL: "https://example.com"}, id, codegen.Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(files).To(HaveLen(1))
			Expect(strings.ToLower(files[0].Path)).To(ContainSubstring("smoke"))
		})

		It("reports a manifest for "+id, func() {
			e, err := codegen.Lookup(id)
			Expect(err).ToNot(HaveOccurred())
			m := e.Manifest(twoPagePlan())
			Expect(m.Target).To(Equal(id))
			Expect(m.Groups).To(Equal(2))
			Expect(m.Cases).To(Equal(2))
			Expect(m.Files).To(HaveLen(2))
			Expect(m.Steps).To(HaveKeyWithValue(plan.StepGoto, 2))
			Expect(m.Steps).To(HaveKeyWithValue(plan.StepExpectText, 2))
		})
	}
})

var _ = Describe("Write", func() {
	var root string

	BeforeEach(func() {
		root = GinkgoT().TempDir()
	})

	It("writes sources and scaffolding under one directory per target", func() {
		written, err := codegen.Write(context.Background(), root, twoPagePlan(), []string{"playwright-ts", "cucumber-js"}, codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(written).To(HaveLen(2))

		for _, rel := range []string{
			"playwright-ts/home.spec.ts",
			"playwright-ts/pricing.spec.ts",
			"playwright-ts/playwright.config.ts",
			"playwright-ts/package.json",
			"cucumber-js/features/home.feature",
			"cucumber-js/support/steps.js",
		} {
			Expect(filepath.Join(root, rel)).To(BeAnExistingFile())
		}
	})

	It("refuses a root nested in a target directory before writing anything", func() {
		nested := filepath.Join(root, "playwright-ts-acme", "web")
		_, err := codegen.Write(context.Background(), nested, twoPagePlan(), []string{"cypress-js"}, codegen.Options{})
		Expect(err).To(MatchError(codegen.ErrNestedOutputRoot))

		entries, err := os.ReadDir(root)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("accepts a root whose unrelated ancestors look like target directories", func() {
		work := filepath.Join(root, "xctest-work", "proj")
		Expect(os.MkdirAll(work, 0o755)).To(Succeed())
		wd, err := os.Getwd()
		Expect(err).ToNot(HaveOccurred())
		Expect(os.Chdir(work)).To(Succeed())
		DeferCleanup(os.Chdir, wd)

		Expect(codegen.CheckOutputRoot("out")).To(Succeed())
		Expect(codegen.CheckOutputRoot(filepath.Join(work, "out"))).To(Succeed())
		Expect(codegen.CheckOutputRoot(filepath.Join("out", "cypress-js"))).To(MatchError(codegen.ErrNestedOutputRoot))

		written, err := codegen.Write(context.Background(), "out", twoPagePlan(), []string{"xctest"}, codegen.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(written).To(HaveLen(1))
		Expect(filepath.Join(work, "out", "xctest", "HomeUITests.swift")).To(BeAnExistingFile())
	})

	It("fails on an unknown target before writing anything", func() {
		_, err := codegen.Write(context.Background(), root, twoPagePlan(), []string{"cypress-js", "nope"}, codegen.Options{})
		Expect(err).To(MatchError(codegen.ErrUnknownTarget))
		entries, err := os.ReadDir(root)
		Expect(err).ToNot(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
