package ai

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/v0xg/specforge/internal/crawler"
)

const maxListed = 25

const analyzeSystemPrompt = `You are a QA agent that designs end-to-end browser tests.

Given page metadata, produce scenarios covering statement, branch, edge, decision and security testing.

Return a JSON object with keys:
- "summary": string
- "coverage": object mapping coverage type to an estimated percentage
- "scenarios": array of scenarios

Each scenario has: "title", "coverageType", "description", "tags" (array of strings), "risk" (low|medium|high) and "steps".
Steps are objects { "kind", "target", "value", "note" } where kind is one of goto, click, fill, expect-text, expect-visible, upload or custom.
Targets are CSS selectors, text=<visible text>, or a path for goto.

Respond ONLY with the JSON object.`

const healSystemPrompt = `You are an autonomous QA engineer.
You receive a failing end-to-end test spec and must rewrite it so the intent still holds but the failure is fixed.
Return JSON with keys "summary" (short sentence about the fix) and "updatedSpec" (the full updated file).
Do not change the test name or add new dependencies. Keep assertions deterministic.`

func analyzeUserPrompt(in PageInput) (string, error) {
	scan := in.Scan
	payload := map[string]any{
		"baseUrl": in.BaseURL,
		"pageUrl": in.PageURL,
		"scan": map[string]any{
			"title":      scan.Title,
			"heading":    scan.Heading,
			"links":      firstN(scan.Links, maxListed),
			"buttons":    firstN(scan.Buttons, maxListed),
			"fileInputs": scan.FileInputs,
			"fields":     scan.Fields,
		},
	}
	if in.Instructions != "" {
		payload["instructions"] = in.Instructions
	}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal page input: %w", err)
	}
	return string(b), nil
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	if s == nil {
		return []string{}
	}
	return s
}

// fenceFor picks a code fence language from the test file's extension.
func fenceFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".ts"):
		return "ts"
	case strings.HasSuffix(path, ".js"):
		return "js"
	case strings.HasSuffix(path, ".feature"):
		return "gherkin"
	case strings.HasSuffix(path, ".swift"):
		return "swift"
	}
	return ""
}

func healUserPrompt(req HealRequest) string {
	var parts []string
	parts = append(parts, "Spec path: "+req.SpecPath)
	if req.FailureMessage != "" {
		parts = append(parts, "Failure: "+req.FailureMessage)
	}
	if req.Stdout != "" {
		parts = append(parts, "stdout:\n"+req.Stdout)
	}
	if req.Stderr != "" {
		parts = append(parts, "stderr:\n"+req.Stderr)
	}
	parts = append(parts,
		"Current spec file:",
		"```"+fenceFor(req.SpecPath)+"\n"+req.SpecContent+"\n```",
		`Respond ONLY with JSON: {"summary": string, "updatedSpec": string}`,
	)
	return strings.Join(parts, "\n\n")
}

func parseAnalysis(text string) (*crawler.PageAnalysis, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	root := gjson.Parse(obj)
	a := &crawler.PageAnalysis{Summary: root.Get("summary").String()}

	cov := root.Get("coverage")
	if cov.IsObject() {
		cov.ForEach(func(k, v gjson.Result) bool {
			a.Coverage = append(a.Coverage, fmt.Sprintf("%s: %s", k.String(), v.String()))
			return true
		})
		sort.Strings(a.Coverage)
	}

	root.Get("scenarios").ForEach(func(_, s gjson.Result) bool {
		sc := crawler.Scenario{
			Title:        orDefault(s.Get("title").String(), "Scenario"),
			CoverageType: strings.ToLower(orDefault(s.Get("coverageType").String(), "other")),
			Description:  s.Get("description").String(),
			Risk:         "medium",
		}
		switch r := s.Get("risk").String(); r {
		case "low", "medium", "high":
			sc.Risk = r
		}
		s.Get("tags").ForEach(func(_, t gjson.Result) bool {
			if t.String() != "" {
				sc.Tags = append(sc.Tags, t.String())
			}
			return true
		})
		s.Get("steps").ForEach(func(_, st gjson.Result) bool {
			kind := st.Get("kind")
			step := crawler.ScenarioStep{Kind: "custom"}
			if kind.Type == gjson.String && kind.String() != "" {
				step.Kind = kind.String()
			}
			step.Target = stringField(st, "target")
			step.Value = stringField(st, "value")
			step.Note = stringField(st, "note")
			sc.Steps = append(sc.Steps, step)
			return true
		})
		a.Scenarios = append(a.Scenarios, sc)
		return true
	})
	return a, nil
}

func stringField(r gjson.Result, key string) string {
	v := r.Get(key)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

func parseHeal(text string) (*HealResult, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	root := gjson.Parse(obj)
	res := &HealResult{Raw: text, Summary: "Model updated spec"}
	if s := root.Get("summary"); s.Type == gjson.String && s.String() != "" {
		res.Summary = s.String()
	}
	if u := root.Get("updatedSpec"); u.Type == gjson.String {
		res.UpdatedSpec = u.String()
	}
	if strings.TrimSpace(res.UpdatedSpec) == "" {
		return nil, fmt.Errorf("%w: no updatedSpec content", ErrInvalidResponse)
	}
	return res, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
