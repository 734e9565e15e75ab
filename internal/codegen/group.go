package codegen

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/v0xg/specforge/internal/plan"
)

// Group is the set of cases written to one file.
type Group struct {
	Page  string
	Slug  string
	Cases []plan.TestCase
}

// GroupCases buckets cases by page key, keeping first-seen order for both
// groups and cases. A plan without cases yields a single smoke group.
func GroupCases(p *plan.TestPlan) []Group {
	if len(p.Cases) == 0 {
		return []Group{smokeGroup(p.BaseURL)}
	}

	var groups []Group
	index := map[string]int{}
	for _, tc := range p.Cases {
		key := tc.PageKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Page: key})
		}
		groups[i].Cases = append(groups[i].Cases, tc)
	}

	used := map[string]int{}
	for i := range groups {
		s := Slug(groups[i].Page)
		used[s]++
		if n := used[s]; n > 1 {
			s = fmt.Sprintf("%s-%d", s, n)
		}
		groups[i].Slug = s
	}
	return groups
}

func smokeGroup(baseURL string) Group {
	target := strings.TrimSpace(baseURL)
	if target == "" {
		target = "/"
	}
	return Group{
		Page: "/",
		Slug: "smoke",
		Cases: []plan.TestCase{{
			ID:    "smoke",
			Name:  "Smoke: / loads",
			Group: plan.Group{Page: "/"},
			Steps: []plan.Step{plan.Goto(target), plan.ExpectVisible("body")},
		}},
	}
}

// Slug turns a page path into a file-name stem: "/" is "home", runs of
// anything but ASCII letters and digits collapse to "-".
func Slug(page string) string {
	page = strings.TrimSpace(page)
	if page == "" || page == "/" {
		return "home"
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(page) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimRight(b.String(), "-")
	if s == "" {
		return "page"
	}
	return s
}

// pascal turns a slug or title into an identifier: "pricing-plans" is
// "PricingPlans".
func pascal(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || unicode.IsDigit(rune(out[0])) {
		out = "Page" + out
	}
	return out
}

// oneLine collapses whitespace so names can sit in comments and Gherkin
// titles.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
