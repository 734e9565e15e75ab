package heal

import (
	"regexp"
	"strings"
)

var titlePatterns = []*regexp.Regexp{
	// test("..."), it('...'), test.skip(`...`)
	regexp.MustCompile(`\b(?:test|it)(?:\.(?:only|skip|fixme|fail|slow))?\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'|` + "`" + `((?:[^` + "`" + `\\]|\\.)*)` + "`" + `)`),
	regexp.MustCompile(`(?m)^\s*Scenario(?: Outline)?:\s*(.+?)\s*$`),
	regexp.MustCompile(`\bfunc\s+(test\w*)\s*\(`),
}

// TestTitles returns the test names declared in a spec, in order.
func TestTitles(content string) []string {
	var titles []string
	for _, re := range titlePatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			for _, g := range m[1:] {
				if g != "" {
					titles = append(titles, g)
					break
				}
			}
		}
	}
	return titles
}

// missingTitles lists the titles of before that after no longer declares.
func missingTitles(before, after string) []string {
	have := map[string]int{}
	for _, t := range TestTitles(after) {
		have[t]++
	}
	var missing []string
	for _, t := range TestTitles(before) {
		if have[t] == 0 {
			missing = append(missing, t)
			continue
		}
		have[t]--
	}
	return missing
}

// LineDiff counts the lines added and removed between two versions.
func LineDiff(before, after string) (added, removed int) {
	a, b := splitLines(before), splitLines(after)
	common := lcs(a, b)
	return len(b) - common, len(a) - common
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
