package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ReportFormat names a runner report shape.
type ReportFormat string

const (
	FormatNative     ReportFormat = "native"
	FormatPlaywright ReportFormat = "playwright"
	FormatJest       ReportFormat = "jest"
	FormatVitest     ReportFormat = "vitest"
	FormatMocha      ReportFormat = "mocha"
	FormatCucumber   ReportFormat = "cucumber"
)

// ErrNoReport is returned when the data holds no recognisable report.
var ErrNoReport = errors.New("no structured report")

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

func stripANSI(s string) string {
	s = ansiRe.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", ""))
}

var callLogBullet = regexp.MustCompile(`^\s*[-•]+\s*`)

// splitCallLog cuts a Playwright "Call log:" section off an error message
// and returns its lines as steps.
func splitCallLog(msg string) (string, []string) {
	idx := strings.Index(msg, "Call log:")
	if idx < 0 {
		return msg, nil
	}
	var steps []string
	for _, line := range strings.Split(msg[idx+len("Call log:"):], "\n") {
		line = strings.TrimSpace(callLogBullet.ReplaceAllString(line, ""))
		if line != "" {
			steps = append(steps, line)
		}
	}
	return strings.TrimSpace(msg[:idx]), steps
}

func normalizePath(p string) string {
	if p == "" {
		return "unknown"
	}
	return strings.ReplaceAll(p, `\`, "/")
}

// ParseReport detects the report format from its shape and returns one
// RunResult per case.
func ParseReport(data []byte) ([]RunResult, ReportFormat, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return nil, "", ErrNoReport
	}
	root := gjson.ParseBytes(data)
	switch {
	case root.IsObject() && root.Get("results").IsArray():
		return parseNative(root), FormatNative, nil
	case root.IsObject() && root.Get("suites").IsArray():
		return parsePlaywright(root), FormatPlaywright, nil
	case root.IsObject() && root.Get("testResults").IsArray():
		return parseJest(root), FormatJest, nil
	case root.IsObject() && root.Get("tests").IsArray() && root.Get("stats").Exists():
		return parseMocha(root), FormatMocha, nil
	case root.IsArray() && root.Get("0.elements").Exists():
		return parseCucumber(root), FormatCucumber, nil
	case root.IsArray() && root.Get("0.tasks").Exists():
		return parseVitest(root), FormatVitest, nil
	}
	return nil, "", ErrNoReport
}

// ExtractReport finds the first recognisable JSON report embedded in
// runner stdout. Reporters that print to stdout often surround the document
// with log lines.
func ExtractReport(out []byte) []byte {
	for i, c := range out {
		if c != '{' && c != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(bytes.NewReader(out[i:])).Decode(&raw); err != nil {
			continue
		}
		if _, _, err := ParseReport(raw); err == nil {
			return raw
		}
	}
	return nil
}

func parseNative(root gjson.Result) []RunResult {
	var out []RunResult
	root.Get("results").ForEach(func(_, r gjson.Result) bool {
		msg, steps := splitCallLog(stripANSI(r.Get("error").String()))
		out = append(out, RunResult{
			Name:       r.Get("name").String(),
			File:       normalizePath(r.Get("file").String()),
			Status:     nativeStatus(r.Get("status").String()),
			DurationMs: r.Get("durationMs").Int(),
			Message:    msg,
			Steps:      steps,
		})
		return true
	})
	return out
}

func nativeStatus(s string) ResultStatus {
	switch ResultStatus(s) {
	case ResultPassed, ResultFailed, ResultSkipped:
		return ResultStatus(s)
	}
	return ResultError
}

func playwrightStatus(s string) ResultStatus {
	switch s {
	case "expected", "passed", "flaky":
		return ResultPassed
	case "skipped":
		return ResultSkipped
	case "failed", "unexpected", "timedOut", "interrupted":
		return ResultFailed
	}
	return ResultError
}

func parsePlaywright(root gjson.Result) []RunResult {
	var out []RunResult
	var walk func(suite gjson.Result, ancestors []string, fileHint string)
	walk = func(suite gjson.Result, ancestors []string, fileHint string) {
		titles := ancestors
		if t := suite.Get("title").String(); t != "" {
			titles = append(append([]string(nil), ancestors...), t)
		}
		suiteFile := firstNonEmpty(suite.Get("file").String(), fileHint)

		// Older reporters put tests directly on the suite.
		suite.Get("tests").ForEach(func(_, test gjson.Result) bool {
			name := strings.Join(append(append([]string(nil), titles...), orDefault(test.Get("title").String(), "test")), " > ")
			if tp := test.Get("titlePath"); tp.IsArray() && len(tp.Array()) > 0 {
				name = joinStrings(tp, " > ")
			}
			file := test.Get("location.file").String()
			if file == "" {
				file = suiteFile
			}
			out = append(out, playwrightCase(test, name, file, ""))
			return true
		})

		suite.Get("specs").ForEach(func(_, spec gjson.Result) bool {
			parts := titles
			if t := spec.Get("title").String(); t != "" {
				parts = append(append([]string(nil), titles...), t)
			}
			name := strings.Join(parts, " > ")
			if name == "" {
				name = orDefault(spec.Get("file").String(), "test")
			}
			file := spec.Get("file").String()
			if file == "" {
				file = suiteFile
			}
			specErr := spec.Get("errors.0.message").String()
			spec.Get("tests").ForEach(func(_, test gjson.Result) bool {
				out = append(out, playwrightCase(test, name, file, specErr))
				return true
			})
			return true
		})

		suite.Get("suites").ForEach(func(_, child gjson.Result) bool {
			walk(child, titles, suiteFile)
			return true
		})
	}
	root.Get("suites").ForEach(func(_, s gjson.Result) bool {
		walk(s, nil, "")
		return true
	})
	// Top-level errors are files that failed to load; their tests never ran.
	root.Get("errors").ForEach(func(_, e gjson.Result) bool {
		msg, steps := splitCallLog(stripANSI(firstNonEmpty(e.Get("message").String(), e.Get("value").String())))
		file := e.Get("location.file").String()
		out = append(out, RunResult{
			Name:    "load error: " + orDefault(file, "suite"),
			File:    normalizePath(file),
			Status:  ResultError,
			Message: msg,
			Steps:   steps,
		})
		return true
	})
	return out
}

func playwrightCase(test gjson.Result, name, file, fallbackErr string) RunResult {
	var last gjson.Result
	if results := test.Get("results").Array(); len(results) > 0 {
		last = results[len(results)-1]
	}
	status := firstNonEmpty(test.Get("outcome").String(), test.Get("status").String(), last.Get("status").String())
	if status == "" && last.Get("error").Exists() {
		status = "failed"
	}
	raw := firstNonEmpty(last.Get("error.message").String(), last.Get("error.stack").String())
	msg, steps := splitCallLog(stripANSI(raw))
	if msg == "" {
		msg = stripANSI(fallbackErr)
	}
	return RunResult{
		Name:       name,
		File:       normalizePath(file),
		Status:     playwrightStatus(status),
		DurationMs: last.Get("duration").Int(),
		Message:    msg,
		Steps:      steps,
	}
}

func parseJest(root gjson.Result) []RunResult {
	var out []RunResult
	root.Get("testResults").ForEach(func(_, tr gjson.Result) bool {
		file := normalizePath(firstNonEmpty(tr.Get("name").String(), tr.Get("testFilePath").String()))
		tr.Get("assertionResults").ForEach(func(_, a gjson.Result) bool {
			status := ResultSkipped
			switch a.Get("status").String() {
			case "passed":
				status = ResultPassed
			case "failed":
				status = ResultFailed
			}
			out = append(out, RunResult{
				Name:       firstNonEmpty(a.Get("fullName").String(), a.Get("title").String()),
				File:       file,
				Status:     status,
				DurationMs: a.Get("duration").Int(),
				Message:    stripANSI(joinStrings(a.Get("failureMessages"), "\n")),
			})
			return true
		})
		return true
	})
	return out
}

func parseVitest(root gjson.Result) []RunResult {
	var out []RunResult
	var walk func(node gjson.Result, fileHint string)
	walk = func(node gjson.Result, fileHint string) {
		switch node.Get("type").String() {
		case "suite":
			file := firstNonEmpty(node.Get("file").String(), fileHint)
			node.Get("tasks").ForEach(func(_, t gjson.Result) bool {
				walk(t, file)
				return true
			})
		case "test":
			status := ResultError
			switch node.Get("result.state").String() {
			case "pass":
				status = ResultPassed
			case "fail":
				status = ResultFailed
			case "skip":
				status = ResultSkipped
			}
			name := joinStrings(node.Get("namePath"), " ")
			if name == "" {
				name = orDefault(node.Get("name").String(), "test")
			}
			out = append(out, RunResult{
				Name:       name,
				File:       normalizePath(firstNonEmpty(node.Get("file").String(), fileHint, node.Get("location.file").String())),
				Status:     status,
				DurationMs: node.Get("result.duration").Int(),
				Message:    stripANSI(node.Get("result.error.message").String()),
			})
		}
	}
	root.ForEach(func(_, n gjson.Result) bool {
		walk(n, "")
		return true
	})
	return out
}

func parseMocha(root gjson.Result) []RunResult {
	pending := map[string]bool{}
	root.Get("pending").ForEach(func(_, p gjson.Result) bool {
		pending[p.Get("fullTitle").String()] = true
		return true
	})
	var out []RunResult
	root.Get("tests").ForEach(func(_, t gjson.Result) bool {
		full := firstNonEmpty(t.Get("fullTitle").String(), t.Get("title").String())
		status := ResultPassed
		msg := t.Get("err.message").String()
		switch {
		case msg != "":
			status = ResultFailed
		case pending[full] || t.Get("pending").Bool():
			status = ResultSkipped
		}
		out = append(out, RunResult{
			Name:       full,
			File:       normalizePath(t.Get("file").String()),
			Status:     status,
			DurationMs: t.Get("duration").Int(),
			Message:    stripANSI(msg),
		})
		return true
	})
	return out
}

func parseCucumber(root gjson.Result) []RunResult {
	var out []RunResult
	root.ForEach(func(_, feature gjson.Result) bool {
		file := normalizePath(feature.Get("uri").String())
		feature.Get("elements").ForEach(func(_, el gjson.Result) bool {
			if t := el.Get("type").String(); t != "" && t != "scenario" {
				return true
			}
			var (
				nanos              int64
				failed, incomplete bool
				msg                string
				steps              []string
			)
			el.Get("steps").ForEach(func(_, st gjson.Result) bool {
				nanos += st.Get("result.duration").Int()
				switch st.Get("result.status").String() {
				case "passed":
				case "failed", "undefined", "ambiguous":
					failed = true
					if msg == "" {
						msg = stripANSI(st.Get("result.error_message").String())
						if msg == "" {
							msg = st.Get("result.status").String() + " step"
						}
					}
				default:
					incomplete = true
				}
				if kw := strings.TrimSpace(st.Get("keyword").String()); kw != "" {
					steps = append(steps, kw+" "+st.Get("name").String())
				}
				return true
			})
			status := ResultPassed
			switch {
			case failed:
				status = ResultFailed
			case incomplete:
				status = ResultSkipped
			}
			name := el.Get("name").String()
			if f := feature.Get("name").String(); f != "" {
				name = f + " > " + name
			}
			out = append(out, RunResult{
				Name:       name,
				File:       file,
				Status:     status,
				DurationMs: nanos / 1e6,
				Message:    msg,
				Steps:      steps,
			})
			return true
		})
		return true
	})
	return out
}

func joinStrings(arr gjson.Result, sep string) string {
	var parts []string
	arr.ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			parts = append(parts, s)
		}
		return true
	})
	return strings.Join(parts, sep)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
