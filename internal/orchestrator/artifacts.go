package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// layout returns the artifact paths of a run under root.
func layout(root, runID string) Artifacts {
	dir := filepath.Join(root, runID)
	return Artifacts{
		Dir:     dir,
		Report:  filepath.Join(dir, "report.json"),
		Results: filepath.Join(dir, "results"),
		Stdout:  filepath.Join(dir, "stdout.log"),
		Stderr:  filepath.Join(dir, "stderr.log"),
	}
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

func summaryMarkdown(job *RunJob, results []RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", job.ID)
	fmt.Fprintf(&b, "- **Status:** %s\n", job.Status)
	fmt.Fprintf(&b, "- **Target:** %s\n", job.Target)
	fmt.Fprintf(&b, "- **Base URL:** %s\n", job.BaseURL)
	if job.ParentID != "" {
		fmt.Fprintf(&b, "- **Rerun of:** %s\n", job.ParentID)
	}
	if job.Error != "" {
		fmt.Fprintf(&b, "- **Error:** `%s`\n", mdInline(job.Error))
	}
	s := job.Summary
	fmt.Fprintf(&b, "\n%d total, %d passed, %d failed, %d skipped in %dms\n", s.Total, s.Passed, s.Failed, s.Skipped, s.DurationMs)
	if len(results) == 0 {
		return b.String()
	}
	b.WriteString("\n| Case | File | Status | Duration | Message |\n|---|---|---|---|---|\n")
	for _, r := range results {
		fmt.Fprintf(&b, "| %s | %s | %s | %dms | %s |\n",
			mdCell(r.Name), mdCell(r.File), r.Status, r.DurationMs, mdCell(firstLine(r.Message)))
	}
	return b.String()
}

func mdCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func mdInline(s string) string {
	return strings.ReplaceAll(firstLine(s), "`", "'")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// writeSummary renders the run summary as an HTML page.
func writeSummary(path string, job *RunJob, results []RunResult) error {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(summaryMarkdown(job, results)), &body); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>Run %s</title></head><body>\n", job.ID)
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return os.WriteFile(path, page.Bytes(), 0o644)
}

// AllureGenerator turns a run's raw results directory into an HTML report.
type AllureGenerator struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// DefaultAllure runs the allure CLI through npx.
func DefaultAllure() *AllureGenerator {
	return &AllureGenerator{
		Command: "npx",
		Args:    []string{"allure", "generate", "{results}", "--clean", "-o", "{report}"},
		Timeout: 2 * time.Minute,
	}
}

// Generate writes the report into art.Dir/report and returns its path. The
// combined output of a failed generation is appended to the run's stderr
// log.
func (g *AllureGenerator) Generate(ctx context.Context, art Artifacts) (string, error) {
	if entries, err := os.ReadDir(art.Results); err != nil || len(entries) == 0 {
		return "", fmt.Errorf("no allure results in %s", art.Results)
	}
	out := filepath.Join(art.Dir, "report")
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}
	r := strings.NewReplacer("{results}", art.Results, "{report}", out)
	args := make([]string, len(g.Args))
	for i, a := range g.Args {
		args[i] = r.Replace(a)
	}
	cmd := exec.CommandContext(ctx, g.Command, args...)
	cmd.Dir = art.Dir
	cmd.Env = runnerPath(art.Dir)
	combined, err := cmd.CombinedOutput()
	if err != nil {
		appendLog(art.Stderr, fmt.Sprintf("\n[allure] %v\n%s", err, combined))
		return "", fmt.Errorf("allure generate: %w", err)
	}
	return out, nil
}

func appendLog(path, text string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(text)
}
