package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// progress prints a "→ msg... " line and keeps a spinner running until
// done or fail is called.
type progress struct {
	s *spinner.Spinner
}

func startStep(format string, args ...any) *progress {
	fmt.Printf("→ "+format+"... ", args...)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Start()
	return &progress{s: s}
}

func (p *progress) done(format string, args ...any) {
	p.s.Stop()
	if format == "" {
		fmt.Println("done")
		return
	}
	fmt.Printf("done ("+format+")\n", args...)
}

func (p *progress) fail() {
	p.s.Stop()
	fmt.Println("failed")
}

func logVerbose(format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func newTable(header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	row := make(table.Row, len(header))
	for i, h := range header {
		row[i] = text.FgHiCyan.Sprint(h)
	}
	t.AppendHeader(row)
	return t
}

func colorStatus(status string) string {
	switch status {
	case "passed", "succeeded", "applied":
		return text.FgGreen.Sprint(status)
	case "failed", "rejected", "error":
		return text.FgRed.Sprint(status)
	case "running", "queued":
		return text.FgYellow.Sprint(status)
	}
	return status
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1024 * 1024)
}
