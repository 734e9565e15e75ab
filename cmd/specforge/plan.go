package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/codegen"
	"github.com/v0xg/specforge/internal/crawler"
	"github.com/v0xg/specforge/internal/plan"
	"github.com/v0xg/specforge/internal/synth"
)

var (
	planPersona string
	planOutput  string
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <discovery.json>",
		Short: "Turn a discovery into a framework-neutral test plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	cmd.Flags().StringVar(&planPersona, "persona", "automation", "Plan persona: automation, manual, exploratory")
	cmd.Flags().StringVarP(&planOutput, "output", "o", "plan.json", "Output file (- for stdout)")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	var d crawler.Discovery
	if err := readJSON(args[0], &d); err != nil {
		return fmt.Errorf("read discovery: %w", err)
	}

	persona := synth.ParsePersona(planPersona)
	step := startStep("Synthesizing %s plan", persona)
	p := synth.Synthesize(&d, persona)
	step.done("%d cases", len(p.Cases))

	if err := p.Validate(); err != nil {
		fmt.Printf("⚠ Plan has problems:\n%v\n", err)
	}
	if err := writeJSON(planOutput, p); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	if planOutput != "-" {
		printPlanSummary(p)
		fmt.Printf("✓ Saved to %s\n", planOutput)
	}
	return nil
}

// loadPlan reads a plan file, accepting the legacy shapes Decode knows.
func loadPlan(path string) (*plan.TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := plan.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func printPlanSummary(p *plan.TestPlan) {
	t := newTable("PAGE", "CASES", "STEPS")
	for _, g := range codegen.GroupCases(p) {
		steps := 0
		for _, tc := range g.Cases {
			steps += len(tc.Steps)
		}
		t.AppendRow([]any{g.Page, len(g.Cases), steps})
	}
	t.AppendFooter([]any{"", len(p.Cases), ""})
	t.Render()
}
