package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/codegen"
	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
)

var (
	generateTargets  []string
	generateOut      string
	generateLocators string
	generateWatch    bool
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <plan.json>",
		Short: "Render a test plan into one suite per target framework",
		Long: `generate renders a plan for each requested target under <out>/<target>.

Targets: ` + strings.Join(codegen.Targets(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: runGenerate,
	}
	cmd.Flags().StringSliceVar(&generateTargets, "target", nil, "Target id (repeatable; default: codegen.targets)")
	cmd.Flags().StringVar(&generateOut, "out", "", "Output root (default: codegen.out)")
	cmd.Flags().StringVar(&generateLocators, "locators", "", "Locator file, JSON or YAML (default: locators.file)")
	cmd.Flags().BoolVar(&generateWatch, "watch", false, "Regenerate whenever the locator file changes")
	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := loadPlan(args[0])
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid plan %s:\n%w", args[0], err)
	}

	targets := generateTargets
	if len(targets) == 0 {
		targets = cfg.Codegen.Targets
	}
	out := generateOut
	if out == "" {
		out = cfg.Codegen.Out
	}
	locFile := generateLocators
	if locFile == "" {
		locFile = cfg.Locators.File
	}

	if !generateWatch {
		var store *locator.Store
		if locFile != "" {
			if store, err = locator.Load(locFile); err != nil {
				return err
			}
		}
		return generateOnce(ctx, out, p, targets, store)
	}

	if locFile == "" {
		return fmt.Errorf("--watch needs a locator file")
	}
	w, err := locator.NewWatcher(locFile, locator.WatcherOptions{
		Logger: logger,
		OnChange: func(s *locator.Store) {
			fmt.Printf("→ %s changed\n", locFile)
			if err := generateOnce(ctx, out, p, targets, s); err != nil {
				fmt.Printf("✗ %v\n", err)
			}
		},
	})
	if err != nil {
		return err
	}
	if err := generateOnce(ctx, out, p, targets, w.Snapshot()); err != nil {
		return err
	}
	fmt.Printf("Watching %s (Ctrl+C to stop)\n", locFile)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func generateOnce(ctx context.Context, out string, p *plan.TestPlan, targets []string, store *locator.Store) error {
	step := startStep("Generating %s", strings.Join(targets, ", "))
	written, err := codegen.Write(ctx, out, p, targets, codegen.Options{Locators: store, Logger: logger})
	if err != nil {
		step.fail()
		return fmt.Errorf("generation failed: %w", err)
	}
	step.done("%d targets", len(written))

	t := newTable("TARGET", "DIR", "FILES", "GROUPS", "CASES")
	for _, w := range written {
		t.AppendRow([]any{w.Target, w.Dir, len(w.Files), w.Manifest.Groups, w.Manifest.Cases})
	}
	t.Render()
	if verbose {
		for _, w := range written {
			for _, f := range w.Files {
				fmt.Printf("  %s\n", f)
			}
		}
	}
	return nil
}
