package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/ai"
	"github.com/v0xg/specforge/internal/heal"
)

var (
	healFailure string
	healStdout  string
	healStderr  string
	healDryRun  bool
)

func newHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal <spec-file>",
		Short: "Ask the model to repair one failing spec",
		Args:  cobra.ExactArgs(1),
		RunE:  runHeal,
	}
	cmd.Flags().StringVar(&healFailure, "failure", "", "Failure message reported by the runner")
	cmd.Flags().StringVar(&healStdout, "stdout", "", "File with the runner's stdout")
	cmd.Flags().StringVar(&healStderr, "stderr", "", "File with the runner's stderr")
	cmd.Flags().BoolVar(&healDryRun, "dry-run", false, "Print the repaired spec instead of writing it")
	cmd.MarkFlagRequired("failure")
	return cmd
}

func runHeal(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	reasoner, err := ai.NewReasoner(ai.Config{
		Provider: cfg.AI.Provider,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("AI provider init failed: %w", err)
	}
	healer := heal.New(reasoner, heal.Options{Timeout: cfg.Orchestrator.Heal.Timeout, Logger: logger})

	step := startStep("Healing %s via %s", path, cfg.AI.Provider)
	res, err := healer.Heal(cmd.Context(), heal.Request{
		SpecPath:       path,
		FailureMessage: healFailure,
		SpecContent:    string(content),
		Stdout:         readOptional(healStdout),
		Stderr:         readOptional(healStderr),
	})
	switch {
	case errors.Is(err, heal.ErrTestRenamed):
		step.fail()
		fmt.Printf("✗ Rejected: %v\n", err)
		return err
	case err != nil:
		step.fail()
		return err
	}
	added, removed := heal.LineDiff(string(content), res.UpdatedSpec)
	step.done("+%d/-%d lines", added, removed)
	fmt.Printf("  %s\n", res.Summary)

	if healDryRun {
		fmt.Println(res.UpdatedSpec)
		return nil
	}
	if err := os.WriteFile(path, []byte(res.UpdatedSpec), 0o644); err != nil {
		return err
	}
	fmt.Printf("✓ Updated %s\n", path)
	return nil
}

func readOptional(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("ignoring unreadable output file")
		return ""
	}
	return string(b)
}
