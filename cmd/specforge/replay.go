package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/executor"
	"github.com/v0xg/specforge/internal/locator"
)

var (
	replayBaseURL     string
	replayLocators    string
	replayScreenshots string
	replayAssets      string
	replayDelay       time.Duration
	replayStepTimeout time.Duration
	replayOutput      string
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <plan.json>",
		Short: "Execute a plan's cases directly in a headless browser",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().StringVar(&replayBaseURL, "base-url", "", "Override the plan's base URL")
	cmd.Flags().StringVar(&replayLocators, "locators", "", "Locator file (default: locators.file)")
	cmd.Flags().StringVar(&replayScreenshots, "screenshots", "", "Save a screenshot of every failed case to this directory")
	cmd.Flags().StringVar(&replayAssets, "assets", ".", "Directory relative upload paths are resolved against")
	cmd.Flags().DurationVar(&replayDelay, "delay", 0, "Pause after each action")
	cmd.Flags().DurationVar(&replayStepTimeout, "step-timeout", 10*time.Second, "Time allowed per step")
	cmd.Flags().StringVarP(&replayOutput, "output", "o", "", "Also write the results as JSON")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := loadPlan(args[0])
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid plan %s:\n%w", args[0], err)
	}

	locFile := replayLocators
	if locFile == "" {
		locFile = cfg.Locators.File
	}
	var store *locator.Store
	if locFile != "" {
		if store, err = locator.Load(locFile); err != nil {
			return err
		}
	}

	step := startStep("Launching browser")
	browser, err := executor.Launch(ctx, executor.BrowserOptions{
		Headless:   cfg.Crawler.Headless,
		Width:      cfg.Crawler.Width,
		Height:     cfg.Crawler.Height,
		ProfileDir: cfg.Crawler.ProfileDir,
	})
	if err != nil {
		step.fail()
		return err
	}
	step.done("")
	defer browser.Close()

	fmt.Printf("→ Replaying %d cases...\n", len(p.Cases))
	results, runErr := executor.Replay(ctx, browser, p, executor.Options{
		BaseURL:       replayBaseURL,
		StepTimeout:   replayStepTimeout,
		StepDelay:     replayDelay,
		ScreenshotDir: replayScreenshots,
		AssetsDir:     replayAssets,
		Locators:      store,
		Logger:        logger,
	})

	t := newTable("CASE", "PAGE", "STATUS", "TIME", "DETAIL")
	failed := 0
	for _, r := range results {
		detail := r.Error
		if r.Screenshot != "" {
			detail += " [" + r.Screenshot + "]"
		}
		if r.Status == executor.StatusFailed {
			failed++
		}
		t.AppendRow([]any{r.Name, r.Page, colorStatus(string(r.Status)), r.Duration.Round(time.Millisecond), firstLine(detail)})
	}
	t.Render()

	if replayOutput != "" {
		if err := writeJSON(replayOutput, results); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cases failed", failed, len(results))
	}
	fmt.Printf("✓ All %d cases passed\n", len(results))
	return nil
}
