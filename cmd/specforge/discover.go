package main

import (
	"fmt"
	"image"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/ai"
	"github.com/v0xg/specforge/internal/crawler"
	"github.com/v0xg/specforge/internal/snapshot"
)

var (
	discoverSeeds        []string
	discoverMaxRoutes    int
	discoverEngine       string
	discoverAnalyze      bool
	discoverInstructions string
	discoverOutput       string
	discoverTour         string
	discoverProfile      string
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover <url>",
		Short: "Crawl a site and record its routes, forms and controls",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscover,
	}
	cmd.Flags().StringArrayVar(&discoverSeeds, "seed", nil, "Extra path to visit (repeatable)")
	cmd.Flags().IntVar(&discoverMaxRoutes, "max-routes", 0, "Maximum pages to visit (default: crawler.max_routes)")
	cmd.Flags().StringVar(&discoverEngine, "engine", "", "Inspection engine: browser, static (default: crawler.engine)")
	cmd.Flags().BoolVar(&discoverAnalyze, "analyze", false, "Ask the model for scenario suggestions per page")
	cmd.Flags().StringVar(&discoverInstructions, "instructions", "", "Extra guidance for --analyze")
	cmd.Flags().StringVarP(&discoverOutput, "output", "o", "discovery.json", "Output file (- for stdout)")
	cmd.Flags().StringVar(&discoverTour, "tour", "", "Write an animated GIF of the visited pages")
	cmd.Flags().StringVar(&discoverProfile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	return cmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	target := args[0]

	opts := crawler.Options{
		MaxRoutes:     cfg.Crawler.MaxRoutes,
		Timeout:       cfg.Crawler.Timeout,
		Width:         cfg.Crawler.Width,
		Height:        cfg.Crawler.Height,
		Headless:      cfg.Crawler.Headless,
		ProfileDir:    cfg.Crawler.ProfileDir,
		ScreenshotDir: cfg.Crawler.ScreenshotsDir,
		Logger:        logger,
	}
	if discoverMaxRoutes > 0 {
		opts.MaxRoutes = discoverMaxRoutes
	}
	if discoverProfile != "" {
		opts.ProfileDir = discoverProfile
	}
	engine := cfg.Crawler.Engine
	if discoverEngine != "" {
		engine = discoverEngine
	}
	switch engine {
	case "browser":
	case "static":
		opts.Launch = crawler.StaticLauncher(&http.Client{Timeout: opts.Timeout})
	default:
		return fmt.Errorf("unknown engine %q (want browser or static)", engine)
	}
	if discoverTour != "" && opts.ScreenshotDir == "" {
		if engine == "static" {
			return fmt.Errorf("--tour needs the browser engine")
		}
		dir, err := os.MkdirTemp("", "specforge-shots-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		opts.ScreenshotDir = dir
	}

	logVerbose("Starting discovery")
	logVerbose("  URL: %s", target)
	logVerbose("  Engine: %s", engine)
	logVerbose("  Max routes: %d", opts.MaxRoutes)

	step := startStep("Crawling %s", target)
	d, err := crawler.Discover(ctx, target, discoverSeeds, opts)
	if err != nil && d == nil {
		step.fail()
		return fmt.Errorf("crawl failed: %w", err)
	}
	step.done("%d routes, %d forms", len(d.Routes), len(d.Forms))
	if err != nil {
		fmt.Printf("⚠ Crawl stopped early: %v\n", err)
	}

	if discoverAnalyze {
		if err := analyzePages(cmd, d); err != nil {
			return err
		}
	}

	if err := writeJSON(discoverOutput, d); err != nil {
		return fmt.Errorf("write discovery: %w", err)
	}
	if discoverOutput != "-" {
		fmt.Printf("✓ Saved to %s\n", discoverOutput)
	}

	if discoverTour != "" {
		return writeTour(d, discoverTour)
	}
	return nil
}

func analyzePages(cmd *cobra.Command, d *crawler.Discovery) error {
	reasoner, err := ai.NewReasoner(ai.Config{
		Provider: cfg.AI.Provider,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("AI provider init failed: %w", err)
	}

	for _, scan := range d.Scans {
		step := startStep("Analyzing %s via %s", crawler.PathOf(scan.URL), cfg.AI.Provider)
		a, err := reasoner.AnalyzePage(cmd.Context(), ai.PageInput{
			BaseURL:      d.BaseURL,
			PageURL:      scan.URL,
			Instructions: discoverInstructions,
			Scan:         scan,
		})
		if err != nil {
			step.fail()
			logger.Warn().Err(err).Str("page", scan.URL).Msg("page analysis failed")
			if cmd.Context().Err() != nil {
				return cmd.Context().Err()
			}
			continue
		}
		step.done("%d scenarios", len(a.Scenarios))
		d.Analyses = append(d.Analyses, *a)
	}
	return nil
}

func writeTour(d *crawler.Discovery, path string) error {
	var frames []image.Image
	for _, scan := range d.Scans {
		if scan.Screenshot == "" {
			continue
		}
		img, err := snapshot.Open(scan.Screenshot)
		if err != nil {
			logger.Warn().Err(err).Str("page", scan.URL).Msg("skipping screenshot")
			continue
		}
		frames = append(frames, img)
	}
	if len(frames) == 0 {
		fmt.Println("⚠ No screenshots captured, tour skipped")
		return nil
	}

	step := startStep("Generating tour GIF (%d pages)", len(frames))
	if _, err := snapshot.Tour(frames, path, snapshot.TourOptions{MaxWidth: 800}); err != nil {
		step.fail()
		return fmt.Errorf("tour generation failed: %w", err)
	}
	step.done("")
	fmt.Printf("✓ Saved to %s (%.1f MB)\n", path, fileSizeMB(path))
	return nil
}
