package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/config"
	"github.com/v0xg/specforge/internal/logging"
)

var (
	cfgFile string
	verbose bool

	cfg       *config.Config
	logger    = zerolog.Nop()
	logCloser io.Closer
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "specforge",
		Short: "Discover a web app, plan tests, generate suites and run them",
		Long: `specforge crawls a website, turns what it finds into a framework-neutral
test plan, renders that plan for several test frameworks, and runs the
generated suites with optional model-assisted repair of failing specs.

Example:
  specforge discover https://myapp.com -o discovery.json
  specforge plan discovery.json -o plan.json
  specforge generate plan.json --target playwright-ts --out generated
  specforge run generated/playwright-ts --target playwright-ts --base-url https://myapp.com --wait`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./specforge.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed progress")

	rootCmd.AddCommand(
		newDiscoverCmd(),
		newPlanCmd(),
		newGenerateCmd(),
		newRunCmd(),
		newWorkerCmd(),
		newStatusCmd(),
		newHealCmd(),
		newLocatorsCmd(),
		newReplayCmd(),
	)
	return rootCmd
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if verbose {
		loaded.Log.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Log.Level
	if !verbose && cfg.Log.File == "" && level == "info" {
		// Progress lines already cover info on the console.
		level = "warn"
	}
	logger, logCloser = logging.New(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		JSON:       cfg.Log.JSON,
	})
	return nil
}
