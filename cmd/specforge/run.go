package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/ai"
	"github.com/v0xg/specforge/internal/heal"
	"github.com/v0xg/specforge/internal/orchestrator"
)

var (
	runTarget      string
	runBaseURL     string
	runProjectRoot string
	runHeal        bool
	runWait        bool

	workerPoll time.Duration
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <suite-dir>",
		Short: "Queue a generated suite for execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	cmd.Flags().StringVar(&runTarget, "target", "", "Target id the suite was generated for")
	cmd.Flags().StringVar(&runBaseURL, "base-url", "", "Base URL of the application under test")
	cmd.Flags().StringVar(&runProjectRoot, "project-root", "", "Project root (default: the suite dir)")
	cmd.Flags().BoolVar(&runHeal, "heal", false, "Repair failing specs with the model and rerun once")
	cmd.Flags().BoolVar(&runWait, "wait", false, "Process the run in this process and print its results")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("base-url")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued runs and serve metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
	cmd.Flags().DurationVar(&workerPoll, "poll", 2*time.Second, "How often to look for newly queued runs")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run with its results and healing attempts, or list recent runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}
}

// newOrchestrator opens the configured store and wires runner, artifacts
// and, when withHeal is set, the healing loop.
func newOrchestrator(withHeal bool) (*orchestrator.Orchestrator, error) {
	store, err := orchestrator.NewStore(cfg.StoreConfig())
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Store:        store,
		Runner:       orchestrator.NewExecRunner(cfg.Orchestrator.Runners),
		Workers:      cfg.Orchestrator.Workers,
		Timeout:      cfg.Orchestrator.Timeout,
		ArtifactsDir: cfg.Orchestrator.ArtifactsDir,
		Allure:       cfg.Allure(),
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if !withHeal {
		return orch, nil
	}
	reasoner, err := ai.NewReasoner(ai.Config{
		Provider: cfg.AI.Provider,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("healing needs a model: %w", err)
	}
	healer := heal.New(reasoner, heal.Options{Timeout: cfg.Orchestrator.Heal.Timeout, Logger: logger})
	orch.SetHealer(heal.NewLoop(healer, orch, logger))
	return orch, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	withHeal := runHeal || cfg.Orchestrator.Heal.Enabled
	orch, err := newOrchestrator(withHeal && runWait)
	if err != nil {
		return err
	}
	defer orch.Store().Close()

	job, err := orch.Enqueue(ctx, orchestrator.EnqueueRequest{
		SuiteDir:    args[0],
		Target:      runTarget,
		BaseURL:     runBaseURL,
		ProjectRoot: runProjectRoot,
		Heal:        withHeal,
	})
	if err != nil {
		return fmt.Errorf("queue run: %w", err)
	}
	fmt.Printf("✓ Queued run %s\n", job.ID)
	if !runWait {
		fmt.Println("  Start `specforge worker` to process it, then `specforge status " + job.ID + "`")
		return nil
	}

	ids := []string{job.ID}
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		step := startStep("Running %s", id)
		done, err := orch.Process(ctx, id)
		if err != nil {
			step.fail()
			return err
		}
		step.done("%s", done.Status)
		if err := printRun(ctx, orch.Store(), id); err != nil {
			return err
		}
		attempts, err := orch.Store().Healings(ctx, id)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			if a.RerunID != "" && !contains(ids, a.RerunID) {
				ids = append(ids, a.RerunID)
			}
		}
	}

	final, err := orch.Store().Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if final.Status == orchestrator.StatusFailed {
		return errors.New(final.Error)
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	orch, err := newOrchestrator(true)
	if err != nil {
		logger.Warn().Err(err).Msg("healing disabled")
		if orch, err = newOrchestrator(false); err != nil {
			return err
		}
	}
	defer orch.Store().Close()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", orch.Metrics().Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("metrics server failed")
			}
		}()
		fmt.Printf("Serving metrics on %s/metrics\n", cfg.Metrics.Addr)
	}

	if err := orch.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Worker started with %d workers (Ctrl+C to stop)\n", cfg.Orchestrator.Workers)

	ticker := time.NewTicker(workerPoll)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if _, err := orch.RequeuePending(ctx); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("poll for queued runs failed")
			}
		}
	}

	fmt.Println("→ Draining workers...")
	orch.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := orchestrator.NewStore(cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		return printRun(ctx, store, args[0])
	}
	jobs, err := store.List(ctx, "", 0)
	if err != nil {
		return err
	}
	if len(jobs) > 20 {
		jobs = jobs[len(jobs)-20:]
	}
	t := newTable("RUN", "TARGET", "STATUS", "CASES", "FAILED", "PARENT", "CREATED")
	for _, j := range jobs {
		t.AppendRow([]any{j.ID, j.Target, colorStatus(string(j.Status)), j.Summary.Total, j.Summary.Failed, j.ParentID, j.CreatedAt.Local().Format(time.DateTime)})
	}
	t.Render()
	return nil
}

func printRun(ctx context.Context, store orchestrator.Store, id string) error {
	job, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s [%s] %s\n", job.ID, job.Target, colorStatus(string(job.Status)))
	if job.ParentID != "" {
		fmt.Printf("  Rerun of %s\n", job.ParentID)
	}
	if job.Error != "" {
		fmt.Printf("  %s\n", job.Error)
	}
	if job.Artifacts.Dir != "" {
		fmt.Printf("  Artifacts: %s\n", job.Artifacts.Dir)
	}

	results, err := store.Results(ctx, id)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		t := newTable("CASE", "FILE", "STATUS", "MS", "MESSAGE")
		for _, r := range results {
			t.AppendRow([]any{r.Name, r.File, colorStatus(string(r.Status)), r.DurationMs, firstLine(r.Message)})
		}
		s := job.Summary
		t.AppendFooter([]any{fmt.Sprintf("%d passed, %d failed, %d skipped", s.Passed, s.Failed, s.Skipped), "", "", s.DurationMs, ""})
		t.Render()
	}

	attempts, err := store.Healings(ctx, id)
	if err != nil {
		return err
	}
	if len(attempts) > 0 {
		t := newTable("HEAL", "SPEC", "OUTCOME", "+/-", "RERUN", "DETAIL")
		for i, a := range attempts {
			detail := a.Summary
			if a.Error != "" {
				detail = a.Error
			}
			t.AppendRow([]any{i + 1, a.SpecPath, colorStatus(string(a.Outcome)), fmt.Sprintf("+%d/-%d", a.LinesAdded, a.LinesRemoved), a.RerunID, firstLine(detail)})
		}
		t.Render()
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if r := []rune(s); len(r) > 100 {
		return string(r[:97]) + "..."
	}
	return s
}
