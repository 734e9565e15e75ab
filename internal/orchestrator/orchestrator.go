package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Healer repairs the specs of a failed run. It returns one attempt per
// spec it looked at; persisting them is the orchestrator's job.
type Healer interface {
	HealRun(ctx context.Context, job *RunJob, results []RunResult) ([]HealingAttempt, error)
}

// Options configures an Orchestrator.
type Options struct {
	Store        Store
	Runner       Runner
	Workers      int
	Timeout      time.Duration
	ArtifactsDir string
	// Allure is optional; nil skips the HTML report.
	Allure  *AllureGenerator
	Healer  Healer
	Metrics *Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// EnqueueRequest asks for a generated suite to be run.
type EnqueueRequest struct {
	SuiteDir    string
	Target      string
	BaseURL     string
	ProjectRoot string
	Heal        bool
	ParentID    string
}

// Orchestrator owns the run queue and its worker pool.
type Orchestrator struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	pool    *WorkerPool
	pending map[string]bool // submitted, not yet processed
}

const (
	DefaultWorkers      = 2
	DefaultTimeout      = 10 * time.Minute
	DefaultArtifactsDir = ".specforge/runs"
)

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ArtifactsDir == "" {
		opts.ArtifactsDir = DefaultArtifactsDir
	}
	dir, err := filepath.Abs(opts.ArtifactsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	opts.ArtifactsDir = dir
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{opts: opts, log: opts.Logger.With().Str("component", "orchestrator").Logger()}, nil
}

// SetHealer installs the healing hook. It must be called before Start.
func (o *Orchestrator) SetHealer(h Healer) {
	o.opts.Healer = h
}

func (o *Orchestrator) Store() Store { return o.opts.Store }

func (o *Orchestrator) Metrics() *Metrics { return o.opts.Metrics }

// Enqueue records a queued job and, when the pool is running, hands it to
// a worker.
func (o *Orchestrator) Enqueue(ctx context.Context, req EnqueueRequest) (*RunJob, error) {
	if req.SuiteDir == "" {
		return nil, errors.New("suite directory is required")
	}
	if req.Target == "" {
		return nil, errors.New("target is required")
	}
	dir, err := filepath.Abs(req.SuiteDir)
	if err != nil {
		return nil, fmt.Errorf("resolve suite dir: %w", err)
	}
	root := req.ProjectRoot
	if root == "" {
		root = dir
	}
	job := &RunJob{
		ID:          uuid.NewString(),
		ParentID:    req.ParentID,
		Target:      req.Target,
		SuiteDir:    dir,
		ProjectRoot: root,
		BaseURL:     req.BaseURL,
		Heal:        req.Heal && req.ParentID == "",
		Status:      StatusQueued,
		CreatedAt:   o.opts.Now().UTC(),
	}
	if err := o.opts.Store.Create(ctx, job); err != nil {
		return nil, err
	}
	o.opts.Metrics.RunsEnqueued.Inc()
	o.log.Info().Str("run_id", job.ID).Str("target", job.Target).Str("parent", job.ParentID).Msg("run queued")
	o.submit(job.ID)
	return job, nil
}

// submit hands a job to the pool. A job the pool cannot take right now
// stays queued in the store for the next RequeuePending.
func (o *Orchestrator) submit(id string) bool {
	o.mu.Lock()
	pool := o.pool
	if pool == nil || o.pending[id] {
		o.mu.Unlock()
		return false
	}
	if o.pending == nil {
		o.pending = map[string]bool{}
	}
	o.pending[id] = true
	o.mu.Unlock()

	done := func() {
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
	}
	ok := pool.Submit(func(ctx context.Context, worker int) error {
		defer done()
		_, err := o.Process(ctx, id)
		switch {
		case errors.Is(err, ErrNotClaimed) || errors.Is(err, ErrTerminal):
			o.log.Debug().Str("run_id", id).Int("worker", worker).Msg("run already claimed")
			return nil
		case err != nil && ctx.Err() != nil:
			o.log.Debug().Str("run_id", id).Msg("run left queued on shutdown")
			return nil
		}
		return err
	})
	if !ok {
		done()
		o.log.Debug().Str("run_id", id).Msg("pool busy, run left queued")
	}
	return ok
}

// Start launches the worker pool and re-queues every job the store still
// holds as queued.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.pool != nil {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.pool = NewWorkerPool(o.opts.Workers, o.log)
	o.pool.Start(ctx)
	o.mu.Unlock()

	n, err := o.RequeuePending(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.log.Info().Int("count", n).Msg("re-queued pending runs")
	}
	return nil
}

// RequeuePending submits every job the store holds as queued, including
// jobs enqueued by other processes sharing the store. It returns how many
// were handed to the pool; jobs already waiting there are not counted.
func (o *Orchestrator) RequeuePending(ctx context.Context) (int, error) {
	pending, err := o.opts.Store.List(ctx, StatusQueued, 0)
	if err != nil {
		return 0, fmt.Errorf("list queued runs: %w", err)
	}
	n := 0
	for _, j := range pending {
		if o.submit(j.ID) {
			n++
		}
	}
	return n, nil
}

// Wait blocks until the pool is idle and the store holds no queued job,
// including reruns queued by healing and jobs the pool had no room for.
func (o *Orchestrator) Wait() {
	for {
		o.mu.Lock()
		pool := o.pool
		o.mu.Unlock()
		if pool == nil {
			return
		}
		pool.Wait()
		n, err := o.RequeuePending(context.Background())
		if err != nil {
			o.log.Error().Err(err).Msg("wait: list queued runs")
			return
		}
		if n == 0 {
			return
		}
	}
}

// Stop drains the pool.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	pool := o.pool
	o.pool = nil
	o.mu.Unlock()
	if pool != nil {
		pool.Stop()
	}
}

// Process claims a queued job, runs it and records its terminal state.
// It returns ErrNotClaimed when another worker got there first.
func (o *Orchestrator) Process(ctx context.Context, id string) (*RunJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	job, err := o.opts.Store.UpdateStatus(ctx, id, StatusQueued, Update{To: StatusRunning, At: o.opts.Now().UTC()})
	if err != nil {
		return nil, err
	}
	log := o.log.With().Str("run_id", job.ID).Str("target", job.Target).Logger()
	log.Info().Msg("run started")

	o.opts.Metrics.RunsInFlight.Inc()
	u, results := o.execute(ctx, job, log)
	o.opts.Metrics.RunsInFlight.Dec()

	// The terminal write must not be lost to a cancelled worker context.
	finishCtx := context.WithoutCancel(ctx)
	if len(results) > 0 {
		if err := o.opts.Store.SaveResults(finishCtx, job.ID, results); err != nil {
			log.Error().Err(err).Msg("save results")
		}
	}
	done, err := o.opts.Store.UpdateStatus(finishCtx, job.ID, StatusRunning, u)
	if err != nil {
		return nil, err
	}
	o.opts.Metrics.RunsFinished.WithLabelValues(string(done.Status), string(done.FailureKind)).Inc()
	ev := log.Info()
	if done.Status == StatusFailed {
		ev = log.Warn().Str("kind", string(done.FailureKind)).Str("error", done.Error)
	}
	ev.Int("total", done.Summary.Total).Int("failed", done.Summary.Failed).Msg("run finished")

	if done.Status == StatusFailed && done.Heal && done.ParentID == "" && o.opts.Healer != nil {
		o.heal(finishCtx, done, results, log)
	}
	return done, nil
}

func (o *Orchestrator) heal(ctx context.Context, job *RunJob, results []RunResult, log zerolog.Logger) {
	attempts, err := o.opts.Healer.HealRun(ctx, job, results)
	if err != nil {
		log.Error().Err(err).Msg("healing failed")
	}
	for i := range attempts {
		a := &attempts[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.RunID = job.ID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = o.opts.Now().UTC()
		}
		if err := o.opts.Store.SaveHealing(ctx, a); err != nil {
			log.Error().Err(err).Msg("save healing attempt")
		}
		o.opts.Metrics.HealAttempts.WithLabelValues(string(a.Outcome)).Inc()
		log.Info().Str("spec", a.SpecPath).Str("outcome", string(a.Outcome)).Str("rerun", a.RerunID).Msg("healing attempt")
	}
}

// execute runs the suite and turns the outcome into a terminal update.
func (o *Orchestrator) execute(ctx context.Context, job *RunJob, log zerolog.Logger) (Update, []RunResult) {
	art := layout(o.opts.ArtifactsDir, job.ID)
	u := Update{To: StatusFailed, FailureKind: FailureRunner, Artifacts: art}
	fail := func(err error) (Update, []RunResult) {
		u.Error = fmt.Sprintf("%s: %v", FailureRunner, err)
		u.At = o.opts.Now().UTC()
		return u, nil
	}

	if err := os.MkdirAll(art.Results, 0o755); err != nil {
		return fail(fmt.Errorf("create artifacts dir: %w", err))
	}
	stdout, err := os.Create(art.Stdout)
	if err != nil {
		return fail(err)
	}
	defer stdout.Close()
	stderr, err := os.Create(art.Stderr)
	if err != nil {
		return fail(err)
	}
	defer stderr.Close()

	runCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	start := time.Now()
	code, runErr := o.opts.Runner.Run(runCtx, Invocation{
		Target:     job.Target,
		Dir:        job.SuiteDir,
		Env:        runnerEnv(job, o.opts.Workers, art.Report, art.Results),
		ReportPath: art.Report,
		ResultsDir: art.Results,
		Stdout:     stdout,
		Stderr:     stderr,
	})
	elapsed := time.Since(start)
	o.opts.Metrics.RunDuration.Observe(elapsed.Seconds())
	log.Debug().Int("exit", code).Dur("elapsed", elapsed).Msg("runner exited")

	results, format, parseErr := o.collect(&art)
	for i := range results {
		results[i].RunID = job.ID
	}
	if format != "" {
		log.Debug().Str("format", string(format)).Int("cases", len(results)).Msg("report parsed")
	}
	u.Artifacts = art
	u.Summary = Summarize(results)
	if u.Summary.DurationMs == 0 {
		u.Summary.DurationMs = elapsed.Milliseconds()
	}

	switch {
	case errors.Is(runErr, context.DeadlineExceeded):
		u.FailureKind = FailureTimeout
		u.Error = fmt.Sprintf("%s: runner exceeded %s", FailureTimeout, o.opts.Timeout)
	case runErr != nil:
		u.FailureKind = FailureRunner
		u.Error = fmt.Sprintf("%s: %v", FailureRunner, runErr)
	case parseErr != nil && code != 0:
		u.FailureKind = FailureRunner
		u.Error = fmt.Sprintf("%s: exit status %d without a structured report", FailureRunner, code)
	case code != 0 && u.Summary.Total == 0:
		u.FailureKind = FailureRunner
		u.Error = fmt.Sprintf("%s: exit status %d with no test cases in the %s report", FailureRunner, code, format)
	case u.Summary.Failed > 0:
		u.FailureKind = FailureTest
		u.Error = fmt.Sprintf("%s: %d of %d cases failed", FailureTest, u.Summary.Failed, u.Summary.Total)
	default:
		u.To = StatusSucceeded
		u.FailureKind = FailureNone
	}

	view := *job
	view.Status, view.FailureKind, view.Error, view.Summary = u.To, u.FailureKind, u.Error, u.Summary
	summary := filepath.Join(art.Dir, "summary.html")
	if err := writeSummary(summary, &view, results); err != nil {
		log.Warn().Err(err).Msg("summary not written")
	} else {
		u.Artifacts.Summary = summary
	}
	if o.opts.Allure != nil {
		if report, err := o.opts.Allure.Generate(ctx, art); err != nil {
			log.Warn().Err(err).Msg("allure report not generated")
		} else {
			u.Artifacts.HTMLReport = report
		}
	}
	u.At = o.opts.Now().UTC()
	return u, results
}

// collect reads report.json, falling back to a report embedded in stdout.
// A report found in stdout is saved as report.json.
func (o *Orchestrator) collect(art *Artifacts) ([]RunResult, ReportFormat, error) {
	if data, err := os.ReadFile(art.Report); err == nil {
		if results, format, err := ParseReport(data); err == nil {
			return results, format, nil
		}
	}
	out, err := os.ReadFile(art.Stdout)
	if err == nil {
		if raw := ExtractReport(out); raw != nil {
			results, format, err := ParseReport(raw)
			if err == nil {
				_ = os.WriteFile(art.Report, raw, 0o644)
				return results, format, nil
			}
		}
	}
	if _, err := os.Stat(art.Report); err != nil {
		art.Report = ""
	}
	return nil, "", ErrNoReport
}
