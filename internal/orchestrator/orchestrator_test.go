package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, inv Invocation) (int, error)

func (f runnerFunc) Run(ctx context.Context, inv Invocation) (int, error) { return f(ctx, inv) }

// nativeRunner writes a native report with the given statuses and exits
// with code.
func nativeRunner(code int, statuses ...ResultStatus) runnerFunc {
	return func(_ context.Context, inv Invocation) (int, error) {
		var rows []string
		for i, s := range statuses {
			rows = append(rows, fmt.Sprintf(`{"name": "case %d", "file": "home.spec.ts", "status": %q, "durationMs": 10}`, i+1, s))
		}
		report := `{"results": [` + strings.Join(rows, ",") + `]}`
		if err := os.WriteFile(inv.ReportPath, []byte(report), 0o644); err != nil {
			return -1, err
		}
		if err := os.WriteFile(filepath.Join(inv.ResultsDir, "result.json"), []byte("{}"), 0o644); err != nil {
			return -1, err
		}
		return code, nil
	}
}

func newOrchestrator(t *testing.T, runner Runner, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Store:        NewMemoryStore(),
		Runner:       runner,
		Workers:      2,
		Timeout:      10 * time.Second,
		ArtifactsDir: t.TempDir(),
		Logger:       zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

func shRunner(target, script string) *ExecRunner {
	return NewExecRunner(map[string]CommandSpec{target: {Command: "/bin/sh", Args: []string{"-c", script}}})
}

func enqueueAndProcess(t *testing.T, o *Orchestrator, req EnqueueRequest) *RunJob {
	t.Helper()
	ctx := context.Background()
	job, err := o.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	done, err := o.Process(ctx, job.ID)
	require.NoError(t, err)
	return done
}

func fivePlaywrightCases() string {
	var specs []string
	for i := 1; i <= 5; i++ {
		status, result := "expected", "passed"
		if i == 3 {
			status, result = "unexpected", "failed"
		}
		specs = append(specs, fmt.Sprintf(
			`{"title": "case %d", "file": "home.spec.ts", "tests": [{"status": %q, "results": [{"status": %q, "duration": 20}]}]}`,
			i, status, result))
	}
	return `{"suites": [{"title": "home.spec.ts", "file": "home.spec.ts", "specs": [` + strings.Join(specs, ",") + `]}]}`
}

func TestOneFailedCaseOfFive(t *testing.T) {
	suite := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(suite, "fixture.json"), []byte(fivePlaywrightCases()), 0o644))
	runner := shRunner("playwright-ts", `cp fixture.json "$PLAYWRIGHT_JSON_OUTPUT_NAME"; echo "base=$TM_BASE_URL workers=$SPECFORGE_WORKERS"; exit 1`)
	o := newOrchestrator(t, runner)

	done := enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: suite, Target: "playwright-ts", BaseURL: "https://example.com"})
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, FailureTest, done.FailureKind)
	assert.True(t, strings.HasPrefix(done.Error, "test_failure:"), done.Error)
	assert.Equal(t, Summary{Total: 5, Passed: 4, Failed: 1, DurationMs: 100}, done.Summary)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)

	results, err := o.Store().Results(context.Background(), done.ID)
	require.NoError(t, err)
	require.Len(t, results, 5)
	var failing []string
	for _, r := range results {
		if !r.Status.Passing() {
			failing = append(failing, r.Name)
		}
	}
	assert.Equal(t, []string{"home.spec.ts > case 3"}, failing)

	art := done.Artifacts
	assert.FileExists(t, art.Report)
	assert.DirExists(t, art.Results)
	assert.FileExists(t, art.Summary)
	stdout, err := os.ReadFile(art.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "base=https://example.com workers=2\n", string(stdout))
	html, err := os.ReadFile(art.Summary)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
	assert.Contains(t, string(html), "home.spec.ts &gt; case 3")
	assert.Empty(t, art.HTMLReport)

	_, err = o.Process(context.Background(), done.ID)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestFailureKinds(t *testing.T) {
	cases := []struct {
		name    string
		runner  Runner
		timeout time.Duration
		status  Status
		kind    FailureKind
		prefix  string
	}{
		{
			name:    "timeout",
			runner:  shRunner("playwright-ts", "exec sleep 5"),
			timeout: 300 * time.Millisecond,
			status:  StatusFailed,
			kind:    FailureTimeout,
			prefix:  "timeout: runner exceeded 300ms",
		},
		{
			name:   "missing binary",
			runner: NewExecRunner(map[string]CommandSpec{"playwright-ts": {Command: "/nonexistent/specforge-runner"}}),
			status: StatusFailed,
			kind:   FailureRunner,
			prefix: "runner_error: start /nonexistent/specforge-runner",
		},
		{
			name:   "crash without report",
			runner: shRunner("playwright-ts", "echo boom >&2; exit 2"),
			status: StatusFailed,
			kind:   FailureRunner,
			prefix: "runner_error: exit status 2 without a structured report",
		},
		{
			name:   "unknown target",
			runner: NewExecRunner(nil),
			status: StatusFailed,
			kind:   FailureRunner,
			prefix: "runner_error: no runner command",
		},
		{
			name:   "failing exit with an empty report",
			runner: shRunner("playwright-ts", `echo '{"suites": []}' > "$PLAYWRIGHT_JSON_OUTPUT_NAME"; exit 1`),
			status: StatusFailed,
			kind:   FailureRunner,
			prefix: "runner_error: exit status 1 with no test cases in the playwright report",
		},
		{
			name:   "spec that fails to load",
			runner: shRunner("playwright-ts", `echo '{"suites": [], "errors": [{"message": "SyntaxError: home.spec.ts", "location": {"file": "home.spec.ts"}}]}' > "$PLAYWRIGHT_JSON_OUTPUT_NAME"; exit 1`),
			status: StatusFailed,
			kind:   FailureTest,
			prefix: "test_failure: 1 of 1 cases failed",
		},
		{
			name:   "clean exit without report",
			runner: shRunner("playwright-ts", "exit 0"),
			status: StatusSucceeded,
			kind:   FailureNone,
		},
		{
			name:   "skipped cases pass",
			runner: nativeRunner(0, ResultPassed, ResultSkipped),
			status: StatusSucceeded,
			kind:   FailureNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrchestrator(t, tc.runner, func(opts *Options) {
				if tc.timeout > 0 {
					opts.Timeout = tc.timeout
				}
			})
			target := "playwright-ts"
			if tc.name == "unknown target" {
				target = "nope"
			}
			done := enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: t.TempDir(), Target: target})
			assert.Equal(t, tc.status, done.Status)
			assert.Equal(t, tc.kind, done.FailureKind)
			assert.True(t, strings.HasPrefix(done.Error, tc.prefix), "error %q", done.Error)
		})
	}
}

func TestReportFromStdout(t *testing.T) {
	suite := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(suite, "mocha.json"), []byte(mochaReport), 0o644))
	o := newOrchestrator(t, shRunner("cypress-js", "echo '[info] spec run'; cat mocha.json; echo; echo 'Done'; exit 1"))

	done := enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: suite, Target: "cypress-js"})
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, FailureTest, done.FailureKind)
	assert.Equal(t, 3, done.Summary.Total)
	assert.FileExists(t, done.Artifacts.Report)
}

func TestAllureIsNonFatal(t *testing.T) {
	broken := &AllureGenerator{Command: "/bin/sh", Args: []string{"-c", "echo allure broke; exit 3"}, Timeout: 5 * time.Second}
	o := newOrchestrator(t, nativeRunner(0, ResultPassed), func(opts *Options) { opts.Allure = broken })

	done := enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Empty(t, done.Artifacts.HTMLReport)
	stderr, err := os.ReadFile(done.Artifacts.Stderr)
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "[allure]")
	assert.Contains(t, string(stderr), "allure broke")

	working := &AllureGenerator{Command: "/bin/sh", Args: []string{"-c", `mkdir -p "$0"`, "{report}"}, Timeout: 5 * time.Second}
	o = newOrchestrator(t, nativeRunner(1, ResultFailed), func(opts *Options) { opts.Allure = working })
	done = enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, filepath.Join(done.Artifacts.Dir, "report"), done.Artifacts.HTMLReport)
	assert.DirExists(t, done.Artifacts.HTMLReport)
}

// recordingStore remembers every status a job was observed in.
type recordingStore struct {
	Store
	mu  sync.Mutex
	seq map[string][]Status
}

func (r *recordingStore) Create(ctx context.Context, job *RunJob) error {
	if err := r.Store.Create(ctx, job); err != nil {
		return err
	}
	r.mu.Lock()
	r.seq[job.ID] = append(r.seq[job.ID], job.Status)
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) UpdateStatus(ctx context.Context, id string, from Status, u Update) (*RunJob, error) {
	j, err := r.Store.UpdateStatus(ctx, id, from, u)
	if err == nil {
		r.mu.Lock()
		r.seq[id] = append(r.seq[id], j.Status)
		r.mu.Unlock()
	}
	return j, err
}

func TestPoolStatusSequences(t *testing.T) {
	store := &recordingStore{Store: NewMemoryStore(), seq: map[string][]Status{}}
	var calls int32
	runner := runnerFunc(func(ctx context.Context, inv Invocation) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n%2 == 0 {
			return nativeRunner(1, ResultPassed, ResultFailed)(ctx, inv)
		}
		return nativeRunner(0, ResultPassed)(ctx, inv)
	})
	o := newOrchestrator(t, runner, func(opts *Options) {
		opts.Store = store
		opts.Workers = 3
	})

	ctx := context.Background()
	// Jobs queued before Start are picked up from the store.
	early, err := o.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	for i := 0; i < 5; i++ {
		_, err := o.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
		require.NoError(t, err)
	}
	o.Wait()
	o.Stop()

	assert.EqualValues(t, 6, atomic.LoadInt32(&calls))
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.seq, 6)
	assert.Contains(t, store.seq, early.ID)
	for id, seq := range store.seq {
		require.Len(t, seq, 3, id)
		assert.Equal(t, []Status{StatusQueued, StatusRunning}, seq[:2], id)
		assert.True(t, seq[2].Terminal(), id)
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(o.Metrics().RunsEnqueued))
	assert.Equal(t, 0.0, testutil.ToFloat64(o.Metrics().RunsInFlight))
}

type fakeHealer struct {
	o     *Orchestrator
	calls int32
}

func (f *fakeHealer) HealRun(ctx context.Context, job *RunJob, results []RunResult) ([]HealingAttempt, error) {
	atomic.AddInt32(&f.calls, 1)
	rerun, err := f.o.Enqueue(ctx, EnqueueRequest{
		SuiteDir: job.SuiteDir, Target: job.Target, BaseURL: job.BaseURL, Heal: true, ParentID: job.ID,
	})
	if err != nil {
		return nil, err
	}
	return []HealingAttempt{{SpecPath: results[0].File, Outcome: HealApplied, RerunID: rerun.ID}}, nil
}

func TestRequeuePendingPicksUpOtherProducers(t *testing.T) {
	store := NewMemoryStore()
	shared := func(opts *Options) { opts.Store = store }
	producer := newOrchestrator(t, nativeRunner(0, ResultPassed), shared)
	worker := newOrchestrator(t, nativeRunner(0, ResultPassed), shared)

	ctx := context.Background()
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop()

	job, err := producer.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "native"})
	require.NoError(t, err)

	n, err := worker.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	worker.Wait()

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)

	n, err = worker.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealHookRunsOncePerFailure(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(1, ResultFailed))
	healer := &fakeHealer{o: o}
	o.SetHealer(healer)

	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	job, err := o.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts", Heal: true})
	require.NoError(t, err)
	o.Wait()
	o.Stop()

	assert.EqualValues(t, 1, atomic.LoadInt32(&healer.calls))
	attempts, err := o.Store().Healings(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, HealApplied, attempts[0].Outcome)
	assert.NotEmpty(t, attempts[0].ID)

	rerun, err := o.Store().Get(ctx, attempts[0].RerunID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, rerun.ParentID)
	assert.False(t, rerun.Heal)
	assert.Equal(t, StatusFailed, rerun.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().HealAttempts.WithLabelValues("applied")))
}

func TestHealHookNeedsOptIn(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(1, ResultFailed))
	healer := &fakeHealer{o: o}
	o.SetHealer(healer)

	enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
	assert.Zero(t, atomic.LoadInt32(&healer.calls))

	o = newOrchestrator(t, nativeRunner(0, ResultPassed))
	healer = &fakeHealer{o: o}
	o.SetHealer(healer)
	enqueueAndProcess(t, o, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts", Heal: true})
	assert.Zero(t, atomic.LoadInt32(&healer.calls))
}

func TestHealedRerunsNeverBlockWorkers(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(1, ResultFailed), func(opts *Options) { opts.Workers = 1 })
	healer := &fakeHealer{o: o}
	o.SetHealer(healer)

	ctx := context.Background()
	const jobs = 110
	for i := 0; i < jobs; i++ {
		_, err := o.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts", Heal: true})
		require.NoError(t, err)
	}
	require.NoError(t, o.Start(ctx))

	finished := make(chan struct{})
	go func() {
		o.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(30 * time.Second):
		t.Fatal("pool did not drain")
	}
	o.Stop()

	assert.EqualValues(t, jobs, atomic.LoadInt32(&healer.calls))
	queued, err := o.Store().List(ctx, StatusQueued, 0)
	require.NoError(t, err)
	assert.Empty(t, queued)
	all, err := o.Store().List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2*jobs)
}

func TestEnqueueAfterStopLeavesRunQueued(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(0, ResultPassed))
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	o.Stop()

	var job *RunJob
	require.NotPanics(t, func() {
		var err error
		job, err = o.Enqueue(ctx, EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
		require.NoError(t, err)
	})
	got, err := o.Store().Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestPoolSubmitRacingStop(t *testing.T) {
	p := NewWorkerPool(2, zerolog.Nop())
	p.Start(context.Background())
	noop := func(context.Context, int) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				p.Submit(noop)
			}
		}()
	}
	assert.NotPanics(t, p.Stop)
	wg.Wait()
	assert.False(t, p.Submit(noop))
}

func TestPoolSubmitDoesNotBlockWhenFull(t *testing.T) {
	p := NewWorkerPool(1, zerolog.Nop())
	release := make(chan struct{})
	p.Start(context.Background())
	defer p.Stop()
	defer close(release)

	blocking := func(context.Context, int) error { <-release; return nil }
	accepted := 0
	for i := 0; i < 200; i++ {
		if p.Submit(blocking) {
			accepted++
		}
	}
	assert.Less(t, accepted, 200)
	assert.GreaterOrEqual(t, accepted, 100)
}

func TestProcessHonoursCancelledContext(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(0, ResultPassed))
	job, err := o.Enqueue(context.Background(), EnqueueRequest{SuiteDir: t.TempDir(), Target: "playwright-ts"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Process(ctx, job.ID)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := o.Store().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestEnqueueValidation(t *testing.T) {
	o := newOrchestrator(t, nativeRunner(0))
	_, err := o.Enqueue(context.Background(), EnqueueRequest{Target: "playwright-ts"})
	assert.Error(t, err)
	_, err = o.Enqueue(context.Background(), EnqueueRequest{SuiteDir: t.TempDir()})
	assert.Error(t, err)

	_, err = New(Options{Runner: nativeRunner(0)})
	assert.Error(t, err)
}

func TestRunnerEnv(t *testing.T) {
	env := runnerEnv(&RunJob{ID: "r1", BaseURL: "http://localhost:3000"}, 4, "/runs/r1/report.json", "/runs/r1/results")
	assert.Contains(t, env, "BASE_URL=http://localhost:3000")
	assert.Contains(t, env, "TM_BASE_URL=http://localhost:3000")
	assert.Contains(t, env, "SPECFORGE_WORKERS=4")
	assert.Contains(t, env, "PLAYWRIGHT_JSON_OUTPUT_NAME=/runs/r1/report.json")
	assert.Contains(t, env, "ALLURE_RESULTS_DIR=/runs/r1/results")

	args := expandArgs([]string{"--format", "json:{report}", "{results}/x"}, Invocation{ReportPath: "/r.json", ResultsDir: "/res"})
	assert.Equal(t, []string{"--format", "json:/r.json", "/res/x"}, args)
}
