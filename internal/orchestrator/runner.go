package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Invocation is everything a runner needs to execute one suite.
type Invocation struct {
	Target     string
	Dir        string
	Env        []string
	ReportPath string
	ResultsDir string
	Stdout     io.Writer
	Stderr     io.Writer
}

// Runner executes a suite and reports the process exit code. A non-nil
// error means the runner could not start or complete; test failures are
// signalled only through a non-zero exit code.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// CommandSpec is the command line for one target. Args may contain the
// placeholders {report}, {results} and {dir}.
type CommandSpec struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// DefaultCommands maps each generated target to its test runner.
var DefaultCommands = map[string]CommandSpec{
	"playwright-ts": {Command: "npx", Args: []string{"playwright", "test", "--config", "playwright.config.ts"}},
	"cypress-js":    {Command: "npx", Args: []string{"cypress", "run", "--reporter", "json"}},
	"cucumber-js":   {Command: "npx", Args: []string{"cucumber-js", "features", "--require", "support/steps.js", "--format", "json:{report}"}},
	"appium-js":     {Command: "npx", Args: []string{"mocha", "*.spec.js", "--timeout", "120000", "--reporter", "json"}},
	"xctest":        {Command: "xcodebuild", Args: []string{"test", "-scheme", "SpecforgeUITests", "-resultBundlePath", "{results}/xctest.xcresult"}},
}

// ExecRunner runs targets as child processes.
type ExecRunner struct {
	Commands map[string]CommandSpec
}

func NewExecRunner(overrides map[string]CommandSpec) *ExecRunner {
	cmds := make(map[string]CommandSpec, len(DefaultCommands))
	for k, v := range DefaultCommands {
		cmds[k] = v
	}
	for k, v := range overrides {
		if v.Command != "" {
			cmds[k] = v
		}
	}
	return &ExecRunner{Commands: cmds}
}

func expandArgs(args []string, inv Invocation) []string {
	r := strings.NewReplacer("{report}", inv.ReportPath, "{results}", inv.ResultsDir, "{dir}", inv.Dir)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	spec, ok := r.Commands[inv.Target]
	if !ok {
		return -1, fmt.Errorf("no runner command for target %q", inv.Target)
	}
	cmd := exec.CommandContext(ctx, spec.Command, expandArgs(spec.Args, inv)...)
	cmd.Dir = inv.Dir
	cmd.Env = append(runnerPath(inv.Dir), inv.Env...)
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() < 0 {
			return -1, fmt.Errorf("%s terminated: %w", spec.Command, err)
		}
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	return 0, nil
}

// runnerPath is the process environment with the suite's local
// node_modules/.bin ahead of PATH.
func runnerPath(dir string) []string {
	env := os.Environ()
	bin := filepath.Join(dir, "node_modules", ".bin")
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + bin + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+bin)
}

// runnerEnv is the environment contract every generated suite reads.
func runnerEnv(job *RunJob, workers int, reportPath, resultsDir string) []string {
	return []string{
		"BASE_URL=" + job.BaseURL,
		"TM_BASE_URL=" + job.BaseURL,
		fmt.Sprintf("SPECFORGE_WORKERS=%d", workers),
		"PLAYWRIGHT_JSON_OUTPUT_NAME=" + reportPath,
		"ALLURE_RESULTS_DIR=" + resultsDir,
		"SPECFORGE_RUN_ID=" + job.ID,
	}
}
