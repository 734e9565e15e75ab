package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/v0xg/specforge/internal/orchestrator"
)

const discoveryJSON = `{
  "baseUrl": "http://app.test",
  "routes": ["/", "/signup"],
  "forms": [],
  "scans": [
    {"url": "http://app.test/", "title": "Home", "links": ["http://app.test/signup"], "buttons": [], "fileInputs": [], "fields": []},
    {"url": "http://app.test/signup", "title": "Sign up", "links": [], "buttons": ["Create"], "fileInputs": [], "fields": []}
  ]
}`

// The runner stands in for a real framework: it writes a native report
// with one passing case to the path given as its first argument.
const workspaceConfig = `
orchestrator:
  workers: 1
  artifacts_dir: artifacts
  store:
    type: sqlite
    dsn: runs.db
  allure:
    enabled: false
  runners:
    native:
      command: /bin/sh
      args:
        - -c
        - printf '{"results":[{"name":"Page loads: /","file":"home.spec.ts","status":"passed","durationMs":5}]}' > "$0"
        - "{report}"
`

func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("specforge.yaml", []byte(workspaceConfig), 0o644))
	require.NoError(t, os.WriteFile("discovery.json", []byte(discoveryJSON), 0o644))
	return dir
}

func TestPlanThenGenerate(t *testing.T) {
	workspace(t)

	require.NoError(t, execute(t, "plan", "discovery.json", "-o", "plan.json", "--persona", "manual"))
	data, err := os.ReadFile("plan.json")
	require.NoError(t, err)
	assert.Equal(t, "http://app.test", gjson.GetBytes(data, "baseUrl").String())
	assert.NotZero(t, gjson.GetBytes(data, "cases.#").Int())

	require.NoError(t, execute(t, "locators", "set", "locators.json", "/signup", "buttons", "create", "#create"))
	require.NoError(t, execute(t, "locators", "resolve", "locators.json", "/signup/step-2", "buttons", "create"))
	assert.Error(t, execute(t, "locators", "resolve", "locators.json", "/signup", "links", "create"))
	assert.Error(t, execute(t, "locators", "set", "locators.json", "/signup", "widgets", "x", "#x"))

	require.NoError(t, execute(t, "generate", "plan.json", "--target", "playwright-ts", "--target", "cypress-js", "--out", "out", "--locators", "locators.json"))
	assert.FileExists(t, filepath.Join("out", "playwright-ts", "home.spec.ts"))
	assert.FileExists(t, filepath.Join("out", "playwright-ts", "playwright.config.ts"))
	assert.DirExists(t, filepath.Join("out", "cypress-js"))

	err = execute(t, "generate", "plan.json", "--target", "playwright-ts", "--out", filepath.Join("out", "playwright-ts"))
	assert.ErrorContains(t, err, "nested")
}

func TestGenerateRefusesInvalidPlan(t *testing.T) {
	workspace(t)
	require.NoError(t, os.WriteFile("plan.json", []byte(`{"baseUrl": "", "cases": []}`), 0o644))
	err := execute(t, "generate", "plan.json", "--out", "out")
	assert.ErrorContains(t, err, "invalid plan")
	assert.NoDirExists(t, "out")
}

func TestRunWaitRecordsResults(t *testing.T) {
	dir := workspace(t)
	require.NoError(t, os.MkdirAll("suite", 0o755))

	require.NoError(t, execute(t, "run", "suite", "--target", "native", "--base-url", "http://app.test", "--wait"))
	require.NoError(t, execute(t, "status"))

	store, err := orchestrator.NewStore(orchestrator.StoreConfig{Type: "sqlite", DSN: filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	defer store.Close()
	jobs, err := store.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, orchestrator.StatusSucceeded, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Summary.Passed)
	assert.FileExists(t, filepath.Join(jobs[0].Artifacts.Dir, "summary.html"))

	require.NoError(t, execute(t, "status", jobs[0].ID))
}

func TestRunWithoutWaitOnlyQueues(t *testing.T) {
	dir := workspace(t)
	require.NoError(t, os.MkdirAll("suite", 0o755))
	require.NoError(t, execute(t, "run", "suite", "--target", "native", "--base-url", "http://app.test"))

	store, err := orchestrator.NewStore(orchestrator.StoreConfig{Type: "sqlite", DSN: filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	defer store.Close()
	jobs, err := store.List(context.Background(), orchestrator.StatusQueued, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestInvalidConfigIsReported(t *testing.T) {
	workspace(t)
	t.Setenv("SPECFORGE_CRAWLER_ENGINE", "lynx")
	err := execute(t, "plan", "discovery.json")
	assert.ErrorContains(t, err, "crawler.engine")
}
