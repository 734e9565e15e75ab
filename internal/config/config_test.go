package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray
// specforge.yaml or .env is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 150, cfg.Crawler.MaxRoutes)
	assert.Equal(t, 30*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, "browser", cfg.Crawler.Engine)
	assert.True(t, cfg.Crawler.Headless)
	assert.Equal(t, "claude", cfg.AI.Provider)
	assert.Equal(t, []string{"playwright-ts"}, cfg.Codegen.Targets)
	assert.Equal(t, 2, cfg.Orchestrator.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Orchestrator.Timeout)
	assert.Equal(t, "sqlite", cfg.Orchestrator.Store.Type)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.Heal.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.Allure.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)

	pw, ok := cfg.Orchestrator.Runners["playwright-ts"]
	require.True(t, ok)
	assert.Equal(t, "npx", pw.Command)
	assert.Contains(t, pw.Args, "playwright")
	assert.Len(t, cfg.Orchestrator.Runners, 5)

	require.NotNil(t, cfg.Allure())
	assert.Equal(t, "npx", cfg.Allure().Command)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specforge.yaml"), []byte(`
crawler:
  engine: static
  max_routes: 20
codegen:
  targets: [cypress-js, cucumber-js]
orchestrator:
  store:
    type: memory
  allure:
    enabled: false
  runners:
    playwright-ts:
      command: ./run-e2e.sh
      args: ["--json", "{report}"]
`), 0o644))
	t.Setenv("SPECFORGE_CRAWLER_MAX_ROUTES", "7")
	t.Setenv("SPECFORGE_ORCHESTRATOR_WORKERS", "4")
	t.Setenv("SPECFORGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "static", cfg.Crawler.Engine)
	assert.Equal(t, 7, cfg.Crawler.MaxRoutes, "env beats file")
	assert.Equal(t, 4, cfg.Orchestrator.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"cypress-js", "cucumber-js"}, cfg.Codegen.Targets)
	assert.Equal(t, "memory", cfg.StoreConfig().Type)
	assert.Nil(t, cfg.Allure())
	assert.Equal(t, "./run-e2e.sh", cfg.Orchestrator.Runners["playwright-ts"].Command)
	assert.Equal(t, []string{"--json", "{report}"}, cfg.Orchestrator.Runners["playwright-ts"].Args)
	assert.Equal(t, "npx", cfg.Orchestrator.Runners["cypress-js"].Command)
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SPECFORGE_AI_PROVIDER=openai\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("SPECFORGE_AI_PROVIDER") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.AI.Provider)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	inTempDir(t)
	_, err := Load("nope.yaml")
	assert.ErrorContains(t, err, "read config")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	inTempDir(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Crawler.MaxRoutes = 0
	cfg.Crawler.Engine = "lynx"
	cfg.AI.Provider = "llama"
	cfg.Codegen.Targets = []string{"selenium"}
	cfg.Orchestrator.Workers = -1
	cfg.Orchestrator.Store.Type = "postgres"
	cfg.Orchestrator.Store.DSN = ""
	cfg.Metrics.Addr = "9464"
	cfg.Log.Level = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"crawler.max_routes",
		"crawler.engine",
		"ai.provider",
		`unknown target "selenium"`,
		"orchestrator.workers",
		"orchestrator.store.dsn is required for postgres",
		"metrics.addr",
		"log.level",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
