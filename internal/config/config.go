// Package config loads specforge settings from specforge.yaml, a .env file
// and SPECFORGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/v0xg/specforge/internal/codegen"
	"github.com/v0xg/specforge/internal/orchestrator"
)

const EnvPrefix = "SPECFORGE"

type Config struct {
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	AI           AIConfig           `mapstructure:"ai"`
	Codegen      CodegenConfig      `mapstructure:"codegen"`
	Locators     LocatorsConfig     `mapstructure:"locators"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

type CrawlerConfig struct {
	MaxRoutes      int           `mapstructure:"max_routes"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Engine         string        `mapstructure:"engine"`
	Width          int           `mapstructure:"width"`
	Height         int           `mapstructure:"height"`
	ScreenshotsDir string        `mapstructure:"screenshots_dir"`
	Headless       bool          `mapstructure:"headless"`
	ProfileDir     string        `mapstructure:"profile_dir"`
}

type AIConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

type CodegenConfig struct {
	Out     string   `mapstructure:"out"`
	Targets []string `mapstructure:"targets"`
}

type LocatorsConfig struct {
	File string `mapstructure:"file"`
}

type StoreConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

type AllureConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HealConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OrchestratorConfig struct {
	Workers      int                                 `mapstructure:"workers"`
	Timeout      time.Duration                       `mapstructure:"timeout"`
	ArtifactsDir string                              `mapstructure:"artifacts_dir"`
	Store        StoreConfig                         `mapstructure:"store"`
	Allure       AllureConfig                        `mapstructure:"allure"`
	Heal         HealConfig                          `mapstructure:"heal"`
	Runners      map[string]orchestrator.CommandSpec `mapstructure:"runners"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	JSON       bool   `mapstructure:"json"`
}

// Load reads configuration. An empty path looks for specforge.yaml in the
// working directory; a missing file is not an error. A .env file, if
// present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("specforge")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_routes", 150)
	v.SetDefault("crawler.timeout", "30s")
	v.SetDefault("crawler.engine", "browser")
	v.SetDefault("crawler.width", 1280)
	v.SetDefault("crawler.height", 720)
	v.SetDefault("crawler.screenshots_dir", "")
	v.SetDefault("crawler.headless", true)
	v.SetDefault("crawler.profile_dir", "")

	v.SetDefault("ai.provider", "claude")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.base_url", "")

	v.SetDefault("codegen.out", "generated")
	v.SetDefault("codegen.targets", []string{"playwright-ts"})

	v.SetDefault("locators.file", "")

	v.SetDefault("orchestrator.workers", 2)
	v.SetDefault("orchestrator.timeout", "10m")
	v.SetDefault("orchestrator.artifacts_dir", ".specforge/runs")
	v.SetDefault("orchestrator.store.type", "sqlite")
	v.SetDefault("orchestrator.store.dsn", orchestrator.DefaultSQLitePath)
	v.SetDefault("orchestrator.allure.enabled", true)
	allure := orchestrator.DefaultAllure()
	v.SetDefault("orchestrator.allure.command", allure.Command)
	v.SetDefault("orchestrator.allure.args", allure.Args)
	v.SetDefault("orchestrator.allure.timeout", allure.Timeout.String())
	v.SetDefault("orchestrator.heal.enabled", false)
	v.SetDefault("orchestrator.heal.timeout", "60s")
	for target, spec := range orchestrator.DefaultCommands {
		v.SetDefault("orchestrator.runners."+target+".command", spec.Command)
		v.SetDefault("orchestrator.runners."+target+".args", spec.Args)
	}

	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.json", false)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Crawler.MaxRoutes <= 0 {
		add("crawler.max_routes must be positive, got %d", c.Crawler.MaxRoutes)
	}
	if c.Crawler.Timeout <= 0 {
		add("crawler.timeout must be positive, got %s", c.Crawler.Timeout)
	}
	switch c.Crawler.Engine {
	case "browser", "static":
	default:
		add("crawler.engine must be browser or static, got %q", c.Crawler.Engine)
	}
	if c.Crawler.Width <= 0 || c.Crawler.Height <= 0 {
		add("crawler viewport must be positive, got %dx%d", c.Crawler.Width, c.Crawler.Height)
	}

	switch strings.ToLower(c.AI.Provider) {
	case "claude", "anthropic", "openai", "gpt":
	default:
		add("ai.provider must be claude or openai, got %q", c.AI.Provider)
	}

	for _, t := range c.Codegen.Targets {
		if _, err := codegen.Lookup(t); err != nil {
			add("codegen.targets: %v", err)
		}
	}

	o := c.Orchestrator
	if o.Workers <= 0 {
		add("orchestrator.workers must be positive, got %d", o.Workers)
	}
	if o.Timeout <= 0 {
		add("orchestrator.timeout must be positive, got %s", o.Timeout)
	}
	switch strings.ToLower(o.Store.Type) {
	case "memory", "mem", "sqlite", "sqlite3", "":
	case "postgres", "postgresql":
		if o.Store.DSN == "" {
			add("orchestrator.store.dsn is required for postgres")
		}
	default:
		add("orchestrator.store.type must be memory, sqlite or postgres, got %q", o.Store.Type)
	}
	if o.Allure.Enabled && o.Allure.Command == "" {
		add("orchestrator.allure.command is empty")
	}
	if o.Heal.Timeout <= 0 {
		add("orchestrator.heal.timeout must be positive, got %s", o.Heal.Timeout)
	}
	for target, spec := range o.Runners {
		if strings.TrimSpace(spec.Command) == "" {
			add("orchestrator.runners.%s.command is empty", target)
		}
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr %q: %v", c.Metrics.Addr, err)
		}
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level: %v", err)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
}

// StoreConfig converts the store settings for orchestrator.NewStore.
func (c *Config) StoreConfig() orchestrator.StoreConfig {
	return orchestrator.StoreConfig{Type: c.Orchestrator.Store.Type, DSN: c.Orchestrator.Store.DSN}
}

// Allure returns the report generator, or nil when disabled.
func (c *Config) Allure() *orchestrator.AllureGenerator {
	a := c.Orchestrator.Allure
	if !a.Enabled {
		return nil
	}
	return &orchestrator.AllureGenerator{Command: a.Command, Args: a.Args, Timeout: a.Timeout}
}
