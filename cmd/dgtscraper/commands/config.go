package commands

import (
	"context"
	"dgtscraper/internal/components/chrono"
	"dgtscraper/internal/components/configutil"
	"dgtscraper/internal/components/telemetry"
	"dgtscraper/internal/pipeline"
	"dgtscraper/internal/scrapers/dgt"
	"dgtscraper/internal/store"
	"errors"
	"log/slog"
	"os"
	"time"
)

type RetryConfig struct {
	MaxAttempts       int `json:"max_attempts"`
	InitialIntervalMs int `json:"initial_interval_ms"`
}

type Config struct {
	BaseUrl           string           `json:"base_url"`
	UserAgent         string           `json:"user_agent"`
	TimeoutSeconds    int              `json:"timeout_seconds"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	BypassCloudflare  bool             `json:"bypass_cloudflare"`
	Retries           RetryConfig      `json:"retries"`
	Telemetry         telemetry.Config `json:"telemetry"`
	Store             store.Config     `json:"store"`
}

func defaultConfig() Config {
	return Config{
		BaseUrl:           dgt.DefaultBaseUrl,
		UserAgent:         dgt.DefaultUserAgent,
		TimeoutSeconds:    600,
		RequestsPerSecond: 2,
		Retries: RetryConfig{
			MaxAttempts:       3,
			InitialIntervalMs: 2000,
		},
		Store: store.Config{
			Driver:    store.DriverSqlite,
			Dsn:       "dgtscraper.db",
			BatchSize: store.DefaultBatchSize,
		},
	}
}

// env holds what every command shares, it is filled in by setup.
var env struct {
	config    Config
	clock     chrono.API
	tel       telemetry.API
	telemetry telemetry.Telemetry
	pipeline  pipeline.Pipeline
}

func setup(ctx context.Context, configPath string, debug bool) error {
	telemetry.InitSlog(debug)

	config, err := configutil.ReadConfig(configPath, defaultConfig())
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file, using defaults", "path", configPath)
	} else if err != nil {
		return err
	}
	env.config = config

	clock, err := chrono.NewStandardImpl()
	if err != nil {
		return err
	}
	env.clock = clock
	env.tel = telemetry.SlogAPI{}

	env.telemetry, err = telemetry.Setup(ctx, "dgtscraper", config.Telemetry)
	if err != nil {
		return err
	}

	env.pipeline, err = pipeline.New(env.tel)
	return err
}

func teardown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := env.telemetry.Shutdown(ctx); err != nil {
		slog.Warn("failed to flush traces", "err", err)
	}
}

// newSource returns the portal client wrapped in the configured retry
// policy.
func newSource() (pipeline.Source, error) {
	client, err := dgt.NewClient(
		dgt.Options{
			BaseUrl:           env.config.BaseUrl,
			UserAgent:         env.config.UserAgent,
			Timeout:           time.Duration(env.config.TimeoutSeconds) * time.Second,
			RequestsPerSecond: env.config.RequestsPerSecond,
			BypassCloudflare:  env.config.BypassCloudflare,
		},
		env.clock,
		env.tel,
	)
	if err != nil {
		return nil, err
	}
	return newRetryingSource(client, env.config.Retries), nil
}
