// Package config loads controller and regulator settings: package defaults,
// then an optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/critic"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/engine"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/llm"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/memory"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/pressure"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/regulator"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/review"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/router"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/websearch"
)

// #region env
const (
	EnvDB        = "COGCTL_DB"
	EnvCodecAddr = "CODEC_ADDR"
	EnvLogLevel  = "COGCTL_LOG_LEVEL"
	EnvAPIKey    = "ANTHROPIC_API_KEY"
	EnvMetrics   = "COGCTL_METRICS_ADDR"
)

// #endregion env

// #region config
// Config bundles every component's settings.
type Config struct {
	DBPath      string `yaml:"db_path"`
	CodecAddr   string `yaml:"codec_addr"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the metrics listener

	// Classifier picks the tie-break, critic and review backend: "codec"
	// or "anthropic". Anthropic needs an API key.
	Classifier string `yaml:"classifier"`
	APIKey     string `yaml:"-"`

	BoundaryTTL    time.Duration `yaml:"boundary_ttl"`    // idle thread state expiry
	RegulatorEvery time.Duration `yaml:"regulator_every"` // regulator tick

	Engine    engine.Config           `yaml:"engine"`
	Signals   signals.CollectorConfig `yaml:"signals"`
	Router    router.Config           `yaml:"router"`
	Act       act.Config              `yaml:"act"`
	Critic    critic.Config           `yaml:"critic"`
	Memory    memory.Config           `yaml:"memory"`
	Pressure  pressure.Config         `yaml:"pressure"`
	Review    review.Config           `yaml:"review"`
	Regulator regulator.Config        `yaml:"regulator"`
	Anthropic llm.AnthropicConfig     `yaml:"anthropic"`
	WebSearch websearch.Config        `yaml:"web_search"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath:         "cogctl.db",
		CodecAddr:      "localhost:50051",
		LogLevel:       "info",
		MetricsAddr:    ":9464",
		Classifier:     "codec",
		BoundaryTTL:    6 * time.Hour,
		RegulatorEvery: 10 * time.Minute,
		Engine:         engine.DefaultConfig(),
		Signals:        signals.DefaultCollectorConfig(),
		Router:         router.DefaultConfig(),
		Act:            act.DefaultConfig(),
		Critic:         critic.DefaultConfig(),
		Memory:         memory.DefaultConfig(),
		Pressure:       pressure.DefaultConfig(),
		Review:         review.DefaultConfig(),
		Regulator:      regulator.DefaultConfig(),
		Anthropic:      llm.DefaultAnthropicConfig(),
		WebSearch:      websearch.DefaultConfig(),
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = envOr(EnvDB, c.DBPath)
	c.CodecAddr = envOr(EnvCodecAddr, c.CodecAddr)
	c.LogLevel = envOr(EnvLogLevel, c.LogLevel)
	c.MetricsAddr = envOr(EnvMetrics, c.MetricsAddr)
	c.APIKey = envOr(EnvAPIKey, c.APIKey)
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is empty"))
	}
	switch c.Classifier {
	case "codec":
		if c.CodecAddr == "" {
			errs = append(errs, errors.New("codec classifier needs codec_addr"))
		}
	case "anthropic":
		if c.APIKey == "" {
			errs = append(errs, fmt.Errorf("anthropic classifier needs %s", EnvAPIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown classifier %q", c.Classifier))
	}
	if c.RegulatorEvery <= 0 {
		errs = append(errs, errors.New("regulator_every must be positive"))
	}
	if c.Regulator.LeaseTTL <= c.RegulatorEvery/2 {
		errs = append(errs, errors.New("regulator.lease_ttl must exceed half of regulator_every"))
	}
	if c.Act.MaxIterations <= 0 {
		errs = append(errs, errors.New("act.max_iterations must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// #endregion config

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
