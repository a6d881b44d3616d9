// Package config resolves download settings from defaults, an optional YAML file and
// SMARTDL_* environment variables. Command line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/smartdl/smartdl/internal/utils"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SMARTDL"

// Config holds every tunable of a download. Environment keys are SMARTDL_ followed by
// the upper-cased YAML key, e.g. SMARTDL_INACTIVITY_TIMEOUT.
type Config struct {
	Connections        int               `yaml:"connections"`
	MaxConnections     int               `yaml:"max_connections" split_words:"true"`
	DefaultConnections int               `yaml:"default_connections" split_words:"true"`
	ProbeCandidates    []int             `yaml:"probe_candidates" split_words:"true"`
	ProbeBytes         int64             `yaml:"probe_bytes" split_words:"true"`
	ProbeTimeout       time.Duration     `yaml:"probe_timeout" split_words:"true"`
	Timeout            time.Duration     `yaml:"timeout"`
	KeepAliveTimeout   time.Duration     `yaml:"keep_alive_timeout" split_words:"true"`
	InactivityTimeout  time.Duration     `yaml:"inactivity_timeout" split_words:"true"`
	Retries            int               `yaml:"retries"`
	RetryBackoff       time.Duration     `yaml:"retry_backoff" split_words:"true"`
	UserAgent          string            `yaml:"user_agent" split_words:"true"`
	Headers            map[string]string `yaml:"headers"`
	RenderInterval     time.Duration     `yaml:"render_interval" split_words:"true"`
	Debug              bool              `yaml:"debug"`
	LogFile            string            `yaml:"log_file" split_words:"true"`
}

// Default returns the built-in settings. Connections 0 means auto-tune.
func Default() Config {
	return Config{
		Connections:        0,
		MaxConnections:     utils.MaxConnections,
		DefaultConnections: utils.DefaultConnections,
		ProbeCandidates:    []int{1, 2, 3, 4},
		ProbeBytes:         utils.ProbeBytes,
		ProbeTimeout:       20 * time.Second,
		Timeout:            60 * time.Second,
		KeepAliveTimeout:   90 * time.Second,
		InactivityTimeout:  30 * time.Second,
		Retries:            5,
		RetryBackoff:       500 * time.Millisecond,
		UserAgent:          utils.ToolUserAgent,
		RenderInterval:     100 * time.Millisecond,
	}
}

// Load layers the YAML file at path (if any) and the environment over Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("error reading environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxConnections < 1 || c.MaxConnections > utils.MaxConnections {
		errs = append(errs, fmt.Errorf("max_connections must be between 1 and %d", utils.MaxConnections))
	}
	if c.Connections < 0 || c.Connections > c.MaxConnections {
		errs = append(errs, fmt.Errorf("connections must be between 1 and %d (0 to auto-tune)", c.MaxConnections))
	}
	if c.DefaultConnections < 1 || c.DefaultConnections > c.MaxConnections {
		errs = append(errs, fmt.Errorf("default_connections must be between 1 and %d", c.MaxConnections))
	}
	if len(c.ProbeCandidates) == 0 {
		errs = append(errs, errors.New("probe_candidates must not be empty"))
	}
	for _, n := range c.ProbeCandidates {
		if n < 1 || n > c.MaxConnections {
			errs = append(errs, fmt.Errorf("probe candidate %d out of range", n))
		}
	}
	if c.ProbeBytes <= 0 {
		errs = append(errs, errors.New("probe_bytes must be positive"))
	}
	if c.ProbeTimeout <= 0 || c.Timeout <= 0 || c.KeepAliveTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.InactivityTimeout < 0 {
		errs = append(errs, errors.New("inactivity_timeout must not be negative"))
	}
	if c.Retries < 1 {
		errs = append(errs, errors.New("retries must be at least 1"))
	}
	if c.RetryBackoff <= 0 || c.RenderInterval <= 0 {
		errs = append(errs, errors.New("retry_backoff and render_interval must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPClientConfig maps the settings onto the shared client configuration.
func (c Config) HTTPClientConfig(connections int) utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:         c.Timeout,
		KATimeout:       c.KeepAliveTimeout,
		UserAgent:       c.UserAgent,
		Headers:         c.Headers,
		MaxConnsPerHost: connections,
		HighThreadMode:  connections > 5,
	}
}
