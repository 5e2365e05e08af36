// Package config loads the orchestrator configuration from YAML, with the
// release token taken from the environment so it never lands in a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"15m\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration shared by both services.
type Config struct {
	Upstream   Upstream   `yaml:"upstream"`
	Validation Validation `yaml:"validation"`
	Dispatch   Dispatch   `yaml:"dispatch"`
	Build      Build      `yaml:"build"`
	Release    Release    `yaml:"release"`
	Kafka      Kafka      `yaml:"kafka"`
	Redis      Redis      `yaml:"redis"`
	Postgres   Postgres   `yaml:"postgres"`
	HTTP       HTTP       `yaml:"http"`
}

type Upstream struct {
	RepositoryURL string   `yaml:"repository_url"`
	DefaultRef    string   `yaml:"default_ref"`
	PollInterval  Duration `yaml:"poll_interval"`
}

type Validation struct {
	// Strict turns the missing-ref fallback into a hard rejection.
	Strict bool `yaml:"strict"`
}

type Dispatch struct {
	// ReservationTTL bounds how long a versionRef stays reserved while its
	// build is in flight.
	ReservationTTL Duration `yaml:"reservation_ttl"`
}

type Build struct {
	Image       string   `yaml:"image"`
	Command     []string `yaml:"command"`
	OutputPath  string   `yaml:"output_path"`
	Timeout     Duration `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
}

type Release struct {
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	TokenEnv string `yaml:"token_env"`

	token string
}

// Token returns the release token resolved at load time.
func (r Release) Token() string { return r.token }

type Kafka struct {
	BootstrapServers string `yaml:"bootstrap_servers"`
	Topic            string `yaml:"topic"`
	GroupID          string `yaml:"group_id"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

// Load reads and validates a YAML config file, then applies defaults and
// resolves the release token from the environment.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a raw YAML payload.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.Release.TokenEnv != "" {
		cfg.Release.token = os.Getenv(cfg.Release.TokenEnv)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Upstream.DefaultRef == "" {
		c.Upstream.DefaultRef = "main"
	}
	if c.Upstream.PollInterval == 0 {
		c.Upstream.PollInterval = Duration(15 * time.Minute)
	}
	if c.Dispatch.ReservationTTL == 0 {
		c.Dispatch.ReservationTTL = Duration(2 * time.Hour)
	}
	if c.Build.Timeout == 0 {
		c.Build.Timeout = Duration(30 * time.Minute)
	}
	if c.Build.Concurrency == 0 {
		c.Build.Concurrency = 3
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "release-build-requests"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "wf-release-builder-group"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Upstream.RepositoryURL == "" {
		return fmt.Errorf("config: upstream.repository_url is required")
	}
	if c.Release.Owner == "" || c.Release.Repo == "" {
		return fmt.Errorf("config: release.owner and release.repo are required")
	}
	if c.Build.Image == "" {
		return fmt.Errorf("config: build.image is required")
	}
	if len(c.Build.Command) == 0 {
		return fmt.Errorf("config: build.command is required")
	}
	if c.Build.OutputPath == "" {
		return fmt.Errorf("config: build.output_path is required")
	}
	return nil
}
