package config

import (
	"strings"
	"testing"
	"time"
)

const sample = `
upstream:
  repository_url: https://github.com/example/upstream
  default_ref: master
  poll_interval: 5m
release:
  owner: example
  repo: upstream-releases
  token_env: RELEASE_TOKEN
build:
  image: golang:1.22
  command: ["make", "package"]
  output_path: /workspace/dist/app.zip
kafka:
  bootstrap_servers: localhost:9092
redis:
  addr: localhost:6379
postgres:
  dsn: postgresql://postgres:@localhost:5432/releasebot?sslmode=disable
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Upstream.RepositoryURL != "https://github.com/example/upstream" {
		t.Fatalf("unexpected upstream URL: %q", cfg.Upstream.RepositoryURL)
	}
	if cfg.Upstream.DefaultRef != "master" {
		t.Fatalf("unexpected default ref: %q", cfg.Upstream.DefaultRef)
	}
	if cfg.Upstream.PollInterval.Std() != 5*time.Minute {
		t.Fatalf("unexpected poll interval: %v", cfg.Upstream.PollInterval)
	}
}

func TestParseDefaults(t *testing.T) {
	minimal := strings.Replace(sample, "  default_ref: master\n", "", 1)
	minimal = strings.Replace(minimal, "  poll_interval: 5m\n", "", 1)
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Upstream.DefaultRef != "main" {
		t.Fatalf("default ref not applied: %q", cfg.Upstream.DefaultRef)
	}
	if cfg.Upstream.PollInterval.Std() != 15*time.Minute {
		t.Fatalf("poll interval default not applied: %v", cfg.Upstream.PollInterval)
	}
	if cfg.Kafka.Topic != "release-build-requests" {
		t.Fatalf("kafka topic default not applied: %q", cfg.Kafka.Topic)
	}
	if cfg.Build.Concurrency != 3 {
		t.Fatalf("build concurrency default not applied: %d", cfg.Build.Concurrency)
	}
}

func TestParseTokenFromEnv(t *testing.T) {
	t.Setenv("RELEASE_TOKEN", "tok-123")
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Release.Token() != "tok-123" {
		t.Fatalf("token not resolved from env: %q", cfg.Release.Token())
	}
}

func TestParseRejectsMissingRequired(t *testing.T) {
	cases := []struct {
		name string
		drop string
	}{
		{"no upstream url", "  repository_url: https://github.com/example/upstream\n"},
		{"no release owner", "  owner: example\n"},
		{"no build image", "  image: golang:1.22\n"},
		{"no build command", "  command: [\"make\", \"package\"]\n"},
		{"no output path", "  output_path: /workspace/dist/app.zip\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := strings.Replace(sample, tc.drop, "", 1)
			if broken == sample {
				t.Fatalf("test setup: nothing removed for %q", tc.drop)
			}
			if _, err := Parse([]byte(broken)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
