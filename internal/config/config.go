// Package config loads runtime settings from the environment and the
// declarative pipelines/jobs file that seeds the scheduler at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedpulse/feedpulse/internal/scheduler"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string

	// Redis
	RedisAddr string

	// Server
	ServerPort string

	// Startup pipelines and jobs
	PipelinesFile string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		DatabaseURL:   getEnv("DATABASE_URL", "postgres://localhost/feedpulse?sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		PipelinesFile: getEnv("PIPELINES_FILE", "pipelines.yaml"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type SourceConfig struct {
	Name     string         `yaml:"name"`
	Upstream string         `yaml:"upstream"`
	FeedURL  string         `yaml:"feed_url"`
	Params   map[string]any `yaml:"params"`
}

type PipelineConfig struct {
	Name          string         `yaml:"name"`
	CachePrefixes []string       `yaml:"cache_prefixes"`
	Sources       []SourceConfig `yaml:"sources"`
}

type JobConfig struct {
	ID       string `yaml:"id"`
	Pipeline string `yaml:"pipeline"`
	Cron     string `yaml:"cron"`
	Interval string `yaml:"interval"`
}

// File is the parsed pipelines/jobs declaration.
type File struct {
	Pipelines []PipelineConfig `yaml:"pipelines"`
	Jobs      []JobConfig      `yaml:"jobs"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipelines file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pipelines file: %w", err)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

func (f *File) validate() error {
	names := make(map[string]bool, len(f.Pipelines))
	for _, p := range f.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline without a name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate pipeline %q", p.Name)
		}
		names[p.Name] = true

		if len(p.Sources) == 0 {
			return fmt.Errorf("pipeline %q has no sources", p.Name)
		}
		for _, s := range p.Sources {
			if s.Name == "" || s.Upstream == "" {
				return fmt.Errorf("pipeline %q has a source without name or upstream", p.Name)
			}
		}
	}

	for _, j := range f.Jobs {
		if j.ID == "" {
			return fmt.Errorf("job without an id")
		}
		if !names[j.Pipeline] {
			return fmt.Errorf("job %q references unknown pipeline %q", j.ID, j.Pipeline)
		}
		if _, err := j.Trigger(); err != nil {
			return fmt.Errorf("job %q: %w", j.ID, err)
		}
	}

	return nil
}

// Trigger builds the scheduler trigger a job declares. Exactly one of
// cron or interval must be set.
func (j JobConfig) Trigger() (scheduler.Trigger, error) {
	switch {
	case j.Cron != "" && j.Interval != "":
		return nil, fmt.Errorf("cron and interval are mutually exclusive")
	case j.Cron != "":
		return scheduler.NewCron(j.Cron)
	case j.Interval != "":
		every, err := time.ParseDuration(j.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %w", err)
		}
		return scheduler.NewInterval(every)
	default:
		return nil, fmt.Errorf("either cron or interval is required")
	}
}
