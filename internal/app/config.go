package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the necessary configuration for an App instance to run.
// Trigger fields describe the event the run reacts to; engine fields come
// from flags merged over the optional config file and environment.
type Config struct {
	PipelinePath string // hcl file or directory

	Event        string
	Branch       string
	TargetBranch string
	SHA          string
	Inputs       map[string]string

	LogFormat   string
	LogLevel    string
	ReportPort  int
	WorkerCount int
}

// engine defaults, overridable by the config file and PIPEWRIGHT_* env vars.
const (
	defaultWorkers    = 4
	defaultReportPort = 0
)

// NewConfig validates a Config and fills engine defaults from viper: an
// optional YAML config file plus PIPEWRIGHT_-prefixed environment variables.
func NewConfig(cfg Config, configFile string) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.Event == "" {
		return nil, errors.New("Event is a required configuration field and cannot be empty")
	}

	v := viper.New()
	v.SetDefault("workers", defaultWorkers)
	v.SetDefault("report_port", defaultReportPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetEnvPrefix("PIPEWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Flags win over file/env; zero means the flag was left at its default.
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = v.GetInt("workers")
	}
	if cfg.ReportPort == 0 {
		cfg.ReportPort = v.GetInt("report_port")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = v.GetString("log_level")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = v.GetString("log_format")
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.WorkerCount)
	}

	return &cfg, nil
}
