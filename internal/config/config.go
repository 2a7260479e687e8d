// Package config loads the pipeline-results configuration file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quay/pipeline-results/internal/s3"
	"github.com/quay/pipeline-results/internal/trend"
)

// HistoryConfig bounds how far back failure streaks are traced.
type HistoryConfig struct {
	MaxDepth    int            `yaml:"max_depth"`
	CacheSize   int            `yaml:"cache_size"`
	ResetBefore map[string]int `yaml:"reset_before"`
}

// StepConfig holds the junit step defaults for runs recorded over the API.
type StepConfig struct {
	AllowEmptyResults bool     `yaml:"allow_empty_results"`
	HealthScaleFactor *float64 `yaml:"health_scale_factor"`
}

// ScaleFactor returns the health scale factor. Defaults to 1 when unset.
func (c StepConfig) ScaleFactor() float64 {
	if c.HealthScaleFactor == nil {
		return 1
	}
	return *c.HealthScaleFactor
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// Client returns the s3 client settings.
func (c S3Config) Client() s3.Config {
	return s3.Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		Bucket:    c.Bucket,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Prefix:    c.Prefix,
	}
}

// Config is the top-level configuration parsed from pipeline-results.yaml.
type Config struct {
	Listen   string        `yaml:"listen"`
	DBPath   string        `yaml:"db_path"`
	LogLevel string        `yaml:"log_level"`
	History  HistoryConfig `yaml:"history"`
	Step     StepConfig    `yaml:"step"`
	S3       S3Config      `yaml:"s3"`
}

// Policy returns the trend policy described by the history section.
func (c *Config) Policy() trend.Policy {
	return trend.Policy{MaxDepth: c.History.MaxDepth, ResetBefore: c.History.ResetBefore}
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func applyDefaults(c *Config) {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "pipeline-results.db"
	}
	c.DBPath = expandPath(c.DBPath)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.History.CacheSize <= 0 {
		c.History.CacheSize = 64
	}
	if c.History.ResetBefore == nil {
		c.History.ResetBefore = map[string]int{}
	}
	if c.Step.HealthScaleFactor == nil {
		f := 1.0
		c.Step.HealthScaleFactor = &f
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

func expandPath(value string) string {
	v := os.ExpandEnv(strings.TrimSpace(value))
	if v == "~" || strings.HasPrefix(v, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return v
		}
		return filepath.Join(home, strings.TrimPrefix(v[1:], "/"))
	}
	return v
}

// Default returns a Config with every field at its default.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Parse validates and decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfig reads a YAML configuration file from path and returns
// a Config with defaults applied for any unset fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
