// Package config loads the pool server configuration from YAML or JSON files
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk configuration layout
type FileConfig struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Pool    PoolConfig    `yaml:"pool" json:"pool"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// ServerConfig configures the TCP listener and request handling
type ServerConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	MaxConnections int    `yaml:"max_connections" json:"max_connections"`
	PagesDir       string `yaml:"pages_dir" json:"pages_dir"`
	SleepDuration  string `yaml:"sleep_duration" json:"sleep_duration"`
	ReadTimeout    string `yaml:"read_timeout" json:"read_timeout"`
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Size            int    `yaml:"size" json:"size"`
	Name            string `yaml:"name" json:"name"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration
func Default() *FileConfig {
	return &FileConfig{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			MaxConnections: 64,
			PagesDir:       "static",
			SleepDuration:  "5s",
			ReadTimeout:    "10s",
		},
		Pool: PoolConfig{
			Size:            4,
			Name:            "http",
			ShutdownTimeout: "30s",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:9100",
			Namespace: "gopool",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads a configuration file on top of the defaults
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration
func (f *FileConfig) Validate() error {
	if f.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive, got %d", f.Pool.Size)
	}
	if f.Server.Port < 0 || f.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if f.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be non-negative")
	}

	durations := map[string]string{
		"server.sleep_duration": f.Server.SleepDuration,
		"server.read_timeout":   f.Server.ReadTimeout,
		"pool.shutdown_timeout": f.Pool.ShutdownTimeout,
	}
	for name, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	switch strings.ToLower(f.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", f.Log.Level)
	}
	switch strings.ToLower(f.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", f.Log.Format)
	}

	if f.Metrics.Enabled && f.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Sleep returns the /sleep route delay
func (s ServerConfig) Sleep() time.Duration {
	d, _ := parseDuration(s.SleepDuration)
	return d
}

// Timeout returns the per-connection read timeout; zero disables it
func (s ServerConfig) Timeout() time.Duration {
	d, _ := parseDuration(s.ReadTimeout)
	return d
}

// Timeout returns the shutdown deadline; zero waits forever
func (p PoolConfig) Timeout() time.Duration {
	d, _ := parseDuration(p.ShutdownTimeout)
	return d
}

// parseDuration treats an empty string as zero
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative: %s", s)
	}
	return d, nil
}
