// Package config provides configuration for crashreport: the pipeline
// settings (telemetry endpoint, uploader, limits, logging) and the component
// configuration store whose snapshot is attached to every diagnostic event.
package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Settings holds all crashreport pipeline configuration
type Settings struct {
	// Reporting configuration
	Reporting ReportingConfig `toml:"reporting"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ReportingConfig controls where and how often diagnostics are sent
type ReportingConfig struct {
	// DSN is the telemetry endpoint; empty uses the built-in default
	DSN string `toml:"dsn" env:"CRASHREPORT_DSN"`

	// UploadURL is the artifact upload API base URL
	UploadURL string `toml:"upload_url" env:"CRASHREPORT_UPLOAD_URL"`

	// UploadToken authenticates artifact uploads
	UploadToken string `toml:"upload_token" env:"CRASHREPORT_UPLOAD_TOKEN"`

	// UploadFolder is the remote folder log artifacts are placed in
	UploadFolder string `toml:"upload_folder"`

	// UploadDirect skips the server lookup and posts to the API host
	UploadDirect bool `toml:"upload_direct"`

	// RequestTimeout bounds each upload and telemetry request (e.g. "20s")
	RequestTimeout string `toml:"request_timeout" env:"CRASHREPORT_REQUEST_TIMEOUT"`

	// MaxReportsPerMinute caps outbound reports (0 = default)
	MaxReportsPerMinute int `toml:"max_reports_per_minute"`

	// DedupeWindow suppresses identical captures inside the window (e.g. "5m")
	DedupeWindow string `toml:"dedupe_window"`

	// MinSDKVersion is the lowest telemetry SDK version reporting runs with
	MinSDKVersion string `toml:"min_sdk_version"`

	// Workers is the number of concurrent background reports
	Workers int `toml:"workers"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"CRASHREPORT_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"CRASHREPORT_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, file)
	Output string `toml:"output" env:"CRASHREPORT_LOG_OUTPUT"`

	// File overrides the component log file when output is "file"
	File string `toml:"file" env:"CRASHREPORT_LOG_FILE"`
}

// DefaultSettings returns the default configuration
func DefaultSettings() *Settings {
	return &Settings{
		Reporting: ReportingConfig{
			UploadURL:           "https://api.gofile.io",
			RequestTimeout:      "20s",
			MaxReportsPerMinute: 10,
			DedupeWindow:        "5m",
			MinSDKVersion:       "0.28.0",
			Workers:             2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "file",
		},
	}
}

// Validate checks the configuration for errors
func (s *Settings) Validate() error {
	if s.Reporting.UploadURL == "" {
		return fmt.Errorf("%w: reporting.upload_url", ErrMissingValue)
	}

	if _, err := time.ParseDuration(s.Reporting.RequestTimeout); err != nil {
		return fmt.Errorf("%w: reporting.request_timeout: %v", ErrInvalidConfig, err)
	}

	if s.Reporting.DedupeWindow != "" {
		if _, err := time.ParseDuration(s.Reporting.DedupeWindow); err != nil {
			return fmt.Errorf("%w: reporting.dedupe_window: %v", ErrInvalidConfig, err)
		}
	}

	if s.Reporting.MaxReportsPerMinute < 0 {
		return fmt.Errorf("%w: reporting.max_reports_per_minute cannot be negative", ErrInvalidConfig)
	}

	if s.Reporting.Workers < 0 {
		return fmt.Errorf("%w: reporting.workers cannot be negative", ErrInvalidConfig)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[s.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[s.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[s.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}

	return nil
}

// Timeout returns the request timeout, falling back to 20s
func (s *Settings) Timeout() time.Duration {
	return parseDuration(s.Reporting.RequestTimeout, 20*time.Second)
}

// Dedupe returns the dedupe window, falling back to 5m
func (s *Settings) Dedupe() time.Duration {
	return parseDuration(s.Reporting.DedupeWindow, 5*time.Minute)
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
