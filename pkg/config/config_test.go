// Package config provides configuration tests for crashreport.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()

	if cfg == nil {
		t.Fatal("DefaultSettings returned nil")
	}
	if cfg.Reporting.UploadURL == "" {
		t.Error("UploadURL should not be empty")
	}
	if cfg.Timeout() != 20*time.Second {
		t.Errorf("Timeout should default to 20s, got %v", cfg.Timeout())
	}
	if cfg.Dedupe() != 5*time.Minute {
		t.Errorf("Dedupe should default to 5m, got %v", cfg.Dedupe())
	}
	if cfg.Reporting.MaxReportsPerMinute != 10 {
		t.Errorf("MaxReportsPerMinute should default to 10, got %d", cfg.Reporting.MaxReportsPerMinute)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultSettings validation failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"empty upload url", func(s *Settings) { s.Reporting.UploadURL = "" }},
		{"bad timeout", func(s *Settings) { s.Reporting.RequestTimeout = "soon" }},
		{"bad dedupe window", func(s *Settings) { s.Reporting.DedupeWindow = "x" }},
		{"negative rate", func(s *Settings) { s.Reporting.MaxReportsPerMinute = -1 }},
		{"negative workers", func(s *Settings) { s.Reporting.Workers = -2 }},
		{"invalid log level", func(s *Settings) { s.Logging.Level = "invalid" }},
		{"invalid log format", func(s *Settings) { s.Logging.Format = "xml" }},
		{"invalid log output", func(s *Settings) { s.Logging.Output = "syslog" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSettings()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) && !errors.Is(err, ErrMissingValue) {
				t.Errorf("error %v does not wrap a config sentinel", err)
			}
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFile)
	content := `
[reporting]
dsn = "https://key@example.com/1"
request_timeout = "5s"
max_reports_per_minute = 3

[logging]
level = "debug"
format = "text"
output = "stderr"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if cfg.Reporting.DSN != "https://key@example.com/1" {
		t.Errorf("DSN = %q", cfg.Reporting.DSN)
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout())
	}
	if cfg.Reporting.MaxReportsPerMinute != 3 {
		t.Errorf("MaxReportsPerMinute = %d, want 3", cfg.Reporting.MaxReportsPerMinute)
	}
	// untouched keys keep their defaults
	if cfg.Reporting.UploadURL != "https://api.gofile.io" {
		t.Errorf("UploadURL = %q, want default", cfg.Reporting.UploadURL)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want stderr", cfg.Logging.Output)
	}
}

func TestLoadSettings_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadSettings(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if cfg.Reporting.MinSDKVersion != "0.28.0" {
		t.Errorf("MinSDKVersion = %q, want default", cfg.Reporting.MinSDKVersion)
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("CRASHREPORT_DSN", "https://env@example.com/2")
	t.Setenv("CRASHREPORT_LOG_LEVEL", "warn")

	cfg, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if cfg.Reporting.DSN != "https://env@example.com/2" {
		t.Errorf("DSN = %q, want env override", cfg.Reporting.DSN)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadSettings_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), SettingsFile)
	if err := os.WriteFile(path, []byte("[reporting\nbroken"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", SettingsFile)
	cfg := DefaultSettings()
	cfg.Reporting.DSN = "https://saved@example.com/3"

	if err := SaveSettings(cfg, path); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	loaded, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if loaded.Reporting.DSN != cfg.Reporting.DSN {
		t.Errorf("DSN = %q, want %q", loaded.Reporting.DSN, cfg.Reporting.DSN)
	}
}
