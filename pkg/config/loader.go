package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SettingsFile is the settings file name looked up inside the component dir
const SettingsFile = "crashreport.toml"

// LoadSettings loads settings from a file path. A missing file yields the
// defaults with environment overrides applied.
func LoadSettings(path string) (*Settings, error) {
	cfg := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the settings
func applyEnvOverrides(cfg *Settings) {
	if v := os.Getenv("CRASHREPORT_DSN"); v != "" {
		cfg.Reporting.DSN = v
	}
	if v := os.Getenv("CRASHREPORT_UPLOAD_URL"); v != "" {
		cfg.Reporting.UploadURL = v
	}
	if v := os.Getenv("CRASHREPORT_UPLOAD_TOKEN"); v != "" {
		cfg.Reporting.UploadToken = v
	}
	if v := os.Getenv("CRASHREPORT_REQUEST_TIMEOUT"); v != "" {
		cfg.Reporting.RequestTimeout = v
	}

	if v := os.Getenv("CRASHREPORT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("CRASHREPORT_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

// SaveSettings writes settings to a file
func SaveSettings(cfg *Settings, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgCopy := *cfg
	cfgCopy.Logging.File = filepath.ToSlash(cfg.Logging.File)

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
