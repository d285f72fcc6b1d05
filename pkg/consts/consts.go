// Package consts describes the identity of the component whose failures are
// captured: its module name, installation directory and version.
package consts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingVersion is returned when the installation has no .version file
var ErrMissingVersion = errors.New("component version file missing")

// Consts identifies the component
type Consts struct {
	Name    string `json:"name"`
	Module  string `json:"module"`
	Dir     string `json:"dir"`
	Version string `json:"version"`

	// Package is the Go import path the component's code lives under.
	// Frames of functions in it, or in packages below it, are the component's.
	Package string `json:"package,omitempty"`

	// SupportChannels maps a channel label to its URL
	SupportChannels map[string]string `json:"support_channels,omitempty"`
}

// Manifest is the subset of manifest.json crashreport reads
type Manifest struct {
	Name            string            `json:"name"`
	Package         string            `json:"package"`
	SupportChannels map[string]string `json:"support_channels"`
}

// Load reads the component identity from its installation directory.
// The module name is the directory name; the version comes from .version and
// the display name and Go package path from manifest.json, the name falling
// back to the module name.
func Load(dir string) (Consts, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Consts{}, fmt.Errorf("resolve component dir: %w", err)
	}

	version, err := readVersion(abs)
	if err != nil {
		return Consts{}, err
	}

	c := Consts{
		Name:    filepath.Base(abs),
		Module:  filepath.Base(abs),
		Dir:     abs,
		Version: version,
	}

	if m, err := ReadManifest(abs); err == nil {
		if m.Name != "" {
			c.Name = m.Name
		}
		c.Package = strings.TrimSpace(m.Package)
		c.SupportChannels = m.SupportChannels
	}

	return c, nil
}

// ReadManifest parses <dir>/manifest.json
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func readVersion(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrMissingVersion, dir)
		}
		return "", fmt.Errorf("read version: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// InstallDir returns the directory whose name marks the component's frames in
// a stack trace. It is Dir when set, otherwise the bare module name.
func (c Consts) InstallDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return c.Module
}
