// Package gate decides whether outbound diagnostic reporting is permitted.
// The decision is recomputed on every call so that configuration and
// environment changes apply immediately.
package gate

import (
	"os"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
	"golang.org/x/mod/semver"

	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/logger"
)

const (
	// EnvOverride disables reporting when set to DisableValue
	EnvOverride = "REPORT_ERRORS"

	// DisableValue is the literal that forces the gate closed
	DisableValue = "0"

	// DefaultMinSDKVersion is the oldest telemetry SDK reporting runs with
	DefaultMinSDKVersion = "0.28.0"
)

// Options configures a Gate
type Options struct {
	// SDKVersion of the installed telemetry library (default sentry.SDKVersion)
	SDKVersion string

	// MinSDKVersion is the version floor (default DefaultMinSDKVersion)
	MinSDKVersion string

	// Getenv reads the environment (default os.Getenv)
	Getenv func(string) string

	Logger *logger.Logger
}

// Gate is the reporting policy
type Gate struct {
	sdkVersion string
	minVersion string
	getenv     func(string) string
	logger     *logger.Logger
	warnOnce   sync.Once
}

// Decision breaks a gate evaluation into its conditions
type Decision struct {
	SDKVersion    string `json:"sdk_version"`
	MinSDKVersion string `json:"min_sdk_version"`
	SDKSupported  bool   `json:"sdk_supported"`
	OptedIn       bool   `json:"opted_in"`
	EnvDisabled   bool   `json:"env_disabled"`
	Enabled       bool   `json:"enabled"`
}

// New creates a gate
func New(opts Options) *Gate {
	if opts.SDKVersion == "" {
		opts.SDKVersion = sentry.SDKVersion
	}
	if opts.MinSDKVersion == "" {
		opts.MinSDKVersion = DefaultMinSDKVersion
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	return &Gate{
		sdkVersion: opts.SDKVersion,
		minVersion: opts.MinSDKVersion,
		getenv:     opts.Getenv,
		logger:     opts.Logger,
	}
}

// Enabled reports whether diagnostics may be sent right now
func (g *Gate) Enabled(cfg config.Provider) bool {
	return g.Explain(cfg).Enabled
}

// Explain evaluates every condition. The SDK floor is checked first; a
// too-old SDK closes the gate regardless of configuration.
func (g *Gate) Explain(cfg config.Provider) Decision {
	d := Decision{
		SDKVersion:    g.sdkVersion,
		MinSDKVersion: g.minVersion,
		SDKSupported:  versionAtLeast(g.sdkVersion, g.minVersion),
		EnvDisabled:   g.getenv(EnvOverride) == DisableValue,
	}

	if !d.SDKSupported {
		g.warnOnce.Do(func() {
			g.logger.Info("error reporting disabled: telemetry SDK too old",
				"sdk_version", g.sdkVersion,
				"min_sdk_version", g.minVersion,
			)
		})
		return d
	}

	if cfg != nil {
		if v, ok := cfg.Get(config.ReportErrorsKey); ok {
			b, isBool := v.(bool)
			d.OptedIn = isBool && b
		}
	}

	d.Enabled = d.OptedIn && !d.EnvDisabled
	return d
}

// versionAtLeast compares dotted versions; unparsable versions never pass
func versionAtLeast(have, floor string) bool {
	h, f := canonical(have), canonical(floor)
	if !semver.IsValid(h) || !semver.IsValid(f) {
		return false
	}
	return semver.Compare(h, f) >= 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
