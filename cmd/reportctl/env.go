package main

import (
	"fmt"
	"path/filepath"

	"github.com/armorclaw/crashreport/pkg/capture"
	"github.com/armorclaw/crashreport/pkg/config"
	"github.com/armorclaw/crashreport/pkg/consts"
	"github.com/armorclaw/crashreport/pkg/dispatch"
	"github.com/armorclaw/crashreport/pkg/gate"
	"github.com/armorclaw/crashreport/pkg/hooks"
	"github.com/armorclaw/crashreport/pkg/logger"
	"github.com/armorclaw/crashreport/pkg/telemetry"
)

// componentEnv is everything a command needs to talk about one component
type componentEnv struct {
	consts    consts.Consts
	store     *config.Store
	settings  *config.Settings
	gate      *gate.Gate
	logger    *logger.Logger
	telemetry *telemetry.Client
	installer *hooks.Installer
}

func loadComponentEnv() (*componentEnv, error) {
	c, err := consts.Load(componentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load component: %w", err)
	}

	sp := settingsPath
	if sp == "" {
		sp = filepath.Join(c.Dir, config.SettingsFile)
	}
	settings, err := config.LoadSettings(sp)
	if err != nil {
		return nil, err
	}

	cp := configPath
	if cp == "" {
		cp = filepath.Join(c.Dir, "config.json")
	}
	store, err := config.OpenStore(cp, map[string]any{config.ReportErrorsKey: false})
	if err != nil {
		return nil, err
	}

	client, err := telemetry.Init(telemetry.Options{
		DSN:        settings.Reporting.DSN,
		Release:    c.Version,
		LoggerName: c.Module,
		Timeout:    settings.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	env := &componentEnv{consts: c, store: store, settings: settings, telemetry: client}

	output := settings.Logging.Output
	if output == "file" {
		output = settings.Logging.File
		if output == "" {
			output = logger.FilePath(c.Dir, c.Module)
		}
	}
	log, err := logger.New(logger.Config{
		Level:     settings.Logging.Level,
		Format:    settings.Logging.Format,
		Output:    output,
		Component: c.Module,
		Wrap:      telemetry.Wrap(client, func() bool { return env.gate.Enabled(env.store) }),
	})
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(log)
	env.logger = log

	env.gate = gate.New(gate.Options{
		MinSDKVersion: settings.Reporting.MinSDKVersion,
		Logger:        log,
	})

	inst, err := hooks.Install(hooks.Config{
		Consts:      c,
		Config:      store,
		Logger:      log,
		HostVersion: hostVersion,
		Settings:    settings,
		Transmitter: client,
		Gate:        env.gate,
		Registry:    capture.DefaultRegistry(),
		Main:        dispatch.Inline{},
	})
	if err != nil {
		return nil, err
	}
	env.installer = inst

	return env, nil
}

func (e *componentEnv) Close() {
	_ = e.logger.Close()
}
