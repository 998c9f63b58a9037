package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/capture/pkg/config"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/engine/pwdriver"
	"github.com/entrhq/capture/pkg/engine/roddriver"
	"github.com/entrhq/capture/pkg/gateway"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/media"
	"github.com/entrhq/capture/pkg/session"
	"github.com/entrhq/capture/pkg/types"
	"github.com/spf13/pflag"
)

// settings is the resolved runtime configuration.
type settings struct {
	driver     string
	listenAddr string
	logLevel   logging.Level
	session    session.Config
	gateway    gateway.Config
}

// flagOverrides turns explicitly set flags into section data so they take
// precedence over the environment and the file.
func flagOverrides(flags *pflag.FlagSet) map[string]map[string]any {
	out := map[string]map[string]any{}
	put := func(section, key string, v any) {
		if out[section] == nil {
			out[section] = map[string]any{}
		}
		out[section][key] = v
	}

	if flags.Changed("driver") {
		put(config.SectionIDEngine, "driver", driverFlag)
	}
	if flags.Changed("headless") {
		put(config.SectionIDEngine, "headless", headless)
	}
	if flags.Changed("log-level") {
		put(config.SectionIDServer, "log_level", logLevel)
	}
	if flags.Lookup("listen") != nil && flags.Changed("listen") {
		put(config.SectionIDServer, "listen_addr", listenAddr)
	}
	if flags.Lookup("handoff-dir") != nil && flags.Changed("handoff-dir") {
		put(config.SectionIDServer, "handoff_dir", handoffDir)
	}
	if flags.Lookup("allow-origin") != nil && flags.Changed("allow-origin") {
		put(config.SectionIDServer, "allowed_origins", allowOrigins)
	}
	if flags.Lookup("lazy-create") != nil && flags.Changed("lazy-create") {
		put(config.SectionIDNavigation, "lazy_create", lazyCreate)
	}
	return out
}

// loadSettings reads the config file and environment, then applies flags.
func loadSettings(path string, overrides map[string]map[string]any) (settings, error) {
	manager, err := config.Load(path)
	if err != nil {
		return settings{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	for id, data := range overrides {
		section, ok := manager.GetSection(id)
		if !ok {
			continue
		}
		if err := section.SetData(data); err != nil {
			return settings{}, fmt.Errorf("invalid flag value: %w", err)
		}
	}
	if err := manager.ValidateAll(); err != nil {
		return settings{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return resolve(manager)
}

func sectionOf[T config.Section](m *config.Manager, id string) (T, error) {
	var zero T
	s, ok := m.GetSection(id)
	if !ok {
		return zero, fmt.Errorf("section %s not registered", id)
	}
	typed, ok := s.(T)
	if !ok {
		return zero, fmt.Errorf("section %s has unexpected type %T", id, s)
	}
	return typed, nil
}

// resolve maps the config sections onto component configs.
func resolve(m *config.Manager) (settings, error) {
	eng, err := sectionOf[*config.EngineSection](m, config.SectionIDEngine)
	if err != nil {
		return settings{}, err
	}
	rec, err := sectionOf[*config.RecoverySection](m, config.SectionIDRecovery)
	if err != nil {
		return settings{}, err
	}
	scan, err := sectionOf[*config.ScannerSection](m, config.SectionIDScanner)
	if err != nil {
		return settings{}, err
	}
	nav, err := sectionOf[*config.NavigationSection](m, config.SectionIDNavigation)
	if err != nil {
		return settings{}, err
	}
	srv, err := sectionOf[*config.ServerSection](m, config.SectionIDServer)
	if err != nil {
		return settings{}, err
	}

	level, err := logging.ParseLevel(srv.LogLevel)
	if err != nil {
		return settings{}, err
	}

	dataDir := eng.DataDir
	if dataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, ".capture", "partitions")
		}
	}

	sc := session.DefaultConfig()
	sc.PartitionID = eng.Partition
	sc.DataDir = dataDir
	sc.Headless = eng.Headless
	sc.Bounds = types.Rect{Width: eng.ViewportWidth, Height: eng.ViewportHeight}
	sc.BrowserPath = eng.BrowserPath
	sc.UserAgent = eng.UserAgent
	sc.LaunchArgs = eng.LaunchArgs
	sc.CrashBackoff = rec.CrashBackoff
	sc.ProbeInterval = rec.ProbeInterval
	sc.ProbeTimeout = rec.ProbeTimeout
	sc.ScanEnabled = scan.Enabled
	sc.Scanner = media.Config{
		MaxImages:      scan.MaxImages,
		MaxVideos:      scan.MaxVideos,
		Timeout:        scan.Timeout,
		MarkupFallback: scan.MarkupFallback,
	}
	sc.BlockedHosts = nav.BlockedHosts
	sc.EventBuffer = srv.EventBuffer

	return settings{
		driver:     eng.Driver,
		listenAddr: srv.ListenAddr,
		logLevel:   level,
		session:    sc,
		gateway: gateway.Config{
			LazyCreate:     nav.LazyCreate,
			HandoffDir:     srv.HandoffDir,
			AllowedOrigins: srv.AllowedOrigins,
		},
	}, nil
}

// newEngine builds the configured driver.
func newEngine(driver string, log *logging.Logger) (engine.Engine, error) {
	switch driver {
	case config.DriverPlaywright:
		return pwdriver.New(log), nil
	case config.DriverRod:
		return roddriver.New(log), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// newLogger opens a component logger, warning on stderr when it falls back.
func newLogger(component string) *logging.Logger {
	log, err := logging.NewLogger(component)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return log
}
