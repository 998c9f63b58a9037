package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. CAPTURE_DRIVER.
const EnvPrefix = "capture"

// envOverrides mirrors the settings that may come from the environment.
// Fields stay nil unless their variable is set.
type envOverrides struct {
	Driver      *string   `envconfig:"driver"`
	Headless    *bool     `envconfig:"headless"`
	DataDir     *string   `envconfig:"data_dir"`
	Partition   *string   `envconfig:"partition"`
	BrowserPath *string   `envconfig:"browser_path"`
	UserAgent   *string   `envconfig:"user_agent"`
	LaunchArgs  *[]string `envconfig:"launch_args"`

	CrashBackoff  *time.Duration `envconfig:"crash_backoff"`
	ProbeInterval *time.Duration `envconfig:"probe_interval"`
	ProbeTimeout  *time.Duration `envconfig:"probe_timeout"`

	ScanEnabled *bool `envconfig:"scan_enabled"`
	MaxImages   *int  `envconfig:"max_images"`
	MaxVideos   *int  `envconfig:"max_videos"`

	LazyCreate   *bool     `envconfig:"lazy_create"`
	BlockedHosts *[]string `envconfig:"blocked_hosts"`

	ListenAddr  *string `envconfig:"listen_addr"`
	EventBuffer *int    `envconfig:"event_buffer"`
	HandoffDir  *string `envconfig:"handoff_dir"`
	LogLevel    *string `envconfig:"log_level"`

	AllowedOrigins *[]string `envconfig:"allowed_origins"`
}

// ApplyEnv overlays CAPTURE_* environment variables onto the registered
// sections. Overrides are not written back to the store.
func (m *Manager) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	apply := func(id string, data map[string]any) error {
		if len(data) == 0 {
			return nil
		}
		section, ok := m.GetSection(id)
		if !ok {
			return nil
		}
		if err := section.SetData(data); err != nil {
			return fmt.Errorf("invalid environment override for %s: %w", id, err)
		}
		return nil
	}

	engine := map[string]any{}
	set(engine, "driver", env.Driver)
	set(engine, "headless", env.Headless)
	set(engine, "data_dir", env.DataDir)
	set(engine, "partition", env.Partition)
	set(engine, "browser_path", env.BrowserPath)
	set(engine, "user_agent", env.UserAgent)
	set(engine, "launch_args", env.LaunchArgs)

	recovery := map[string]any{}
	setDuration(recovery, "crash_backoff", env.CrashBackoff)
	setDuration(recovery, "probe_interval", env.ProbeInterval)
	setDuration(recovery, "probe_timeout", env.ProbeTimeout)

	scanner := map[string]any{}
	set(scanner, "enabled", env.ScanEnabled)
	set(scanner, "max_images", env.MaxImages)
	set(scanner, "max_videos", env.MaxVideos)

	navigation := map[string]any{}
	set(navigation, "lazy_create", env.LazyCreate)
	set(navigation, "blocked_hosts", env.BlockedHosts)

	server := map[string]any{}
	set(server, "listen_addr", env.ListenAddr)
	set(server, "event_buffer", env.EventBuffer)
	set(server, "handoff_dir", env.HandoffDir)
	set(server, "log_level", env.LogLevel)
	set(server, "allowed_origins", env.AllowedOrigins)

	for _, s := range []struct {
		id   string
		data map[string]any
	}{
		{SectionIDEngine, engine},
		{SectionIDRecovery, recovery},
		{SectionIDScanner, scanner},
		{SectionIDNavigation, navigation},
		{SectionIDServer, server},
	} {
		if err := apply(s.id, s.data); err != nil {
			return err
		}
	}
	return nil
}

func set[T any](data map[string]any, key string, v *T) {
	if v != nil {
		data[key] = *v
	}
}

func setDuration(data map[string]any, key string, v *time.Duration) {
	if v != nil {
		data[key] = v.String()
	}
}
