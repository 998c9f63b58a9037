package config

import (
	"strings"
	"testing"
	"time"
)

func TestSections_Defaults(t *testing.T) {
	for _, s := range []Section{
		NewEngineSection(),
		NewRecoverySection(),
		NewScannerSection(),
		NewNavigationSection(),
		NewServerSection(),
	} {
		t.Run(s.ID(), func(t *testing.T) {
			if s.Title() == "" || s.Description() == "" {
				t.Error("section needs a title and description")
			}
			if err := s.Validate(); err != nil {
				t.Errorf("defaults should validate: %v", err)
			}

			// Data feeds back into SetData unchanged.
			before := s.Data()
			if err := s.SetData(before); err != nil {
				t.Fatalf("SetData(Data()) failed: %v", err)
			}
			if err := s.Validate(); err != nil {
				t.Errorf("round-tripped data should validate: %v", err)
			}
		})
	}
}

func TestSections_SetData(t *testing.T) {
	tests := []struct {
		name    string
		section Section
		data    map[string]any
		check   func(t *testing.T, s Section)
	}{
		{
			name:    "engine from json numbers",
			section: NewEngineSection(),
			data: map[string]any{
				"driver": "rod", "viewport_width": float64(800), "viewport_height": float64(600),
				"launch_args": []any{"--lang=en"}, "unknown": 1,
			},
			check: func(t *testing.T, s Section) {
				e := s.(*EngineSection)
				if e.Driver != DriverRod || e.ViewportWidth != 800 || e.ViewportHeight != 600 {
					t.Errorf("unexpected engine %+v", e.Data())
				}
				if len(e.LaunchArgs) != 1 || e.LaunchArgs[0] != "--lang=en" {
					t.Errorf("unexpected launch args %v", e.LaunchArgs)
				}
			},
		},
		{
			name:    "recovery from strings and numbers",
			section: NewRecoverySection(),
			data: map[string]any{
				"crash_backoff":  "1500ms",
				"probe_interval": float64(2 * time.Second),
				"probe_timeout":  int(time.Second),
			},
			check: func(t *testing.T, s Section) {
				r := s.(*RecoverySection)
				if r.CrashBackoff != 1500*time.Millisecond || r.ProbeInterval != 2*time.Second || r.ProbeTimeout != time.Second {
					t.Errorf("unexpected recovery %+v", r.Data())
				}
			},
		},
		{
			name:    "scanner from yaml ints",
			section: NewScannerSection(),
			data:    map[string]any{"enabled": false, "max_images": 2, "max_videos": 1, "markup_fallback": false},
			check: func(t *testing.T, s Section) {
				sc := s.(*ScannerSection)
				if sc.Enabled || sc.MarkupFallback || sc.MaxImages != 2 || sc.MaxVideos != 1 {
					t.Errorf("unexpected scanner %+v", sc.Data())
				}
			},
		},
		{
			name:    "server",
			section: NewServerSection(),
			data:    map[string]any{"listen_addr": ":0", "event_buffer": float64(16), "handoff_dir": "/tmp/h", "log_level": "debug", "allowed_origins": []any{"https://host.example"}},
			check: func(t *testing.T, s Section) {
				sv := s.(*ServerSection)
				if sv.ListenAddr != ":0" || sv.EventBuffer != 16 || sv.HandoffDir != "/tmp/h" || sv.LogLevel != "debug" ||
					len(sv.AllowedOrigins) != 1 || sv.AllowedOrigins[0] != "https://host.example" {
					t.Errorf("unexpected server %+v", sv.Data())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.section.SetData(tt.data); err != nil {
				t.Fatalf("SetData failed: %v", err)
			}
			tt.check(t, tt.section)
		})
	}
}

func TestSections_SetDataTypeErrors(t *testing.T) {
	tests := []struct {
		name    string
		section Section
		data    map[string]any
		wantErr string
	}{
		{"bool", NewEngineSection(), map[string]any{"headless": "yes"}, "headless"},
		{"fractional int", NewScannerSection(), map[string]any{"max_images": 2.5}, "whole number"},
		{"duration", NewRecoverySection(), map[string]any{"crash_backoff": "soon"}, "crash_backoff"},
		{"duration type", NewRecoverySection(), map[string]any{"probe_timeout": true}, "probe_timeout"},
		{"string list", NewNavigationSection(), map[string]any{"blocked_hosts": []any{"a.test", 3}}, "blocked_hosts[1]"},
		{"string", NewServerSection(), map[string]any{"listen_addr": 80}, "listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.section.SetData(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSections_Validate(t *testing.T) {
	tests := []struct {
		name    string
		section Section
		data    map[string]any
	}{
		{"unknown driver", NewEngineSection(), map[string]any{"driver": "gecko"}},
		{"empty partition", NewEngineSection(), map[string]any{"partition": ""}},
		{"zero viewport", NewEngineSection(), map[string]any{"viewport_width": 0}},
		{"negative backoff", NewRecoverySection(), map[string]any{"crash_backoff": "-1s"}},
		{"watchdog without timeout", NewRecoverySection(), map[string]any{"probe_timeout": "0s"}},
		{"negative cap", NewScannerSection(), map[string]any{"max_videos": -1}},
		{"bad glob", NewNavigationSection(), map[string]any{"blocked_hosts": []string{"[unclosed"}}},
		{"bad addr", NewServerSection(), map[string]any{"listen_addr": "localhost"}},
		{"zero buffer", NewServerSection(), map[string]any{"event_buffer": 0}},
		{"bad level", NewServerSection(), map[string]any{"log_level": "loud"}},
		{"origin without scheme", NewServerSection(), map[string]any{"allowed_origins": []string{"host.example"}}},
		{"origin with path", NewServerSection(), map[string]any{"allowed_origins": []string{"https://host.example/app"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.section.SetData(tt.data); err != nil {
				t.Fatalf("SetData failed: %v", err)
			}
			if err := tt.section.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("watchdog disabled", func(t *testing.T) {
		r := NewRecoverySection()
		r.SetData(map[string]any{"probe_interval": "0s", "probe_timeout": "0s"})
		if err := r.Validate(); err != nil {
			t.Errorf("a disabled watchdog needs no timeout: %v", err)
		}
	})
}

func TestSections_Reset(t *testing.T) {
	e := NewEngineSection()
	e.SetData(map[string]any{"driver": "rod", "launch_args": []string{"--x"}})
	e.Reset()
	if e.Driver != DriverPlaywright || e.LaunchArgs != nil {
		t.Errorf("engine not reset: %+v", e.Data())
	}

	n := NewNavigationSection()
	n.SetData(map[string]any{"lazy_create": true, "blocked_hosts": []string{"a.test"}})
	n.Reset()
	if n.LazyCreate || n.BlockedHosts != nil {
		t.Errorf("navigation not reset: %+v", n.Data())
	}
}
