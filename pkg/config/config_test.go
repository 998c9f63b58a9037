package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	t.Cleanup(reset)

	t.Run("registers every section", func(t *testing.T) {
		reset()
		if GetEngine() != nil {
			t.Fatal("getters should return nil before Initialize")
		}

		if err := Initialize(filepath.Join(t.TempDir(), "config.json")); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
		if !IsInitialized() {
			t.Fatal("expected initialized config")
		}

		var ids []string
		for _, s := range Global().GetSections() {
			ids = append(ids, s.ID())
		}
		want := []string{"engine", "recovery", "scanner", "navigation", "server"}
		if len(ids) != len(want) {
			t.Fatalf("expected sections %v, got %v", want, ids)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("expected sections %v, got %v", want, ids)
				break
			}
		}

		if GetEngine().Driver != DriverPlaywright {
			t.Errorf("expected default driver, got %s", GetEngine().Driver)
		}
		if GetRecovery().CrashBackoff != time.Second {
			t.Errorf("expected 1s backoff, got %v", GetRecovery().CrashBackoff)
		}
		if GetScanner().MaxImages != 10 || GetScanner().MaxVideos != 5 {
			t.Errorf("unexpected scanner caps %d/%d", GetScanner().MaxImages, GetScanner().MaxVideos)
		}
		if GetNavigation().LazyCreate {
			t.Error("lazy create should default to off")
		}
		if GetServer().ListenAddr != defaultListenAddr {
			t.Errorf("unexpected listen addr %s", GetServer().ListenAddr)
		}
	})

	t.Run("persists across loads", func(t *testing.T) {
		reset()
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := Initialize(path); err != nil {
			t.Fatal(err)
		}
		GetRecovery().SetData(map[string]any{"crash_backoff": "250ms"})
		GetNavigation().SetData(map[string]any{"blocked_hosts": []string{"**.tracker.test"}})
		if err := Global().SaveAll(); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}

		reset()
		if err := Initialize(path); err != nil {
			t.Fatal(err)
		}
		if got := GetRecovery().CrashBackoff; got != 250*time.Millisecond {
			t.Errorf("expected 250ms, got %v", got)
		}
		if hosts := GetNavigation().BlockedHosts; len(hosts) != 1 || hosts[0] != "**.tracker.test" {
			t.Errorf("blocked hosts not persisted: %v", hosts)
		}
	})

	t.Run("rejects invalid file values", func(t *testing.T) {
		reset()
		path := filepath.Join(t.TempDir(), "config.json")
		os.WriteFile(path, []byte(`{"sections":{"engine":{"driver":"netscape"}}}`), 0600)

		if err := Initialize(path); err == nil {
			t.Fatal("expected validation error")
		}
		if IsInitialized() {
			t.Error("failed Initialize should not set the global manager")
		}
	})
}

func TestGlobal_PanicsBeforeInitialize(t *testing.T) {
	reset()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Global()
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"sections":{"engine":{"driver":"playwright","headless":true}}}`), 0600)

	t.Setenv("CAPTURE_DRIVER", "rod")
	t.Setenv("CAPTURE_HEADLESS", "false")
	t.Setenv("CAPTURE_CRASH_BACKOFF", "2s")
	t.Setenv("CAPTURE_MAX_IMAGES", "3")
	t.Setenv("CAPTURE_BLOCKED_HOSTS", "*.ads.test,tracker.test")
	t.Setenv("CAPTURE_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("CAPTURE_ALLOWED_ORIGINS", "https://host.example,http://127.0.0.1:3000")

	manager, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	engine, _ := manager.GetSection(SectionIDEngine)
	e := engine.(*EngineSection)
	if e.Driver != DriverRod || e.Headless {
		t.Errorf("engine overrides not applied: driver=%s headless=%v", e.Driver, e.Headless)
	}
	if e.Partition != defaultPartition {
		t.Errorf("unset variables must not change values, partition=%q", e.Partition)
	}

	recovery, _ := manager.GetSection(SectionIDRecovery)
	if got := recovery.(*RecoverySection).CrashBackoff; got != 2*time.Second {
		t.Errorf("expected 2s backoff, got %v", got)
	}
	scanner, _ := manager.GetSection(SectionIDScanner)
	if got := scanner.(*ScannerSection).MaxImages; got != 3 {
		t.Errorf("expected 3 images, got %d", got)
	}
	nav, _ := manager.GetSection(SectionIDNavigation)
	if hosts := nav.(*NavigationSection).BlockedHosts; len(hosts) != 2 || hosts[1] != "tracker.test" {
		t.Errorf("unexpected blocked hosts %v", hosts)
	}
	server, _ := manager.GetSection(SectionIDServer)
	if got := server.(*ServerSection).ListenAddr; got != "127.0.0.1:9000" {
		t.Errorf("unexpected listen addr %s", got)
	}
	if got := server.(*ServerSection).AllowedOrigins; len(got) != 2 || got[1] != "http://127.0.0.1:3000" {
		t.Errorf("unexpected allowed origins %v", got)
	}

	// Overrides stay out of the file.
	data, _ := manager.Store().GetSection(SectionIDEngine)
	if data["driver"] != "playwright" {
		t.Errorf("environment leaked into the store: %v", data)
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("CAPTURE_MAX_VIDEOS", "lots")
	if _, err := Load(filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Error("expected an error for a malformed override")
	}
}
