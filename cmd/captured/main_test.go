package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/capture/pkg/config"
	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/engine/enginetest"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/media"
	"github.com/entrhq/capture/pkg/session"
	"github.com/entrhq/capture/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	s, err := loadSettings(filepath.Join(t.TempDir(), "missing.json"), nil)
	require.NoError(t, err)

	assert.Equal(t, config.DriverPlaywright, s.driver)
	assert.Equal(t, "127.0.0.1:7788", s.listenAddr)
	assert.Equal(t, logging.LevelInfo, s.logLevel)
	assert.Equal(t, "persist:capture", s.session.PartitionID)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".capture", "partitions"), s.session.DataDir)
	assert.Equal(t, types.Rect{Width: 1280, Height: 800}, s.session.Bounds)
	assert.Equal(t, time.Second, s.session.CrashBackoff)
	assert.Equal(t, 5*time.Second, s.session.ProbeInterval)
	assert.True(t, s.session.ScanEnabled)
	assert.Equal(t, 10, s.session.Scanner.MaxImages)
	assert.Equal(t, 5, s.session.Scanner.MaxVideos)
	assert.False(t, s.gateway.LazyCreate)
	assert.Empty(t, s.gateway.AllowedOrigins, "no browser origin is trusted by default")
}

func TestLoadSettings_FileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, "config.yaml", `sections:
  engine:
    driver: rod
    data_dir: /var/lib/capture
    viewport_width: 800
    viewport_height: 600
  scanner:
    max_images: 4
    markup_fallback: false
  navigation:
    lazy_create: true
    blocked_hosts: ["**.ads.test"]
  server:
    listen_addr: "127.0.0.1:9100"
    handoff_dir: /tmp/handoff
    allowed_origins: ["https://host.example"]
`)
	t.Setenv("CAPTURE_CRASH_BACKOFF", "300ms")
	t.Setenv("CAPTURE_LISTEN_ADDR", "127.0.0.1:9200")

	s, err := loadSettings(path, map[string]map[string]any{
		config.SectionIDServer: {"listen_addr": "127.0.0.1:9300", "log_level": "debug"},
	})
	require.NoError(t, err)

	assert.Equal(t, config.DriverRod, s.driver)
	assert.Equal(t, "/var/lib/capture", s.session.DataDir)
	assert.Equal(t, types.Rect{Width: 800, Height: 600}, s.session.Bounds)
	assert.Equal(t, 4, s.session.Scanner.MaxImages)
	assert.False(t, s.session.Scanner.MarkupFallback)
	assert.Equal(t, []string{"**.ads.test"}, s.session.BlockedHosts)
	assert.Equal(t, 300*time.Millisecond, s.session.CrashBackoff)
	assert.Equal(t, "127.0.0.1:9300", s.listenAddr, "flags beat the environment")
	assert.Equal(t, logging.LevelDebug, s.logLevel)
	assert.True(t, s.gateway.LazyCreate)
	assert.Equal(t, "/tmp/handoff", s.gateway.HandoffDir)
	assert.Equal(t, []string{"https://host.example"}, s.gateway.AllowedOrigins)
}

func TestLoadSettings_InvalidFlag(t *testing.T) {
	_, err := loadSettings(filepath.Join(t.TempDir(), "c.json"), map[string]map[string]any{
		config.SectionIDEngine: {"driver": "lynx"},
	})
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	for _, name := range []string{config.DriverPlaywright, config.DriverRod} {
		eng, err := newEngine(name, logging.NewNopLogger())
		require.NoError(t, err)
		assert.Equal(t, name, eng.Name())
	}
	_, err := newEngine("lynx", nil)
	assert.Error(t, err)
}

func captureConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ProbeInterval = 0
	cfg.CrashBackoff = 10 * time.Millisecond
	return cfg
}

func TestCapture_PageAndCookies(t *testing.T) {
	eng := enginetest.New()
	eng.SetPage("https://instagram.com/p/1", enginetest.Page{Title: "Post"})
	eng.SetCookies("persist:capture", []engine.Cookie{
		{Name: "sessionid", Value: "abc", Domain: ".instagram.com", Path: "/", Secure: true, Session: true},
		{Name: "other", Value: "x", Domain: "example.com", Path: "/"},
	})

	var copied string
	orig := copyToClipboard
	copyToClipboard = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { copyToClipboard = orig })

	out := filepath.Join(t.TempDir(), "cookies.txt")
	var stdout, stderr bytes.Buffer
	err := capture(context.Background(), eng, captureConfig(), captureOptions{
		URL:       "instagram.com/p/1",
		Domain:    "instagram.com",
		Out:       out,
		Wait:      2 * time.Second,
		Clipboard: true,
	}, logging.NewNopLogger(), &stdout, &stderr)
	require.NoError(t, err)

	var result captureResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "https://instagram.com/p/1", result.URL)
	assert.Equal(t, "Post", result.Title)
	assert.Nil(t, result.Error)
	require.NotNil(t, result.Media)
	assert.Equal(t, out, result.CookieFile)
	assert.Equal(t, 1, result.Cookies)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, cookies.FileHeader+"\n.instagram.com\tTRUE\t/\tTRUE\t0\tsessionid\tabc\n", string(data))
	assert.Equal(t, ".instagram.com\tTRUE\t/\tTRUE\t0\tsessionid\tabc", copied)

	assert.Equal(t, 1, eng.Closed(), "the session is torn down afterwards")
}

func TestCapture_NavigationFailure(t *testing.T) {
	eng := enginetest.New()
	eng.SetPage("https://down.test", enginetest.Page{FailCode: -105, FailText: "ERR_NAME_NOT_RESOLVED"})

	var stdout bytes.Buffer
	err := capture(context.Background(), eng, captureConfig(), captureOptions{
		URL:  "https://down.test",
		Wait: 2 * time.Second,
	}, logging.NewNopLogger(), &stdout, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation failed")

	var result captureResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	require.NotNil(t, result.Error)
	assert.Equal(t, -105, result.Error.Code)
	assert.Empty(t, result.CookieFile)
}

func TestCapture_ScanDisabled(t *testing.T) {
	eng := enginetest.New()
	cfg := captureConfig()
	cfg.ScanEnabled = false

	var stdout bytes.Buffer
	err := capture(context.Background(), eng, cfg, captureOptions{
		URL:  "https://a.test/",
		Wait: 2 * time.Second,
	}, logging.NewNopLogger(), &stdout, &bytes.Buffer{})
	require.NoError(t, err)

	var result captureResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "https://a.test/", result.URL)
	assert.Nil(t, result.Media)
}

func TestCapture_FailedScanDoesNotHoldTheWait(t *testing.T) {
	eng := enginetest.New()
	eng.EvaluateFunc = func(*enginetest.Instance, string, any) (json.RawMessage, error) {
		return nil, errors.New("script blocked by page")
	}
	cfg := captureConfig()
	cfg.Scanner.Timeout = 50 * time.Millisecond
	cfg.Scanner.MarkupFallback = false

	var stdout bytes.Buffer
	start := time.Now()
	err := capture(context.Background(), eng, cfg, captureOptions{
		URL:  "https://a.test/",
		Wait: 30 * time.Second,
	}, logging.NewNopLogger(), &stdout, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var result captureResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Equal(t, "https://a.test/", result.URL)
	assert.Nil(t, result.Media)
}

func TestScanWait(t *testing.T) {
	cfg := captureConfig()
	cfg.ScanEnabled = false
	assert.Zero(t, scanWait(cfg))

	cfg.ScanEnabled = true
	cfg.Scanner.Timeout = 2 * time.Second
	assert.Equal(t, 2*time.Second+scanGrace, scanWait(cfg))

	cfg.Scanner.Timeout = 0
	assert.Equal(t, media.DefaultConfig().Timeout+scanGrace, scanWait(cfg))
}

func TestCapture_Timeout(t *testing.T) {
	eng := enginetest.New()
	eng.Manual = true

	err := capture(context.Background(), eng, captureConfig(), captureOptions{
		URL:  "https://slow.test",
		Wait: 50 * time.Millisecond,
	}, logging.NewNopLogger(), &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish loading")
}

func TestCapture_BlockedURL(t *testing.T) {
	cfg := captureConfig()
	cfg.BlockedHosts = []string{"**.ads.test"}

	err := capture(context.Background(), enginetest.New(), cfg, captureOptions{
		URL:  "https://x.ads.test",
		Wait: time.Second,
	}, logging.NewNopLogger(), &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorIs(t, err, session.ErrBlockedURL)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "captured v"+version+"\n", out.String())
}
