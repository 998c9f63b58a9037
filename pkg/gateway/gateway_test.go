package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/engine/enginetest"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/session"
	"github.com/entrhq/capture/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	eng     *enginetest.Engine
	ctrl    *session.Controller
	gw      *Gateway
	metrics *metrics.Collector
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	eng := enginetest.New()
	m := metrics.New()

	scfg := session.DefaultConfig()
	scfg.CrashBackoff = 10 * time.Millisecond
	scfg.ProbeInterval = 0
	ctrl, err := session.NewController(eng, scfg, session.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	exporter := cookies.NewExporter(ctrl, nil, m)
	return &fixture{
		eng:     eng,
		ctrl:    ctrl,
		gw:      New(ctrl, exporter, cfg, WithMetrics(m)),
		metrics: m,
	}
}

func args(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestCommands_Registered(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Equal(t, []string{
		"create", "destroy", "exportForArchival", "getCookies", "goBack", "goForward",
		"handoff", "navigate", "reload", "setBounds", "state",
	}, f.gw.Commands())

	err := f.gw.Register(NewCommand(CmdCreate, "dup", nil))
	assert.Error(t, err)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	f := newFixture(t, Config{})
	resp := f.gw.Dispatch(context.Background(), "teleport", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown command: teleport", resp.Error)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Commands.WithLabelValues("unknown", "failure")))
}

func TestDispatch_NotInitialized(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for _, name := range []string{CmdNavigate, CmdGoBack, CmdGoForward, CmdReload, CmdHandoff} {
		resp := f.gw.Dispatch(ctx, name, args(t, map[string]string{"url": "https://a.test", "domain": "a.test", "path": "/tmp/x"}))
		assert.Equal(t, Response{Success: false, Error: "not initialized"}, resp, name)
	}
	resp := f.gw.Dispatch(ctx, CmdSetBounds, args(t, types.Rect{Width: 10, Height: 10}))
	assert.Equal(t, "not initialized", resp.Error)
	assert.Equal(t, 0, f.eng.Opened())
}

func TestDispatch_CookiesWithoutSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	resp := f.gw.Dispatch(ctx, CmdGetCookies, args(t, map[string]string{"domain": "instagram.com"}))
	assert.True(t, resp.Success)
	assert.Equal(t, []cookies.Record{}, resp.Data)

	resp = f.gw.Dispatch(ctx, CmdExportForArchival, args(t, map[string]string{"domain": "instagram.com"}))
	assert.True(t, resp.Success)
	assert.Equal(t, "", resp.Data)
}

func TestDispatch_LazyCreate(t *testing.T) {
	f := newFixture(t, Config{LazyCreate: true})

	resp := f.gw.Dispatch(context.Background(), CmdNavigate, args(t, map[string]string{"url": "example.com"}))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 1, f.eng.Opened())
	require.Eventually(t, func() bool {
		return f.ctrl.State().CurrentURL == "https://example.com"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatch_PanicContained(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.gw.Register(NewCommand("explode", "panics", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})))

	var resp Response
	assert.NotPanics(t, func() {
		resp = f.gw.Dispatch(context.Background(), "explode", nil)
	})
	assert.Equal(t, Response{Success: false, Error: "internal error: boom"}, resp)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Commands.WithLabelValues("explode", "failure")))
}

func TestDispatch_Lifecycle(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	resp := f.gw.Dispatch(ctx, CmdCreate, nil)
	require.True(t, resp.Success, resp.Error)
	created, ok := resp.Data.(CreateResult)
	require.True(t, ok)
	assert.Equal(t, f.ctrl.ID(), created.ID)

	resp = f.gw.Dispatch(ctx, CmdNavigate, args(t, map[string]string{"url": "https://a.test/"}))
	require.True(t, resp.Success, resp.Error)
	require.Eventually(t, func() bool {
		s := f.ctrl.State()
		return s.CurrentURL == "https://a.test/" && !s.Loading
	}, 2*time.Second, 5*time.Millisecond)

	resp = f.gw.Dispatch(ctx, CmdState, nil)
	require.True(t, resp.Success)
	state := resp.Data.(session.State)
	assert.Equal(t, "https://a.test/", state.CurrentURL)
	assert.True(t, state.Created)

	resp = f.gw.Dispatch(ctx, CmdNavigate, args(t, map[string]string{"url": ""}))
	assert.Equal(t, Response{Success: false, Error: "empty url"}, resp)

	resp = f.gw.Dispatch(ctx, CmdDestroy, nil)
	assert.True(t, resp.Success)
	resp = f.gw.Dispatch(ctx, CmdDestroy, nil)
	assert.True(t, resp.Success)
	assert.False(t, f.ctrl.IsCreated())
	assert.Equal(t, 1, f.eng.Closed())
}

func TestDispatch_InvalidArguments(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.True(t, f.gw.Dispatch(ctx, CmdCreate, nil).Success)

	resp := f.gw.Dispatch(ctx, CmdNavigate, json.RawMessage(`{"url": 42}`))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid arguments for navigate")

	resp = f.gw.Dispatch(ctx, CmdSetBounds, args(t, types.Rect{Width: 0, Height: 10}))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "width and height must be positive")

	resp = f.gw.Dispatch(ctx, CmdSetBounds, args(t, types.Rect{X: 1, Y: 2, Width: 300, Height: 200}))
	assert.True(t, resp.Success, resp.Error)
	assert.Equal(t, types.Rect{X: 1, Y: 2, Width: 300, Height: 200}, f.eng.Last().Bounds())
}

func TestDispatch_ExportAndHandoff(t *testing.T) {
	f := newFixture(t, Config{HandoffDir: t.TempDir()})
	f.eng.SetCookies("persist:capture", []engine.Cookie{
		{Name: "sessionid", Value: "abc", Domain: "instagram.com", Path: "/", Secure: true, Session: true},
	})
	ctx := context.Background()
	require.True(t, f.gw.Dispatch(ctx, CmdCreate, nil).Success)

	resp := f.gw.Dispatch(ctx, CmdExportForArchival, args(t, map[string]string{"domain": "instagram.com"}))
	require.True(t, resp.Success)
	assert.Equal(t, ".instagram.com\tTRUE\t/\tTRUE\t0\tsessionid\tabc", resp.Data)

	require.True(t, f.gw.Dispatch(ctx, CmdNavigate, args(t, map[string]string{"url": "https://instagram.com/p/1"})).Success)
	require.Eventually(t, func() bool { return f.ctrl.State().CurrentURL == "https://instagram.com/p/1" }, 2*time.Second, 5*time.Millisecond)

	resp = f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": "instagram.com"}))
	require.True(t, resp.Success, resp.Error)
	result := resp.Data.(HandoffResult)
	assert.Equal(t, "https://instagram.com/p/1", result.URL)
	assert.Equal(t, 1, result.Cookies)
	assert.Equal(t, "instagram.com-cookies.txt", filepath.Base(result.CookieFile))

	data, err := os.ReadFile(result.CookieFile)
	require.NoError(t, err)
	assert.Equal(t, cookies.FileHeader+"\n.instagram.com\tTRUE\t/\tTRUE\t0\tsessionid\tabc\n", string(data))

	resp = f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": ""}))
	assert.Contains(t, resp.Error, "domain is required")
}

func TestDispatch_HandoffNeedsPath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.True(t, f.gw.Dispatch(ctx, CmdCreate, nil).Success)

	resp := f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": "a.test"}))
	assert.Contains(t, resp.Error, "path is required")

	path := filepath.Join(t.TempDir(), "out.txt")
	resp = f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": "a.test", "path": path}))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 0, resp.Data.(HandoffResult).Cookies)
	assert.FileExists(t, path)
}

func TestDispatch_HandoffStaysInDir(t *testing.T) {
	f := newFixture(t, Config{HandoffDir: t.TempDir()})
	ctx := context.Background()
	require.True(t, f.gw.Dispatch(ctx, CmdCreate, nil).Success)

	resp := f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": "a.test", "path": "../escape.txt"}))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "outside the handoff directory")

	resp = f.gw.Dispatch(ctx, CmdHandoff, args(t, map[string]string{"domain": "a.test", "path": "nested/a.txt"}))
	require.True(t, resp.Success, resp.Error)
	assert.FileExists(t, resp.Data.(HandoffResult).CookieFile)
}
