// Package roddriver runs capture sessions on Chromium over the DevTools
// protocol with go-rod. Every instance gets its own browser process so a
// persistent partition maps one-to-one onto a Chrome user data dir.
package roddriver

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Driver is an engine.Engine that launches Chrome through rod's launcher.
type Driver struct {
	log *logging.Logger
}

// New creates a rod driver.
func New(log *logging.Logger) *Driver {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Driver{log: log}
}

// Name implements engine.Engine.
func (d *Driver) Name() string { return "rod" }

// Open implements engine.Engine.
func (d *Driver) Open(ctx context.Context, opts engine.Options) (engine.Instance, error) {
	launch := launcher.New().Headless(opts.Headless).Leakless(true)
	if opts.BrowserPath != "" {
		launch = launch.Bin(opts.BrowserPath)
	}

	dir := engine.PartitionDir(opts.DataDir, opts.PartitionID)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create partition directory: %w", err)
		}
		launch = launch.UserDataDir(dir)
	}
	for _, arg := range engine.SanitizeArgs(opts.Args) {
		name, val, hasVal := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}
	if !opts.Bounds.Empty() {
		launch = launch.Set("window-position", fmt.Sprintf("%d,%d", opts.Bounds.X, opts.Bounds.Y)).
			Set("window-size", fmt.Sprintf("%d,%d", opts.Bounds.Width, opts.Bounds.Height))
	}

	// The launcher kills the browser when its context ends.
	controlURL, err := launch.Context(context.WithoutCancel(ctx)).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	// Cleanup removes the user data dir, which only a throwaway profile may do.
	release := func() {
		launch.Kill()
		if dir == "" {
			launch.Cleanup()
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		release()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	var (
		scope     = browser
		contextID proto.BrowserBrowserContextID
	)
	if dir == "" {
		incognito, err := browser.Incognito()
		if err != nil {
			_ = browser.Close()
			release()
			return nil, fmt.Errorf("incognito context: %w", err)
		}
		scope = incognito
		contextID = incognito.BrowserContextID
	}

	page, err := scope.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		release()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if opts.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}).Call(page); err != nil {
			d.log.Warnf("failed to override user agent: %v", err)
		}
	}

	inst, err := newInstance(browser, page, contextID, release, opts, d.log)
	if err != nil {
		return nil, err
	}
	d.log.Infof("opened instance %s (partition %q, headless=%v)", inst.ID(), opts.PartitionID, opts.Headless)
	return inst, nil
}

// Close implements engine.Engine. Browser processes belong to their
// instances, so there is nothing driver-wide to release.
func (d *Driver) Close() error { return nil }
