// Package pwdriver runs capture sessions on Chromium through Playwright.
//
// # Partitions
//
// A persistent partition ("persist:<name>") is launched with
// LaunchPersistentContext on its own profile directory below the configured
// data dir, so cookies survive a destroy/create cycle and a crash recovery. An
// in-memory partition gets a fresh browser context that is discarded on Close.
//
// # Events
//
// Page callbacks are translated into engine.Events and handed to the
// instance's engine.Dispatcher. Playwright has no notion of the renderer
// being hung, so unresponsive/responsive reporting is left to the session
// watchdog built on Instance.Ping.
package pwdriver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// Driver is an engine.Engine backed by a Playwright server process.
type Driver struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	initialized bool

	// Install downloads the browsers on first use.
	Install bool

	log *logging.Logger
}

// New creates a driver. The Playwright server starts on the first Open.
func New(log *logging.Logger) *Driver {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Driver{Install: true, log: log}
}

// Name implements engine.Engine.
func (d *Driver) Name() string { return "playwright" }

// Initialize starts the Playwright server. It is called by Open and may be
// called earlier to surface installation problems at startup.
func (d *Driver) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	// Keep the driver quiet; its output would interleave with ours.
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if d.Install {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	d.playwright = pw
	d.initialized = true
	d.log.Infof("playwright server started")
	return nil
}

// Open implements engine.Engine.
func (d *Driver) Open(ctx context.Context, opts engine.Options) (engine.Instance, error) {
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	pw := d.playwright
	d.mu.Unlock()

	args := engine.SanitizeArgs(opts.Args)
	viewport := viewportFor(opts)

	var (
		browser playwright.Browser
		bctx    playwright.BrowserContext
		err     error
	)

	if dir := engine.PartitionDir(opts.DataDir, opts.PartitionID); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create partition directory: %w", err)
		}
		launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:          playwright.Bool(opts.Headless),
			Args:              args,
			Viewport:          viewport,
			JavaScriptEnabled: playwright.Bool(true),
			BypassCSP:         playwright.Bool(false),
			AcceptDownloads:   playwright.Bool(false),
		}
		if opts.BrowserPath != "" {
			launchOpts.ExecutablePath = playwright.String(opts.BrowserPath)
		}
		if opts.UserAgent != "" {
			launchOpts.UserAgent = playwright.String(opts.UserAgent)
		}
		bctx, err = pw.Chromium.LaunchPersistentContext(dir, launchOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to launch persistent context: %w", err)
		}
	} else {
		launchOpts := playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
			Args:     args,
		}
		if opts.BrowserPath != "" {
			launchOpts.ExecutablePath = playwright.String(opts.BrowserPath)
		}
		browser, err = pw.Chromium.Launch(launchOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}

		contextOpts := playwright.BrowserNewContextOptions{
			Viewport:          viewport,
			JavaScriptEnabled: playwright.Bool(true),
			BypassCSP:         playwright.Bool(false),
			AcceptDownloads:   playwright.Bool(false),
		}
		if opts.UserAgent != "" {
			contextOpts.UserAgent = playwright.String(opts.UserAgent)
		}
		bctx, err = browser.NewContext(contextOpts)
		if err != nil {
			_ = browser.Close()
			return nil, fmt.Errorf("failed to create context: %w", err)
		}
	}

	// A persistent context opens with a blank page already attached.
	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		if browser != nil {
			_ = browser.Close()
		}
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	inst := newInstance(browser, bctx, page, opts, d.log)
	d.log.Infof("opened instance %s (partition %q, headless=%v)", inst.ID(), opts.PartitionID, opts.Headless)
	return inst, nil
}

// Close stops the Playwright server.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized || d.playwright == nil {
		return nil
	}
	if err := d.playwright.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	d.initialized = false
	d.playwright = nil
	return nil
}

func viewportFor(opts engine.Options) *playwright.Size {
	if opts.Bounds.Empty() {
		return nil
	}
	return &playwright.Size{Width: opts.Bounds.Width, Height: opts.Bounds.Height}
}
