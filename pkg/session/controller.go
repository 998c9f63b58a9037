// Package session manages the single embedded browsing session of a host
// window.
//
// The Controller owns the engine instance and its lifecycle. The
// NavigationTracker is the only translator from raw engine events to the
// typed host event stream, the CrashRecoveryManager rebuilds the session
// after a renderer crash, and every successful load is followed by a media
// scan. Host events arrive in order on the channel returned by Events.
//
// Every subscription on an instance is tagged with the generation it was
// created in. Teardown bumps the generation under an exclusive lock before
// the instance is released, so nothing an old instance emits can reach the
// host once Destroy returns.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/media"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Config holds the session settings.
type Config struct {
	// PartitionID names the isolated storage partition. A "persist:" prefix
	// keeps it on disk below DataDir across sessions.
	PartitionID string
	DataDir     string

	Headless    bool
	Bounds      types.Rect
	BrowserPath string
	UserAgent   string
	LaunchArgs  []string

	CrashBackoff  time.Duration
	ProbeInterval time.Duration // zero disables the watchdog
	ProbeTimeout  time.Duration

	ScanEnabled bool
	Scanner     media.Config

	BlockedHosts []string
	EventBuffer  int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		PartitionID:   "persist:capture",
		Headless:      true,
		CrashBackoff:  time.Second,
		ProbeInterval: 5 * time.Second,
		ProbeTimeout:  3 * time.Second,
		ScanEnabled:   true,
		Scanner:       media.DefaultConfig(),
		EventBuffer:   64,
	}
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithMetrics records lifecycle and navigation metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller is the SessionController: it creates, destroys and commands the
// engine instance behind a host window.
type Controller struct {
	eng     engine.Engine
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Collector

	emitter  *Emitter
	tracker  *NavigationTracker
	recovery *CrashRecoveryManager
	scanner  *media.Scanner
	policy   *NavigationPolicy
	flight   singleflight.Group

	// deliver is read-held while an instance event is handled and write-held
	// while an instance is torn down.
	deliver sync.RWMutex

	mu     sync.Mutex
	inst   engine.Instance
	id     string
	gen    uint64
	unsubs []func()
	cancel context.CancelFunc
	bounds types.Rect
	closed bool

	// wg tracks watchdogs and scans.
	wg sync.WaitGroup
}

// NewController creates a controller. No instance exists until Create.
func NewController(eng engine.Engine, cfg Config, opts ...Option) (*Controller, error) {
	policy, err := NewNavigationPolicy(cfg.BlockedHosts)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		eng:    eng,
		cfg:    cfg,
		policy: policy,
		bounds: cfg.Bounds,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.NewNopLogger()
	}

	c.emitter = NewEmitter(cfg.EventBuffer)
	c.tracker = NewNavigationTracker(c.emit, c.log.With("tracker"), c.metrics)
	c.recovery = newCrashRecoveryManager(c, cfg.CrashBackoff, c.log.With("recovery"), c.metrics)
	if cfg.ScanEnabled {
		c.scanner = media.NewScanner(cfg.Scanner, c.log.With("scanner"))
	}
	return c, nil
}

// Events returns the host event channel. It is closed by Close.
func (c *Controller) Events() <-chan *types.SessionEvent {
	return c.emitter.Events()
}

func (c *Controller) emit(ev *types.SessionEvent) {
	c.emitter.Emit(ev)
}

// Create allocates the engine instance. Calling it while a session exists is
// a successful no-op, and concurrent calls share one allocation.
func (c *Controller) Create(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inst != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.flight.Do("create", func() (interface{}, error) {
		return nil, c.create(ctx)
	})
	return err
}

func (c *Controller) create(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inst != nil {
		c.mu.Unlock()
		return nil
	}
	bounds := c.bounds
	c.mu.Unlock()

	inst, err := c.eng.Open(ctx, engine.Options{
		PartitionID: c.cfg.PartitionID,
		DataDir:     c.cfg.DataDir,
		Headless:    c.cfg.Headless,
		Bounds:      bounds,
		BrowserPath: c.cfg.BrowserPath,
		UserAgent:   c.cfg.UserAgent,
		Args:        c.cfg.LaunchArgs,
	})
	if err != nil {
		return fmt.Errorf("open engine instance: %w", err)
	}

	c.mu.Lock()
	if c.closed || c.inst != nil || ctx.Err() != nil {
		closed, raced := c.closed, c.inst != nil
		c.mu.Unlock()
		if cerr := inst.Close(); cerr != nil {
			c.log.Warnf("failed to close surplus instance: %v", cerr)
		}
		switch {
		case closed:
			return ErrClosed
		case raced:
			return nil
		default:
			return ctx.Err()
		}
	}

	c.gen++
	gen := c.gen
	id := uuid.NewString()
	ictx, cancel := context.WithCancel(context.Background())
	c.inst, c.id, c.cancel = inst, id, cancel
	c.tracker.Reset(id)
	c.recovery.resetResponsiveness()

	c.unsubs = []func(){
		inst.Subscribe(c.guard(gen, func(ev engine.Event) {
			c.onNavigationEvent(ictx, gen, id, inst, ev)
		})),
		inst.Subscribe(c.guard(gen, func(ev engine.Event) {
			c.onLifecycleEvent(id, ev)
		})),
	}

	if c.cfg.ProbeInterval > 0 {
		timeout := c.cfg.ProbeTimeout
		if timeout <= 0 {
			timeout = c.cfg.ProbeInterval
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.recovery.watch(ictx, inst, c.cfg.ProbeInterval, timeout, func(responsive bool) {
				c.ifLive(gen, func() { c.recovery.SetResponsive(id, responsive) })
			})
		}()
	}
	c.mu.Unlock()

	c.metrics.SessionCreated()
	c.log.Infof("session %s created on %s (partition %q)", id, c.eng.Name(), c.cfg.PartitionID)
	return nil
}

// guard drops events of instances other than generation gen.
func (c *Controller) guard(gen uint64, h engine.Handler) engine.Handler {
	return func(ev engine.Event) {
		c.ifLive(gen, func() { h(ev) })
	}
}

// ifLive runs fn while generation gen is the live instance. fn must not call
// back into ifLive or teardown.
func (c *Controller) ifLive(gen uint64, fn func()) bool {
	c.deliver.RLock()
	defer c.deliver.RUnlock()

	c.mu.Lock()
	live := c.inst != nil && c.gen == gen
	c.mu.Unlock()
	if !live {
		return false
	}
	fn()
	return true
}

func (c *Controller) onNavigationEvent(ctx context.Context, gen uint64, id string, inst engine.Instance, ev engine.Event) {
	if !c.tracker.Handle(ctx, inst, ev) || c.scanner == nil {
		return
	}

	seq := c.tracker.Seq()
	pageURL := c.tracker.CurrentURL()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res := c.scanner.Scan(ctx, inst, pageURL)
		c.metrics.MediaScan(res.OK())
		if !res.OK() {
			c.log.Warnf("media scan of %s failed: %s", pageURL, res.Reason)
			return
		}
		c.ifLive(gen, func() {
			if c.tracker.Seq() != seq {
				c.log.Debugf("dropping media inventory of %s: page navigated away", pageURL)
				return
			}
			c.emit(types.NewMediaDetectedEvent(id, res.Inventory))
		})
	}()
}

func (c *Controller) onLifecycleEvent(id string, ev engine.Event) {
	switch ev.Kind {
	case engine.EventCrashed:
		c.recovery.HandleCrash(id, ev.Reason)
	case engine.EventUnresponsive:
		c.recovery.SetResponsive(id, false)
	case engine.EventResponsive:
		c.recovery.SetResponsive(id, true)
	}
}

// Destroy tears the session down. It aborts a pending crash recovery and is a
// no-op when no session exists.
func (c *Controller) Destroy() {
	c.recovery.Abort()
	c.teardown("destroyed by host")
}

func (c *Controller) teardown(reason string) {
	c.deliver.Lock()
	c.mu.Lock()
	inst, id := c.inst, c.id
	if inst == nil {
		c.mu.Unlock()
		c.deliver.Unlock()
		return
	}
	for _, unsubscribe := range c.unsubs {
		unsubscribe()
	}
	c.unsubs = nil
	c.cancel()
	c.inst, c.id, c.cancel = nil, "", nil
	c.gen++
	c.tracker.Reset("")
	c.mu.Unlock()
	c.deliver.Unlock()

	if err := inst.Close(); err != nil {
		c.log.Warnf("closing instance of session %s: %v", id, err)
	}
	c.metrics.SessionDestroyed()
	c.log.Infof("session %s %s", id, reason)
}

// IsCreated reports whether a live session exists.
func (c *Controller) IsCreated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inst != nil
}

// ID returns the live session's handle, or "".
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Controller) instance() (engine.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.inst == nil {
		return nil, ErrNotInitialized
	}
	return c.inst, nil
}

// Navigate starts loading input after normalising it. It returns once the
// navigation is dispatched; progress arrives as events.
func (c *Controller) Navigate(ctx context.Context, input string) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	target, err := NormalizeURL(input)
	if err != nil {
		c.log.Warnf("navigate rejected: %v", err)
		return err
	}
	if err := c.policy.Check(target); err != nil {
		c.log.Warnf("navigate rejected: %v", err)
		return err
	}
	if err := inst.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// GoBack steps back in history. It is a no-op when there is nothing behind.
func (c *Controller) GoBack(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if !c.tracker.CanGoBack() {
		c.log.Debugf("go back ignored: no history")
		return nil
	}
	if err := inst.GoBack(ctx); err != nil {
		return fmt.Errorf("go back: %w", err)
	}
	return nil
}

// GoForward steps forward in history. It is a no-op when there is nothing ahead.
func (c *Controller) GoForward(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if !c.tracker.CanGoForward() {
		c.log.Debugf("go forward ignored: no history")
		return nil
	}
	if err := inst.GoForward(ctx); err != nil {
		return fmt.Errorf("go forward: %w", err)
	}
	return nil
}

// Reload reloads the current page.
func (c *Controller) Reload(ctx context.Context) error {
	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// SetBounds places the view. The rect is remembered and re-applied to a
// recreated session.
func (c *Controller) SetBounds(ctx context.Context, rect types.Rect) error {
	c.mu.Lock()
	c.bounds = rect
	c.mu.Unlock()

	inst, err := c.instance()
	if err != nil {
		return err
	}
	if err := inst.SetBounds(ctx, rect); err != nil {
		return fmt.Errorf("set bounds: %w", err)
	}
	return nil
}

// Cookies reads the live session's partitioned cookie store.
func (c *Controller) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	inst, err := c.instance()
	if err != nil {
		return nil, err
	}
	return inst.Cookies(ctx)
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.Lock()
	s := State{
		ID:          c.id,
		Created:     c.inst != nil,
		PartitionID: c.cfg.PartitionID,
	}
	c.mu.Unlock()

	c.tracker.Snapshot(&s)
	s.Recovering = c.recovery.InProgress()
	s.Unresponsive = c.recovery.Unresponsive()
	return s
}

// Close destroys the session, waits for background work and closes the
// event channel. The engine itself stays open.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Tear down first so no crash signal can start a recovery afterwards.
	c.teardown("closed")
	c.recovery.Abort()
	c.recovery.Wait()
	c.wg.Wait()
	c.emitter.Close()
	return nil
}

func (c *Controller) recoveryURL() string { return c.tracker.CurrentURL() }

func (c *Controller) teardownForRecovery() { c.teardown("torn down for crash recovery") }

func (c *Controller) recreate(ctx context.Context) error { return c.Create(ctx) }

func (c *Controller) renavigate(ctx context.Context, url string) error {
	return c.Navigate(ctx, url)
}
