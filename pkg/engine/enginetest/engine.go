// Package enginetest provides a scriptable in-memory engine.Engine for tests.
//
// Every navigation runs a complete, synchronous event cycle unless the engine
// is in manual mode: started, committed, title, stopped for a known or unknown
// page, and started, failed for a page registered with a failure. Tests drive
// crashes, hangs and arbitrary raw events through the Instance helpers.
package enginetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/types"
)

// Page describes how the fake engine serves a URL.
type Page struct {
	Title string
	HTML  string

	// FailCode and FailText make every navigation to the URL fail.
	FailCode int
	FailText string

	// Scan is returned verbatim by Evaluate while the page is current.
	Scan json.RawMessage
}

// Engine is a fake engine.Engine.
type Engine struct {
	mu        sync.Mutex
	pages     map[string]Page
	cookies   map[string][]engine.Cookie
	instances []*Instance
	opened    int
	closed    int

	// OpenErr, when set, is returned by Open.
	OpenErr error

	// OpenDelay holds Open before it returns.
	OpenDelay time.Duration

	// Manual disables automatic navigation cycles; tests emit events themselves.
	Manual bool

	// CookieErr, when set, is returned by Instance.Cookies.
	CookieErr error

	// EvaluateFunc overrides Instance.Evaluate.
	EvaluateFunc func(inst *Instance, script string, arg any) (json.RawMessage, error)
}

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{
		pages:   make(map[string]Page),
		cookies: make(map[string][]engine.Cookie),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "fake" }

// SetPage registers how url is served.
func (e *Engine) SetPage(url string, p Page) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[url] = p
}

// SetCookies replaces the cookie store of a partition.
func (e *Engine) SetCookies(partition string, cookies []engine.Cookie) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cookies[partition] = append([]engine.Cookie(nil), cookies...)
}

func (e *Engine) page(url string) (Page, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pages[url]
	return p, ok
}

// Open implements engine.Engine.
func (e *Engine) Open(ctx context.Context, opts engine.Options) (engine.Instance, error) {
	if e.OpenDelay > 0 {
		select {
		case <-time.After(e.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	e.opened++
	inst := &Instance{
		id:      fmt.Sprintf("fake-%d", e.opened),
		eng:     e,
		opts:    opts,
		disp:    engine.NewDispatcher(nil),
		history: []string{"about:blank"},
		bounds:  opts.Bounds,
	}
	e.instances = append(e.instances, inst)
	return inst, nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error { return nil }

// Opened returns how many instances were opened.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Closed returns how many instances were closed.
func (e *Engine) Closed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Live returns the number of open instances.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}

// Instances returns every instance opened so far, oldest first.
func (e *Engine) Instances() []*Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Instance(nil), e.instances...)
}

// Last returns the most recently opened instance, or nil.
func (e *Engine) Last() *Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.instances) == 0 {
		return nil
	}
	return e.instances[len(e.instances)-1]
}

// Instance is a fake engine.Instance.
type Instance struct {
	id   string
	eng  *Engine
	opts engine.Options
	disp *engine.Dispatcher

	mu          sync.Mutex
	closed      bool
	hung        bool
	history     []string
	index       int
	navigations []string
	bounds      types.Rect
}

var _ engine.Instance = (*Instance)(nil)

func (i *Instance) ID() string { return i.id }

// Options returns the options the instance was opened with.
func (i *Instance) Options() engine.Options { return i.opts }

func (i *Instance) Subscribe(h engine.Handler) func() { return i.disp.Subscribe(h) }

// Subscribers returns the number of live subscriptions.
func (i *Instance) Subscribers() int { return i.disp.Len() }

// Emit delivers a raw event as if the engine produced it.
func (i *Instance) Emit(ev engine.Event) { i.disp.Emit(ev) }

// CrashNow simulates a renderer crash.
func (i *Instance) CrashNow() {
	i.disp.Emit(engine.Event{Kind: engine.EventCrashed, Reason: "simulated crash"})
}

// SetHung makes Ping and Evaluate block until their context ends.
func (i *Instance) SetHung(hung bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hung = hung
}

// Navigations returns every URL passed to Navigate.
func (i *Instance) Navigations() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.navigations...)
}

// Bounds returns the last applied bounds.
func (i *Instance) Bounds() types.Rect {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.bounds
}

// Closed reports whether Close was called.
func (i *Instance) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

func (i *Instance) current() string {
	return i.history[i.index]
}

// cycle emits the events of one navigation to url. Called with i.mu held.
func (i *Instance) cycle(url string, push bool) {
	if i.eng.Manual {
		return
	}
	page, known := i.eng.page(url)
	i.disp.Emit(engine.Event{Kind: engine.EventNavigationStarted, URL: url})
	if page.FailCode != 0 {
		i.disp.Emit(engine.Event{
			Kind:      engine.EventNavigationFailed,
			URL:       url,
			ErrorCode: page.FailCode,
			ErrorText: page.FailText,
		})
		// Chromium still commits and loads its error document.
		i.disp.Emit(engine.Event{Kind: engine.EventNavigationCommitted, URL: engine.ErrorPageURL})
		i.disp.Emit(engine.Event{Kind: engine.EventNavigationStopped})
		return
	}
	if push {
		i.history = append(i.history[:i.index+1], url)
		i.index = len(i.history) - 1
	}
	title := page.Title
	if !known {
		title = url
	}
	i.disp.Emit(engine.Event{Kind: engine.EventNavigationCommitted, URL: url})
	i.disp.Emit(engine.Event{Kind: engine.EventTitleUpdated, Title: title})
	i.disp.Emit(engine.Event{Kind: engine.EventNavigationStopped})
}

func (i *Instance) Navigate(ctx context.Context, url string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	i.navigations = append(i.navigations, url)
	i.cycle(url, true)
	return nil
}

func (i *Instance) GoBack(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	if i.index > 0 {
		i.index--
		i.cycle(i.current(), false)
	}
	return nil
}

func (i *Instance) GoForward(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	if i.index < len(i.history)-1 {
		i.index++
		i.cycle(i.current(), false)
	}
	return nil
}

func (i *Instance) Reload(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	i.cycle(i.current(), false)
	return nil
}

func (i *Instance) History(ctx context.Context) (engine.History, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.History{}, engine.ErrInstanceClosed
	}
	return engine.HistoryFromIndex(i.index, len(i.history)), nil
}

func (i *Instance) SetBounds(ctx context.Context, rect types.Rect) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	i.bounds = rect
	return nil
}

// waitIfHung blocks until ctx ends while the instance is hung.
func (i *Instance) waitIfHung(ctx context.Context) error {
	i.mu.Lock()
	closed, hung := i.closed, i.hung
	i.mu.Unlock()
	if closed {
		return engine.ErrInstanceClosed
	}
	if !hung {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (i *Instance) Evaluate(ctx context.Context, script string, arg any) (json.RawMessage, error) {
	if err := i.waitIfHung(ctx); err != nil {
		return nil, err
	}
	if fn := i.eng.EvaluateFunc; fn != nil {
		return fn(i, script, arg)
	}
	i.mu.Lock()
	url := i.current()
	i.mu.Unlock()
	if page, ok := i.eng.page(url); ok && page.Scan != nil {
		return page.Scan, nil
	}
	return json.RawMessage(`{"images":[],"videos":[]}`), nil
}

// CurrentURL returns the URL at the current history index.
func (i *Instance) CurrentURL() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current()
}

func (i *Instance) Content(ctx context.Context) (string, error) {
	if err := i.waitIfHung(ctx); err != nil {
		return "", err
	}
	page, _ := i.eng.page(i.CurrentURL())
	return page.HTML, nil
}

func (i *Instance) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	if i.Closed() {
		return nil, engine.ErrInstanceClosed
	}
	i.eng.mu.Lock()
	defer i.eng.mu.Unlock()
	if i.eng.CookieErr != nil {
		return nil, i.eng.CookieErr
	}
	return append([]engine.Cookie(nil), i.eng.cookies[i.opts.PartitionID]...), nil
}

func (i *Instance) Ping(ctx context.Context) error {
	return i.waitIfHung(ctx)
}

func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.disp.Close()

	i.eng.mu.Lock()
	i.eng.closed++
	i.eng.mu.Unlock()
	return nil
}

// ErrOpen is a convenience failure for Engine.OpenErr.
var ErrOpen = errors.New("enginetest: open failed")
