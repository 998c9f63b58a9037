package pwdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/types"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

type instance struct {
	id       string
	headless bool

	browser playwright.Browser // nil for persistent partitions
	bctx    playwright.BrowserContext
	page    playwright.Page

	disp *engine.Dispatcher
	log  *logging.Logger

	mu     sync.Mutex
	cdp    playwright.CDPSession
	title  string
	closed bool

	// navSeq counts main-frame navigation starts. Asynchronous follow-ups
	// (title lookups, Goto errors) are dropped once a newer navigation began.
	navSeq atomic.Uint64
}

func newInstance(browser playwright.Browser, bctx playwright.BrowserContext, page playwright.Page, opts engine.Options, log *logging.Logger) *instance {
	id := uuid.NewString()
	log = log.With(id[:8])
	i := &instance{
		id:       id,
		headless: opts.Headless,
		browser:  browser,
		bctx:     bctx,
		page:     page,
		disp:     engine.NewDispatcher(log),
		log:      log,
	}
	i.wire()
	return i
}

func (i *instance) ID() string { return i.id }

func (i *instance) Subscribe(h engine.Handler) func() { return i.disp.Subscribe(h) }

func isMainFrame(f playwright.Frame) bool {
	return f != nil && f.ParentFrame() == nil
}

// wire translates page callbacks into engine events.
func (i *instance) wire() {
	i.page.OnRequest(func(req playwright.Request) {
		if !req.IsNavigationRequest() || !isMainFrame(req.Frame()) {
			return
		}
		i.navSeq.Add(1)
		i.disp.Emit(engine.Event{Kind: engine.EventNavigationStarted, URL: req.URL()})
	})

	i.page.OnRequestFailed(func(req playwright.Request) {
		if !req.IsNavigationRequest() || !isMainFrame(req.Frame()) {
			return
		}
		text := "net::ERR_FAILED"
		if err := req.Failure(); err != nil {
			text = err.Error()
		}
		// Superseded loads are not failures.
		if engine.IsAborted(text) {
			return
		}
		i.disp.Emit(engine.Event{
			Kind:      engine.EventNavigationFailed,
			URL:       req.URL(),
			ErrorCode: engine.NetErrorCode(text),
			ErrorText: text,
		})
	})

	i.page.OnFrameNavigated(func(f playwright.Frame) {
		if !isMainFrame(f) || engine.IsErrorPage(f.URL()) {
			return
		}
		i.disp.Emit(engine.Event{Kind: engine.EventNavigationCommitted, URL: f.URL()})
	})

	i.page.OnDOMContentLoaded(func(playwright.Page) {
		go i.refreshTitle(i.navSeq.Load(), false)
	})

	i.page.OnLoad(func(playwright.Page) {
		go i.refreshTitle(i.navSeq.Load(), true)
	})

	i.page.OnCrash(func(playwright.Page) {
		i.disp.Emit(engine.Event{Kind: engine.EventCrashed, Reason: "renderer process terminated"})
	})

	i.page.OnClose(func(playwright.Page) {
		i.mu.Lock()
		closed := i.closed
		i.mu.Unlock()
		if !closed {
			i.disp.Emit(engine.Event{Kind: engine.EventCrashed, Reason: "page closed"})
		}
	})
}

// refreshTitle reports a changed title and, for the load event, the end of
// the navigation. Protocol calls are not made from inside page callbacks.
func (i *instance) refreshTitle(seq uint64, stopped bool) {
	title, err := i.page.Title()
	if i.navSeq.Load() != seq {
		return
	}
	if err == nil {
		i.mu.Lock()
		changed := title != i.title
		i.title = title
		i.mu.Unlock()
		if changed {
			i.disp.Emit(engine.Event{Kind: engine.EventTitleUpdated, Title: title})
		}
	}
	if stopped {
		i.disp.Emit(engine.Event{Kind: engine.EventNavigationStopped})
	}
}

func (i *instance) checkOpen() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return engine.ErrInstanceClosed
	}
	return nil
}

// Navigate starts the load in the background. Failures after the request was
// issued arrive through OnRequestFailed; failures before it (bad scheme,
// malformed URL) are reported here.
func (i *instance) Navigate(ctx context.Context, url string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	seq := i.navSeq.Load()
	go func() {
		commit := playwright.WaitUntilStateCommit
		_, err := i.page.Goto(url, playwright.PageGotoOptions{WaitUntil: commit, Timeout: playwright.Float(0)})
		if err == nil || i.checkOpen() != nil {
			return
		}
		i.log.Debugf("goto %s: %v", url, err)
		if i.navSeq.Load() != seq || engine.IsAborted(err.Error()) {
			return
		}
		i.disp.Emit(engine.Event{
			Kind:      engine.EventNavigationFailed,
			URL:       url,
			ErrorCode: engine.NetErrorCode(err.Error()),
			ErrorText: err.Error(),
		})
	}()
	return nil
}

func (i *instance) background(name string, fn func() (playwright.Response, error)) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	go func() {
		if _, err := fn(); err != nil && i.checkOpen() == nil {
			i.log.Debugf("%s: %v", name, err)
		}
	}()
	return nil
}

func (i *instance) GoBack(ctx context.Context) error {
	return i.background("go back", func() (playwright.Response, error) {
		return i.page.GoBack(playwright.PageGoBackOptions{WaitUntil: playwright.WaitUntilStateCommit})
	})
}

func (i *instance) GoForward(ctx context.Context) error {
	return i.background("go forward", func() (playwright.Response, error) {
		return i.page.GoForward(playwright.PageGoForwardOptions{WaitUntil: playwright.WaitUntilStateCommit})
	})
}

func (i *instance) Reload(ctx context.Context) error {
	return i.background("reload", func() (playwright.Response, error) {
		return i.page.Reload(playwright.PageReloadOptions{WaitUntil: playwright.WaitUntilStateCommit})
	})
}

func (i *instance) session() (playwright.CDPSession, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, engine.ErrInstanceClosed
	}
	if i.cdp != nil {
		return i.cdp, nil
	}
	cdp, err := i.bctx.NewCDPSession(i.page)
	if err != nil {
		return nil, fmt.Errorf("failed to open cdp session: %w", err)
	}
	i.cdp = cdp
	return cdp, nil
}

func (i *instance) History(ctx context.Context) (engine.History, error) {
	cdp, err := i.session()
	if err != nil {
		return engine.History{}, err
	}
	res, err := call(ctx, func() (interface{}, error) {
		return cdp.Send("Page.getNavigationHistory", map[string]interface{}{})
	})
	if err != nil {
		return engine.History{}, fmt.Errorf("failed to read history: %w", err)
	}

	var history struct {
		CurrentIndex int               `json:"currentIndex"`
		Entries      []json.RawMessage `json:"entries"`
	}
	if err := remarshal(res, &history); err != nil {
		return engine.History{}, err
	}
	return engine.HistoryFromIndex(history.CurrentIndex, len(history.Entries)), nil
}

func (i *instance) SetBounds(ctx context.Context, rect types.Rect) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if rect.Empty() {
		return nil
	}
	if _, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, i.page.SetViewportSize(rect.Width, rect.Height)
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	if i.headless {
		return nil
	}

	cdp, err := i.session()
	if err != nil {
		return err
	}
	_, err = call(ctx, func() (interface{}, error) {
		res, err := cdp.Send("Browser.getWindowForTarget", map[string]interface{}{})
		if err != nil {
			return nil, err
		}
		var window struct {
			WindowID int `json:"windowId"`
		}
		if err := remarshal(res, &window); err != nil {
			return nil, err
		}
		return cdp.Send("Browser.setWindowBounds", map[string]interface{}{
			"windowId": window.WindowID,
			"bounds": map[string]interface{}{
				"left":   rect.X,
				"top":    rect.Y,
				"width":  rect.Width,
				"height": rect.Height,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to move window: %w", err)
	}
	return nil
}

func (i *instance) Evaluate(ctx context.Context, script string, arg any) (json.RawMessage, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	res, err := call(ctx, func() (interface{}, error) {
		return i.page.Evaluate(script, arg)
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	return raw, nil
}

func (i *instance) Content(ctx context.Context) (string, error) {
	if err := i.checkOpen(); err != nil {
		return "", err
	}
	return call(ctx, i.page.Content)
}

func (i *instance) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := call(ctx, func() ([]playwright.Cookie, error) {
		return i.bctx.Cookies()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	out := make([]engine.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, engine.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			Session:  c.Expires <= 0,
		})
	}
	return out, nil
}

func (i *instance) Ping(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	_, err := call(ctx, func() (interface{}, error) {
		return i.page.Evaluate("() => 1")
	})
	return err
}

func (i *instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	cdp := i.cdp
	i.cdp = nil
	i.mu.Unlock()

	i.disp.Close()

	var errs []error
	if cdp != nil {
		_ = cdp.Detach()
	}
	if err := i.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := i.bctx.Close(); err != nil {
		errs = append(errs, err)
	}
	if i.browser != nil {
		if err := i.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing instance: %w", errors.Join(errs...))
	}
	return nil
}

// call runs fn on its own goroutine so a hung renderer cannot outlive ctx.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
