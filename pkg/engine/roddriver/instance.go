package roddriver

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
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

type instance struct {
	id       string
	headless bool

	browser   *rod.Browser
	page      *rod.Page
	contextID proto.BrowserBrowserContextID // empty for persistent partitions
	release   func()
	mainFrame proto.PageFrameID

	disp   *engine.Dispatcher
	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	docs     map[proto.NetworkRequestID]string // in-flight main-frame document requests
	title    string
	closed   bool
	navSeq   atomic.Uint64
	closeErr error
}

func newInstance(browser *rod.Browser, page *rod.Page, contextID proto.BrowserBrowserContextID, release func(), opts engine.Options, log *logging.Logger) (*instance, error) {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	log = log.With(id[:8])
	i := &instance{
		id:        id,
		headless:  opts.Headless,
		browser:   browser,
		page:      page,
		contextID: contextID,
		release:   release,
		disp:      engine.NewDispatcher(log),
		ctx:       ctx,
		cancel:    cancel,
		docs:      make(map[proto.NetworkRequestID]string),
		log:       log,
	}

	tree, err := proto.PageGetFrameTree{}.Call(page)
	if err != nil {
		i.teardown()
		return nil, fmt.Errorf("read frame tree: %w", err)
	}
	i.mainFrame = tree.FrameTree.Frame.ID

	if err := i.wire(); err != nil {
		i.teardown()
		return nil, err
	}
	return i, nil
}

func (i *instance) ID() string { return i.id }

func (i *instance) Subscribe(h engine.Handler) func() { return i.disp.Subscribe(h) }

// wire enables the protocol domains and translates their events.
func (i *instance) wire() error {
	if err := (proto.PageEnable{}).Call(i.page); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := (proto.NetworkEnable{}).Call(i.page); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if err := (proto.InspectorEnable{}).Call(i.page); err != nil {
		return fmt.Errorf("enable inspector domain: %w", err)
	}

	wait := i.page.Context(i.ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			if ev.Type != proto.NetworkResourceTypeDocument || ev.FrameID != i.mainFrame || string(ev.RequestID) != string(ev.LoaderID) {
				return
			}
			i.mu.Lock()
			i.docs[ev.RequestID] = ev.Request.URL
			i.mu.Unlock()
			i.navSeq.Add(1)
			i.disp.Emit(engine.Event{Kind: engine.EventNavigationStarted, URL: ev.Request.URL})
		},
		func(ev *proto.NetworkLoadingFailed) {
			i.mu.Lock()
			url, ok := i.docs[ev.RequestID]
			delete(i.docs, ev.RequestID)
			i.mu.Unlock()
			if !ok || ev.Canceled || engine.IsAborted(ev.ErrorText) {
				return
			}
			i.disp.Emit(engine.Event{
				Kind:      engine.EventNavigationFailed,
				URL:       url,
				ErrorCode: engine.NetErrorCode(ev.ErrorText),
				ErrorText: ev.ErrorText,
			})
		},
		func(ev *proto.NetworkLoadingFinished) {
			i.mu.Lock()
			delete(i.docs, ev.RequestID)
			i.mu.Unlock()
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil || ev.Frame.ParentID != "" {
				return
			}
			// Failed loads commit an error document with the failed URL as
			// UnreachableURL.
			if ev.Frame.UnreachableURL != "" || engine.IsErrorPage(ev.Frame.URL) {
				return
			}
			i.disp.Emit(engine.Event{Kind: engine.EventNavigationCommitted, URL: ev.Frame.URL})
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			if ev.FrameID != i.mainFrame {
				return
			}
			i.disp.Emit(engine.Event{Kind: engine.EventNavigationCommitted, URL: ev.URL, InPage: true})
		},
		func(ev *proto.PageDomContentEventFired) {
			go i.refreshTitle(i.navSeq.Load(), false)
		},
		func(ev *proto.PageLoadEventFired) {
			go i.refreshTitle(i.navSeq.Load(), true)
		},
		func(ev *proto.InspectorTargetCrashed) {
			i.disp.Emit(engine.Event{Kind: engine.EventCrashed, Reason: "target crashed"})
		},
		func(ev *proto.InspectorDetached) {
			i.mu.Lock()
			closed := i.closed
			i.mu.Unlock()
			if !closed {
				i.disp.Emit(engine.Event{Kind: engine.EventCrashed, Reason: ev.Reason})
			}
		},
	)
	go wait()
	return nil
}

func (i *instance) refreshTitle(seq uint64, stopped bool) {
	info, err := i.page.Context(i.ctx).Info()
	if i.navSeq.Load() != seq {
		return
	}
	if err == nil {
		i.mu.Lock()
		changed := info.Title != i.title
		i.title = info.Title
		i.mu.Unlock()
		if changed {
			i.disp.Emit(engine.Event{Kind: engine.EventTitleUpdated, Title: info.Title})
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

func (i *instance) Navigate(ctx context.Context, url string) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	seq := i.navSeq.Load()
	go func() {
		res, err := proto.PageNavigate{URL: url}.Call(i.page.Context(i.ctx))
		text := ""
		switch {
		case err != nil:
			text = err.Error()
		case res.ErrorText != "":
			text = res.ErrorText
		default:
			return
		}
		if i.checkOpen() != nil {
			return
		}
		i.log.Debugf("navigate %s: %s", url, text)
		// Once the document request is on the wire, the network events own
		// the failure report.
		if i.navSeq.Load() != seq || engine.IsAborted(text) {
			return
		}
		i.disp.Emit(engine.Event{
			Kind:      engine.EventNavigationFailed,
			URL:       url,
			ErrorCode: engine.NetErrorCode(text),
			ErrorText: text,
		})
	}()
	return nil
}

func (i *instance) background(name string, fn func(p *rod.Page) error) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	go func() {
		if err := fn(i.page.Context(i.ctx)); err != nil && i.checkOpen() == nil {
			i.log.Debugf("%s: %v", name, err)
		}
	}()
	return nil
}

func (i *instance) GoBack(ctx context.Context) error {
	return i.background("go back", (*rod.Page).NavigateBack)
}

func (i *instance) GoForward(ctx context.Context) error {
	return i.background("go forward", (*rod.Page).NavigateForward)
}

func (i *instance) Reload(ctx context.Context) error {
	return i.background("reload", (*rod.Page).Reload)
}

func (i *instance) History(ctx context.Context) (engine.History, error) {
	if err := i.checkOpen(); err != nil {
		return engine.History{}, err
	}
	res, err := proto.PageGetNavigationHistory{}.Call(i.page.Context(ctx))
	if err != nil {
		return engine.History{}, fmt.Errorf("read history: %w", err)
	}
	return engine.HistoryFromIndex(res.CurrentIndex, len(res.Entries)), nil
}

func (i *instance) SetBounds(ctx context.Context, rect types.Rect) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if rect.Empty() {
		return nil
	}
	page := i.page.Context(ctx)
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             rect.Width,
		Height:            rect.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if i.headless {
		return nil
	}
	x, y, w, h := rect.X, rect.Y, rect.Width, rect.Height
	if err := page.SetWindow(&proto.BrowserBounds{
		Left:        &x,
		Top:         &y,
		Width:       &w,
		Height:      &h,
		WindowState: proto.BrowserWindowStateNormal,
	}); err != nil {
		return fmt.Errorf("move window: %w", err)
	}
	return nil
}

func (i *instance) Evaluate(ctx context.Context, script string, arg any) (json.RawMessage, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	opts := &rod.EvalOptions{
		JS:           script,
		ByValue:      true,
		AwaitPromise: true,
	}
	if arg != nil {
		opts.JSArgs = []interface{}{arg}
	}
	res, err := i.page.Context(ctx).Evaluate(opts)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation result: %w", err)
	}
	return raw, nil
}

func (i *instance) Content(ctx context.Context) (string, error) {
	if err := i.checkOpen(); err != nil {
		return "", err
	}
	return i.page.Context(ctx).HTML()
}

func (i *instance) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	if err := i.checkOpen(); err != nil {
		return nil, err
	}
	res, err := proto.StorageGetCookies{BrowserContextID: i.contextID}.Call(i.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	out := make([]engine.Cookie, 0, len(res.Cookies))
	for _, c := range res.Cookies {
		out = append(out, engine.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Session:  c.Session,
		})
	}
	return out, nil
}

func (i *instance) Ping(ctx context.Context) error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	_, err := proto.RuntimeEvaluate{Expression: "1", ReturnByValue: true}.Call(i.page.Context(ctx))
	return err
}

func (i *instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return i.closeErr
	}
	i.closed = true
	i.mu.Unlock()

	err := i.teardown()

	i.mu.Lock()
	i.closeErr = err
	i.mu.Unlock()
	return err
}

func (i *instance) teardown() error {
	i.cancel()
	i.disp.Close()

	var errs []error
	if err := i.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := i.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	i.release()
	if len(errs) > 0 {
		return fmt.Errorf("errors closing instance: %w", errors.Join(errs...))
	}
	return nil
}
