package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/types"
)

const historyTimeout = 2 * time.Second

// HistorySource answers back/forward availability.
type HistorySource interface {
	History(ctx context.Context) (engine.History, error)
}

// NavigationTracker is the only writer of observed navigation state. It turns
// raw engine events into host events.
type NavigationTracker struct {
	mu sync.Mutex

	sessionID    string
	state        NavState
	currentURL   string
	currentTitle string
	loading      bool
	canGoBack    bool
	canGoForward bool
	lastError    *types.NavigationError

	// seq increments on every navigation start.
	seq uint64

	emit    func(*types.SessionEvent)
	log     *logging.Logger
	metrics *metrics.Collector
}

// NewNavigationTracker creates a tracker emitting through emit.
func NewNavigationTracker(emit func(*types.SessionEvent), log *logging.Logger, m *metrics.Collector) *NavigationTracker {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &NavigationTracker{state: NavIdle, emit: emit, log: log, metrics: m}
}

// Reset starts tracking a fresh session.
func (t *NavigationTracker) Reset(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessionID = sessionID
	t.state = NavIdle
	t.currentURL = ""
	t.currentTitle = ""
	t.loading = false
	t.canGoBack = false
	t.canGoForward = false
	t.lastError = nil
}

// CurrentURL returns the last committed URL.
func (t *NavigationTracker) CurrentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentURL
}

// Seq returns the current navigation sequence number.
func (t *NavigationTracker) Seq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// CanGoBack reports the last observed back availability.
func (t *NavigationTracker) CanGoBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canGoBack
}

// CanGoForward reports the last observed forward availability.
func (t *NavigationTracker) CanGoForward() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canGoForward
}

// Snapshot fills the navigation fields of a State.
func (t *NavigationTracker) Snapshot(s *State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.CurrentURL = t.currentURL
	s.CurrentTitle = t.currentTitle
	s.Loading = t.loading
	s.CanGoBack = t.canGoBack
	s.CanGoForward = t.canGoForward
	s.NavState = t.state
	if t.lastError != nil {
		e := *t.lastError
		s.LastError = &e
	}
}

// Handle applies one raw event. It reports whether the event completed a
// successful load, which is when a media scan is due.
func (t *NavigationTracker) Handle(ctx context.Context, hs HistorySource, ev engine.Event) bool {
	switch ev.Kind {
	case engine.EventNavigationStarted:
		t.started(ev)
	case engine.EventNavigationCommitted:
		t.committed(ctx, hs, ev)
	case engine.EventTitleUpdated:
		t.titleUpdated(ev)
	case engine.EventNavigationStopped:
		return t.stopped(ctx, hs)
	case engine.EventNavigationFailed:
		t.failed(ctx, hs, ev)
	}
	return false
}

func (t *NavigationTracker) started(ev engine.Event) {
	t.mu.Lock()
	t.state = NavLoading
	t.seq++
	wasLoading := t.loading
	t.loading = true
	id := t.sessionID
	t.mu.Unlock()

	// Redirects start again without stopping; the host sees one loading=true.
	if !wasLoading {
		t.emit(types.NewLoadingEvent(id, true))
	}
}

func (t *NavigationTracker) committed(ctx context.Context, hs HistorySource, ev engine.Event) {
	if ev.URL == "" {
		return
	}
	// The error document keeps the last good URL current.
	if engine.IsErrorPage(ev.URL) {
		t.log.Debugf("ignoring error page commit %s", ev.URL)
		return
	}
	t.mu.Lock()
	t.currentURL = ev.URL
	id := t.sessionID
	t.mu.Unlock()

	t.emit(types.NewURLChangedEvent(id, ev.URL))

	// Same-document navigations never stop, so their history change is
	// reported here.
	if ev.InPage {
		t.refreshHistory(ctx, hs)
	}
}

func (t *NavigationTracker) titleUpdated(ev engine.Event) {
	t.mu.Lock()
	if ev.Title == t.currentTitle {
		t.mu.Unlock()
		return
	}
	t.currentTitle = ev.Title
	id := t.sessionID
	t.mu.Unlock()

	t.emit(types.NewTitleChangedEvent(id, ev.Title))
}

func (t *NavigationTracker) stopped(ctx context.Context, hs HistorySource) bool {
	t.mu.Lock()
	// The failure already closed this cycle.
	if t.state == NavFailed && !t.loading {
		t.mu.Unlock()
		return false
	}
	if t.state != NavLoading && !t.loading {
		t.mu.Unlock()
		t.refreshHistory(ctx, hs)
		return false
	}
	t.state = NavLoaded
	t.loading = false
	t.lastError = nil
	id := t.sessionID
	t.mu.Unlock()

	t.metrics.Navigation(true)
	t.emit(types.NewLoadingEvent(id, false))
	t.refreshHistory(ctx, hs)
	return true
}

func (t *NavigationTracker) failed(ctx context.Context, hs HistorySource, ev engine.Event) {
	desc := ev.ErrorText
	if desc == "" {
		desc = fmt.Sprintf("navigation failed (code %d)", ev.ErrorCode)
	}
	navErr := types.NavigationError{URL: ev.URL, Code: ev.ErrorCode, Description: desc}

	t.mu.Lock()
	t.state = NavFailed
	e := navErr
	t.lastError = &e
	wasLoading := t.loading
	t.loading = false
	id := t.sessionID
	t.mu.Unlock()

	t.log.Infof("navigation to %s failed: %s (%d)", ev.URL, desc, ev.ErrorCode)
	t.metrics.Navigation(false)
	t.emit(types.NewErrorEvent(id, navErr))
	if wasLoading {
		t.emit(types.NewLoadingEvent(id, false))
		t.refreshHistory(ctx, hs)
	}
}

// refreshHistory re-reads back/forward availability and emits it. On a query
// failure the previous flags are re-emitted.
func (t *NavigationTracker) refreshHistory(ctx context.Context, hs HistorySource) {
	if hs != nil {
		hctx, cancel := context.WithTimeout(ctx, historyTimeout)
		h, err := hs.History(hctx)
		cancel()
		if err != nil {
			t.log.Warnf("history query failed: %v", err)
		} else {
			t.mu.Lock()
			t.canGoBack = h.CanGoBack
			t.canGoForward = h.CanGoForward
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	ev := types.NewNavigationStateEvent(t.sessionID, t.canGoBack, t.canGoForward)
	t.mu.Unlock()
	t.emit(ev)
}
