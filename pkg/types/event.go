package types

import "time"

// SessionEventType defines the type of event emitted to the host for a capture session.
type SessionEventType string

const (
	EventTypeLoading         SessionEventType = "loading"          // EventTypeLoading reports a change of the loading flag.
	EventTypeURLChanged      SessionEventType = "url-changed"      // EventTypeURLChanged reports a committed navigation.
	EventTypeTitleChanged    SessionEventType = "title-changed"    // EventTypeTitleChanged reports a new document title.
	EventTypeNavigationState SessionEventType = "navigation-state" // EventTypeNavigationState reports back/forward availability.
	EventTypeError           SessionEventType = "error"            // EventTypeError reports a failed navigation.
	EventTypeCrashed         SessionEventType = "crashed"          // EventTypeCrashed reports that the renderer process died.
	EventTypeUnresponsive    SessionEventType = "unresponsive"     // EventTypeUnresponsive reports that the renderer stopped answering.
	EventTypeResponsive      SessionEventType = "responsive"       // EventTypeResponsive reports that the renderer answers again.
	EventTypeMediaDetected   SessionEventType = "media-detected"   // EventTypeMediaDetected carries the media inventory of a loaded page.
)

// SessionEvent is a single notification delivered to the host.
// Only the fields relevant to Type are populated.
type SessionEvent struct {
	// Type indicates the kind of event.
	Type SessionEventType `json:"type"`

	// SessionID is the handle of the session that produced the event.
	SessionID string `json:"sessionId,omitempty"`

	// Loading is the new loading flag (loading events).
	Loading bool `json:"loading"`

	// URL is the committed URL (url-changed events).
	URL string `json:"url,omitempty"`

	// Title is the document title (title-changed events).
	Title string `json:"title,omitempty"`

	// CanGoBack and CanGoForward describe the history (navigation-state events).
	CanGoBack    bool `json:"canGoBack"`
	CanGoForward bool `json:"canGoForward"`

	// Error describes a failed navigation (error events).
	Error *NavigationError `json:"error,omitempty"`

	// Media is the detected inventory (media-detected events).
	Media *MediaInventory `json:"media,omitempty"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t SessionEventType, sessionID string) *SessionEvent {
	return &SessionEvent{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}

// NewLoadingEvent creates a loading event.
func NewLoadingEvent(sessionID string, loading bool) *SessionEvent {
	ev := newEvent(EventTypeLoading, sessionID)
	ev.Loading = loading
	return ev
}

// NewURLChangedEvent creates a url-changed event.
func NewURLChangedEvent(sessionID, url string) *SessionEvent {
	ev := newEvent(EventTypeURLChanged, sessionID)
	ev.URL = url
	return ev
}

// NewTitleChangedEvent creates a title-changed event.
func NewTitleChangedEvent(sessionID, title string) *SessionEvent {
	ev := newEvent(EventTypeTitleChanged, sessionID)
	ev.Title = title
	return ev
}

// NewNavigationStateEvent creates a navigation-state event.
func NewNavigationStateEvent(sessionID string, canGoBack, canGoForward bool) *SessionEvent {
	ev := newEvent(EventTypeNavigationState, sessionID)
	ev.CanGoBack = canGoBack
	ev.CanGoForward = canGoForward
	return ev
}

// NewErrorEvent creates an error event for a failed navigation.
func NewErrorEvent(sessionID string, navErr NavigationError) *SessionEvent {
	ev := newEvent(EventTypeError, sessionID)
	ev.Error = &navErr
	return ev
}

// NewCrashedEvent creates a crashed event.
func NewCrashedEvent(sessionID string) *SessionEvent {
	return newEvent(EventTypeCrashed, sessionID)
}

// NewUnresponsiveEvent creates an unresponsive event.
func NewUnresponsiveEvent(sessionID string) *SessionEvent {
	return newEvent(EventTypeUnresponsive, sessionID)
}

// NewResponsiveEvent creates a responsive event.
func NewResponsiveEvent(sessionID string) *SessionEvent {
	return newEvent(EventTypeResponsive, sessionID)
}

// NewMediaDetectedEvent creates a media-detected event.
func NewMediaDetectedEvent(sessionID string, inventory MediaInventory) *SessionEvent {
	ev := newEvent(EventTypeMediaDetected, sessionID)
	ev.Media = &inventory
	return ev
}
