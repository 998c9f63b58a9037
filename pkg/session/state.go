package session

import "github.com/entrhq/capture/pkg/types"

// NavState is the navigation state machine position.
type NavState string

const (
	NavIdle    NavState = "idle"
	NavLoading NavState = "loading"
	NavLoaded  NavState = "loaded"
	NavFailed  NavState = "failed"
)

// State is a point-in-time view of the session.
type State struct {
	ID           string                 `json:"id"`
	Created      bool                   `json:"created"`
	CurrentURL   string                 `json:"currentUrl"`
	CurrentTitle string                 `json:"currentTitle"`
	Loading      bool                   `json:"loading"`
	CanGoBack    bool                   `json:"canGoBack"`
	CanGoForward bool                   `json:"canGoForward"`
	LastError    *types.NavigationError `json:"lastError,omitempty"`
	PartitionID  string                 `json:"partitionId"`
	NavState     NavState               `json:"navState"`
	Recovering   bool                   `json:"recovering"`
	Unresponsive bool                   `json:"unresponsive"`
}
