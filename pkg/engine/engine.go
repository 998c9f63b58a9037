// Package engine defines the contract between the capture session and an
// embedded rendering engine.
//
// A driver (Playwright, go-rod, or the in-memory test engine) launches one
// Instance per session, bound to an isolated storage partition. Everything the
// session learns about the page arrives as raw Events delivered serially by the
// instance's Dispatcher; everything the session asks of the page goes through the
// Instance methods. No driver type leaks past this package boundary.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/entrhq/capture/pkg/types"
)

// ErrInstanceClosed is returned by Instance methods after Close.
var ErrInstanceClosed = errors.New("engine instance closed")

// Engine launches rendering instances.
type Engine interface {
	// Name identifies the driver ("playwright", "rod", "fake").
	Name() string

	// Open allocates a new instance bound to opts.PartitionID.
	Open(ctx context.Context, opts Options) (Instance, error)

	// Close releases driver-wide resources. Instances must be closed first.
	Close() error
}

// Instance is one live rendering engine page with its storage partition.
type Instance interface {
	// ID is the driver's identifier for the instance.
	ID() string

	// Subscribe registers h for every subsequent event and returns the function
	// that removes it. Removing twice is safe.
	Subscribe(h Handler) (unsubscribe func())

	// Navigate starts loading url and returns without waiting for the load.
	Navigate(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error

	// History reports back/forward availability.
	History(ctx context.Context) (History, error)

	// SetBounds moves and resizes the visible view.
	SetBounds(ctx context.Context, rect types.Rect) error

	// Evaluate runs a function expression in the page with arg as its single
	// argument and returns the JSON encoded result.
	Evaluate(ctx context.Context, script string, arg any) (json.RawMessage, error)

	// Content returns the serialized document.
	Content(ctx context.Context) (string, error)

	// Cookies returns every cookie in the instance's partition.
	Cookies(ctx context.Context) ([]Cookie, error)

	// Ping round-trips through the renderer; it blocks while the renderer is hung.
	Ping(ctx context.Context) error

	// Close tears the instance down. Subscribers receive nothing afterwards.
	Close() error
}

// Options configures a new instance.
type Options struct {
	// PartitionID names the isolated cookie/cache namespace.
	PartitionID string

	// DataDir is the root directory for persistent partitions. Empty keeps the
	// partition in memory for the lifetime of the instance.
	DataDir string

	Headless    bool
	Bounds      types.Rect
	BrowserPath string
	UserAgent   string

	// Args are extra launch flags. Flags that weaken the security boundary are
	// removed by SanitizeArgs before launch.
	Args []string
}

// History is the back/forward availability of an instance.
type History struct {
	CanGoBack    bool
	CanGoForward bool
}

// HistoryFromIndex derives availability from a navigation entry list.
func HistoryFromIndex(current, entries int) History {
	return History{
		CanGoBack:    current > 0,
		CanGoForward: current >= 0 && current < entries-1,
	}
}

// Cookie is a cookie as reported by the engine's partitioned store.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64 // seconds since epoch, <= 0 for session cookies
	Secure   bool
	HTTPOnly bool
	Session  bool
}
