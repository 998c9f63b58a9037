package engine

import "strings"

// EventKind identifies a raw engine event.
type EventKind string

const (
	EventNavigationStarted   EventKind = "navigation_started"
	EventNavigationCommitted EventKind = "navigation_committed"
	EventTitleUpdated        EventKind = "title_updated"
	EventNavigationStopped   EventKind = "navigation_stopped"
	EventNavigationFailed    EventKind = "navigation_failed"
	EventCrashed             EventKind = "crashed"
	EventUnresponsive        EventKind = "unresponsive"
	EventResponsive          EventKind = "responsive"
)

// Event is a raw notification from an instance.
type Event struct {
	Kind EventKind

	// URL is set for started, committed and failed navigations.
	URL string

	// InPage marks a committed same-document navigation (fragment, pushState).
	InPage bool

	Title string

	// ErrorCode and ErrorText describe a failed navigation.
	ErrorCode int
	ErrorText string

	// Reason describes why the renderer crashed, when known.
	Reason string
}

// ErrorPageURL is the document Chromium commits in the main frame after a
// failed load.
const ErrorPageURL = "chrome-error://chromewebdata/"

// IsErrorPage reports whether url is an engine-generated error document
// rather than a page the user navigated to.
func IsErrorPage(url string) bool {
	return strings.HasPrefix(url, "chrome-error://")
}

// Handler receives events for one subscription.
type Handler func(Event)

// Chromium network error codes for the failures a capture session meets most.
var netErrorCodes = map[string]int{
	"ERR_FAILED":                     -2,
	"ERR_ABORTED":                    -3,
	"ERR_TIMED_OUT":                  -7,
	"ERR_ACCESS_DENIED":              -10,
	"ERR_BLOCKED_BY_CLIENT":          -20,
	"ERR_BLOCKED_BY_RESPONSE":        -27,
	"ERR_CONNECTION_CLOSED":          -100,
	"ERR_CONNECTION_RESET":           -101,
	"ERR_CONNECTION_REFUSED":         -102,
	"ERR_CONNECTION_ABORTED":         -103,
	"ERR_CONNECTION_FAILED":          -104,
	"ERR_NAME_NOT_RESOLVED":          -105,
	"ERR_INTERNET_DISCONNECTED":      -106,
	"ERR_SSL_PROTOCOL_ERROR":         -107,
	"ERR_ADDRESS_UNREACHABLE":        -109,
	"ERR_CONNECTION_TIMED_OUT":       -118,
	"ERR_NAME_RESOLUTION_FAILED":     -137,
	"ERR_CERT_COMMON_NAME_INVALID":   -200,
	"ERR_CERT_DATE_INVALID":          -201,
	"ERR_CERT_AUTHORITY_INVALID":     -202,
	"ERR_TOO_MANY_REDIRECTS":         -310,
	"ERR_UNSAFE_REDIRECT":            -311,
	"ERR_INVALID_URL":                -300,
	"ERR_DISALLOWED_URL_SCHEME":      -301,
	"ERR_UNKNOWN_URL_SCHEME":         -302,
	"ERR_HTTP_RESPONSE_CODE_FAILURE": -379,
}

// NetErrorCode maps a failure text such as "net::ERR_NAME_NOT_RESOLVED" to the
// Chromium error code. Unknown texts map to -2 (ERR_FAILED).
func NetErrorCode(text string) int {
	if code, ok := netErrorCodes[netErrorName(text)]; ok {
		return code
	}
	return -2
}

// IsAborted reports whether a failure only means the load was superseded.
func IsAborted(text string) bool {
	return netErrorName(text) == "ERR_ABORTED" || strings.Contains(text, "NS_BINDING_ABORTED")
}

func netErrorName(text string) string {
	i := strings.Index(text, "ERR_")
	if i < 0 {
		return ""
	}
	end := i
	for end < len(text) && (text[end] == '_' || (text[end] >= 'A' && text[end] <= 'Z')) {
		end++
	}
	return text[i:end]
}
