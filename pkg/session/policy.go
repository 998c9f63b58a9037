package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrNotInitialized is returned by commands issued before Create.
	ErrNotInitialized = errors.New("not initialized")

	// ErrEmptyURL is returned when navigate is given blank input.
	ErrEmptyURL = errors.New("empty url")

	// ErrBlockedURL is returned when the navigation policy rejects a URL.
	ErrBlockedURL = errors.New("url blocked by navigation policy")

	// ErrClosed is returned after the controller has been shut down.
	ErrClosed = errors.New("session controller closed")
)

// Scheme prefixes passed through unchanged by NormalizeURL.
var knownSchemes = []string{"http://", "https://", "about:", "file://", "data:"}

// NormalizeURL trims input and prefixes https:// unless it already carries a
// recognised scheme.
func NormalizeURL(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrEmptyURL
	}
	lower := strings.ToLower(s)
	for _, scheme := range knownSchemes {
		if strings.HasPrefix(lower, scheme) {
			return s, nil
		}
	}
	return "https://" + s, nil
}

// NavigationPolicy rejects navigations to denied hosts. Patterns are globs
// over the host name with "." as separator: "*.ads.test" matches one label,
// "**.ads.test" any number.
type NavigationPolicy struct {
	denied []glob.Glob
}

// NewNavigationPolicy compiles the denied host patterns.
func NewNavigationPolicy(denied []string) (*NavigationPolicy, error) {
	p := &NavigationPolicy{}
	for _, pattern := range denied {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid blocked host pattern '%s': %w", pattern, err)
		}
		p.denied = append(p.denied, g)
	}
	return p, nil
}

// Check returns ErrBlockedURL if the normalised URL targets a denied host.
// A nil policy allows everything.
func (p *NavigationPolicy) Check(rawURL string) error {
	if p == nil || len(p.denied) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		// Let the engine report malformed input as a navigation failure.
		return nil
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return nil
	}
	for _, g := range p.denied {
		if g.Match(host) {
			return fmt.Errorf("%w: %s", ErrBlockedURL, host)
		}
	}
	return nil
}
