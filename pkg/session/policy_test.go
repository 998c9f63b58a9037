package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{name: "bare host", input: "example.com", want: "https://example.com"},
		{name: "host with path", input: "example.com/a?b=c", want: "https://example.com/a?b=c"},
		{name: "https", input: "https://example.com", want: "https://example.com"},
		{name: "http kept", input: "http://example.com", want: "http://example.com"},
		{name: "scheme case", input: "HTTPS://Example.com", want: "HTTPS://Example.com"},
		{name: "about", input: "about:blank", want: "about:blank"},
		{name: "file", input: "file:///tmp/a.html", want: "file:///tmp/a.html"},
		{name: "data", input: "data:text/html,<p>x</p>", want: "data:text/html,<p>x</p>"},
		{name: "trimmed", input: "  example.com  ", want: "https://example.com"},
		{name: "empty", input: "", err: ErrEmptyURL},
		{name: "whitespace", input: " \t\n", err: ErrEmptyURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNavigationPolicy(t *testing.T) {
	p, err := NewNavigationPolicy([]string{"*.ads.test", "tracker.test", "  "})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Check("https://x.ads.test/pixel"), ErrBlockedURL)
	assert.ErrorIs(t, p.Check("https://TRACKER.test/"), ErrBlockedURL)
	assert.NoError(t, p.Check("https://a.b.ads.test/"), "single star matches one label")
	assert.NoError(t, p.Check("https://ads.test/"))
	assert.NoError(t, p.Check("https://example.com/"))
	assert.NoError(t, p.Check("about:blank"))

	deep, err := NewNavigationPolicy([]string{"**.ads.test"})
	require.NoError(t, err)
	assert.ErrorIs(t, deep.Check("https://a.b.ads.test/"), ErrBlockedURL)

	var none *NavigationPolicy
	assert.NoError(t, none.Check("https://x.ads.test/"))
}

func TestNavigationPolicy_InvalidPattern(t *testing.T) {
	_, err := NewNavigationPolicy([]string{"[unclosed"})
	assert.Error(t, err)
}
