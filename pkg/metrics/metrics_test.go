package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.SessionCreated()
	c.SessionDestroyed()
	c.Crash()
	c.CrashSuppressed()
	c.Recovery(ResultSuccess)
	c.BecameUnresponsive()
	c.Navigation(true)
	c.MediaScan(false)
	c.CookieExport()
	c.Command("navigate", true, 0.01)
	c.WSConnected(1)
	assert.Nil(t, c.Registry())
}

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.SessionCreated()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionLive))
	c.SessionDestroyed()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.SessionLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SessionsDestroyed))

	c.Navigation(true)
	c.Navigation(true)
	c.Navigation(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Navigations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Navigations.WithLabelValues(ResultFailure)))

	c.Recovery(ResultAborted)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Recoveries.WithLabelValues(ResultAborted)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.Crash()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "capture_crashes_total 1"), body)
	assert.Contains(t, body, "go_goroutines")
}
