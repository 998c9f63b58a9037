// Package metrics exposes the capture daemon's Prometheus collectors.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultAborted = "aborted"
)

// Collector holds every metric of one daemon.
type Collector struct {
	registry *prometheus.Registry

	// Session lifecycle
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionLive       prometheus.Gauge

	// Crash handling
	Crashes                prometheus.Counter
	CrashSignalsSuppressed prometheus.Counter
	Recoveries             *prometheus.CounterVec
	Unresponsive           prometheus.Counter

	// Page activity
	Navigations   *prometheus.CounterVec
	MediaScans    *prometheus.CounterVec
	CookieExports prometheus.Counter

	// Gateway
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
}

// New creates a collector on a private registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_created_total",
			Help: "Engine instances created, including recoveries",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_destroyed_total",
			Help: "Engine instances destroyed, including recoveries",
		}),
		SessionLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_session_live",
			Help: "1 while an engine instance is live",
		}),

		Crashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_crashes_total",
			Help: "Renderer crashes that started a recovery",
		}),
		CrashSignalsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_crash_signals_suppressed_total",
			Help: "Crash signals dropped because a recovery was in progress",
		}),
		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_recoveries_total",
			Help: "Completed recovery cycles by result",
		}, []string{"result"}),
		Unresponsive: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_unresponsive_total",
			Help: "Transitions into the unresponsive state",
		}),

		Navigations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_navigations_total",
			Help: "Finished navigations by result",
		}, []string{"result"}),
		MediaScans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_media_scans_total",
			Help: "Media scans by result",
		}, []string{"result"}),
		CookieExports: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_cookie_exports_total",
			Help: "Cookie exports produced for archival",
		}),

		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_gateway_commands_total",
			Help: "Gateway commands by name and result",
		}, []string{"command", "result"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_gateway_command_duration_seconds",
			Help:    "Gateway command latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_gateway_ws_connections",
			Help: "Open WebSocket connections",
		}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// SessionCreated records a new live instance.
func (c *Collector) SessionCreated() {
	if c == nil {
		return
	}
	c.SessionsCreated.Inc()
	c.SessionLive.Set(1)
}

// SessionDestroyed records an instance teardown.
func (c *Collector) SessionDestroyed() {
	if c == nil {
		return
	}
	c.SessionsDestroyed.Inc()
	c.SessionLive.Set(0)
}

// Crash records a crash that started recovery.
func (c *Collector) Crash() {
	if c != nil {
		c.Crashes.Inc()
	}
}

// CrashSuppressed records a dropped crash signal.
func (c *Collector) CrashSuppressed() {
	if c != nil {
		c.CrashSignalsSuppressed.Inc()
	}
}

// Recovery records the end of a recovery cycle.
func (c *Collector) Recovery(result string) {
	if c != nil {
		c.Recoveries.WithLabelValues(result).Inc()
	}
}

// BecameUnresponsive records an unresponsive transition.
func (c *Collector) BecameUnresponsive() {
	if c != nil {
		c.Unresponsive.Inc()
	}
}

// Navigation records a finished navigation.
func (c *Collector) Navigation(ok bool) {
	if c != nil {
		c.Navigations.WithLabelValues(result(ok)).Inc()
	}
}

// MediaScan records a scan outcome.
func (c *Collector) MediaScan(ok bool) {
	if c != nil {
		c.MediaScans.WithLabelValues(result(ok)).Inc()
	}
}

// CookieExport records an export.
func (c *Collector) CookieExport() {
	if c != nil {
		c.CookieExports.Inc()
	}
}

// Command records one gateway command.
func (c *Collector) Command(name string, ok bool, seconds float64) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(name, result(ok)).Inc()
	c.CommandDuration.WithLabelValues(name).Observe(seconds)
}

// WSConnected adjusts the open WebSocket gauge by delta.
func (c *Collector) WSConnected(delta int) {
	if c != nil {
		c.WSConnections.Add(float64(delta))
	}
}
