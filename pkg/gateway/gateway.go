// Package gateway is the host's command surface over the session.
//
// Every command returns a Response envelope; errors and panics inside a
// command never escape as anything else. The Server exposes the gateway over
// HTTP and a WebSocket that also streams the session's host events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/capture/pkg/cookies"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/metrics"
	"github.com/entrhq/capture/pkg/session"
)

// ErrUnknownCommand is returned for names not in the registry.
var ErrUnknownCommand = errors.New("unknown command")

// Config holds gateway behaviour switches.
type Config struct {
	// LazyCreate creates the session on the first navigate instead of
	// answering "not initialized".
	LazyCreate bool

	// HandoffDir receives cookie files when handoff is given no path.
	HandoffDir string

	// AllowedOrigins lists the browser origins that may reach the server.
	// Requests without an Origin header come from native clients and are
	// always accepted.
	AllowedOrigins []string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway's logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// WithMetrics records command counts and latency on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway dispatches host commands to the session controller and the cookie
// exporter.
type Gateway struct {
	ctrl     *session.Controller
	exporter *cookies.Exporter
	cfg      Config
	log      *logging.Logger
	metrics  *metrics.Collector

	mu       sync.RWMutex
	commands map[string]Command
}

// New creates a gateway with the built-in commands registered.
func New(ctrl *session.Controller, exporter *cookies.Exporter, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		ctrl:     ctrl,
		exporter: exporter,
		cfg:      cfg,
		commands: make(map[string]Command),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.NewNopLogger()
	}
	for _, cmd := range g.builtins() {
		if err := g.Register(cmd); err != nil {
			panic(err)
		}
	}
	return g
}

// Controller returns the session controller behind the gateway.
func (g *Gateway) Controller() *session.Controller { return g.ctrl }

// Register adds a command. Names must be unique.
func (g *Gateway) Register(cmd Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := cmd.Name()
	if name == "" {
		return fmt.Errorf("command has no name")
	}
	if _, exists := g.commands[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}
	g.commands[name] = cmd
	return nil
}

// Commands returns the registered command names, sorted.
func (g *Gateway) Commands() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.commands))
	for name := range g.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Gateway) lookup(name string) (Command, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cmd, ok := g.commands[name]
	return cmd, ok
}

// Dispatch runs the named command and wraps its outcome.
func (g *Gateway) Dispatch(ctx context.Context, name string, args json.RawMessage) (resp Response) {
	start := time.Now()
	label := "unknown"
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorf("command %s panicked: %v\n%s", name, r, debug.Stack())
			resp = Fail(fmt.Sprintf("internal error: %v", r))
		}
		g.metrics.Command(label, resp.Success, time.Since(start).Seconds())
	}()

	cmd, ok := g.lookup(name)
	if !ok {
		g.log.Warnf("unknown command %q", name)
		return Fail(fmt.Sprintf("%v: %s", ErrUnknownCommand, name))
	}
	label = name

	data, err := cmd.Execute(ctx, args)
	if err != nil {
		g.log.Infof("command %s failed: %v", name, err)
		return Fail(errorMessage(err))
	}
	g.log.Debugf("command %s ok in %s", name, time.Since(start))
	return OK(data)
}

// errorMessage flattens err for the host. A missing session always reads
// "not initialized".
func errorMessage(err error) string {
	if errors.Is(err, session.ErrNotInitialized) {
		return session.ErrNotInitialized.Error()
	}
	return err.Error()
}
