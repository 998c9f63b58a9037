package config

import (
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/entrhq/capture/pkg/logging"
)

const (
	// SectionIDServer is the identifier for the gateway server section
	SectionIDServer = "server"

	defaultListenAddr  = "127.0.0.1:7788"
	defaultEventBuffer = 64
	defaultLogLevel    = "info"
)

// ServerSection configures the command gateway server.
type ServerSection struct {
	ListenAddr  string
	EventBuffer int
	HandoffDir  string
	LogLevel    string

	// AllowedOrigins are browser origins (scheme://host[:port]) allowed to
	// call the gateway. Empty means no browser page may.
	AllowedOrigins []string

	mu sync.RWMutex
}

// NewServerSection creates a server section with default settings.
func NewServerSection() *ServerSection {
	s := &ServerSection{}
	s.Reset()
	return s
}

func (s *ServerSection) ID() string    { return SectionIDServer }
func (s *ServerSection) Title() string { return "Gateway Server" }
func (s *ServerSection) Description() string {
	return "Listen address, allowed browser origins, event buffering and cookie handoff location for the command gateway."
}

// Data returns the current configuration data.
func (s *ServerSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"listen_addr":     s.ListenAddr,
		"event_buffer":    s.EventBuffer,
		"handoff_dir":     s.HandoffDir,
		"log_level":       s.LogLevel,
		"allowed_origins": append([]string(nil), s.AllowedOrigins...),
	}
}

// SetData updates the configuration from the provided data.
func (s *ServerSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "listen_addr":
			s.ListenAddr, err = asString(key, value)
		case "event_buffer":
			s.EventBuffer, err = asInt(key, value)
		case "handoff_dir":
			s.HandoffDir, err = asString(key, value)
		case "log_level":
			s.LogLevel, err = asString(key, value)
		case "allowed_origins":
			s.AllowedOrigins, err = asStrings(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *ServerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", s.ListenAddr, err)
	}
	if s.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", s.EventBuffer)
	}
	if _, err := logging.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	for _, origin := range s.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("invalid allowed origin %q: want scheme://host[:port]", origin)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ServerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ListenAddr = defaultListenAddr
	s.EventBuffer = defaultEventBuffer
	s.HandoffDir = ""
	s.LogLevel = defaultLogLevel
	s.AllowedOrigins = nil
}
