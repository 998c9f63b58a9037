package config

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// SectionIDNavigation is the identifier for the navigation section
const SectionIDNavigation = "navigation"

// NavigationSection holds navigation policy settings.
type NavigationSection struct {
	// LazyCreate lets the first navigate create the session.
	LazyCreate bool

	// BlockedHosts are host globs; "*" spans one label and "**" any number.
	BlockedHosts []string
	mu           sync.RWMutex
}

// NewNavigationSection creates a navigation section with default settings.
func NewNavigationSection() *NavigationSection {
	return &NavigationSection{}
}

func (s *NavigationSection) ID() string          { return SectionIDNavigation }
func (s *NavigationSection) Title() string       { return "Navigation" }
func (s *NavigationSection) Description() string { return "Session creation and blocked hosts." }

// Data returns the current configuration data.
func (s *NavigationSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"lazy_create":   s.LazyCreate,
		"blocked_hosts": append([]string(nil), s.BlockedHosts...),
	}
}

// SetData updates the configuration from the provided data.
func (s *NavigationSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "lazy_create":
			s.LazyCreate, err = asBool(key, value)
		case "blocked_hosts":
			s.BlockedHosts, err = asStrings(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every blocked host pattern compiles.
func (s *NavigationSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pattern := range s.BlockedHosts {
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("invalid blocked host pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *NavigationSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LazyCreate = false
	s.BlockedHosts = nil
}
