package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDRecovery is the identifier for the crash recovery section
	SectionIDRecovery = "recovery"

	defaultCrashBackoff  = 1 * time.Second
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// RecoverySection configures crash recovery and the responsiveness watchdog.
type RecoverySection struct {
	CrashBackoff  time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	mu            sync.RWMutex
}

// NewRecoverySection creates a recovery section with default settings.
func NewRecoverySection() *RecoverySection {
	s := &RecoverySection{}
	s.Reset()
	return s
}

func (s *RecoverySection) ID() string    { return SectionIDRecovery }
func (s *RecoverySection) Title() string { return "Crash Recovery" }
func (s *RecoverySection) Description() string {
	return "Delay before recreating a crashed session and how often the renderer is probed."
}

// Data returns the current configuration data.
func (s *RecoverySection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"crash_backoff":  s.CrashBackoff.String(),
		"probe_interval": s.ProbeInterval.String(),
		"probe_timeout":  s.ProbeTimeout.String(),
	}
}

// SetData updates the configuration from the provided data.
func (s *RecoverySection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "crash_backoff":
			s.CrashBackoff, err = asDuration(key, value)
		case "probe_interval":
			s.ProbeInterval, err = asDuration(key, value)
		case "probe_timeout":
			s.ProbeTimeout, err = asDuration(key, value)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration. A zero probe interval turns
// the watchdog off.
func (s *RecoverySection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.CrashBackoff < 0 {
		return fmt.Errorf("crash_backoff must not be negative, got %v", s.CrashBackoff)
	}
	if s.ProbeInterval < 0 {
		return fmt.Errorf("probe_interval must not be negative, got %v", s.ProbeInterval)
	}
	if s.ProbeInterval > 0 && s.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive when the watchdog is enabled")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *RecoverySection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CrashBackoff = defaultCrashBackoff
	s.ProbeInterval = defaultProbeInterval
	s.ProbeTimeout = defaultProbeTimeout
}
