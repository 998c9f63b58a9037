package config

import (
	"fmt"
	"sync"
)

const (
	// SectionIDEngine is the identifier for the browser engine section
	SectionIDEngine = "engine"

	DriverPlaywright = "playwright"
	DriverRod        = "rod"

	defaultDriver         = DriverPlaywright
	defaultPartition      = "persist:capture"
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
)

// EngineSection selects and configures the embedded browser engine.
type EngineSection struct {
	Driver         string
	Headless       bool
	DataDir        string
	Partition      string
	ViewportWidth  int
	ViewportHeight int
	BrowserPath    string
	UserAgent      string
	LaunchArgs     []string
	mu             sync.RWMutex
}

// NewEngineSection creates an engine section with default settings.
func NewEngineSection() *EngineSection {
	s := &EngineSection{}
	s.Reset()
	return s
}

func (s *EngineSection) ID() string    { return SectionIDEngine }
func (s *EngineSection) Title() string { return "Browser Engine" }
func (s *EngineSection) Description() string {
	return "Browser driver, storage partition and launch settings for the embedded session."
}

// Data returns the current configuration data.
func (s *EngineSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"driver":          s.Driver,
		"headless":        s.Headless,
		"data_dir":        s.DataDir,
		"partition":       s.Partition,
		"viewport_width":  s.ViewportWidth,
		"viewport_height": s.ViewportHeight,
		"browser_path":    s.BrowserPath,
		"user_agent":      s.UserAgent,
		"launch_args":     append([]string(nil), s.LaunchArgs...),
	}
}

// SetData updates the configuration from the provided data.
func (s *EngineSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "driver":
			s.Driver, err = asString(key, value)
		case "headless":
			s.Headless, err = asBool(key, value)
		case "data_dir":
			s.DataDir, err = asString(key, value)
		case "partition":
			s.Partition, err = asString(key, value)
		case "viewport_width":
			s.ViewportWidth, err = asInt(key, value)
		case "viewport_height":
			s.ViewportHeight, err = asInt(key, value)
		case "browser_path":
			s.BrowserPath, err = asString(key, value)
		case "user_agent":
			s.UserAgent, err = asString(key, value)
		case "launch_args":
			s.LaunchArgs, err = asStrings(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *EngineSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Driver {
	case DriverPlaywright, DriverRod:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverPlaywright, DriverRod, s.Driver)
	}
	if s.Partition == "" {
		return fmt.Errorf("partition is required")
	}
	if s.ViewportWidth <= 0 || s.ViewportHeight <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", s.ViewportWidth, s.ViewportHeight)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *EngineSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Driver = defaultDriver
	s.Headless = true
	s.DataDir = ""
	s.Partition = defaultPartition
	s.ViewportWidth = defaultViewportWidth
	s.ViewportHeight = defaultViewportHeight
	s.BrowserPath = ""
	s.UserAgent = ""
	s.LaunchArgs = nil
}
