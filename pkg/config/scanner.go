package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDScanner is the identifier for the media scanner section
	SectionIDScanner = "scanner"

	defaultMaxImages   = 10
	defaultMaxVideos   = 5
	defaultScanTimeout = 5 * time.Second
)

// ScannerSection configures the post-load media inventory scan.
type ScannerSection struct {
	Enabled        bool
	MaxImages      int
	MaxVideos      int
	Timeout        time.Duration
	MarkupFallback bool
	mu             sync.RWMutex
}

// NewScannerSection creates a scanner section with default settings.
func NewScannerSection() *ScannerSection {
	s := &ScannerSection{}
	s.Reset()
	return s
}

func (s *ScannerSection) ID() string    { return SectionIDScanner }
func (s *ScannerSection) Title() string { return "Media Scanner" }
func (s *ScannerSection) Description() string {
	return "Caps and fallback behavior for the media inventory taken after each page load."
}

// Data returns the current configuration data.
func (s *ScannerSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"enabled":         s.Enabled,
		"max_images":      s.MaxImages,
		"max_videos":      s.MaxVideos,
		"timeout":         s.Timeout.String(),
		"markup_fallback": s.MarkupFallback,
	}
}

// SetData updates the configuration from the provided data.
func (s *ScannerSection) SetData(data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for key, value := range data {
		switch key {
		case "enabled":
			s.Enabled, err = asBool(key, value)
		case "max_images":
			s.MaxImages, err = asInt(key, value)
		case "max_videos":
			s.MaxVideos, err = asInt(key, value)
		case "timeout":
			s.Timeout, err = asDuration(key, value)
		case "markup_fallback":
			s.MarkupFallback, err = asBool(key, value)
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
func (s *ScannerSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.MaxImages < 0 || s.MaxVideos < 0 {
		return fmt.Errorf("max_images and max_videos must not be negative")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", s.Timeout)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *ScannerSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Enabled = true
	s.MaxImages = defaultMaxImages
	s.MaxVideos = defaultMaxVideos
	s.Timeout = defaultScanTimeout
	s.MarkupFallback = true
}
