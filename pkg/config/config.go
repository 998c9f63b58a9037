package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Load builds a manager over the file at configPath with every section
// registered, applies stored values, then environment overrides, and
// validates the result. An empty path selects DefaultPath.
func Load(configPath string) (*Manager, error) {
	store, err := NewFileStore(configPath)
	if err != nil {
		return nil, err
	}

	manager := NewManager(store)
	for _, section := range []Section{
		NewEngineSection(),
		NewRecoverySection(),
		NewScannerSection(),
		NewNavigationSection(),
		NewServerSection(),
	} {
		if err := manager.RegisterSection(section); err != nil {
			return nil, err
		}
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	if err := manager.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := manager.ValidateAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Initialize creates and initializes the global configuration manager.
// This should be called once at application startup.
func Initialize(configPath string) error {
	manager, err := Load(configPath)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = manager
	return nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}
	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// section looks up a typed section on the global manager.
func section[T Section](id string) T {
	var zero T
	if !IsInitialized() {
		return zero
	}
	s, ok := Global().GetSection(id)
	if !ok {
		return zero
	}
	typed, ok := s.(T)
	if !ok {
		return zero
	}
	return typed
}

// GetEngine returns the engine section, or nil before Initialize.
func GetEngine() *EngineSection { return section[*EngineSection](SectionIDEngine) }

// GetRecovery returns the recovery section, or nil before Initialize.
func GetRecovery() *RecoverySection { return section[*RecoverySection](SectionIDRecovery) }

// GetScanner returns the scanner section, or nil before Initialize.
func GetScanner() *ScannerSection { return section[*ScannerSection](SectionIDScanner) }

// GetNavigation returns the navigation section, or nil before Initialize.
func GetNavigation() *NavigationSection {
	return section[*NavigationSection](SectionIDNavigation)
}

// GetServer returns the server section, or nil before Initialize.
func GetServer() *ServerSection { return section[*ServerSection](SectionIDServer) }

// reset clears the global manager. Tests only.
func reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
