package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const fileVersion = "1.0"

// Store provides persistence for configuration data.
type Store interface {
	// Load loads the configuration from disk
	Load() error

	// Save saves the configuration to disk
	Save() error

	// GetSection retrieves configuration data for a specific section
	GetSection(sectionID string) (map[string]any, error)

	// SetSection stores configuration data for a specific section
	SetSection(sectionID string, data map[string]any) error
}

// fileLayout is the on-disk shape of a config file.
type fileLayout struct {
	Version  string                    `json:"version" yaml:"version"`
	Sections map[string]map[string]any `json:"sections" yaml:"sections"`
}

// codec reads and writes fileLayout in one format.
type codec interface {
	decode(data []byte, v *fileLayout) error
	encode(v fileLayout) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) decode(data []byte, v *fileLayout) error { return json.Unmarshal(data, v) }
func (jsonCodec) encode(v fileLayout) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type yamlCodec struct{}

func (yamlCodec) decode(data []byte, v *fileLayout) error { return yaml.Unmarshal(data, v) }
func (yamlCodec) encode(v fileLayout) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func codecFor(path string) codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	default:
		return jsonCodec{}
	}
}

// DefaultPath returns ~/.capture/config.json.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".capture", "config.json"), nil
}

// FileStore implements Store on a JSON or YAML file, chosen by extension.
type FileStore struct {
	path     string
	codec    codec
	data     map[string]map[string]any
	mu       sync.RWMutex
	version  string
	modified bool
}

// NewFileStore creates a file store and loads path if it exists. An empty
// path selects DefaultPath.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	store := &FileStore{
		path:    path,
		codec:   codecFor(path),
		data:    make(map[string]map[string]any),
		version: fileVersion,
	}
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return store, nil
}

// Load reads the file. A missing file is an empty configuration.
func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.data = make(map[string]map[string]any)
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var layout fileLayout
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := s.codec.decode(raw, &layout); err != nil {
			return fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if layout.Version != "" {
		s.version = layout.Version
	}
	s.data = make(map[string]map[string]any, len(layout.Sections))
	for id, section := range layout.Sections {
		if section == nil {
			section = make(map[string]any)
		}
		s.data[id] = section
	}
	s.modified = false
	return nil
}

// Save writes the file atomically through a temp file and rename.
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out, err := s.codec.encode(fileLayout{Version: s.version, Sections: s.data})
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, out, 0600); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	s.modified = false
	return nil
}

// GetSection returns a copy of a section's data; unknown sections are empty.
func (s *FileStore) GetSection(sectionID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := s.data[sectionID]
	dataCopy := make(map[string]any, len(data))
	for k, v := range data {
		dataCopy[k] = v
	}
	return dataCopy, nil
}

// SetSection replaces a section's data with a copy of data.
func (s *FileStore) SetSection(sectionID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataCopy := make(map[string]any, len(data))
	for k, v := range data {
		dataCopy[k] = v
	}
	s.data[sectionID] = dataCopy
	s.modified = true
	return nil
}

// IsModified reports unsaved changes.
func (s *FileStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modified
}

// Path returns the file path of the store.
func (s *FileStore) Path() string {
	return s.path
}
