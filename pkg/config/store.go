package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ReportErrorsKey is the opt-in flag read by the reporting gate
const ReportErrorsKey = "report_errors"

// Provider exposes the component configuration to the reporting pipeline
type Provider interface {
	// Get returns the current value for key, falling back to its default
	Get(key string) (any, bool)

	// Snapshot returns a copy of the full current configuration
	Snapshot() map[string]any
}

// Store is the component configuration. Values override defaults; writes are
// persisted to the backing file (TOML, YAML or JSON by extension) when one is set.
type Store struct {
	mu        sync.RWMutex
	values    map[string]any
	defaults  map[string]any
	path      string
	listeners []func(map[string]any)
}

// NewStore creates an in-memory store
func NewStore(defaults map[string]any) *Store {
	return &Store{
		values:   make(map[string]any),
		defaults: copyMap(defaults),
	}
}

// OpenStore creates a store backed by path, loading it if it exists
func OpenStore(path string, defaults map[string]any) (*Store, error) {
	s := NewStore(defaults)
	s.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read component config: %w", err)
	}

	values, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// Get returns the value for key, or its default
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.values[key]; ok {
		return v, true
	}
	v, ok := s.defaults[key]
	return v, ok
}

// GetBool returns key as a bool; anything that is not a true bool is false
func (s *Store) GetBool(key string) bool {
	v, _ := s.Get(key)
	b, ok := v.(bool)
	return ok && b
}

// GetDefault returns the default value for key
func (s *Store) GetDefault(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults[key]
}

// Set stores a value and persists the store
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return s.Save()
}

// Update merges new values coming from outside (e.g. the host's config
// editor) and notifies listeners. It does not write the file.
func (s *Store) Update(values map[string]any) {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	listeners := append([]func(map[string]any){}, s.listeners...)
	s.mu.Unlock()

	snapshot := s.Snapshot()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// OnUpdate registers a listener called after every Update
func (s *Store) OnUpdate(fn func(map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns defaults overlaid with current values
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := copyMap(s.defaults)
	for k, v := range s.values {
		out[k] = copyValue(v)
	}
	return out
}

// Save writes the current values to the backing file, if any
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := encode(s.path, s.values)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write component config: %w", err)
	}
	return nil
}

func decode(path string, data []byte) (map[string]any, error) {
	values := make(map[string]any)
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &values)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &values)
	case ".json":
		err = json.Unmarshal(data, &values)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse component config: %w", err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	return values, nil
}

func encode(path string, values map[string]any) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		data, err = toml.Marshal(values)
	case ".yaml", ".yml":
		data, err = yaml.Marshal(values)
	case ".json":
		data, err = json.MarshalIndent(values, "", "  ")
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal component config: %w", err)
	}
	return data, nil
}

// copyMap copies m along with every nested map and slice, so snapshots
// never share mutable state with the store
func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	default:
		return v
	}
}
