// Package prefs persists the naming preferences and keeps a live copy of
// them for long-running processes.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/starford/xhsdl/internal/naming"
)

// Load reads preferences from path. A missing file yields the defaults and
// an empty template falls back to naming.DefaultTemplate.
func Load(path string) (naming.Preferences, error) {
	p := naming.DefaultPreferences()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("prefs: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return naming.DefaultPreferences(), fmt.Errorf("prefs: parse %s: %w", path, err)
	}
	if strings.TrimSpace(p.Template) == "" {
		p.Template = naming.DefaultTemplate
	}
	return p, nil
}

// Save atomically writes p to path: tmp file → fsync → rename.
func Save(path string, p naming.Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prefs: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".xhsdl-prefs-*")
	if err != nil {
		return fmt.Errorf("prefs: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("prefs: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("prefs: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("prefs: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("prefs: rename: %w", err)
	}
	success = true
	return nil
}

// Store holds the current preferences of a preferences file.
type Store struct {
	path string

	mu      sync.RWMutex
	current naming.Preferences
}

// Open loads path into a new Store.
func Open(path string) (*Store, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, current: p}, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Current returns a snapshot of the preferences.
func (s *Store) Current() naming.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set persists p and makes it current.
func (s *Store) Set(p naming.Preferences) error {
	if strings.TrimSpace(p.Template) == "" {
		p.Template = naming.DefaultTemplate
	}
	if err := Save(s.path, p); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return nil
}

// Reload re-reads the backing file. On error the current value is kept.
func (s *Store) Reload() (naming.Preferences, error) {
	p, err := Load(s.path)
	if err != nil {
		return s.Current(), err
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	return p, nil
}
