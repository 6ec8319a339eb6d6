// Package file persists device state as a single JSON document on disk.
// Credentials are sealed with crypto.Sealer when a secret is configured.
package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/nextlevelbuilder/allow2/internal/crypto"
	"github.com/nextlevelbuilder/allow2/internal/store"
)

// Store implements store.Store on top of a JSON file.
type Store struct {
	path   string
	sealer *crypto.Sealer

	mu     sync.Mutex
	values map[string]string // plaintext
}

var _ store.Store = (*Store)(nil)

// Open loads the state file at path (created on first write).
// sealer may be nil, in which case secrets are written in the clear.
func Open(path string, sealer *crypto.Sealer) (*Store, error) {
	s := &Store{
		path:   path,
		sealer: sealer,
		values: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

// Put applies values and rewrites the file. On write failure the in-memory
// state is rolled back so it never diverges from disk.
func (s *Store) Put(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := maps.Clone(s.values)
	for k, v := range values {
		if v == "" {
			delete(s.values, k)
		} else {
			s.values[k] = v
		}
	}
	if err := s.save(); err != nil {
		s.values = prev
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state %s: %w", s.path, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse state %s: %w", s.path, err)
	}
	for k, v := range raw {
		plain, err := s.sealer.Open(k, v)
		if err != nil {
			return fmt.Errorf("state key %s: %w", k, err)
		}
		s.values[k] = plain
	}
	slog.Debug("device state loaded", "path", s.path, "keys", len(s.values))
	return nil
}

// save writes to a temp file and renames it over the target.
// Must be called with s.mu held.
func (s *Store) save() error {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		if store.IsSecret(k) {
			sealed, err := s.sealer.Seal(k, v)
			if err != nil {
				return fmt.Errorf("seal %s: %w", k, err)
			}
			v = sealed
		}
		out[k] = v
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
