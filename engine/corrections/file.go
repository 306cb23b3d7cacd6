package corrections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore keeps corrections in a JSON file keyed by normalised body.
type FileStore struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]Correction
}

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, now: time.Now, entries: make(map[string]Correction)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corrections: read %s: %w", path, err)
	}
	var list []Correction
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("corrections: decode %s: %w", path, err)
	}
	for _, c := range list {
		if k := Key(c.Comment); k != "" {
			s.entries[k] = c
		}
	}
	return s, nil
}

// Lookup returns the correction recorded for body, if any.
func (s *FileStore) Lookup(_ context.Context, body string) (Correction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.entries[Key(body)]
	return c, ok, nil
}

// Record stores c, replacing any earlier correction for the same body, and
// rewrites the file.
func (s *FileStore) Record(_ context.Context, c Correction) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[Key(c.Comment)] = c
	return s.flush()
}

// Len returns the number of stored corrections.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *FileStore) flush() error {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]Correction, 0, len(keys))
	for _, k := range keys {
		list = append(list, s.entries[k])
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("corrections: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".corrections-*")
	if err != nil {
		return fmt.Errorf("corrections: write %s: %w", s.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("corrections: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("corrections: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("corrections: write %s: %w", s.path, err)
	}
	return nil
}
