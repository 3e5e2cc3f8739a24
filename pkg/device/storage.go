// Package device produces and persists the stable per-install device
// identity, backed by a pluggable key/value storage collaborator.
package device

import (
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Storage is the persistence collaborator. It is used solely for device-id
// persistence.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
}

// MemoryStorage is an ephemeral Storage for tests and hosts without
// persistence.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: map[string]string{}}
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	return nil
}

// FileStorage persists items as a single JSON object on disk.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

func NewFileStorage(path string) (*FileStorage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("file storage: empty path")
	}
	return &FileStorage{path: path}, nil
}

func (s *FileStorage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

func (s *FileStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load()
	if err != nil {
		return err
	}
	items = maps.Clone(items)
	if items == nil {
		items = map[string]string{}
	}
	items[key] = value
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "file storage: marshal")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "file storage: mkdir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "file storage: write")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "file storage: rename")
}

func (s *FileStorage) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "file storage: read")
	}
	items := map[string]string{}
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, errors.Wrap(err, "file storage: decode")
	}
	return items, nil
}
