package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore persists Records as one YAML document per controller, keyed by
// session id. It is the default backend — no server, no schema migration,
// just a file a user can read.
type FileStore struct {
	mu   sync.Mutex
	path string
	data fileDocument
}

type fileDocument struct {
	Sessions map[string]Record `yaml:"sessions"`
}

// NewFileStore opens (or initializes) the YAML store at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: fileDocument{Sessions: map[string]Record{}}}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(body, &fs.data); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	if fs.data.Sessions == nil {
		fs.data.Sessions = map[string]Record{}
	}
	return fs, nil
}

func (fs *FileStore) Save(_ context.Context, r Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.data.Sessions[r.ID] = r
	return fs.flushLocked()
}

func (fs *FileStore) Get(_ context.Context, id string) (Record, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r, ok := fs.data.Sessions[id]
	return r, ok, nil
}

func (fs *FileStore) List(_ context.Context) ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Record, 0, len(fs.data.Sessions))
	for _, r := range fs.data.Sessions {
		out = append(out, r)
	}
	return out, nil
}

func (fs *FileStore) Close() error { return nil }

// flushLocked writes the current document to disk. Callers must hold fs.mu.
func (fs *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("store: create dir for %s: %w", fs.path, err)
	}
	body, err := yaml.Marshal(fs.data)
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, fs.path)
}
