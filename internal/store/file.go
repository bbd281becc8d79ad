package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sleuth/internal/logging"
	"sleuth/internal/session"
)

// FileStore keeps one JSON document per session in a directory. Saves
// write a temp file, fsync it, and rename it over the previous snapshot.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes writers; readers rely on rename atomicity
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, persistErr("open", "", fmt.Errorf("failed to create session directory: %w", err))
	}
	logging.Store("FileStore at %s", dir)
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Save writes s atomically.
func (fs *FileStore) Save(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(s)
	if err != nil {
		return persistErr("save", "", err)
	}
	if strings.ContainsAny(s.ID, `/\`) {
		return persistErr("save", s.ID, fmt.Errorf("invalid session id"))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(fs.dir, "."+s.ID+".*.tmp")
	if err != nil {
		return persistErr("save", s.ID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return persistErr("save", s.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return persistErr("save", s.ID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return persistErr("save", s.ID, err)
	}
	if err := os.Rename(tmpName, fs.path(s.ID)); err != nil {
		cleanup()
		return persistErr("save", s.ID, err)
	}
	if d, err := os.Open(fs.dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	logging.StoreDebug("Saved session %s (%d bytes)", s.ID, len(data))
	return nil
}

// Load reads the latest snapshot of id.
func (fs *FileStore) Load(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, persistErr("load", id, err)
	}
	s, err := decode(data)
	if err != nil {
		return nil, persistErr("load", id, err)
	}
	return s, nil
}

// List summarizes every stored session, newest first.
func (fs *FileStore) List(ctx context.Context) ([]session.Summary, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, persistErr("list", "", err)
	}
	var out []session.Summary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := fs.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable session file %s: %v", name, err)
			continue
		}
		out = append(out, s.Summary())
	}
	session.SortSummaries(out)
	return out, nil
}
