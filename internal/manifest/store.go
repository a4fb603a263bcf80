package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
)

const (
	manifestFile = "manifest.json"
	lockFile     = "manifest.lock"
	lockRetry    = 25 * time.Millisecond
)

// Store is the durable manifest contract used by the workflow.
type Store interface {
	Create(ctx context.Context, m *Manifest) error
	Load(ctx context.Context, taskID string) (*Manifest, error)
	Save(ctx context.Context, m *Manifest) error
	Exists(ctx context.Context, taskID string) (bool, error)
	// Update runs fn on the current manifest inside the task lock and saves
	// the result when fn returns nil.
	Update(ctx context.Context, taskID string, fn func(*Manifest) error) (*Manifest, error)
	Remove(ctx context.Context, taskID string) error
	List(ctx context.Context) ([]*Manifest, error)
	TaskDir(taskID string) string
}

// FileStore keeps one JSON manifest per task directory.
type FileStore struct {
	root string
	now  func() time.Time
}

// NewFileStore returns a store rooted at dir (usually cfg.TasksDir()).
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tasks directory: %w", err)
	}
	return &FileStore{root: dir, now: time.Now}, nil
}

// TaskDir returns the directory that holds a task's manifest and artifacts.
func (s *FileStore) TaskDir(taskID string) string {
	return filepath.Join(s.root, taskID)
}

func (s *FileStore) manifestPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), manifestFile)
}

// Create writes the initial manifest. It fails with ErrExists when the task
// already has one.
func (s *FileStore) Create(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	dir := s.TaskDir(m.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ioError("create", m.TaskID, err)
	}
	return s.withLock(ctx, m.TaskID, func() error {
		if _, err := os.Stat(s.manifestPath(m.TaskID)); err == nil {
			return ErrExists
		} else if !errors.Is(err, fs.ErrNotExist) {
			return ioError("create", m.TaskID, err)
		}
		return s.write(m)
	})
}

// Load reads the manifest for taskID.
func (s *FileStore) Load(ctx context.Context, taskID string) (*Manifest, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(taskID)
}

// Save overwrites the manifest. The task directory must already exist.
func (s *FileStore) Save(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if _, err := os.Stat(s.TaskDir(m.TaskID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return ioError("save", m.TaskID, err)
	}
	return s.withLock(ctx, m.TaskID, func() error {
		return s.write(m)
	})
}

// Exists reports whether taskID has a manifest on disk.
func (s *FileStore) Exists(_ context.Context, taskID string) (bool, error) {
	if ValidateTaskID(taskID) != nil {
		return false, nil
	}
	_, err := os.Stat(s.manifestPath(taskID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, ioError("stat", taskID, err)
	}
}

// Update performs load-mutate-save under the task lock. When fn returns an
// error nothing is written and the error is returned unchanged.
func (s *FileStore) Update(ctx context.Context, taskID string, fn func(*Manifest) error) (*Manifest, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if _, err := os.Stat(s.TaskDir(taskID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioError("update", taskID, err)
	}
	var updated *Manifest
	err := s.withLock(ctx, taskID, func() error {
		current, err := s.read(taskID)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		if err := current.Validate(); err != nil {
			return fmt.Errorf("update manifest: %w", err)
		}
		if err := s.write(current); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes the task directory, artifacts included.
func (s *FileStore) Remove(_ context.Context, taskID string) error {
	if err := ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	dir := s.TaskDir(taskID)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return ioError("remove", taskID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return ioError("remove", taskID, err)
	}
	return nil
}

// List returns every readable manifest ordered by creation time. Unreadable
// entries are skipped.
func (s *FileStore) List(ctx context.Context) ([]*Manifest, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, ioError("list", "*", err)
	}
	out := make([]*Manifest, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || ValidateTaskID(entry.Name()) != nil {
			continue
		}
		m, err := s.read(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FileStore) read(taskID string) (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(taskID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioError("read", taskID, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ioError("decode", taskID, err)
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return &m, nil
}

func (s *FileStore) write(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ioError("encode", m.TaskID, err)
	}
	data = append(data, '\n')

	target := s.manifestPath(m.TaskID)
	tmp, err := os.CreateTemp(filepath.Dir(target), manifestFile+".*.tmp")
	if err != nil {
		return ioError("write", m.TaskID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return ioError("write", m.TaskID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return ioError("sync", m.TaskID, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return ioError("write", m.TaskID, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return ioError("rename", m.TaskID, err)
	}
	return nil
}

func (s *FileStore) withLock(ctx context.Context, taskID string, fn func() error) error {
	lock := flock.New(filepath.Join(s.TaskDir(taskID), lockFile))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ioError("lock", taskID, err)
	}
	if !locked {
		return ioError("lock", taskID, errors.New("lock not acquired"))
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}
