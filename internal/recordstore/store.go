package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long an operation waits for a collection lock.
const DefaultLockTimeout = 5 * time.Second

// Options configures a Store.
type Options struct {
	// LockTimeout bounds lock waits. Zero means DefaultLockTimeout; negative
	// means wait until the context is done.
	LockTimeout time.Duration
}

// Store is the file-backed Engine. Each collection is one JSON array file.
type Store struct {
	dir         string
	lockTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*rwLock

	// beforeWrite, when set, is called before a collection file is replaced.
	// Tests use it to inject failures.
	beforeWrite func(collection string) error
}

var _ Engine = (*Store)(nil)

// Open creates a Store rooted at dir. The directory is created if absent.
func Open(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, StorageError("create directory", dir, err)
	}
	timeout := opts.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}
	return &Store{
		dir:         dir,
		lockTimeout: timeout,
		locks:       make(map[string]*rwLock),
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close implements Engine. The file store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *Store) lockFor(collection string) *rwLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[collection]
	if !ok {
		l = newRWLock()
		s.locks[collection] = l
	}
	return l
}

// List implements Engine.
func (s *Store) List(ctx context.Context, collection string) ([]Record, error) {
	var out []Record
	err := s.read(ctx, collection, func(rows []Record) error {
		out = rows
		return nil
	})
	return out, err
}

// Get implements Engine.
func (s *Store) Get(ctx context.Context, collection, id string) (Record, error) {
	var out Record
	err := s.read(ctx, collection, func(rows []Record) error {
		if i := indexOf(rows, id); i >= 0 {
			out = rows[i]
			return nil
		}
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	})
	return out, err
}

// Query implements Engine.
func (s *Store) Query(ctx context.Context, collection string, q Query) (*Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var out *Page
	err := s.read(ctx, collection, func(rows []Record) error {
		var err error
		out, err = q.Apply(rows)
		return err
	})
	return out, err
}

// Insert implements Engine.
func (s *Store) Insert(ctx context.Context, collection string, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec, err := normalize(rec)
	if err != nil {
		return err
	}
	return s.modify(ctx, collection, func(rows []Record) ([]Record, error) {
		if indexOf(rows, rec.ID()) >= 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateID, collection, rec.ID())
		}
		return append(rows, rec), nil
	})
}

// Update implements Engine.
func (s *Store) Update(ctx context.Context, collection, id string, fields Record) (Record, error) {
	if v, ok := fields[IDField]; ok && v != id {
		return nil, fmt.Errorf("%w: cannot change %q", ErrInvalidRecord, IDField)
	}
	fields, err := normalize(fields)
	if err != nil {
		return nil, err
	}
	var merged Record
	err = s.modify(ctx, collection, func(rows []Record) ([]Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		rows[i] = rows[i].Merge(fields)
		merged = rows[i].Clone()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete implements Engine.
func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	deleted := false
	err := s.modify(ctx, collection, func(rows []Record) ([]Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, nil
		}
		deleted = true
		return append(rows[:i], rows[i+1:]...), nil
	})
	return deleted, err
}

// read loads the collection under the shared lock. fn receives records it may
// retain; they are not shared with any other caller.
func (s *Store) read(ctx context.Context, collection string, fn func([]Record) error) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	l := s.lockFor(collection)
	if err := l.rlock(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer l.runlock()
	rows, _, err := s.load(collection)
	if err != nil {
		return err
	}
	return fn(rows)
}

// modify runs one read-modify-write cycle under the exclusive lock. When fn
// returns nil rows and no error, nothing is written.
func (s *Store) modify(ctx context.Context, collection string, fn func([]Record) ([]Record, error)) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	l := s.lockFor(collection)
	if err := l.lock(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer l.unlock()
	rows, _, err := s.load(collection)
	if err != nil {
		return err
	}
	rows, err = fn(rows)
	if err != nil || rows == nil {
		return err
	}
	return s.write(collection, rows)
}

// load reads and decodes a collection file. The raw bytes are returned so a
// transaction can restore them on rollback; they are nil if the file does not
// exist yet.
func (s *Store) load(collection string) ([]Record, []byte, error) {
	p := s.path(collection)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil, nil
		}
		return nil, nil, StorageError("read", p, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, data, nil
	}
	var rows []Record
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, nil, StorageError("decode", p, err)
	}
	if rows == nil {
		rows = []Record{}
	}
	return rows, data, nil
}

func encode(rows []Record) ([]byte, error) {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) write(collection string, rows []Record) error {
	if s.beforeWrite != nil {
		if err := s.beforeWrite(collection); err != nil {
			return err
		}
	}
	data, err := encode(rows)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return s.replaceFile(s.path(collection), data)
}

// replaceFile atomically replaces p with data: the previous content stays
// intact until the rename succeeds.
func (s *Store) replaceFile(p string, data []byte) error {
	f, err := os.CreateTemp(s.dir, "."+filepath.Base(p)+".tmp*")
	if err != nil {
		return StorageError("create temp", p, err)
	}
	tmp := f.Name()
	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmp)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return StorageError("write", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return StorageError("sync", tmp, err)
	}
	if err := f.Close(); err != nil {
		return StorageError("close", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return StorageError("rename", p, err)
	}
	ok = true
	s.syncDir()
	return nil
}

// syncDir flushes the directory entry so the rename survives a crash.
// Not every platform supports fsync on directories; failures are logged only.
func (s *Store) syncDir() {
	d, err := os.Open(s.dir)
	if err != nil {
		return
	}
	if err := d.Sync(); err != nil {
		slog.Debug("recordstore: directory sync failed", "dir", s.dir, "err", err)
	}
	_ = d.Close()
}

func indexOf(rows []Record, id string) int {
	for i, r := range rows {
		if r.ID() == id {
			return i
		}
	}
	return -1
}
