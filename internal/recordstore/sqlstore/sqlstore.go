// Package sqlstore is the relational variant of the record store, backed by
// SQLite.
//
// All collections share one table. Every mutation runs in its own SQL
// transaction on a single connection, so writes to a collection are
// serialized and a failed statement rolls back completely.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/maruel/arena/internal/recordstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection, seq);
`

// Store implements recordstore.Engine on SQLite.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration

	// beforeDelete, when set, is called before the rows of a collection are
	// deleted during a cascade. Tests use it to inject failures.
	beforeDelete func(collection string) error
}

var _ recordstore.Engine = (*Store)(nil)

// Open creates or opens the database at path.
//
// The database is configured with WAL journaling, a busy timeout matching the
// lock timeout, immediate transactions (writers take the lock up front) and a
// single connection.
func Open(path string, opts recordstore.Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, recordstore.StorageError("create directory", filepath.Dir(path), err)
	}
	timeout := opts.LockTimeout
	if timeout == 0 {
		timeout = recordstore.DefaultLockTimeout
	}
	busy := max(timeout, 0).Milliseconds()
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, busy)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, recordstore.StorageError("open", path, err)
	}
	// SQLite supports a single writer; one connection also gives us FIFO
	// ordering of operations through database/sql's connection queue.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, recordstore.StorageError("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, recordstore.StorageError("apply schema", path, err)
	}
	return &Store{db: db, lockTimeout: timeout}, nil
}

// Close implements recordstore.Engine.
func (s *Store) Close() error {
	return s.db.Close()
}

// List implements recordstore.Engine.
func (s *Store) List(ctx context.Context, collection string) ([]recordstore.Record, error) {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return scanAll(ctx, s.db, collection)
}

// Get implements recordstore.Engine.
func (s *Store) Get(ctx context.Context, collection, id string) (recordstore.Record, error) {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getOne(ctx, s.db, collection, id)
}

// Query implements recordstore.Engine.
func (s *Store) Query(ctx context.Context, collection string, q recordstore.Query) (*recordstore.Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return q.Apply(rows)
}

// Insert implements recordstore.Engine.
func (s *Store) Insert(ctx context.Context, collection string, rec recordstore.Record) error {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return err
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insert(ctx, tx, collection, rec)
	})
}

// Update implements recordstore.Engine.
func (s *Store) Update(ctx context.Context, collection, id string, fields recordstore.Record) (recordstore.Record, error) {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	var merged recordstore.Record
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		merged, err = update(ctx, tx, collection, id, fields)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Delete implements recordstore.Engine.
func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	if err := recordstore.ValidateCollection(collection); err != nil {
		return false, err
	}
	deleted := false
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		deleted, err = deleteOne(ctx, tx, collection, id)
		return err
	})
	return deleted, err
}

// RunInTx implements recordstore.Engine. The scope is one immediate SQL
// transaction; with a single connection it excludes every other operation.
func (s *Store) RunInTx(ctx context.Context, collections []string, fn func(recordstore.Txn) error) error {
	scope := make(map[string]bool, len(collections))
	for _, c := range collections {
		if err := recordstore.ValidateCollection(c); err != nil {
			return err
		}
		scope[c] = true
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(&txn{ctx: ctx, tx: tx, scope: scope})
	})
}

// txn adapts a *sql.Tx to recordstore.Txn.
type txn struct {
	ctx   context.Context
	tx    *sql.Tx
	scope map[string]bool
}

func (t *txn) check(collection string) error {
	if !t.scope[collection] {
		return fmt.Errorf("%w: %s is not part of the transaction", recordstore.ErrInvalidCollection, collection)
	}
	return nil
}

func (t *txn) Rows(collection string) ([]recordstore.Record, error) {
	if err := t.check(collection); err != nil {
		return nil, err
	}
	return scanAll(t.ctx, t.tx, collection)
}

func (t *txn) Get(collection, id string) (recordstore.Record, error) {
	if err := t.check(collection); err != nil {
		return nil, err
	}
	return getOne(t.ctx, t.tx, collection, id)
}

func (t *txn) Insert(collection string, rec recordstore.Record) error {
	if err := t.check(collection); err != nil {
		return err
	}
	return insert(t.ctx, t.tx, collection, rec)
}

func (t *txn) Update(collection, id string, fields recordstore.Record) (recordstore.Record, error) {
	if err := t.check(collection); err != nil {
		return nil, err
	}
	return update(t.ctx, t.tx, collection, id, fields)
}

func (t *txn) Delete(collection, id string) (bool, error) {
	if err := t.check(collection); err != nil {
		return false, err
	}
	return deleteOne(t.ctx, t.tx, collection, id)
}

func insert(ctx context.Context, tx *sql.Tx, collection string, rec recordstore.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", recordstore.ErrInvalidRecord, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO records (collection, id, data) VALUES (?, ?, ?)`, collection, rec.ID(), string(data)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", recordstore.ErrDuplicateID, collection, rec.ID())
		}
		return mapErr("insert", collection, err)
	}
	return nil
}

func update(ctx context.Context, tx *sql.Tx, collection, id string, fields recordstore.Record) (recordstore.Record, error) {
	if v, ok := fields[recordstore.IDField]; ok && v != id {
		return nil, fmt.Errorf("%w: cannot change %q", recordstore.ErrInvalidRecord, recordstore.IDField)
	}
	cur, err := getOne(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cur.Merge(fields))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", recordstore.ErrInvalidRecord, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE records SET data = ? WHERE collection = ? AND id = ?`, string(data), collection, id); err != nil {
		return nil, mapErr("update", collection, err)
	}
	// Return what a later Get would return.
	var merged recordstore.Record
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, recordstore.StorageError("decode", collection, err)
	}
	return merged, nil
}

func deleteOne(ctx context.Context, tx *sql.Tx, collection, id string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return false, mapErr("delete", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("delete", collection, err)
	}
	return n > 0, nil
}

// CascadeDelete implements recordstore.Engine.
func (s *Store) CascadeDelete(ctx context.Context, root, rootID string, deps []recordstore.Dependent) error {
	return s.cascade(ctx, root, rootID, deps, true)
}

// ForceCascadeDelete implements recordstore.Engine.
func (s *Store) ForceCascadeDelete(ctx context.Context, root string, rootRec recordstore.Record, deps []recordstore.Dependent) error {
	if err := rootRec.Validate(); err != nil {
		return err
	}
	return s.cascade(ctx, root, rootRec.ID(), deps, false)
}

func (s *Store) cascade(ctx context.Context, root, rootID string, deps []recordstore.Dependent, requireRoot bool) error {
	if err := recordstore.ValidateCascade(root, deps); err != nil {
		return err
	}
	removed := 0
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := getOne(ctx, tx, root, rootID); err != nil {
			if !errors.Is(err, recordstore.ErrNotFound) {
				return &recordstore.CascadeError{Step: "lookup", Collection: root, Err: err}
			}
			if requireRoot {
				return err
			}
			slog.WarnContext(ctx, "sqlstore: cascade root already gone", "collection", root, "id", rootID)
		}
		for _, d := range deps {
			n, err := s.deleteDependents(ctx, tx, d, rootID)
			if err != nil {
				return &recordstore.CascadeError{Step: "dependents", Collection: d.Collection, Err: err}
			}
			removed += n
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, root, rootID); err != nil {
			return &recordstore.CascadeError{Step: "root", Collection: root, Err: mapErr("delete", root, err)}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) || errors.Is(err, recordstore.ErrCascadePartialFailure) {
			return err
		}
		var ce *recordstore.CascadeError
		if !errors.As(err, &ce) {
			step := "commit"
			if errors.Is(err, recordstore.ErrLockTimeout) {
				step = "lock"
			}
			err = &recordstore.CascadeError{Step: step, Err: err}
		}
		return err
	}
	slog.InfoContext(ctx, "sqlstore: cascade delete", "collection", root, "id", rootID, "dependents", removed)
	return nil
}

// deleteDependents removes every record of d.Collection referencing rootID.
// Matching happens on decoded records so it has the same semantics as the
// file store regardless of how the foreign key is encoded.
func (s *Store) deleteDependents(ctx context.Context, tx *sql.Tx, d recordstore.Dependent, rootID string) (int, error) {
	rows, err := scanAll(ctx, tx, d.Collection)
	if err != nil {
		return 0, err
	}
	var ids []any
	for _, r := range rows {
		if d.References(r, rootID) {
			ids = append(ids, r.ID())
		}
	}
	if s.beforeDelete != nil {
		if err := s.beforeDelete(d.Collection); err != nil {
			return 0, err
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	q := `DELETE FROM records WHERE collection = ? AND id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err := tx.ExecContext(ctx, q, append([]any{d.Collection}, ids...)...); err != nil {
		return 0, mapErr("delete", d.Collection, err)
	}
	return len(ids), nil
}

// withTx runs fn in a transaction bounded by the lock timeout. The transaction
// is rolled back unless fn succeeds and the commit goes through.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin", "", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapErr("commit", "", err)
	}
	committed = true
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.lockTimeout > 0 {
		return context.WithTimeout(ctx, s.lockTimeout)
	}
	return context.WithCancel(ctx)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanAll(ctx context.Context, q querier, collection string) ([]recordstore.Record, error) {
	rows, err := q.QueryContext(ctx, `SELECT data FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, mapErr("list", collection, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	out := []recordstore.Record{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, mapErr("scan", collection, err)
		}
		var rec recordstore.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, recordstore.StorageError("decode", collection, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list", collection, err)
	}
	return out, nil
}

func getOne(ctx context.Context, q querier, collection, id string) (recordstore.Record, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT data FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", recordstore.ErrNotFound, collection, id)
	}
	if err != nil {
		return nil, mapErr("get", collection, err)
	}
	var rec recordstore.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, recordstore.StorageError("decode", collection, err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.ExtendedCode == sqlite3.ErrConstraintUnique || serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// mapErr classifies driver errors: lock contention and deadline expiry become
// ErrLockTimeout, everything else ErrStorageUnavailable.
func mapErr(op, collection string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, collection, recordstore.ErrLockTimeout)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%s %s: %w: %w", op, collection, recordstore.ErrLockTimeout, err)
	}
	return recordstore.StorageError(op, collection, err)
}
