// Implements all-or-nothing transactions spanning several collections.

package recordstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/hashicorp/go-multierror"
)

// Tx is an exclusive, all-or-nothing scope over a fixed set of collections.
//
// Begin locks every collection in alphabetical order and loads a snapshot of
// each. Changes are staged in memory until Commit writes them. If any write
// fails, collections already written are restored from their pre-images. A
// Tx must be finished with Commit or Rollback; Rollback after Commit is a
// no-op so it can be deferred.
type Tx struct {
	s     *Store
	ctx   context.Context
	names []string
	cols  map[string]*txCollection
	done  bool
}

type txCollection struct {
	lock  *rwLock
	rows  []Record
	orig  []byte // nil if the file did not exist
	dirty bool
}

// CommitError identifies the collection whose write failed during Commit.
type CommitError struct {
	Collection string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Collection, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

var _ Txn = (*Tx)(nil)

// RunInTx implements Engine.
func (s *Store) RunInTx(ctx context.Context, collections []string, fn func(Txn) error) error {
	tx, err := s.Begin(ctx, collections...)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Begin starts a transaction over the given collections.
func (s *Store) Begin(ctx context.Context, collections ...string) (*Tx, error) {
	names := slices.Clone(collections)
	slices.Sort(names)
	names = slices.Compact(names)
	for _, n := range names {
		if err := ValidateCollection(n); err != nil {
			return nil, err
		}
	}
	tx := &Tx{s: s, ctx: ctx, names: names, cols: make(map[string]*txCollection, len(names))}
	for _, n := range names {
		l := s.lockFor(n)
		if err := l.lock(ctx, s.lockTimeout); err != nil {
			tx.release()
			return nil, fmt.Errorf("lock %s: %w", n, err)
		}
		tx.cols[n] = &txCollection{lock: l}
	}
	for _, n := range names {
		rows, orig, err := s.load(n)
		if err != nil {
			tx.release()
			return nil, err
		}
		tx.cols[n].rows = rows
		tx.cols[n].orig = orig
	}
	return tx, nil
}

func (tx *Tx) col(collection string) (*txCollection, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	c, ok := tx.cols[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of the transaction", ErrInvalidCollection, collection)
	}
	return c, nil
}

// Rows returns a copy of the staged records of a collection.
func (tx *Tx) Rows(collection string) ([]Record, error) {
	c, err := tx.col(collection)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(c.rows))
	for i, r := range c.rows {
		out[i] = r.Clone()
	}
	return out, nil
}

// Get returns a staged record.
func (tx *Tx) Get(collection, id string) (Record, error) {
	c, err := tx.col(collection)
	if err != nil {
		return nil, err
	}
	if i := indexOf(c.rows, id); i >= 0 {
		return c.rows[i].Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}

// Insert stages a new record.
func (tx *Tx) Insert(collection string, rec Record) error {
	c, err := tx.col(collection)
	if err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec, err = normalize(rec); err != nil {
		return err
	}
	if indexOf(c.rows, rec.ID()) >= 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateID, collection, rec.ID())
	}
	c.rows = append(c.rows, rec)
	c.dirty = true
	return nil
}

// Update stages a shallow merge of fields into a record and returns the
// result.
func (tx *Tx) Update(collection, id string, fields Record) (Record, error) {
	c, err := tx.col(collection)
	if err != nil {
		return nil, err
	}
	if v, ok := fields[IDField]; ok && v != id {
		return nil, fmt.Errorf("%w: cannot change %q", ErrInvalidRecord, IDField)
	}
	if fields, err = normalize(fields); err != nil {
		return nil, err
	}
	i := indexOf(c.rows, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	c.rows[i] = c.rows[i].Merge(fields)
	c.dirty = true
	return c.rows[i].Clone(), nil
}

// Delete stages the removal of one record and reports whether it existed.
func (tx *Tx) Delete(collection, id string) (bool, error) {
	n, err := tx.DeleteWhere(collection, func(r Record) bool { return r.ID() == id })
	return n > 0, err
}

// DeleteWhere stages the removal of every record matching pred and returns
// how many were removed.
func (tx *Tx) DeleteWhere(collection string, pred func(Record) bool) (int, error) {
	c, err := tx.col(collection)
	if err != nil {
		return 0, err
	}
	before := len(c.rows)
	c.rows = slices.DeleteFunc(c.rows, pred)
	n := before - len(c.rows)
	if n > 0 {
		c.dirty = true
	}
	return n, nil
}

// Commit writes every modified collection and releases the locks. On failure
// the durable state is restored to what it was at Begin.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	defer tx.release()
	var written []string
	for _, n := range tx.names {
		c := tx.cols[n]
		if !c.dirty {
			continue
		}
		if err := tx.s.write(n, c.rows); err != nil {
			if rerr := tx.restore(written); rerr != nil {
				slog.ErrorContext(tx.ctx, "recordstore: rollback incomplete", "collections", written, "err", rerr)
				err = multierror.Append(err, rerr)
			}
			return &CommitError{Collection: n, Err: err}
		}
		written = append(written, n)
	}
	return nil
}

// Rollback discards staged changes and releases the locks.
func (tx *Tx) Rollback() {
	if !tx.done {
		tx.release()
	}
}

func (tx *Tx) restore(names []string) error {
	var result *multierror.Error
	for _, n := range names {
		c := tx.cols[n]
		p := tx.s.path(n)
		if c.orig == nil {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result = multierror.Append(result, StorageError("remove", p, err))
			}
			continue
		}
		if err := tx.s.replaceFile(p, c.orig); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// release unlocks in reverse acquisition order.
func (tx *Tx) release() {
	tx.done = true
	for i := len(tx.names) - 1; i >= 0; i-- {
		if c, ok := tx.cols[tx.names[i]]; ok {
			c.lock.unlock()
		}
	}
	tx.cols = nil
}
