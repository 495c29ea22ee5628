// Implements atomic deletion of a root record and its dependents.

package recordstore

import (
	"context"
	"errors"
	"log/slog"
)

// CascadeDelete implements Engine.
func (s *Store) CascadeDelete(ctx context.Context, root, rootID string, deps []Dependent) error {
	return s.cascade(ctx, root, rootID, deps, true)
}

// ForceCascadeDelete implements Engine.
func (s *Store) ForceCascadeDelete(ctx context.Context, root string, rootRec Record, deps []Dependent) error {
	if err := rootRec.Validate(); err != nil {
		return err
	}
	return s.cascade(ctx, root, rootRec.ID(), deps, false)
}

func (s *Store) cascade(ctx context.Context, root, rootID string, deps []Dependent, requireRoot bool) error {
	if err := ValidateCascade(root, deps); err != nil {
		return err
	}
	names := make([]string, 0, len(deps)+1)
	names = append(names, root)
	for _, d := range deps {
		names = append(names, d.Collection)
	}

	tx, err := s.Begin(ctx, names...)
	if err != nil {
		return &CascadeError{Step: "lock", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Get(root, rootID); err != nil {
		if requireRoot || !errors.Is(err, ErrNotFound) {
			return err
		}
		slog.WarnContext(ctx, "recordstore: cascade root already gone", "collection", root, "id", rootID)
	}

	removed := 0
	for _, d := range deps {
		n, err := tx.DeleteWhere(d.Collection, func(r Record) bool { return d.References(r, rootID) })
		if err != nil {
			return &CascadeError{Step: "dependents", Collection: d.Collection, Err: err}
		}
		removed += n
	}
	if _, err := tx.Delete(root, rootID); err != nil {
		return &CascadeError{Step: "root", Collection: root, Err: err}
	}

	if err := tx.Commit(); err != nil {
		ce := &CascadeError{Step: "commit", Err: err}
		var cerr *CommitError
		if errors.As(err, &cerr) {
			ce.Collection = cerr.Collection
		}
		slog.ErrorContext(ctx, "recordstore: cascade delete rolled back", "collection", root, "id", rootID, "err", err)
		return ce
	}
	slog.InfoContext(ctx, "recordstore: cascade delete", "collection", root, "id", rootID, "dependents", removed)
	return nil
}
