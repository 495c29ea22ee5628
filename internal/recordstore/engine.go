// Defines the storage-engine contract consumed by the domain layer.

package recordstore

import (
	"context"
	"fmt"
)

// Engine is the storage contract implemented by the JSON file store and the
// relational store. All methods are safe for concurrent use.
type Engine interface {
	// List returns every record of the collection in insertion order. A
	// collection that was never written is empty.
	List(ctx context.Context, collection string) ([]Record, error)
	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Record, error)
	// Insert appends rec. It fails with ErrDuplicateID if rec's id exists.
	Insert(ctx context.Context, collection string, rec Record) error
	// Update shallow-merges fields into the record and returns the result.
	Update(ctx context.Context, collection, id string, fields Record) (Record, error)
	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, collection, id string) (bool, error)
	// Query filters, sorts and paginates the collection.
	Query(ctx context.Context, collection string, q Query) (*Page, error)
	// CascadeDelete atomically removes the root record and every dependent
	// record referencing it. It fails with ErrNotFound if the root is absent.
	CascadeDelete(ctx context.Context, root, rootID string, deps []Dependent) error
	// ForceCascadeDelete is CascadeDelete given the root record already in
	// hand. It still removes dependents if the root vanished concurrently.
	ForceCascadeDelete(ctx context.Context, root string, rootRec Record, deps []Dependent) error
	// RunInTx runs fn in one all-or-nothing scope holding every listed
	// collection exclusively. fn's changes are committed only if it returns
	// nil. fn must access the store only through the Txn it is given.
	RunInTx(ctx context.Context, collections []string, fn func(Txn) error) error
	// Close releases resources held by the engine.
	Close() error
}

// Txn is the view of a transaction handed to Engine.RunInTx callbacks. Reads
// observe the transaction's own staged writes. Collections outside the scope
// are rejected with ErrInvalidCollection.
type Txn interface {
	Rows(collection string) ([]Record, error)
	Get(collection, id string) (Record, error)
	Insert(collection string, rec Record) error
	Update(collection, id string, fields Record) (Record, error)
	Delete(collection, id string) (bool, error)
}

// Dependent names a collection whose records reference a root record through
// ForeignKey.
type Dependent struct {
	Collection string
	ForeignKey string
}

// ValidateCascade checks a cascade group specification.
func ValidateCascade(root string, deps []Dependent) error {
	if err := ValidateCollection(root); err != nil {
		return err
	}
	seen := map[string]bool{root: true}
	for _, d := range deps {
		if err := ValidateCollection(d.Collection); err != nil {
			return err
		}
		if d.ForeignKey == "" {
			return fmt.Errorf("%w: %s: foreign key is required", ErrInvalidCascade, d.Collection)
		}
		if seen[d.Collection] {
			return fmt.Errorf("%w: collection %s listed twice", ErrInvalidCascade, d.Collection)
		}
		seen[d.Collection] = true
	}
	return nil
}

// References reports whether rec's foreign key equals rootID.
func (d Dependent) References(rec Record, rootID string) bool {
	v, ok := rec[d.ForeignKey]
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == rootID
}
