package recordstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

var clanDeps = []Dependent{
	{Collection: "members", ForeignKey: "clan_id"},
	{Collection: "applications", ForeignKey: "clan_id"},
}

func seedClan(t *testing.T, s *Store, id string, members, applications int) {
	t.Helper()
	ctx := context.Background()
	if err := s.Insert(ctx, "clans", Record{"id": id}); err != nil {
		t.Fatal(err)
	}
	for i := range members {
		if err := s.Insert(ctx, "members", Record{"id": fmt.Sprintf("%s-m%d", id, i), "clan_id": id}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range applications {
		if err := s.Insert(ctx, "applications", Record{"id": fmt.Sprintf("%s-a%d", id, i), "clan_id": id}); err != nil {
			t.Fatal(err)
		}
	}
}

func countAll(t *testing.T, s *Store) (clans, members, applications int) {
	t.Helper()
	ctx := context.Background()
	c, err := s.List(ctx, "clans")
	if err != nil {
		t.Fatal(err)
	}
	m, _ := s.List(ctx, "members")
	a, _ := s.List(ctx, "applications")
	return len(c), len(m), len(a)
}

func TestCascadeDelete(t *testing.T) {
	ctx := context.Background()

	// Commit order is alphabetical: applications, clans, members. Failing on
	// each one exercises rollback with zero, one and two collections already
	// written.
	for _, failing := range []string{"applications", "clans", "members"} {
		t.Run("atomic when "+failing+" fails", func(t *testing.T) {
			s := setupStore(t)
			seedClan(t, s, "c1", 3, 2)
			s.beforeWrite = func(c string) error {
				if c == failing {
					return StorageError("write", c, errors.New("injected"))
				}
				return nil
			}
			err := s.CascadeDelete(ctx, "clans", "c1", clanDeps)
			s.beforeWrite = nil

			if !errors.Is(err, ErrCascadePartialFailure) {
				t.Fatalf("CascadeDelete error = %v, want ErrCascadePartialFailure", err)
			}
			var ce *CascadeError
			if !errors.As(err, &ce) || ce.Step != "commit" || ce.Collection != failing {
				t.Errorf("CascadeError = %+v, want step commit on %s", ce, failing)
			}
			if !errors.Is(err, ErrStorageUnavailable) {
				t.Errorf("CascadeDelete error = %v, want cause ErrStorageUnavailable", err)
			}
			if c, m, a := countAll(t, s); c != 1 || m != 3 || a != 2 {
				t.Errorf("after failed cascade: clans=%d members=%d applications=%d, want 1 3 2", c, m, a)
			}

			// Retry succeeds from the pre-operation state.
			if err := s.CascadeDelete(ctx, "clans", "c1", clanDeps); err != nil {
				t.Fatalf("retry error: %v", err)
			}
			if c, m, a := countAll(t, s); c != 0 || m != 0 || a != 0 {
				t.Errorf("after retry: clans=%d members=%d applications=%d, want 0 0 0", c, m, a)
			}
		})
	}

	t.Run("lock timeout", func(t *testing.T) {
		s := setupStore(t)
		seedClan(t, s, "c1", 1, 1)
		tx, _ := s.Begin(ctx, "members")
		defer tx.Rollback()
		err := s.CascadeDelete(ctx, "clans", "c1", clanDeps)
		var ce *CascadeError
		if !errors.As(err, &ce) || ce.Step != "lock" || !errors.Is(err, ErrLockTimeout) {
			t.Errorf("CascadeDelete error = %v, want lock step with ErrLockTimeout", err)
		}
		if c, m, a := countAll(t, s); c != 1 || m != 1 || a != 1 {
			t.Errorf("state changed: %d %d %d", c, m, a)
		}
	})

	t.Run("no dependents", func(t *testing.T) {
		s := setupStore(t)
		seedClan(t, s, "c1", 0, 0)
		if err := s.CascadeDelete(ctx, "clans", "c1", nil); err != nil {
			t.Fatalf("CascadeDelete error: %v", err)
		}
		if c, _, _ := countAll(t, s); c != 0 {
			t.Errorf("clans = %d, want 0", c)
		}
	})

	t.Run("force requires a record id", func(t *testing.T) {
		s := setupStore(t)
		if err := s.ForceCascadeDelete(ctx, "clans", Record{"name": "x"}, clanDeps); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("ForceCascadeDelete error = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("force is atomic", func(t *testing.T) {
		s := setupStore(t)
		seedClan(t, s, "c1", 2, 2)
		root, _ := s.Get(ctx, "clans", "c1")
		s.beforeWrite = func(c string) error {
			if c == "members" {
				return errors.New("injected")
			}
			return nil
		}
		err := s.ForceCascadeDelete(ctx, "clans", root, clanDeps)
		s.beforeWrite = nil
		if !errors.Is(err, ErrCascadePartialFailure) {
			t.Fatalf("ForceCascadeDelete error = %v", err)
		}
		if c, m, a := countAll(t, s); c != 1 || m != 2 || a != 2 {
			t.Errorf("after failed force cascade: %d %d %d, want 1 2 2", c, m, a)
		}
	})
}
