package recordstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		s := setupStore(t)
		s.Insert(ctx, "clans", Record{"id": "a"})
		s.Insert(ctx, "clans", Record{"id": "b"})

		tx, err := s.Begin(ctx, "clans", "clan_members")
		if err != nil {
			t.Fatal(err)
		}
		if err := tx.Insert("clan_members", Record{"id": "m1", "clan_id": "b"}); err != nil {
			t.Fatalf("Insert error: %v", err)
		}
		if ok, err := tx.Delete("clans", "a"); err != nil || !ok {
			t.Fatalf("Delete = %v, %v", ok, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit error: %v", err)
		}

		clans, _ := s.List(ctx, "clans")
		members, _ := s.List(ctx, "clan_members")
		if len(clans) != 1 || clans[0].ID() != "b" || len(members) != 1 {
			t.Errorf("after commit clans=%v members=%v", clans, members)
		}
	})

	t.Run("rollback discards staged changes", func(t *testing.T) {
		s := setupStore(t)
		s.Insert(ctx, "clans", Record{"id": "a"})
		tx, _ := s.Begin(ctx, "clans")
		tx.Delete("clans", "a")
		tx.Rollback()
		if _, err := s.Get(ctx, "clans", "a"); err != nil {
			t.Errorf("Get after rollback error: %v", err)
		}
	})

	t.Run("finished", func(t *testing.T) {
		s := setupStore(t)
		tx, _ := s.Begin(ctx, "clans")
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
		tx.Rollback()
		if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
			t.Errorf("second Commit error = %v, want ErrTxDone", err)
		}
		if _, err := tx.Rows("clans"); !errors.Is(err, ErrTxDone) {
			t.Errorf("Rows after Commit error = %v, want ErrTxDone", err)
		}
		// Locks were released.
		if err := s.Insert(ctx, "clans", Record{"id": "a"}); err != nil {
			t.Errorf("Insert after Commit error: %v", err)
		}
	})

	t.Run("collection outside scope", func(t *testing.T) {
		s := setupStore(t)
		tx, _ := s.Begin(ctx, "clans")
		defer tx.Rollback()
		if _, err := tx.Rows("clan_members"); !errors.Is(err, ErrInvalidCollection) {
			t.Errorf("Rows error = %v, want ErrInvalidCollection", err)
		}
	})

	t.Run("duplicate insert", func(t *testing.T) {
		s := setupStore(t)
		s.Insert(ctx, "clans", Record{"id": "a"})
		tx, _ := s.Begin(ctx, "clans")
		defer tx.Rollback()
		if err := tx.Insert("clans", Record{"id": "a"}); !errors.Is(err, ErrDuplicateID) {
			t.Errorf("Insert error = %v, want ErrDuplicateID", err)
		}
	})

	t.Run("failed commit restores earlier collections", func(t *testing.T) {
		s := setupStore(t)
		s.Insert(ctx, "alpha", Record{"id": "a1"})
		s.Insert(ctx, "gamma", Record{"id": "g1"})
		alphaBefore, _ := os.ReadFile(filepath.Join(s.Dir(), "alpha.json"))

		tx, _ := s.Begin(ctx, "gamma", "alpha", "beta")
		tx.Delete("alpha", "a1")
		tx.Insert("beta", Record{"id": "b1"})
		tx.Delete("gamma", "g1")
		s.beforeWrite = func(c string) error {
			if c == "gamma" {
				return errors.New("disk full")
			}
			return nil
		}
		err := tx.Commit()
		s.beforeWrite = nil

		var cerr *CommitError
		if !errors.As(err, &cerr) || cerr.Collection != "gamma" {
			t.Fatalf("Commit error = %v, want CommitError on gamma", err)
		}
		alphaAfter, _ := os.ReadFile(filepath.Join(s.Dir(), "alpha.json"))
		if string(alphaAfter) != string(alphaBefore) {
			t.Errorf("alpha not restored: %q", alphaAfter)
		}
		if _, err := os.Stat(filepath.Join(s.Dir(), "beta.json")); !os.IsNotExist(err) {
			t.Errorf("beta.json should not exist after rollback: %v", err)
		}
		if _, err := s.Get(ctx, "gamma", "g1"); err != nil {
			t.Errorf("gamma record lost: %v", err)
		}
	})

	t.Run("overlapping transactions do not deadlock", func(t *testing.T) {
		s, err := Open(filepath.Join(t.TempDir(), "db"), Options{LockTimeout: 10 * time.Second})
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cols := []string{"alpha", "beta", "gamma"}
				if i%2 == 1 {
					cols = []string{"gamma", "beta", "alpha"}
				}
				tx, err := s.Begin(ctx, cols...)
				if err != nil {
					t.Errorf("Begin error: %v", err)
					return
				}
				defer tx.Rollback()
				for _, c := range cols {
					if err := tx.Insert(c, Record{"id": c + string(rune('A'+i))}); err != nil {
						t.Errorf("Insert error: %v", err)
					}
				}
				if err := tx.Commit(); err != nil {
					t.Errorf("Commit error: %v", err)
				}
			}()
		}
		wg.Wait()
		for _, c := range []string{"alpha", "beta", "gamma"} {
			rows, _ := s.List(ctx, c)
			if len(rows) != 20 {
				t.Errorf("%s has %d rows, want 20", c, len(rows))
			}
		}
	})
}
