// Package recordstoretest provides a conformance suite for recordstore.Engine
// implementations.
package recordstoretest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/maruel/arena/internal/recordstore"
)

// Run exercises the Engine contract. open must return a fresh, empty engine;
// Run closes it.
func Run(t *testing.T, open func(t *testing.T) recordstore.Engine) {
	setup := func(t *testing.T) recordstore.Engine {
		e := open(t)
		t.Cleanup(func() {
			if err := e.Close(); err != nil {
				t.Errorf("Close() = %v", err)
			}
		})
		return e
	}
	ctx := context.Background()

	t.Run("List", func(t *testing.T) {
		t.Run("uninitialized collection is empty", func(t *testing.T) {
			e := setup(t)
			rows, err := e.List(ctx, "clans")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(rows) != 0 {
				t.Errorf("List() = %v, want empty", rows)
			}
		})

		t.Run("insertion order", func(t *testing.T) {
			e := setup(t)
			for _, id := range []string{"c", "a", "b"} {
				mustInsert(t, e, "clans", recordstore.Record{"id": id})
			}
			if got := ids(mustList(t, e, "clans")); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
				t.Errorf("List() ids = %v, want [c a b]", got)
			}
		})

		t.Run("invalid collection", func(t *testing.T) {
			e := setup(t)
			for _, name := range []string{"", "Clans", "../etc", "a/b", "1abc"} {
				if _, err := e.List(ctx, name); !errors.Is(err, recordstore.ErrInvalidCollection) {
					t.Errorf("List(%q) error = %v, want ErrInvalidCollection", name, err)
				}
			}
		})
	})

	t.Run("Insert", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			e := setup(t)
			rec := recordstore.Record{
				"id":       "r1",
				"name":     "Night Owls",
				"trophies": 3.5,
				"hireable": true,
				"tags":     []any{"eu", "ranked"},
				"meta":     map[string]any{"discord": "owls"},
				"created":  "2024-01-02T03:04:05Z",
				"note":     nil,
			}
			mustInsert(t, e, "clans", rec)
			got, err := e.Get(ctx, "clans", "r1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !reflect.DeepEqual(got, rec) {
				t.Errorf("Get() = %#v, want %#v", got, rec)
			}
		})

		t.Run("duplicate id leaves collection unchanged", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "x", "v": 1.0})
			err := e.Insert(ctx, "clans", recordstore.Record{"id": "x", "v": 2.0})
			if !errors.Is(err, recordstore.ErrDuplicateID) {
				t.Fatalf("Insert() error = %v, want ErrDuplicateID", err)
			}
			rows := mustList(t, e, "clans")
			if len(rows) != 1 || rows[0]["v"] != 1.0 {
				t.Errorf("List() = %v, want single original record", rows)
			}
		})

		t.Run("invalid records", func(t *testing.T) {
			e := setup(t)
			tests := []struct {
				name string
				rec  recordstore.Record
			}{
				{"nil", nil},
				{"missing id", recordstore.Record{"name": "x"}},
				{"empty id", recordstore.Record{"id": ""}},
				{"numeric id", recordstore.Record{"id": 1}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					if err := e.Insert(ctx, "clans", tt.rec); !errors.Is(err, recordstore.ErrInvalidRecord) {
						t.Errorf("Insert() error = %v, want ErrInvalidRecord", err)
					}
				})
			}
			if rows := mustList(t, e, "clans"); len(rows) != 0 {
				t.Errorf("List() = %v, want empty", rows)
			}
		})

		t.Run("caller mutation does not leak", func(t *testing.T) {
			e := setup(t)
			rec := recordstore.Record{"id": "x", "tags": []any{"a"}}
			mustInsert(t, e, "clans", rec)
			rec["tags"].([]any)[0] = "mutated"
			got, _ := e.Get(ctx, "clans", "x")
			if got["tags"].([]any)[0] != "a" {
				t.Errorf("stored record changed through caller's map: %v", got)
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		e := setup(t)
		if _, err := e.Get(ctx, "clans", "missing"); !errors.Is(err, recordstore.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		t.Run("merges fields", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "1", "a": 1.0, "b": 2.0})
			got, err := e.Update(ctx, "clans", "1", recordstore.Record{"b": 9.0})
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			want := recordstore.Record{"id": "1", "a": 1.0, "b": 9.0}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Update() = %v, want %v", got, want)
			}
			if stored, _ := e.Get(ctx, "clans", "1"); !reflect.DeepEqual(stored, want) {
				t.Errorf("Get() after Update = %v, want %v", stored, want)
			}
		})

		t.Run("not found", func(t *testing.T) {
			e := setup(t)
			if _, err := e.Update(ctx, "clans", "nope", recordstore.Record{"a": 1.0}); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("Update() error = %v, want ErrNotFound", err)
			}
		})

		t.Run("id cannot change", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "1"})
			if _, err := e.Update(ctx, "clans", "1", recordstore.Record{"id": "2"}); !errors.Is(err, recordstore.ErrInvalidRecord) {
				t.Errorf("Update() error = %v, want ErrInvalidRecord", err)
			}
			if _, err := e.Get(ctx, "clans", "1"); err != nil {
				t.Errorf("Get() error = %v after rejected update", err)
			}
		})

		t.Run("concurrent disjoint updates", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "1"})
			const writers = 16
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					field := fmt.Sprintf("f%02d", i)
					if _, err := e.Update(ctx, "clans", "1", recordstore.Record{field: float64(i)}); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("Update() error = %v", err)
			}
			got, err := e.Get(ctx, "clans", "1")
			if err != nil {
				t.Fatal(err)
			}
			for i := range writers {
				field := fmt.Sprintf("f%02d", i)
				if got[field] != float64(i) {
					t.Errorf("field %s = %v, want %d (lost update)", field, got[field], i)
				}
			}
		})
	})

	t.Run("Delete", func(t *testing.T) {
		t.Run("existing", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "1"})
			mustInsert(t, e, "clans", recordstore.Record{"id": "2"})
			deleted, err := e.Delete(ctx, "clans", "1")
			if err != nil || !deleted {
				t.Fatalf("Delete() = %v, %v, want true, nil", deleted, err)
			}
			if got := ids(mustList(t, e, "clans")); !reflect.DeepEqual(got, []string{"2"}) {
				t.Errorf("List() ids = %v, want [2]", got)
			}
		})

		t.Run("idempotent", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "1"})
			before := mustList(t, e, "clans")
			for range 2 {
				deleted, err := e.Delete(ctx, "clans", "missing")
				if err != nil || deleted {
					t.Fatalf("Delete() = %v, %v, want false, nil", deleted, err)
				}
				if after := mustList(t, e, "clans"); !reflect.DeepEqual(after, before) {
					t.Errorf("List() = %v, want %v", after, before)
				}
			}
		})
	})

	t.Run("Concurrent inserts", func(t *testing.T) {
		e := setup(t)
		const n = 32
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.Insert(ctx, "clans", recordstore.Record{"id": fmt.Sprintf("c%02d", i)}); err != nil {
					t.Errorf("Insert() error = %v", err)
				}
			}()
		}
		wg.Wait()
		if rows := mustList(t, e, "clans"); len(rows) != n {
			t.Errorf("len(List()) = %d, want %d", len(rows), n)
		}
	})

	t.Run("Query", func(t *testing.T) {
		t.Run("pagination", func(t *testing.T) {
			e := setup(t)
			for i := range 25 {
				mustInsert(t, e, "clans", recordstore.Record{"id": fmt.Sprintf("c%02d", i)})
			}
			tests := []struct {
				page      int
				wantItems int
				wantFirst string
			}{
				{1, 10, "c00"},
				{2, 10, "c10"},
				{3, 5, "c20"},
				{4, 0, ""},
			}
			for _, tt := range tests {
				t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
					p, err := e.Query(ctx, "clans", recordstore.Query{Page: tt.page, PageSize: 10})
					if err != nil {
						t.Fatalf("Query() error = %v", err)
					}
					if len(p.Items) != tt.wantItems || p.Total != 25 || p.TotalPages != 3 {
						t.Errorf("Query() = %d items, total %d, pages %d; want %d, 25, 3", len(p.Items), p.Total, p.TotalPages, tt.wantItems)
					}
					if tt.wantFirst != "" && p.Items[0].ID() != tt.wantFirst {
						t.Errorf("first item = %s, want %s", p.Items[0].ID(), tt.wantFirst)
					}
				})
			}
		})

		t.Run("huge page", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "a"})
			mustInsert(t, e, "clans", recordstore.Record{"id": "b"})
			p, err := e.Query(ctx, "clans", recordstore.Query{Page: math.MaxInt, PageSize: 20})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(p.Items) != 0 || p.Total != 2 || p.TotalPages != 1 {
				t.Errorf("Query() = %d items, total %d, pages %d; want 0, 2, 1", len(p.Items), p.Total, p.TotalPages)
			}
		})

		t.Run("sort by trophies", func(t *testing.T) {
			e := setup(t)
			for _, n := range []float64{50, 10, 80} {
				mustInsert(t, e, "clans", recordstore.Record{"id": fmt.Sprint(n), "trophies": n})
			}
			p, err := e.Query(ctx, "clans", recordstore.Query{SortBy: "trophies"})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if got := ids(p.Items); !reflect.DeepEqual(got, []string{"80", "50", "10"}) {
				t.Errorf("Query() ids = %v, want [80 50 10]", got)
			}
		})

		t.Run("filters", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "a", "region": "eu", "trophies": 100.0, "name": "Night Owls"})
			mustInsert(t, e, "clans", recordstore.Record{"id": "b", "region": "na", "trophies": 300.0, "name": "Day Walkers"})
			mustInsert(t, e, "clans", recordstore.Record{"id": "c", "region": "eu", "trophies": 500.0, "name": "Owl Court"})
			p, err := e.Query(ctx, "clans", recordstore.Query{
				Filters: []recordstore.Filter{
					{Field: "region", Op: recordstore.OpEq, Value: "eu"},
					{Field: "trophies", Op: recordstore.OpGte, Value: 200},
					{Field: "name", Op: recordstore.OpContains, Value: "owl"},
				},
			})
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if got := ids(p.Items); !reflect.DeepEqual(got, []string{"c"}) || p.Total != 1 {
				t.Errorf("Query() ids = %v total %d, want [c] total 1", got, p.Total)
			}
		})

		t.Run("invalid filter", func(t *testing.T) {
			e := setup(t)
			_, err := e.Query(ctx, "clans", recordstore.Query{Filters: []recordstore.Filter{{Field: "x", Op: "like"}}})
			if !errors.Is(err, recordstore.ErrInvalidFilter) {
				t.Errorf("Query() error = %v, want ErrInvalidFilter", err)
			}
		})
	})

	t.Run("RunInTx", func(t *testing.T) {
		scope := []string{"clans", "clan_members"}

		t.Run("commits", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "c1", "size": 1.0})
			mustInsert(t, e, "clan_members", recordstore.Record{"id": "old", "clan_id": "c1"})
			err := e.RunInTx(ctx, scope, func(tx recordstore.Txn) error {
				if err := tx.Insert("clan_members", recordstore.Record{"id": "m1", "clan_id": "c1"}); err != nil {
					return err
				}
				if _, err := tx.Get("clan_members", "m1"); err != nil {
					return fmt.Errorf("staged insert not visible: %w", err)
				}
				if deleted, err := tx.Delete("clan_members", "old"); err != nil || !deleted {
					return fmt.Errorf("Delete() = %v, %w", deleted, err)
				}
				rows, err := tx.Rows("clan_members")
				if err != nil {
					return err
				}
				if len(rows) != 1 {
					return fmt.Errorf("Rows() = %v, want only m1", rows)
				}
				got, err := tx.Update("clans", "c1", recordstore.Record{"size": 2.0})
				if err != nil {
					return err
				}
				if got["size"] != 2.0 {
					return fmt.Errorf("Update() = %v", got)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("RunInTx() error = %v", err)
			}
			if got := ids(mustList(t, e, "clan_members")); !reflect.DeepEqual(got, []string{"m1"}) {
				t.Errorf("members = %v, want [m1]", got)
			}
			if c, _ := e.Get(ctx, "clans", "c1"); c["size"] != 2.0 {
				t.Errorf("clan = %v, want size 2", c)
			}
		})

		t.Run("error rolls back", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "c1", "size": 1.0})
			errStop := errors.New("stop")
			err := e.RunInTx(ctx, scope, func(tx recordstore.Txn) error {
				if err := tx.Insert("clan_members", recordstore.Record{"id": "m1", "clan_id": "c1"}); err != nil {
					return err
				}
				if _, err := tx.Update("clans", "c1", recordstore.Record{"size": 2.0}); err != nil {
					return err
				}
				if _, err := tx.Delete("clans", "c1"); err != nil {
					return err
				}
				return errStop
			})
			if !errors.Is(err, errStop) {
				t.Fatalf("RunInTx() error = %v, want errStop", err)
			}
			if rows := mustList(t, e, "clan_members"); len(rows) != 0 {
				t.Errorf("members = %v, want none", rows)
			}
			if c, err := e.Get(ctx, "clans", "c1"); err != nil || c["size"] != 1.0 {
				t.Errorf("clan = %v, %v, want size 1", c, err)
			}
		})

		t.Run("errors", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "c1"})
			err := e.RunInTx(ctx, scope, func(tx recordstore.Txn) error {
				if _, err := tx.Get("clan_applications", "a1"); !errors.Is(err, recordstore.ErrInvalidCollection) {
					return fmt.Errorf("Get(out of scope) error = %v, want ErrInvalidCollection", err)
				}
				if err := tx.Insert("clans", recordstore.Record{"id": "c1"}); !errors.Is(err, recordstore.ErrDuplicateID) {
					return fmt.Errorf("Insert(duplicate) error = %v, want ErrDuplicateID", err)
				}
				if _, err := tx.Update("clans", "nope", recordstore.Record{"a": 1.0}); !errors.Is(err, recordstore.ErrNotFound) {
					return fmt.Errorf("Update(missing) error = %v, want ErrNotFound", err)
				}
				if _, err := tx.Update("clans", "c1", recordstore.Record{"id": "c2"}); !errors.Is(err, recordstore.ErrInvalidRecord) {
					return fmt.Errorf("Update(id) error = %v, want ErrInvalidRecord", err)
				}
				if err := tx.Insert("clans", recordstore.Record{"name": "x"}); !errors.Is(err, recordstore.ErrInvalidRecord) {
					return fmt.Errorf("Insert(no id) error = %v, want ErrInvalidRecord", err)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := e.RunInTx(ctx, []string{"Bad"}, func(recordstore.Txn) error { return nil }); !errors.Is(err, recordstore.ErrInvalidCollection) {
				t.Errorf("RunInTx(Bad) error = %v, want ErrInvalidCollection", err)
			}
		})

		t.Run("concurrent read then write", func(t *testing.T) {
			e := setup(t)
			mustInsert(t, e, "clans", recordstore.Record{"id": "c1", "size": 0.0})
			const writers = 16
			var wg sync.WaitGroup
			for range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := e.RunInTx(ctx, scope, func(tx recordstore.Txn) error {
						c, err := tx.Get("clans", "c1")
						if err != nil {
							return err
						}
						_, err = tx.Update("clans", "c1", recordstore.Record{"size": c["size"].(float64) + 1})
						return err
					})
					if err != nil {
						t.Errorf("RunInTx() error = %v", err)
					}
				}()
			}
			wg.Wait()
			if c, _ := e.Get(ctx, "clans", "c1"); c["size"] != float64(writers) {
				t.Errorf("size = %v, want %d", c["size"], writers)
			}
		})
	})

	t.Run("CascadeDelete", func(t *testing.T) {
		deps := []recordstore.Dependent{
			{Collection: "clan_members", ForeignKey: "clan_id"},
			{Collection: "clan_applications", ForeignKey: "clan_id"},
		}

		t.Run("removes root and dependents", func(t *testing.T) {
			e := setup(t)
			SeedCascadeGroup(t, e, "c1", 3, 2)
			SeedCascadeGroup(t, e, "c2", 1, 1)
			if err := e.CascadeDelete(ctx, "clans", "c1", deps); err != nil {
				t.Fatalf("CascadeDelete() error = %v", err)
			}
			if _, err := e.Get(ctx, "clans", "c1"); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("root still present: %v", err)
			}
			for _, d := range deps {
				for _, r := range mustList(t, e, d.Collection) {
					if r["clan_id"] == "c1" {
						t.Errorf("%s still holds %v", d.Collection, r)
					}
				}
			}
			if got := ids(mustList(t, e, "clans")); !reflect.DeepEqual(got, []string{"c2"}) {
				t.Errorf("clans = %v, want [c2]", got)
			}
			if n := len(mustList(t, e, "clan_members")) + len(mustList(t, e, "clan_applications")); n != 2 {
				t.Errorf("unrelated dependents = %d, want 2", n)
			}
		})

		t.Run("missing root", func(t *testing.T) {
			e := setup(t)
			SeedCascadeGroup(t, e, "c1", 1, 1)
			if err := e.CascadeDelete(ctx, "clans", "nope", deps); !errors.Is(err, recordstore.ErrNotFound) {
				t.Errorf("CascadeDelete() error = %v, want ErrNotFound", err)
			}
			if n := len(mustList(t, e, "clan_members")); n != 1 {
				t.Errorf("members = %d, want 1", n)
			}
		})

		t.Run("invalid specification", func(t *testing.T) {
			e := setup(t)
			bad := [][]recordstore.Dependent{
				{{Collection: "clans", ForeignKey: "clan_id"}},
				{{Collection: "clan_members"}},
				{{Collection: "clan_members", ForeignKey: "a"}, {Collection: "clan_members", ForeignKey: "b"}},
			}
			for _, d := range bad {
				if err := e.CascadeDelete(ctx, "clans", "c1", d); !errors.Is(err, recordstore.ErrInvalidCascade) {
					t.Errorf("CascadeDelete(%v) error = %v, want ErrInvalidCascade", d, err)
				}
			}
		})

		t.Run("force", func(t *testing.T) {
			e := setup(t)
			SeedCascadeGroup(t, e, "c1", 2, 2)
			root, err := e.Get(ctx, "clans", "c1")
			if err != nil {
				t.Fatal(err)
			}
			if err := e.ForceCascadeDelete(ctx, "clans", root, deps); err != nil {
				t.Fatalf("ForceCascadeDelete() error = %v", err)
			}
			if n := len(mustList(t, e, "clans")) + len(mustList(t, e, "clan_members")) + len(mustList(t, e, "clan_applications")); n != 0 {
				t.Errorf("%d records left, want 0", n)
			}
		})

		t.Run("force with vanished root", func(t *testing.T) {
			e := setup(t)
			SeedCascadeGroup(t, e, "c1", 2, 1)
			root, _ := e.Get(ctx, "clans", "c1")
			if _, err := e.Delete(ctx, "clans", "c1"); err != nil {
				t.Fatal(err)
			}
			if err := e.ForceCascadeDelete(ctx, "clans", root, deps); err != nil {
				t.Fatalf("ForceCascadeDelete() error = %v", err)
			}
			if n := len(mustList(t, e, "clan_members")); n != 0 {
				t.Errorf("members = %d, want 0", n)
			}
		})
	})
}

// SeedCascadeGroup inserts clan rootID with the given number of members and
// applications referencing it.
func SeedCascadeGroup(t *testing.T, e recordstore.Engine, rootID string, members, applications int) {
	t.Helper()
	mustInsert(t, e, "clans", recordstore.Record{"id": rootID, "name": "clan " + rootID})
	for i := range members {
		mustInsert(t, e, "clan_members", recordstore.Record{"id": fmt.Sprintf("%s-m%d", rootID, i), "clan_id": rootID})
	}
	for i := range applications {
		mustInsert(t, e, "clan_applications", recordstore.Record{"id": fmt.Sprintf("%s-a%d", rootID, i), "clan_id": rootID})
	}
}

// CountCascadeGroup returns whether the root exists and how many dependents
// reference it.
func CountCascadeGroup(t *testing.T, e recordstore.Engine, rootID string) (bool, int) {
	t.Helper()
	_, err := e.Get(context.Background(), "clans", rootID)
	if err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	n := 0
	for _, c := range []string{"clan_members", "clan_applications"} {
		for _, r := range mustList(t, e, c) {
			if r["clan_id"] == rootID {
				n++
			}
		}
	}
	return err == nil, n
}

func mustInsert(t *testing.T, e recordstore.Engine, collection string, rec recordstore.Record) {
	t.Helper()
	if err := e.Insert(context.Background(), collection, rec); err != nil {
		t.Fatalf("Insert(%s, %v) error = %v", collection, rec, err)
	}
}

func mustList(t *testing.T, e recordstore.Engine, collection string) []recordstore.Record {
	t.Helper()
	rows, err := e.List(context.Background(), collection)
	if err != nil {
		t.Fatalf("List(%s) error = %v", collection, err)
	}
	return rows
}

func ids(rows []recordstore.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID()
	}
	return out
}
