package recordstore

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRecord(t *testing.T) {
	t.Run("Clone is deep", func(t *testing.T) {
		r := Record{"id": "a", "meta": map[string]any{"k": "v"}, "tags": []any{"x"}}
		c := r.Clone()
		c["meta"].(map[string]any)["k"] = "changed"
		c["tags"].([]any)[0] = "changed"
		if r["meta"].(map[string]any)["k"] != "v" || r["tags"].([]any)[0] != "x" {
			t.Errorf("Clone shares nested values: %v", r)
		}
		if Record(nil).Clone() != nil {
			t.Error("Clone(nil) != nil")
		}
	})

	t.Run("Merge", func(t *testing.T) {
		r := Record{"id": "1", "a": 1.0, "b": 2.0}
		got := r.Merge(Record{"b": 9.0, "c": "new"})
		want := Record{"id": "1", "a": 1.0, "b": 9.0, "c": "new"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Merge = %v, want %v", got, want)
		}
		if r["b"] != 2.0 {
			t.Error("Merge modified the receiver")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if err := (Record{"id": "x"}).Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
		for _, r := range []Record{nil, {}, {"id": ""}, {"id": 3}} {
			if err := r.Validate(); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Validate(%v) = %v, want ErrInvalidRecord", r, err)
			}
		}
	})

	t.Run("normalize", func(t *testing.T) {
		ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
		got, err := normalize(Record{"id": "a", "n": 3, "at": ts, "list": []string{"x"}})
		if err != nil {
			t.Fatal(err)
		}
		want := Record{"id": "a", "n": 3.0, "at": "2024-05-06T07:08:09Z", "list": []any{"x"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("normalize = %#v, want %#v", got, want)
		}
		if _, err := normalize(Record{"id": "a", "ch": make(chan int)}); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("normalize(chan) error = %v, want ErrInvalidRecord", err)
		}
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		v    any
		want Kind
	}{
		{nil, KindNull},
		{"hello", KindString},
		{"2024-01-01T00:00:00Z", KindTime},
		{"2024-01-01", KindString},
		{time.Now(), KindTime},
		{true, KindBool},
		{1.5, KindNumber},
		{42, KindNumber},
		{[]any{1}, KindNested},
		{map[string]any{}, KindNested},
	}
	for _, tt := range tests {
		if got := KindOf(tt.v); got != tt.want {
			t.Errorf("KindOf(%#v) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestValidateCollection(t *testing.T) {
	for _, ok := range []string{"clans", "clan_members", "a1"} {
		if err := ValidateCollection(ok); err != nil {
			t.Errorf("ValidateCollection(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "Clans", "_x", "1a", "a-b", "../a", "a.json"} {
		if err := ValidateCollection(bad); !errors.Is(err, ErrInvalidCollection) {
			t.Errorf("ValidateCollection(%q) = %v, want ErrInvalidCollection", bad, err)
		}
	}
}
