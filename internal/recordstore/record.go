// Defines the opaque Record type and its value kinds.

package recordstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/copystructure"
)

// IDField is the mandatory unique identifier field of every record.
const IDField = "id"

// Record is one opaque structured entity. Callers own field semantics; the
// store only requires IDField to hold a non-empty string.
type Record map[string]any

// ID returns the record identifier, or "" if absent or not a string.
func (r Record) ID() string {
	s, _ := r[IDField].(string)
	return s
}

// Validate checks that the record carries a usable id.
func (r Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	v, ok := r[IDField]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrInvalidRecord, IDField)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidRecord, IDField)
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	c, err := copystructure.Copy(map[string]any(r))
	if err != nil {
		panic(fmt.Sprintf("recordstore: clone %q: %v", r.ID(), err))
	}
	return Record(c.(map[string]any))
}

// Merge returns a copy of r with every field in fields overwriting the same
// field in r. Fields not named in fields are retained.
func (r Record) Merge(fields Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range fields.Clone() {
		out[k] = v
	}
	return out
}

// normalize round-trips the record through JSON so that in-memory values have
// the same kinds as values read back from disk (float64 numbers, RFC 3339
// strings for timestamps, []any and map[string]any for nested structures).
func normalize(r Record) (Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return out, nil
}

// Kind is the closed set of value kinds a record field can hold.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindTime
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindNested:
		return "nested"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindOf classifies a field value. Strings holding an RFC 3339 timestamp are
// classified as KindTime.
func KindOf(v any) Kind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case string:
		if _, ok := parseTime(x); ok {
			return KindTime
		}
		return KindString
	case time.Time:
		return KindTime
	case bool:
		return KindBool
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return KindNumber
	default:
		return KindNested
	}
}

func parseTime(s string) (time.Time, bool) {
	// Cheap pre-check: RFC 3339 always starts with "dddd-dd-ddT".
	if len(s) < 20 || s[4] != '-' || s[7] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTime(x)
	default:
		return time.Time{}, false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateCollection checks a collection name. Names double as file names so
// they are restricted to lowercase letters, digits and underscores.
func ValidateCollection(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}
