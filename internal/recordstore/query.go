// Implements filtering, sorting and pagination over record snapshots.

package recordstore

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when Query.PageSize is zero.
	DefaultPageSize = 20
	// MaxPageSize caps Query.PageSize.
	MaxPageSize = 100
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
)

// Validate checks that the operator is known.
func (o Op) Validate() error {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, string(o))
	}
}

// Filter is one predicate on a record field. All filters of a Query are ANDed.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Validate checks that the filter is well-formed.
func (f *Filter) Validate() error {
	if f.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidFilter)
	}
	return f.Op.Validate()
}

// ParseFilter parses "field:op:value" or the shorthand "field:value" (eq).
// The value is decoded as a number, then a bool, then kept as a string.
func ParseFilter(s string) (Filter, error) {
	field, rest, ok := strings.Cut(s, ":")
	if !ok || field == "" {
		return Filter{}, fmt.Errorf("%w: %q, want field:op:value", ErrInvalidFilter, s)
	}
	op, raw := OpEq, rest
	if o, v, ok := strings.Cut(rest, ":"); ok && Op(o).Validate() == nil {
		op, raw = Op(o), v
	}
	f := Filter{Field: field, Op: op, Value: parseValue(raw)}
	if op == OpContains {
		// Substring search is always textual.
		f.Value = raw
	}
	return f, f.Validate()
}

func parseValue(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// Match reports whether rec satisfies the filter.
func (f *Filter) Match(rec Record) bool {
	v, ok := rec[f.Field]
	if !ok {
		return f.Op == OpNe
	}
	switch f.Op {
	case OpEq:
		return equal(v, f.Value)
	case OpNe:
		return !equal(v, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compare(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpContains:
		return contains(v, f.Value)
	default:
		return false
	}
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalar values of the same kind. ok is false when the
// kinds differ or are not ordered.
func compare(a, b any) (int, bool) {
	if x, ok := asFloat(a); ok {
		y, ok := asFloat(b)
		if !ok {
			return 0, false
		}
		return cmp.Compare(x, y), true
	}
	if x, ok := asTime(a); ok {
		if y, ok := asTime(b); ok {
			return x.Compare(y), true
		}
	}
	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	if x, ok := a.(bool); ok {
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func contains(v, needle any) bool {
	switch x := v.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			n = fmt.Sprint(needle)
		}
		return strings.Contains(strings.ToLower(x), strings.ToLower(n))
	case []any:
		for _, e := range x {
			if equal(e, needle) {
				return true
			}
			// Array elements may be numbers while the needle came from a query
			// string.
			if s, ok := needle.(string); ok && equal(e, parseValue(s)) {
				return true
			}
		}
	}
	return false
}

// SortOrder selects the direction of Query.SortBy.
type SortOrder int

const (
	// SortDefault sorts numbers and timestamps descending (highest score,
	// newest first) and everything else ascending.
	SortDefault SortOrder = iota
	SortAsc
	SortDesc
)

// ParseSortOrder parses "asc", "desc" or "" (default).
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(s) {
	case "":
		return SortDefault, nil
	case "asc":
		return SortAsc, nil
	case "desc":
		return SortDesc, nil
	default:
		return SortDefault, fmt.Errorf("%w: unknown sort order %q", ErrInvalidFilter, s)
	}
}

// Query describes a filtered, sorted and paginated scan.
type Query struct {
	Filters  []Filter
	SortBy   string
	Order    SortOrder
	Page     int // 1-based; 0 means 1.
	PageSize int // 0 means DefaultPageSize; capped at MaxPageSize.
}

// Validate checks the query's predicates and paging parameters.
func (q *Query) Validate() error {
	for i := range q.Filters {
		if err := q.Filters[i].Validate(); err != nil {
			return err
		}
	}
	if q.Page < 0 {
		return fmt.Errorf("%w: page must be positive", ErrInvalidFilter)
	}
	if q.PageSize < 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidFilter)
	}
	return nil
}

// Page is one slice of a query result.
type Page struct {
	Items      []Record `json:"items"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}

// Apply runs q against rows. rows is not modified; returned items are the
// same Record values, callers clone if they hand them out.
func (q *Query) Apply(rows []Record) (*Page, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	page := max(q.Page, 1)
	size := q.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)

	matched := make([]Record, 0, len(rows))
	for _, r := range rows {
		if q.Match(r) {
			matched = append(matched, r)
		}
	}
	if q.SortBy != "" {
		sortRecords(matched, q.SortBy, q.Order)
	}

	out := &Page{
		Items:      []Record{},
		Total:      len(matched),
		TotalPages: (len(matched) + size - 1) / size,
		Page:       page,
		PageSize:   size,
	}
	// Compare page numbers before multiplying so huge pages cannot overflow.
	if page-1 < out.TotalPages {
		start := (page - 1) * size
		out.Items = matched[start:min(start+size, len(matched))]
	}
	return out, nil
}

// Match reports whether r satisfies every filter of q.
func (q *Query) Match(r Record) bool {
	for i := range q.Filters {
		if !q.Filters[i].Match(r) {
			return false
		}
	}
	return true
}

func sortRecords(rows []Record, field string, order SortOrder) {
	desc := order == SortDesc
	if order == SortDefault {
		for _, r := range rows {
			if v, ok := r[field]; ok && v != nil {
				k := KindOf(v)
				desc = k == KindNumber || k == KindTime
				break
			}
		}
	}
	slices.SortStableFunc(rows, func(a, b Record) int {
		va, oka := a[field]
		vb, okb := b[field]
		oka = oka && va != nil
		okb = okb && vb != nil
		// Missing values sort last regardless of direction.
		switch {
		case !oka && !okb:
			return 0
		case !oka:
			return 1
		case !okb:
			return -1
		}
		// Group by kind first; values are only compared within a kind.
		c := cmp.Compare(KindOf(va), KindOf(vb))
		if c == 0 {
			c, _ = compare(va, vb)
		}
		if desc {
			return -c
		}
		return c
	})
}
