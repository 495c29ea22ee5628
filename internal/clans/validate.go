// Validates and normalizes clan registration input.

package clans

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrInvalidInput is returned when caller-supplied fields are malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when an operation conflicts with existing state.
	ErrConflict = errors.New("conflict")
)

// Limits applied to registration input.
const (
	MaxPriceTiers     = 10
	MaxTierNameLen    = 32
	MaxPrice          = 1_000_000
	DefaultCurrency   = "USD"
	MaxRequirements   = 20
	MaxRequirementLen = 200
	MinNameLen        = 3
	MaxNameLen        = 48
	MinTagLen         = 2
	MaxTagLen         = 6
	MaxRegionLen      = 32
	MaxDescriptionLen = 1000
	MaxMessageLen     = 500
	maxPlayerIDLen    = 64
)

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidInput, field, fmt.Sprintf(format, args...))
}

func normalizeName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if n := utf8.RuneCountInString(s); n < MinNameLen || n > MaxNameLen {
		return "", invalid("name", "must be %d to %d characters", MinNameLen, MaxNameLen)
	}
	return s, nil
}

// normalizeTag upper-cases the tag and requires letters and digits only.
func normalizeTag(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if n := utf8.RuneCountInString(s); n < MinTagLen || n > MaxTagLen {
		return "", invalid("tag", "must be %d to %d characters", MinTagLen, MaxTagLen)
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "", invalid("tag", "must contain only letters and digits")
		}
	}
	return s, nil
}

func normalizeRegion(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if utf8.RuneCountInString(s) > MaxRegionLen {
		return "", invalid("region", "must be at most %d characters", MaxRegionLen)
	}
	return s, nil
}

func normalizeDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxDescriptionLen {
		return "", invalid("description", "must be at most %d characters", MaxDescriptionLen)
	}
	return s, nil
}

func validateTrophies(n int) error {
	if n < 0 {
		return invalid("trophies", "must not be negative")
	}
	return nil
}

func validatePlayerID(field, s string) error {
	if s == "" {
		return invalid(field, "is required")
	}
	if len(s) > maxPlayerIDLen {
		return invalid(field, "must be at most %d bytes", maxPlayerIDLen)
	}
	for i := range len(s) {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '_' || c == '-') {
			return invalid(field, "must contain only letters, digits, '_' and '-'")
		}
	}
	return nil
}

func validateMessage(s string) (string, error) {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxMessageLen {
		return "", invalid("message", "must be at most %d characters", MaxMessageLen)
	}
	return s, nil
}

// normalizePricing validates tiers and returns a sorted copy.
//
// Names are trimmed and must be unique regardless of case. An empty currency
// becomes DefaultCurrency. The result is ordered by ascending price, ties
// keeping their input order.
func normalizePricing(tiers []PriceTier) ([]PriceTier, error) {
	if len(tiers) > MaxPriceTiers {
		return nil, invalid("pricing", "at most %d tiers", MaxPriceTiers)
	}
	out := make([]PriceTier, 0, len(tiers))
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		if n := utf8.RuneCountInString(name); n == 0 || n > MaxTierNameLen {
			return nil, invalid(fmt.Sprintf("pricing[%d].name", i), "must be 1 to %d characters", MaxTierNameLen)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, invalid(fmt.Sprintf("pricing[%d].name", i), "duplicate tier %q", name)
		}
		seen[key] = true
		if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price < 0 || t.Price > MaxPrice {
			return nil, invalid(fmt.Sprintf("pricing[%d].price", i), "must be between 0 and %d", MaxPrice)
		}
		cur := strings.ToUpper(strings.TrimSpace(t.Currency))
		if cur == "" {
			cur = DefaultCurrency
		}
		if !isCurrencyCode(cur) {
			return nil, invalid(fmt.Sprintf("pricing[%d].currency", i), "must be a 3-letter code")
		}
		out = append(out, PriceTier{Name: name, Price: t.Price, Currency: cur})
	}
	slices.SortStableFunc(out, func(a, b PriceTier) int { return cmp.Compare(a.Price, b.Price) })
	return out, nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := range len(s) {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// normalizeRequirements trims entries and drops exact duplicates, keeping the
// first occurrence.
func normalizeRequirements(reqs []string) ([]string, error) {
	if len(reqs) > MaxRequirements {
		return nil, invalid("requirements", "at most %d entries", MaxRequirements)
	}
	out := make([]string, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for i, r := range reqs {
		r = strings.TrimSpace(r)
		if n := utf8.RuneCountInString(r); n == 0 || n > MaxRequirementLen {
			return nil, invalid(fmt.Sprintf("requirements[%d]", i), "must be 1 to %d characters", MaxRequirementLen)
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}
