// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"time"
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Limiters holds the tiers applied to API requests. All tiers are keyed by
// client IP.
type Limiters struct {
	Write Tier
	Read  Tier
}

// NewLimiters builds the tiers from per-minute budgets. A budget of zero or
// less disables the tier.
func NewLimiters(writePerMin, readPerMin int) *Limiters {
	l := &Limiters{}
	if writePerMin > 0 {
		l.Write = Tier{Name: "write", Limiter: NewLimiter(writePerMin, time.Minute, max(writePerMin/6, 1))}
	}
	if readPerMin > 0 {
		l.Read = Tier{Name: "read", Limiter: NewLimiter(readPerMin, time.Minute, max(readPerMin/6, 1))}
	}
	return l
}

// Match returns the tier for the request, or nil when it is not limited.
func (l *Limiters) Match(method, path string) *Tier {
	if l == nil || path == "/api/health" {
		return nil
	}
	var t *Tier
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		t = &l.Write
	case http.MethodGet, http.MethodHead:
		t = &l.Read
	default:
		return nil
	}
	if t.Limiter == nil {
		return nil
	}
	return t
}

// Close stops all limiters.
func (l *Limiters) Close() {
	for _, t := range []Tier{l.Write, l.Read} {
		if t.Limiter != nil {
			t.Limiter.Close()
		}
	}
}
