package domain

import (
	"fmt"
	"time"
)

// DurationToken is one of the lifetimes a link can be created with.
type DurationToken string

const (
	Duration6h  DurationToken = "6h"
	Duration12h DurationToken = "12h"
	Duration24h DurationToken = "24h"
	Duration7d  DurationToken = "7d"
	Duration30d DurationToken = "30d"
)

var durations = map[DurationToken]time.Duration{
	Duration6h:  6 * time.Hour,
	Duration12h: 12 * time.Hour,
	Duration24h: 24 * time.Hour,
	Duration7d:  7 * 24 * time.Hour,
	Duration30d: 30 * 24 * time.Hour,
}

// AllDurations lists every accepted token, shortest first.
func AllDurations() []DurationToken {
	return []DurationToken{Duration6h, Duration12h, Duration24h, Duration7d, Duration30d}
}

// Duration returns the lifetime for the token.
func (d DurationToken) Duration() (time.Duration, bool) {
	v, ok := durations[d]
	return v, ok
}

// ParseDurationToken validates s as a duration token.
func ParseDurationToken(s string) (DurationToken, error) {
	d := DurationToken(s)
	if _, ok := durations[d]; !ok {
		return "", NewValidationError(ReasonInvalidDuration, fmt.Sprintf("unknown duration %q", s))
	}
	return d, nil
}
