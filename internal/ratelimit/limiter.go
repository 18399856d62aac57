package ratelimit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"saytruth/internal/clock"
)

// Kind names a throttled action.
type Kind string

const (
	KindCreateLink Kind = "create_link"
	KindSubmit     Kind = "submit"
	KindDirect     Kind = "direct"
)

// Budget allows Limit actions per fixed Window. A Limit of zero or less
// disables throttling for the kind.
type Budget struct {
	Limit  int
	Window time.Duration
}

// Budgets maps each kind to its budget. Kinds without an entry are not
// throttled.
type Budgets map[Kind]Budget

// DefaultBudgets returns the production budgets.
func DefaultBudgets() Budgets {
	return Budgets{
		KindCreateLink: {Limit: 20, Window: time.Hour},
		KindSubmit:     {Limit: 10, Window: time.Minute},
		KindDirect:     {Limit: 5, Window: time.Minute},
	}
}

// Decision is the outcome of Check.
type Decision int

const (
	Allowed Decision = iota
	Denied
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// Counter holds fixed-window counters.
type Counter interface {
	// Take consumes one unit for key in the window starting at windowStart
	// if fewer than limit units were consumed there. The check and the
	// increment must be atomic so concurrent callers never exceed limit.
	// window is how long the counter must survive.
	Take(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (bool, error)
}

// Limiter applies Budgets per (actor, kind).
type Limiter struct {
	counter   Counter
	budgets   Budgets
	clock     clock.Clock
	digestKey []byte
	log       logrus.FieldLogger
}

// New builds a Limiter. When digestKey is 32 bytes, actor keys are hashed
// with keyed BLAKE3 before reaching the counter; otherwise plain BLAKE3 is
// used. Either way raw actor values (IPs, user ids) are never stored.
func New(counter Counter, budgets Budgets, clk clock.Clock, digestKey []byte, logger logrus.FieldLogger) *Limiter {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &Limiter{
		counter:   counter,
		budgets:   budgets,
		clock:     clk,
		digestKey: digestKey,
		log:       logger.WithField("component", "ratelimit"),
	}
}

// Check consumes one unit of the actor's budget for kind.
func (l *Limiter) Check(ctx context.Context, actor string, kind Kind) (Decision, error) {
	budget, ok := l.budgets[kind]
	if !ok || budget.Limit <= 0 || budget.Window <= 0 {
		return Allowed, nil
	}

	now := l.clock.Now()
	start := now.Truncate(budget.Window)
	key := string(kind) + ":" + l.digest(actor)

	ok, err := l.counter.Take(ctx, key, start, budget.Window, budget.Limit)
	if err != nil {
		l.log.WithError(err).WithField("kind", kind).Error("Rate counter unavailable")
		return Denied, fmt.Errorf("rate limit check for %s: %w", kind, err)
	}
	if !ok {
		l.log.WithFields(logrus.Fields{
			"kind":         kind,
			"window_start": start,
		}).Info("Rate limit exceeded")
		return Denied, nil
	}
	return Allowed, nil
}

// Budget returns the configured budget for kind.
func (l *Limiter) Budget(kind Kind) (Budget, bool) {
	b, ok := l.budgets[kind]
	return b, ok
}

func (l *Limiter) digest(actor string) string {
	if len(l.digestKey) == 32 {
		h, err := blake3.NewKeyed(l.digestKey)
		if err == nil {
			h.Write([]byte(actor))
			return hex.EncodeToString(h.Sum(nil))
		}
	}
	sum := blake3.Sum256([]byte(actor))
	return hex.EncodeToString(sum[:])
}
