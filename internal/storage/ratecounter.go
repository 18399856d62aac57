package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// rateConflictRetries is higher than for other writes because bursts on a
// single key are exactly what the limiter exists for.
const rateConflictRetries = 64

// rateWindow is the stored state of one fixed window.
type rateWindow struct {
	Start int64 `json:"start"`
	Count int   `json:"count"`
}

// Take implements ratelimit.Counter. The read, compare and increment run
// in one transaction; concurrent callers on the same key conflict and are
// retried, so the limit is never overshot. Entries carry a TTL so stale
// windows disappear on their own.
func (r *BadgerRepository) Take(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (bool, error) {
	var allowed bool
	err := r.updateN(ctx, rateConflictRetries, func(txn *badger.Txn) error {
		allowed = false

		var w rateWindow
		err := getJSON(txn, rateKey(key), &w)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if errors.Is(err, ErrNotFound) || w.Start != windowStart.UnixNano() {
			w = rateWindow{Start: windowStart.UnixNano()}
		}
		if w.Count >= limit {
			return nil
		}
		w.Count++

		b, err := json.Marshal(w)
		if err != nil {
			return err
		}
		// TTL runs on wall time, not the injected clock.
		if err := txn.SetEntry(badger.NewEntry(rateKey(key), b).WithTTL(2 * window)); err != nil {
			return err
		}
		allowed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update rate window: %w", err)
	}
	return allowed, nil
}
