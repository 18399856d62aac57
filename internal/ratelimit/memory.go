package ratelimit

import (
	"context"
	"sync"
	"time"
)

// gcThreshold is the map size above which stale windows are dropped.
const gcThreshold = 4096

type window struct {
	start   time.Time
	expires time.Time
	count   int
}

// MemoryCounter keeps windows in process memory. It suits a single
// instance and tests; counts are lost on restart.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*window)}
}

func (m *MemoryCounter) Take(ctx context.Context, key string, windowStart time.Time, length time.Duration, limit int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.windows) > gcThreshold {
		m.collect(windowStart)
	}

	w, ok := m.windows[key]
	if !ok || !w.start.Equal(windowStart) {
		w = &window{start: windowStart, expires: windowStart.Add(length)}
		m.windows[key] = w
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (m *MemoryCounter) collect(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.expires) {
			delete(m.windows, k)
		}
	}
}
