package ratelimit

import (
	"math"
	"sync"
	"time"
)

// fixedWindow counts hits over consecutive wall-clock aligned windows.
// It is safe for concurrent use.
type fixedWindow struct {
	limit  int64
	period time.Duration

	mu     sync.Mutex
	window int64 // window identifier the count belongs to
	count  int64
}

func newFixedWindow(limit int64, period time.Duration) *fixedWindow {
	return &fixedWindow{limit: limit, period: period}
}

// Hit consumes cost from the current window and reports whether the window
// stayed within its limit. Denied hits still count toward the window.
func (w *fixedWindow) Hit(cost int64) bool {
	return w.hitAt(time.Now(), cost)
}

func (w *fixedWindow) hitAt(now time.Time, cost int64) bool {
	id := now.UnixNano() / int64(w.period)

	w.mu.Lock()
	defer w.mu.Unlock()

	if id != w.window {
		w.window = id
		w.count = 0
	}
	w.count += cost
	return w.count <= w.limit
}

// RetryAfter returns whole seconds until the current window expires,
// at least 1.
func (w *fixedWindow) RetryAfter() int {
	return w.retryAfterAt(time.Now())
}

func (w *fixedWindow) retryAfterAt(now time.Time) int {
	id := now.UnixNano() / int64(w.period)
	end := (id + 1) * int64(w.period)

	secs := int(math.Ceil(float64(end-now.UnixNano()) / float64(time.Second)))
	if secs < 1 {
		secs = 1
	}
	return secs
}
