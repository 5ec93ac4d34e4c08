package ratelimit

import (
	"testing"
	"time"
)

func TestFixedWindow_AdmitsWithinLimit(t *testing.T) {
	t.Parallel()
	w := newFixedWindow(2, 10*time.Second)
	now := time.Unix(100, 0)

	if !w.hitAt(now, 1) {
		t.Error("first hit should be admitted")
	}
	if !w.hitAt(now.Add(time.Second), 1) {
		t.Error("second hit should be admitted")
	}
	if w.hitAt(now.Add(2*time.Second), 1) {
		t.Error("third hit should be denied at limit 2")
	}
}

func TestFixedWindow_ResetsOnNewWindow(t *testing.T) {
	t.Parallel()
	w := newFixedWindow(1, 10*time.Second)

	if !w.hitAt(time.Unix(105, 0), 1) {
		t.Fatal("first hit should be admitted")
	}
	if w.hitAt(time.Unix(109, 0), 1) {
		t.Fatal("second hit in the same window should be denied")
	}
	// 110s starts the next 10-second window.
	if !w.hitAt(time.Unix(110, 0), 1) {
		t.Error("hit in a fresh window should be admitted")
	}
}

func TestFixedWindow_DeniedHitsStillCount(t *testing.T) {
	t.Parallel()
	w := newFixedWindow(100, 10*time.Second)
	now := time.Unix(100, 0)

	if !w.hitAt(now, 90) {
		t.Fatal("90 of 100 should be admitted")
	}
	if w.hitAt(now, 20) {
		t.Fatal("90+20 should be denied")
	}
	// The denied 20 still counted, so even a small cost is now over.
	if w.hitAt(now, 5) {
		t.Error("expected the window to stay saturated after a denied hit")
	}
}

func TestFixedWindow_ZeroLimitDeniesEverything(t *testing.T) {
	t.Parallel()
	w := newFixedWindow(0, 10*time.Second)

	if w.hitAt(time.Unix(100, 0), 1) {
		t.Error("zero-limit window should deny the first hit")
	}
}

func TestFixedWindow_RetryAfterWholeSeconds(t *testing.T) {
	t.Parallel()
	w := newFixedWindow(1, 10*time.Second)

	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Unix(100, 0), 10},
		{time.Unix(103, 0), 7},
		{time.Unix(109, int64(999*time.Millisecond)), 1},
		{time.Unix(110, 0), 10},
	}
	for _, tt := range tests {
		if got := w.retryAfterAt(tt.now); got != tt.want {
			t.Errorf("retryAfterAt(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}
