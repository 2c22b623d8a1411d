package utils

import (
	"sync"
	"time"
)

// SlidingWindow counts hits inside a trailing time window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	hits   []time.Time
	last   time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

// Add records a hit at now and returns the number of hits in the window.
func (w *SlidingWindow) Add(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	w.hits = append(w.hits, now)
	w.last = now
	return len(w.hits)
}

// LastHit returns the time of the latest Add, kept across Reset.
func (w *SlidingWindow) LastHit() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	return len(w.hits)
}

// Reset drops every hit, used once a burst has been acted on.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits = w.hits[:0]
}

func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
