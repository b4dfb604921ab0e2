// Package dedup provides a bounded recency window over message keys so
// redelivered frames (typically after an upstream resync) are applied
// at most once.
package dedup

import (
	"fmt"
	"sync"
)

// DefaultCapacity bounds the window with no external configuration.
const DefaultCapacity = 1000

// contentPrefixRunes limits how much message content participates in a
// synthesized key.
const contentPrefixRunes = 32

// Window is a bounded, insertion-ordered set of recently seen keys.
// When the window overflows, the oldest half is dropped in one step so
// eviction cost stays amortized.
type Window struct {
	mu    sync.Mutex
	cap   int
	keys  map[string]struct{}
	order []string
}

// NewWindow creates a window holding at most capacity keys. A
// non-positive capacity falls back to DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		cap:  capacity,
		keys: make(map[string]struct{}, capacity),
	}
}

// Seen reports whether key was already recorded, recording it if not.
// The check and the insert are one atomic step.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.keys[key]; ok {
		return true
	}
	w.keys[key] = struct{}{}
	w.order = append(w.order, key)

	if len(w.order) > w.cap {
		w.evictLocked()
	}
	return false
}

// evictLocked retains the most recently inserted half, preserving
// recency order.
func (w *Window) evictLocked() {
	keep := w.order[len(w.order)/2:]
	next := make([]string, len(keep))
	copy(next, keep)

	w.keys = make(map[string]struct{}, w.cap)
	for _, k := range next {
		w.keys[k] = struct{}{}
	}
	w.order = next
}

// Len returns the number of keys currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// Key derives the dedup key for a message: the explicit id when the
// server assigned one, otherwise timestamp, sender and a content prefix.
func Key(id string, ts int64, sender, content string) string {
	if id != "" {
		return id
	}
	runes := []rune(content)
	if len(runes) > contentPrefixRunes {
		runes = runes[:contentPrefixRunes]
	}
	return fmt.Sprintf("%d|%s|%s", ts, sender, string(runes))
}
