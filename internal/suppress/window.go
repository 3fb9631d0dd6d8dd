// ABOUTME: Per-channel suppression window keeping ambient turns off a human's heels
// ABOUTME: In-memory TTL map owned by the scheduler; loss on restart is acceptable

package suppress

import (
	"sync"
	"time"
)

// Window tracks, per channel, a timestamp until which ambient turn
// processing is blocked. Every human message refreshes the channel's
// deadline; the ambient path only reads. The window is a soft
// optimization: a stale read degrades timing, never correctness, so no
// coordination beyond the mutex is needed.
type Window struct {
	mu     sync.RWMutex
	until  map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// New creates a suppression window with the given duration per refresh.
// A background goroutine periodically drops expired entries.
func New(ttl time.Duration) *Window {
	w := &Window{
		until: make(map[string]time.Time),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go w.cleanup()
	return w
}

// Refresh extends the channel's suppression deadline to now + ttl
func (w *Window) Refresh(channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.until[channelID] = time.Now().Add(w.ttl)
}

// Active reports whether the channel is currently suppressed
func (w *Window) Active(channelID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	deadline, ok := w.until[channelID]
	if !ok {
		return false
	}
	return time.Now().Before(deadline)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (w *Window) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runCleanup()
		case <-w.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the map.
func (w *Window) runCleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for channelID, deadline := range w.until {
		if now.After(deadline) {
			delete(w.until, channelID)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
