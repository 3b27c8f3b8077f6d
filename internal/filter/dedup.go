package filter

import (
	"sync"
	"time"
)

// Window is how long a repeated UID is suppressed after it was last accepted.
const Window = 2000 * time.Millisecond

// Dedup suppresses repeats of the same UID inside Window.
type Dedup struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewDedup() *Dedup {
	return &Dedup{
		lastSeen: make(map[string]time.Time),
	}
}

// Accept reports whether uid should be delivered at now.
// Only accepted scans move the window; rejected repeats leave it alone.
func (d *Dedup) Accept(uid string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSeen[uid]; ok && now.Sub(last) < Window {
		return false
	}
	d.lastSeen[uid] = now
	return true
}

// Prune removes entries that can no longer suppress anything.
// Returns the number of entries removed.
func (d *Dedup) Prune(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for uid, last := range d.lastSeen {
		if now.Sub(last) >= Window {
			delete(d.lastSeen, uid)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked UIDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lastSeen)
}
