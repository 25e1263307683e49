package watcher

import (
	"sync"
	"time"
)

// dedup is the in-process record of handled signatures, used when no shared
// SeenStore is configured or it is unreachable.
type dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedup(ttl time.Duration) *dedup {
	return &dedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// first records sig and reports whether it had not been seen within the TTL.
// Expired entries are swept on the way.
func (d *dedup) first(sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
	if _, ok := d.seen[sig]; ok {
		return false
	}
	d.seen[sig] = now
	return true
}
