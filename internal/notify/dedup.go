package notify

import (
	"fmt"
	"sync"
	"time"
)

// Dedup wraps a Notifier and suppresses repeat notifications for the same
// (kind, workflow, module) within a cooldown window, adapted from the
// teacher's middlewares.NotificationDedup (which deduplicated mail-on-error
// per job/command/error) to key on workflow+module+kind instead.
type Dedup struct {
	next     Notifier
	cooldown time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewDedup wraps next with a cooldown. A zero cooldown disables
// deduplication entirely.
func NewDedup(next Notifier, cooldown time.Duration) *Dedup {
	return &Dedup{next: next, cooldown: cooldown, entries: make(map[string]time.Time)}
}

func (d *Dedup) Notify(p Payload) bool {
	if d.cooldown == 0 {
		return d.next.Notify(p)
	}

	key := fmt.Sprintf("%s|%d|%d", p.Kind, p.WorkflowID, p.ModuleID)

	d.mu.Lock()
	last, seen := d.entries[key]
	now := time.Now()
	suppress := seen && now.Sub(last) < d.cooldown
	if !suppress {
		d.entries[key] = now
	}
	d.mu.Unlock()

	if suppress {
		return true
	}
	return d.next.Notify(p)
}

// Cleanup removes cooldown entries older than twice the cooldown window, to
// bound memory on a long-running process.
func (d *Dedup) Cleanup() {
	if d.cooldown == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * d.cooldown)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, t := range d.entries {
		if t.Before(cutoff) {
			delete(d.entries, k)
		}
	}
}
