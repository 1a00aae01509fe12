package market

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache is an in-memory snapshot store fed by the live feed and read
// by the verifier, executor and watcher. Snapshots older than the TTL
// are treated as absent so a stalled feed degrades scores instead of
// serving stale Greeks.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration
}

// NewCache creates a snapshot cache. A ttl of zero disables expiry.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		snapshots: make(map[string]Snapshot),
		ttl:       ttl,
	}
}

// Put stores the latest snapshot for a symbol.
func (c *Cache) Put(symbol string, snap Snapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.snapshots[strings.ToUpper(symbol)] = snap
	c.mu.Unlock()
}

// Snapshot implements Provider. Unknown or expired symbols yield the
// empty snapshot.
func (c *Cache) Snapshot(_ context.Context, symbol string) Snapshot {
	c.mu.RLock()
	snap, ok := c.snapshots[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}
	}
	if c.ttl > 0 && time.Since(snap.Timestamp) > c.ttl {
		return Snapshot{}
	}
	return snap
}
