package dedupe

import (
	"sync"
	"time"
)

type record struct {
	hash       string
	analysisID string
	at         time.Time
}

// Cache remembers which analysis a report content hash produced, so a report
// re-submitted inside the ttl window is not summarised again.
type Cache struct {
	mu       sync.Mutex
	byHash   map[string]record
	order    []record
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewCache creates a cache holding at most capacity hashes for ttl each.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		byHash:   make(map[string]record, capacity),
		order:    make([]record, 0, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Lookup returns the analysis ID recorded for hash while it is still fresh.
func (c *Cache) Lookup(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byHash[hash]
	if !ok || c.now().Sub(r.at) > c.ttl {
		return "", false
	}
	return r.analysisID, true
}

// Remember records that hash was analysed as analysisID.
func (c *Cache) Remember(hash, analysisID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	r := record{hash: hash, analysisID: analysisID, at: now}
	c.byHash[hash] = r
	c.order = append(c.order, r)
	c.evict(now)
}

// Len reports the number of hashes currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byHash)
}

func (c *Cache) evict(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for len(c.order) > 0 && (len(c.byHash) > c.capacity || c.order[0].at.Before(cutoff)) {
		oldest := c.order[0]
		c.order = c.order[1:]

		// A newer Remember for the same hash owns the map entry.
		if cur, ok := c.byHash[oldest.hash]; ok && cur.at.Equal(oldest.at) {
			delete(c.byHash, oldest.hash)
		}
	}
}
