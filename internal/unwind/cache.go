package unwind

import "sync/atomic"

// cacheSize matches spec.md §4.6's "fixed-size array (≈512 entries)".
const cacheSize = 512

// cacheEntry remembers one image's unwind-relevant section addresses so
// repeated lookups for the same function don't have to re-walk load
// commands or re-parse __unwind_info's first-level index.
type cacheEntry struct {
	imageHeader   uint64
	unwindInfoAddr uint64
	ehFrameAddr   uint64
	ehFrameSize   uint64
	valid         bool
}

// Cache is the unwind cache described in spec.md §4.6: a fixed-size table
// guarded by a single atomic pointer acting as an exclusive-access lock via
// atomic_exchange, so signal-handler code is guaranteed not to block. On an
// exchange failure (someone else is already iterating it) the caller falls
// back to a cache-less lookup rather than spinning.
type Cache struct {
	guard   atomic.Pointer[[cacheSize]cacheEntry]
	table   [cacheSize]cacheEntry
}

// NewCache returns an unwind cache with the guard initially available.
func NewCache() *Cache {
	c := &Cache{}
	c.guard.Store(&c.table)
	return c
}

// acquire takes exclusive ownership of the table, or reports ok=false if
// another caller currently holds it.
func (c *Cache) acquire() (*[cacheSize]cacheEntry, bool) {
	t := c.guard.Swap(nil)
	return t, t != nil
}

func (c *Cache) release(t *[cacheSize]cacheEntry) {
	c.guard.Store(t)
}

// Lookup returns the cached entry for imageHeader, if present. On exchange
// contention it returns (zero, false) rather than blocking.
func (c *Cache) Lookup(imageHeader uint64) (cacheEntry, bool) {
	t, ok := c.acquire()
	if !ok {
		return cacheEntry{}, false
	}
	defer c.release(t)

	idx := slot(imageHeader)
	e := t[idx]
	if e.valid && e.imageHeader == imageHeader {
		return e, true
	}
	return cacheEntry{}, false
}

// Insert records an entry for imageHeader, evicting whatever was in that
// slot. On exchange contention the insert is silently dropped — the next
// lookup simply re-derives it from the Mach-O introspector.
func (c *Cache) Insert(e cacheEntry) {
	t, ok := c.acquire()
	if !ok {
		return
	}
	defer c.release(t)
	t[slot(e.imageHeader)] = e
}

func slot(imageHeader uint64) uint64 {
	return (imageHeader >> 4) % cacheSize
}
