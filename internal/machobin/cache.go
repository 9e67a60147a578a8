package machobin

import (
	"sync"

	"golang.org/x/exp/slices"
)

// maxCachedImages bounds the registry the way KSCrash bounds its own image
// table: large enough for any real process's load-command set, small enough
// that a crash-time scan stays cheap (spec.md §4.5).
const maxCachedImages = 2000

// Cache is the process-wide registry of currently-mapped Mach-O images,
// maintained by dyld add/remove-image callbacks and consulted (read-only)
// during crash capture. Mutation only ever happens outside the handling
// path; Lookup is what a sentry calls mid-capture.
type Cache struct {
	mu     sync.RWMutex
	images []*BinaryImage
}

// NewCache returns an empty, ready-to-use image cache.
func NewCache() *Cache {
	return &Cache{images: make([]*BinaryImage, 0, 64)}
}

// Add registers img, the dyld "image added" callback's equivalent. If the
// cache is already at maxCachedImages, the oldest entry is evicted first
// (dyld practically never loads this many distinct images, so eviction is a
// safety valve, not the common path).
func (c *Cache) Add(img *BinaryImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.images) >= maxCachedImages {
		c.images = c.images[1:]
	}
	c.images = append(c.images, img)
}

// Remove unregisters the image at headerAddr, dyld's "image removed"
// callback equivalent (e.g. a dlclose'd bundle).
func (c *Cache) Remove(headerAddr uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.images, func(img *BinaryImage) bool { return img.HeaderAddr == headerAddr })
	if i >= 0 {
		c.images = slices.Delete(c.images, i, i+1)
	}
}

// Find returns the image whose __TEXT segment contains addr, or nil if no
// registered image covers it.
func (c *Cache) Find(addr uint64) *BinaryImage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, img := range c.images {
		if img.Contains(addr) {
			return img
		}
	}
	return nil
}

// Snapshot returns a copy of the current image list, used by the report
// writer to emit the binary_images array (spec.md §4.8).
func (c *Cache) Snapshot() []*BinaryImage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.images)
}

// Len reports how many images are currently registered.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
