// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"sync"
)

// Cache holds frames converted to an output device's internal format,
// keyed by frame index. A nil *Cache is valid and caches nothing.
type Cache struct {
	miss func(image.Image) (image.Image, error)

	mu    sync.Mutex
	cache map[int]image.Image
}

// NewCache returns a Cache that uses convert to fill missing entries.
func NewCache(convert func(image.Image) (image.Image, error)) *Cache {
	return &Cache{
		miss:  convert,
		cache: make(map[int]image.Image),
	}
}

// Get returns the converted image for frame, calling the conversion
// function with img if the frame has not been seen.
func (c *Cache) Get(frame int, img image.Image) (image.Image, error) {
	if c == nil {
		return img, nil
	}
	c.mu.Lock()
	r, ok := c.cache[frame]
	c.mu.Unlock()
	if ok {
		return r, nil
	}
	r, err := c.miss(img)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[frame] = r
	c.mu.Unlock()
	return r, nil
}

// Has returns whether frame is held in the cache.
func (c *Cache) Has(frame int) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[frame]
	return ok
}

// Len returns the number of cached frames.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Reset discards all cached frames.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	clear(c.cache)
	c.mu.Unlock()
}
