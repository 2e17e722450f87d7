// Package audio keeps synthesized clips in memory long enough for the
// telephony provider to fetch them.
package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type clip struct {
	data    []byte
	created time.Time
}

type Cache struct {
	mu    sync.Mutex
	clips map[string]clip
	ttl   time.Duration
	now   func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		clips: make(map[string]clip),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores a clip and returns its id.
func (c *Cache) Put(data []byte) string {
	id := uuid.NewString()
	c.mu.Lock()
	c.clips[id] = clip{data: data, created: c.now()}
	c.mu.Unlock()
	return id
}

// Get returns the clip bytes, or false if unknown or expired.
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clips[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(cl.created) > c.ttl {
		delete(c.clips, id)
		return nil, false
	}
	return cl.data, true
}

// Cleanup drops expired clips and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.ttl)
	n := 0
	for id, cl := range c.clips {
		if cl.created.Before(cutoff) {
			delete(c.clips, id)
			n++
		}
	}
	return n
}
