package access

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache is a read-through map without expiry. Misses are fetched through the
// layer under "<prefix>:<id>", and concurrent misses for one id share a fetch.
// The shared fetch does not stop when one waiter gives up; each waiter only
// stops waiting.
type Cache[V any] struct {
	layer  *Layer
	prefix string
	fetch  func(ctx context.Context, id string) (V, error)

	group   singleflight.Group
	mu      sync.RWMutex
	gen     uint64
	entries map[string]V
}

func NewCache[V any](layer *Layer, prefix string, fetch func(ctx context.Context, id string) (V, error)) *Cache[V] {
	return &Cache[V]{layer: layer, prefix: prefix, fetch: fetch, entries: map[string]V{}}
}

func (c *Cache[V]) Label(id string) string { return c.prefix + ":" + id }

// Peek returns a cached value without fetching.
func (c *Cache[V]) Peek(id string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[id]
	return v, ok
}

func (c *Cache[V]) Get(ctx context.Context, id string) (V, error) {
	var zero V
	if v, ok := c.Peek(id); ok {
		return v, nil
	}
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(gen, 10)+"/"+id, func() (any, error) {
		v, err := Do(shared, c.layer, c.Label(id), func(ctx context.Context) (V, error) {
			return c.fetch(ctx, id)
		})
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A Refresh since the fetch started makes v stale.
		if c.gen == gen {
			c.entries[id] = v
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ErrDiscarded
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Refresh drops every entry. Fetches already in flight still answer their
// waiters but are not stored.
func (c *Cache[V]) Refresh() {
	c.mu.Lock()
	c.gen++
	c.entries = map[string]V{}
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
