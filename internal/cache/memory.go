package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRU is a thread-safe in-process view cache with per-entry TTL.
type LRU struct {
	mu       sync.Mutex
	capacity int
	defaults PutOptions
	entries  map[string]*list.Element
	order    *list.List
	tags     map[string]map[string]struct{}
	versions map[string]int64
	now      func() time.Time
}

type lruEntry struct {
	view        View
	freshUntil  time.Time
	staleUntil  time.Time
	invalidated bool
}

var _ Cache = (*LRU)(nil)

// NewLRU creates a cache holding at most capacity views.
func NewLRU(capacity int, defaults PutOptions) *LRU {
	if capacity <= 0 {
		capacity = 128
	}
	return &LRU{
		capacity: capacity,
		defaults: defaults,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		tags:     make(map[string]map[string]struct{}),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

func (c *LRU) Get(_ context.Context, key string) (*View, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := elem.Value.(*lruEntry)
	if e.invalidated || !c.now().Before(e.freshUntil) {
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	v := e.view
	return &v, true, nil
}

func (c *LRU) Stale(_ context.Context, key string) (*View, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.staleUntil) {
		c.remove(elem)
		return nil, false, nil
	}
	v := e.view
	return &v, true, nil
}

func (c *LRU) Set(_ context.Context, v View, opts ...PutOption) error {
	o := resolve(c.defaults, opts)
	now := c.now()
	v.TTL = o.TTL

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkVersions(v, o.versions, func(tag string) int64 { return c.versions[tag] }); err != nil {
		return err
	}

	entry := &lruEntry{
		view:       v,
		freshUntil: now.Add(o.TTL),
		staleUntil: now.Add(o.StaleTTL),
	}
	if elem, exists := c.entries[v.Key]; exists {
		c.untag(elem.Value.(*lruEntry).view)
		elem.Value = entry
		c.order.MoveToFront(elem)
	} else {
		if c.order.Len() >= c.capacity {
			if oldest := c.order.Back(); oldest != nil {
				c.remove(oldest)
			}
		}
		c.entries[v.Key] = c.order.PushFront(entry)
	}
	for _, tag := range v.Tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[v.Key] = struct{}{}
	}
	return nil
}

func (c *LRU) Invalidate(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tag := range tags {
		c.versions[tag]++
		for key := range c.tags[tag] {
			if elem, ok := c.entries[key]; ok {
				elem.Value.(*lruEntry).invalidated = true
			}
		}
		delete(c.tags, tag)
	}
	return nil
}

func (c *LRU) Versions(_ context.Context, tags ...string) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int64, len(tags))
	for i, tag := range tags {
		out[i] = c.versions[tag]
	}
	return out, nil
}

func (c *LRU) Ping(context.Context) error { return nil }

// Len reports the number of stored views, fresh or stale.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU) remove(elem *list.Element) {
	e := elem.Value.(*lruEntry)
	c.untag(e.view)
	delete(c.entries, e.view.Key)
	c.order.Remove(elem)
}

func (c *LRU) untag(v View) {
	for _, tag := range v.Tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, v.Key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
