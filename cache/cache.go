// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cache implements the write-back block cache (spec §4.5): a
// fixed-capacity LRU of physical blocks, keyed by physical index, that
// defers writes to the backing Provider until Flush is called and
// refuses to flush a dirty block ahead of the blocks it depends on
// (e.g. a management block before the data blocks whose tags it records).
//
// The generic LRU shape (container/list + map + mutex) follows the
// witness node cache in the corpus's dag package; this cache adds the
// dependency set and the at-most-one-load-in-flight gate that a write-
// back cache over an untrusted store needs but a read-only node cache
// does not.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/metrics"
	"github.com/luxfi/sbd/pio"
	"github.com/luxfi/sbd/sbderr"
)

type entry struct {
	phy     uint32
	data    []byte
	dirty   bool
	deps    map[uint32]struct{}
	element *list.Element
}

// Cache is a fixed-capacity write-back cache of layout.BlockSize blocks.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[uint32]*entry
	loading  map[uint32]*sync.WaitGroup
	provider pio.Provider
	metrics  *metrics.Metrics
}

// New returns a Cache of the given capacity (in blocks) backed by
// provider. capacity must be at least 1.
func New(provider pio.Provider, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint32]*entry, capacity),
		loading:  make(map[uint32]*sync.WaitGroup),
		provider: provider,
		metrics:  metrics.NewNoop(),
	}
}

// SetMetrics replaces the cache's metrics sink. Passing nil restores
// the no-op default.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	if m == nil {
		m = metrics.NewNoop()
	}
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// Get returns a copy of the block at phy, loading it from the backing
// Provider on a miss. Concurrent Get calls for the same phy collapse
// into a single Provider.ReadBlock call.
func (c *Cache) Get(ctx context.Context, phy uint32) ([]byte, error) {
	const op = "cache.Cache.Get"
	for {
		c.mu.Lock()
		if e, ok := c.items[phy]; ok {
			c.ll.MoveToFront(e.element)
			out := make([]byte, len(e.data))
			copy(out, e.data)
			m := c.metrics
			c.mu.Unlock()
			m.Hit()
			return out, nil
		}
		if wg, ok := c.loading[phy]; ok {
			c.mu.Unlock()
			wg.Wait()
			continue
		}
		wg := &sync.WaitGroup{}
		wg.Add(1)
		c.loading[phy] = wg
		m := c.metrics
		c.mu.Unlock()
		m.Miss()

		buf := make([]byte, layout.BlockSize)
		err := c.provider.ReadBlock(ctx, phy, buf)

		c.mu.Lock()
		delete(c.loading, phy)
		if err != nil {
			c.mu.Unlock()
			wg.Done()
			if sbderr.Is(err, sbderr.MissingBlock) {
				return nil, err
			}
			return nil, sbderr.Wrap(op, sbderr.IoError, err)
		}
		c.insertLocked(phy, buf, false, nil)
		c.mu.Unlock()
		wg.Done()

		out := make([]byte, len(buf))
		copy(out, buf)
		return out, nil
	}
}

// Put installs data as the (dirty) cached contents of phy, recording
// deps as the set of physical indices that must flush before phy may.
// A non-nil deps replaces any prior dependency set for phy; a nil deps
// leaves the prior set in place.
func (c *Cache) Put(phy uint32, data []byte, deps map[uint32]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(phy, data, true, deps)
}

func (c *Cache) insertLocked(phy uint32, data []byte, dirty bool, deps map[uint32]struct{}) {
	cp := make([]byte, len(data))
	copy(cp, data)

	if e, ok := c.items[phy]; ok {
		e.data = cp
		e.dirty = dirty
		if deps != nil {
			e.deps = deps
		}
		c.ll.MoveToFront(e.element)
		return
	}

	e := &entry{phy: phy, data: cp, dirty: dirty, deps: deps}
	e.element = c.ll.PushFront(e)
	c.items[phy] = e
	c.evictLocked()
}

// FlushOne writes the dirty block at phy through the Provider, refusing
// with sbderr.Kind DependencyNotFlushed if any block it depends on is
// still dirty. Flushing a clean or absent block is a no-op.
func (c *Cache) FlushOne(ctx context.Context, phy uint32) error {
	const op = "cache.Cache.FlushOne"
	c.mu.Lock()
	e, ok := c.items[phy]
	if !ok || !e.dirty {
		c.mu.Unlock()
		return nil
	}
	for dep := range e.deps {
		if d, ok := c.items[dep]; ok && d.dirty {
			c.mu.Unlock()
			return sbderr.New(op, sbderr.DependencyNotFlushed)
		}
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	m := c.metrics
	c.mu.Unlock()

	start := time.Now()
	err := c.provider.WriteBlock(ctx, phy, data)
	m.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}

	c.mu.Lock()
	if e, ok := c.items[phy]; ok {
		e.dirty = false
	}
	c.mu.Unlock()
	return nil
}

// FlushAll flushes every dirty entry in dependency order, repeatedly
// sweeping the set of entries whose dependencies are already flushed
// until none remain dirty or no progress can be made (a cycle, which
// indicates a caller bug in how deps were built).
func (c *Cache) FlushAll(ctx context.Context) error {
	const op = "cache.Cache.FlushAll"
	for {
		phy, ok := c.nextFlushableLocked()
		if !ok {
			if c.anyDirty() {
				return sbderr.New(op, sbderr.DependencyNotFlushed)
			}
			return nil
		}
		if err := c.FlushOne(ctx, phy); err != nil {
			return err
		}
	}
}

func (c *Cache) nextFlushableLocked() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for phy, e := range c.items {
		if !e.dirty {
			continue
		}
		ready := true
		for dep := range e.deps {
			if d, ok := c.items[dep]; ok && d.dirty {
				ready = false
				break
			}
		}
		if ready {
			return phy, true
		}
	}
	return 0, false
}

func (c *Cache) anyDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.items {
		if e.dirty {
			return true
		}
	}
	return false
}

// evictLocked drops clean entries from the LRU tail until the cache is
// back at capacity. A dirty entry is never silently evicted: the caller
// is expected to flush before capacity pressure forces data loss, so an
// all-dirty cache is simply allowed to exceed capacity rather than lose
// unflushed writes.
func (c *Cache) evictLocked() {
	el := c.ll.Back()
	for len(c.items) > c.capacity && el != nil {
		e := el.Value.(*entry)
		prev := el.Prev()
		if !e.dirty {
			c.ll.Remove(el)
			delete(c.items, e.phy)
		}
		el = prev
	}
}

// Len reports the number of blocks currently resident in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Contains reports whether phy is currently resident.
func (c *Cache) Contains(phy uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[phy]
	return ok
}

// IsDirty reports whether phy is resident and has unflushed writes.
func (c *Cache) IsDirty(phy uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[phy]
	return ok && e.dirty
}
