// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package buffer provides reference-counted, size-classed byte buffers so
// that a single published payload can be shared across every matching
// subscriber without being copied per delivery.
package buffer

import (
	"sync/atomic"
)

// RefCounted is a reference-counted byte buffer. A freshly created buffer
// starts with a reference count of 1; Retain increments it before handing
// the buffer to another goroutine, Release decrements it, and the buffer
// returns to its pool once the count reaches zero.
type RefCounted struct {
	data     []byte
	refCount atomic.Int32
	pool     *Pool
}

// New creates a buffer with the given data and a reference count of 1.
func New(data []byte, pool *Pool) *RefCounted {
	buf := &RefCounted{data: data, pool: pool}
	buf.refCount.Store(1)
	return buf
}

// Bytes returns the underlying byte slice. Callers must not modify it once
// the buffer has been shared with another goroutine.
func (r *RefCounted) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.data
}

// Len returns the length of the buffer.
func (r *RefCounted) Len() int {
	if r == nil {
		return 0
	}
	return len(r.data)
}

// Retain increments the reference count. Call before sharing the buffer.
func (r *RefCounted) Retain() {
	if r == nil {
		return
	}
	r.refCount.Add(1)
}

// Release decrements the reference count, returning the buffer to its pool
// once it reaches zero. Every holder must call Release exactly once.
func (r *RefCounted) Release() {
	if r == nil {
		return
	}

	switch newCount := r.refCount.Add(-1); {
	case newCount == 0:
		if r.pool != nil {
			r.pool.put(r)
		}
	case newCount < 0:
		panic("buffer: negative reference count")
	}
}

// RefCount returns the current reference count.
func (r *RefCounted) RefCount() int32 {
	if r == nil {
		return 0
	}
	return r.refCount.Load()
}

// Pool manages reusable RefCounted buffers organized into size classes, so
// publish-path allocation doesn't churn the GC under steady throughput.
type Pool struct {
	small  chan *RefCounted // <=1KB
	medium chan *RefCounted // <=64KB
	large  chan *RefCounted // <=1MB

	stats PoolStats
}

// PoolStats tracks pool hit/miss counts per size class.
type PoolStats struct {
	SmallHits, SmallMisses   atomic.Uint64
	MediumHits, MediumMisses atomic.Uint64
	LargeHits, LargeMisses   atomic.Uint64
}

const (
	smallClass  = 1024
	mediumClass = 65536
	largeClass  = 1048576
)

// NewPool creates a buffer pool with default per-class capacities.
func NewPool() *Pool {
	return NewPoolWithCapacity(1000, 500, 100)
}

// NewPoolWithCapacity creates a buffer pool with explicit per-class capacities.
func NewPoolWithCapacity(smallCap, mediumCap, largeCap int) *Pool {
	return &Pool{
		small:  make(chan *RefCounted, smallCap),
		medium: make(chan *RefCounted, mediumCap),
		large:  make(chan *RefCounted, largeCap),
	}
}

// Get returns a buffer of at least the requested size, reused from the pool
// when possible.
func (p *Pool) Get(size int) *RefCounted {
	var pool chan *RefCounted
	var bufSize int
	var hits, misses *atomic.Uint64

	switch {
	case size <= smallClass:
		pool, bufSize, hits, misses = p.small, smallClass, &p.stats.SmallHits, &p.stats.SmallMisses
	case size <= mediumClass:
		pool, bufSize, hits, misses = p.medium, mediumClass, &p.stats.MediumHits, &p.stats.MediumMisses
	case size <= largeClass:
		pool, bufSize, hits, misses = p.large, largeClass, &p.stats.LargeHits, &p.stats.LargeMisses
	default:
		p.stats.LargeMisses.Add(1)
		return New(make([]byte, size), p)
	}

	select {
	case buf := <-pool:
		hits.Add(1)
		buf.data = buf.data[:size]
		buf.refCount.Store(1)
		return buf
	default:
		misses.Add(1)
		return New(make([]byte, size, bufSize), p)
	}
}

// GetWithData returns a pooled buffer containing a copy of data.
func (p *Pool) GetWithData(data []byte) *RefCounted {
	buf := p.Get(len(data))
	copy(buf.data, data)
	return buf
}

func (p *Pool) put(buf *RefCounted) {
	if buf == nil {
		return
	}

	var pool chan *RefCounted
	switch c := cap(buf.data); {
	case c <= smallClass:
		pool = p.small
	case c <= mediumClass:
		pool = p.medium
	case c <= largeClass:
		pool = p.large
	default:
		return
	}

	select {
	case pool <- buf:
	default:
		// pool full, let GC reclaim it
	}
}

// Stats returns current pool hit/miss counters.
func (p *Pool) Stats() PoolStats {
	return p.stats
}

// Clear drains every size class. Used by tests.
func (p *Pool) Clear() {
	for {
		select {
		case <-p.small:
		case <-p.medium:
		case <-p.large:
		default:
			return
		}
	}
}

// Default is a process-wide pool for callers that don't need isolation.
var Default = NewPool()

// Get allocates from the default pool.
func Get(size int) *RefCounted { return Default.Get(size) }

// GetWithData allocates from the default pool with a data copy.
func GetWithData(data []byte) *RefCounted { return Default.GetWithData(data) }
