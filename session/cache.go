// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"hash/fnv"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
)

var _ Cache = (*ShardedCache)(nil)

// Cache is the in-memory session table the manager consults on every
// packet. Lookups must stay cheap under many concurrent connections, which
// is why implementations shard rather than guard a single map with one
// lock.
type Cache interface {
	// Get retrieves a session by client ID.
	// Returns nil if the session is not in the cache.
	Get(clientID string) *Session

	// Set stores a session in the cache.
	Set(clientID string, session *Session)

	// Delete removes a session from the cache.
	// Returns true if the session was present, false otherwise.
	Delete(clientID string) bool

	// ForEach iterates over all sessions in the cache.
	// The iteration order is not guaranteed.
	ForEach(fn func(*Session))

	// Count returns the total number of sessions in the cache.
	Count() int

	// ConnectedCount returns the number of connected sessions.
	ConnectedCount() int
}

// minShards is the floor on shard count even on a single-core deployment:
// a broker under load still benefits from splitting connect/disconnect
// lock contention from the periodic ForEach scans (expiry, dedup pruning).
const minShards = 16

type cacheShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// ShardedCache splits sessions across multiple shards to reduce lock
// contention. Unlike a fixed shard count, the partition count scales with
// GOMAXPROCS so a single-core broker doesn't pay for dozens of mostly-idle
// mutexes while a large multi-core deployment still gets enough
// parallelism. The count is always rounded up to a power of two so shard
// selection can use a bitmask instead of a modulo.
type ShardedCache struct {
	shards []cacheShard
	mask   uint32
	count  atomic.Int64
}

// NewShardedCache creates a session cache sized for the current
// GOMAXPROCS.
func NewShardedCache() *ShardedCache {
	return newShardedCache(runtime.GOMAXPROCS(0) * 4)
}

// newShardedCache builds a cache with at least hint shards, rounded up to
// a power of two no smaller than minShards. Kept unexported so tests can
// exercise specific shard counts without depending on the host's
// GOMAXPROCS.
func newShardedCache(hint int) *ShardedCache {
	if hint < minShards {
		hint = minShards
	}

	n := 1 << bits.Len(uint(hint-1))

	c := &ShardedCache{
		shards: make([]cacheShard, n),
		mask:   uint32(n - 1),
	}
	for i := range c.shards {
		c.shards[i].sessions = make(map[string]*Session)
	}
	return c
}

// shard picks clientID's partition via an FNV-1a hash masked to the shard
// count, trading the division a modulo needs for a cheaper bitwise AND.
func (c *ShardedCache) shard(clientID string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &c.shards[h.Sum32()&c.mask]
}

// Get retrieves a session by client ID.
func (c *ShardedCache) Get(clientID string) *Session {
	s := c.shard(clientID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[clientID]
}

// Set stores a session in the cache.
func (c *ShardedCache) Set(clientID string, session *Session) {
	s := c.shard(clientID)
	s.mu.Lock()
	if _, exists := s.sessions[clientID]; !exists {
		c.count.Add(1)
	}
	s.sessions[clientID] = session
	s.mu.Unlock()
}

// Delete removes a session from the cache.
func (c *ShardedCache) Delete(clientID string) bool {
	s := c.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[clientID]; exists {
		delete(s.sessions, clientID)
		c.count.Add(-1)
		return true
	}
	return false
}

// ForEach iterates over all sessions in the cache. Each shard is locked
// only for the duration of its own iteration, so fn sees a consistent
// snapshot per shard but not across the whole cache.
func (c *ShardedCache) ForEach(fn func(*Session)) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, sess := range s.sessions {
			fn(sess)
		}
		s.mu.RUnlock()
	}
}

// Count returns the total number of sessions.
func (c *ShardedCache) Count() int {
	return int(c.count.Load())
}

// ConnectedCount returns the number of connected sessions. Connection
// state can change without Set being called again, so this always scans.
func (c *ShardedCache) ConnectedCount() int {
	count := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, sess := range s.sessions {
			if sess.IsConnected() {
				count++
			}
		}
		s.mu.RUnlock()
	}
	return count
}
