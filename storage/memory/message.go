// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"strings"
	"sync"

	"github.com/frenzox/mercurio/storage"
)

var _ storage.MessageStore = (*MessageStore)(nil)

// MessageStore is an in-memory implementation of storage.MessageStore.
// Every key this store sees is owner-scoped ("{clientID}/inflight/{id}" or
// "{clientID}/queue/{seq}"), so messages are bucketed by owner rather than
// kept in one flat map: List and DeleteByPrefix, both called per-client at
// session resume and disconnect, only ever touch one owner's bucket
// instead of scanning every message in the broker.
type MessageStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*storage.Message // owner -> full key -> message
}

// NewMessageStore creates a new in-memory message store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		buckets: make(map[string]map[string]*storage.Message),
	}
}

// owner extracts the leading path segment a key is scoped under.
func owner(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

// Store stores a message.
func (s *MessageStore) Store(key string, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := owner(key)
	bucket, ok := s.buckets[o]
	if !ok {
		bucket = make(map[string]*storage.Message)
		s.buckets[o] = bucket
	}
	bucket[key] = storage.CopyMessage(msg)
	return nil
}

// Get retrieves a message by key.
func (s *MessageStore) Get(key string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.buckets[owner(key)][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyMessage(msg), nil
}

// Delete removes a message.
func (s *MessageStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := owner(key)
	bucket, ok := s.buckets[o]
	if !ok {
		return nil
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(s.buckets, o)
	}
	return nil
}

// List returns all messages matching a key prefix.
func (s *MessageStore) List(prefix string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.Message
	for key, msg := range s.buckets[owner(prefix)] {
		if strings.HasPrefix(key, prefix) {
			result = append(result, storage.CopyMessage(msg))
		}
	}
	return result, nil
}

// DeleteByPrefix removes all messages matching a prefix.
func (s *MessageStore) DeleteByPrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := owner(prefix)
	bucket, ok := s.buckets[o]
	if !ok {
		return nil
	}

	for key := range bucket {
		if strings.HasPrefix(key, prefix) {
			delete(bucket, key)
		}
	}
	if len(bucket) == 0 {
		delete(s.buckets, o)
	}
	return nil
}
