// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

var _ storage.SubscriptionStore = (*SubscriptionStore)(nil)

// SubscriptionStore is an in-memory implementation of
// storage.SubscriptionStore.
//
// The broker's live routing goes through its own topics.Trie, rebuilt
// from this store's GetForClient on session resumption; Match exists for
// interface completeness and callers outside that path, so this store
// indexes by filter rather than maintaining a second trie purely to serve
// a method nothing on the hot path calls.
type SubscriptionStore struct {
	mu       sync.RWMutex
	byClient map[string]map[string]*storage.Subscription // clientID -> filter -> subscription
	byFilter map[string]map[string]*storage.Subscription // filter -> clientID -> subscription
	count    int
}

// NewSubscriptionStore creates a new in-memory subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		byClient: make(map[string]map[string]*storage.Subscription),
		byFilter: make(map[string]map[string]*storage.Subscription),
	}
}

// Add adds or updates a subscription.
func (s *SubscriptionStore) Add(sub *storage.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	isNew := true
	if clientSubs, ok := s.byClient[sub.ClientID]; ok {
		if _, exists := clientSubs[sub.Filter]; exists {
			isNew = false
		}
	}

	subCopy := storage.CopySubscription(sub)

	if s.byClient[sub.ClientID] == nil {
		s.byClient[sub.ClientID] = make(map[string]*storage.Subscription)
	}
	s.byClient[sub.ClientID][sub.Filter] = subCopy

	if s.byFilter[sub.Filter] == nil {
		s.byFilter[sub.Filter] = make(map[string]*storage.Subscription)
	}
	s.byFilter[sub.Filter][sub.ClientID] = subCopy

	if isNew {
		s.count++
	}

	return nil
}

// Remove removes a subscription.
func (s *SubscriptionStore) Remove(clientID, filter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientSubs, ok := s.byClient[clientID]
	if !ok {
		return nil
	}
	if _, exists := clientSubs[filter]; !exists {
		return nil
	}

	delete(clientSubs, filter)
	if len(clientSubs) == 0 {
		delete(s.byClient, clientID)
	}

	if filterSubs, ok := s.byFilter[filter]; ok {
		delete(filterSubs, clientID)
		if len(filterSubs) == 0 {
			delete(s.byFilter, filter)
		}
	}

	s.count--
	return nil
}

// RemoveAll removes all subscriptions for a client.
func (s *SubscriptionStore) RemoveAll(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientSubs, ok := s.byClient[clientID]
	if !ok {
		return nil
	}

	for filter := range clientSubs {
		if filterSubs, ok := s.byFilter[filter]; ok {
			delete(filterSubs, clientID)
			if len(filterSubs) == 0 {
				delete(s.byFilter, filter)
			}
		}
		s.count--
	}

	delete(s.byClient, clientID)
	return nil
}

// GetForClient returns all subscriptions for a client.
func (s *SubscriptionStore) GetForClient(clientID string) ([]*storage.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clientSubs, ok := s.byClient[clientID]
	if !ok {
		return nil, nil
	}

	result := make([]*storage.Subscription, 0, len(clientSubs))
	for _, sub := range clientSubs {
		result = append(result, storage.CopySubscription(sub))
	}
	return result, nil
}

// Match returns all subscriptions whose filter matches topic, one per
// client at its highest granted QoS. See the type doc for why this isn't
// trie-backed.
func (s *SubscriptionStore) Match(topic string) ([]*storage.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := make(map[string]*storage.Subscription) // clientID -> highest-QoS match

	for filter, clientSubs := range s.byFilter {
		if !topics.TopicMatch(filter, topic) {
			continue
		}
		for clientID, sub := range clientSubs {
			if existing, ok := best[clientID]; !ok || sub.QoS > existing.QoS {
				best[clientID] = sub
			}
		}
	}

	result := make([]*storage.Subscription, 0, len(best))
	for _, sub := range best {
		result = append(result, storage.CopySubscription(sub))
	}
	return result, nil
}

// Count returns total subscription count.
func (s *SubscriptionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}
