// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

var _ storage.SubscriptionStore = (*SubscriptionStore)(nil)

// SubscriptionStore implements storage.SubscriptionStore using BadgerDB.
//
// The broker's live PUBLISH routing goes through an in-memory trie
// (topics.Trie) rebuilt from this store on session resumption; this store
// exists to survive a restart, not to serve routing directly. Match walks
// every record and is kept only for callers that need the durable view
// without going through the broker (diagnostics, offline reconciliation).
type SubscriptionStore struct {
	db    *badger.DB
	count atomic.Int64
}

// NewSubscriptionStore creates a new BadgerDB subscription store.
func NewSubscriptionStore(db *badger.DB) *SubscriptionStore {
	s := &SubscriptionStore{db: db}
	s.refreshCount()
	return s
}

// Add adds or updates a subscription.
func (s *SubscriptionStore) Add(sub *storage.Subscription) error {
	key := subscriptionKey(sub.ClientID, sub.Filter)
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		isNew := err == badger.ErrKeyNotFound

		if err := txn.Set(key, data); err != nil {
			return err
		}

		if isNew {
			s.count.Add(1)
		}

		return nil
	})
}

// Remove removes a subscription.
func (s *SubscriptionStore) Remove(clientID, filter string) error {
	key := subscriptionKey(clientID, filter)

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return nil
		}

		if err := txn.Delete(key); err != nil {
			return err
		}

		s.count.Add(-1)
		return nil
	})
}

// RemoveAll removes all subscriptions for a client.
func (s *SubscriptionStore) RemoveAll(clientID string) error {
	prefix := subscriptionClientPrefix(clientID)

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			s.count.Add(-1)
		}

		return nil
	})
}

// GetForClient returns all subscriptions for a client.
func (s *SubscriptionStore) GetForClient(clientID string) ([]*storage.Subscription, error) {
	prefix := subscriptionClientPrefix(clientID)
	var subs []*storage.Subscription

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sub storage.Subscription
				if err := json.Unmarshal(val, &sub); err != nil {
					return err
				}
				subs = append(subs, &sub)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal subscription: %w", err)
			}
		}

		return nil
	})

	return subs, err
}

// Match returns all subscriptions whose filter matches topic. Not used by
// the broker's own routing path; see the type doc.
func (s *SubscriptionStore) Match(topic string) ([]*storage.Subscription, error) {
	var matched []*storage.Subscription

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(subscriptionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sub storage.Subscription
				if err := json.Unmarshal(val, &sub); err != nil {
					return err
				}
				if topics.TopicMatch(sub.Filter, topic) {
					matched = append(matched, &sub)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal subscription: %w", err)
			}
		}

		return nil
	})

	return matched, err
}

// Count returns total subscription count.
func (s *SubscriptionStore) Count() int {
	return int(s.count.Load())
}

// refreshCount recomputes the subscription count by scanning keys only.
// Called once on initialization so Count doesn't need to scan on every
// call afterward.
func (s *SubscriptionStore) refreshCount() {
	var count int64

	s.db.View(func(txn *badger.Txn) error { //nolint:errcheck // best-effort warm start, defaults to 0
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(subscriptionPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}

		return nil
	})

	s.count.Store(count)
}
