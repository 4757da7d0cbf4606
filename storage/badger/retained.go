// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

var _ storage.RetainedStore = (*RetainedStore)(nil)

// RetainedStore implements storage.RetainedStore using BadgerDB.
//
// Key format: retained:{topic}
type RetainedStore struct {
	db *badger.DB
}

// NewRetainedStore creates a new BadgerDB retained message store.
func NewRetainedStore(db *badger.DB) *RetainedStore {
	return &RetainedStore{db: db}
}

// Set stores or updates a retained message.
// Empty payload deletes the retained message.
func (r *RetainedStore) Set(ctx context.Context, topic string, msg *storage.Message) error {
	if msg == nil || len(msg.GetPayload()) == 0 {
		return r.Delete(ctx, topic)
	}

	key := retainedKey(topic)
	data, err := json.Marshal(toWire(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal retained message: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Get retrieves a retained message by exact topic.
func (r *RetainedStore) Get(ctx context.Context, topic string) (*storage.Message, error) {
	key := retainedKey(topic)
	var msg *storage.Message

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			var w wireMessage
			if err := json.Unmarshal(val, &w); err != nil {
				return err
			}
			msg = fromWire(&w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// Delete removes a retained message.
func (r *RetainedStore) Delete(ctx context.Context, topic string) error {
	key := retainedKey(topic)

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Match returns all retained messages matching a filter (supports wildcards).
func (r *RetainedStore) Match(ctx context.Context, filter string) ([]*storage.Message, error) {
	var matched []*storage.Message

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			topic := string(item.Key())[len(retainedPrefix):]

			if !topics.TopicMatch(filter, topic) {
				continue
			}

			err := item.Value(func(val []byte) error {
				var w wireMessage
				if err := json.Unmarshal(val, &w); err != nil {
					return err
				}
				matched = append(matched, fromWire(&w))
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal retained message: %w", err)
			}
		}

		return nil
	})

	return matched, err
}
