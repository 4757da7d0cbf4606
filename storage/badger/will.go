// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/frenzox/mercurio/storage"
)

var _ storage.WillStore = (*WillStore)(nil)

// willBackstopTTL caps how long a will record can live. A will only needs
// to survive until either the client reconnects (and it is deleted
// unfired) or its delay elapses (and it fires); this is a backstop
// against a client that vanishes and whose will record is never cleaned
// up through either path.
const willBackstopTTL = 24 * time.Hour

// WillStore implements storage.WillStore using BadgerDB.
type WillStore struct {
	db *badger.DB
}

// NewWillStore creates a new BadgerDB will message store.
func NewWillStore(db *badger.DB) *WillStore {
	return &WillStore{db: db}
}

// Set stores a will message for a client, timestamped at the moment it
// disconnected so GetPending can later compute its trigger time.
func (w *WillStore) Set(ctx context.Context, clientID string, will *storage.WillMessage) error {
	data, err := json.Marshal(toWireWill(will, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal will message: %w", err)
	}

	return w.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(willKey(clientID), data).WithTTL(willBackstopTTL)
		return txn.SetEntry(entry)
	})
}

// Get retrieves the will message for a client.
func (w *WillStore) Get(ctx context.Context, clientID string) (*storage.WillMessage, error) {
	var entry *willWire

	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(willKey(clientID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			entry = &willWire{}
			return json.Unmarshal(val, entry)
		})
	})
	if err != nil {
		return nil, err
	}

	return entry.will(), nil
}

// Delete removes the will message for a client.
func (w *WillStore) Delete(ctx context.Context, clientID string) error {
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(willKey(clientID))
	})
}

// GetPending returns will messages whose delay has elapsed and whose
// client has not reconnected to cancel them.
func (w *WillStore) GetPending(ctx context.Context, before time.Time) ([]*storage.WillMessage, error) {
	var pending []*storage.WillMessage

	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(willPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			err := item.Value(func(val []byte) error {
				var wire willWire
				if err := json.Unmarshal(val, &wire); err != nil {
					return err
				}

				if wire.DisconnectedAt == 0 {
					return nil
				}

				if !wire.triggerTime().After(before) {
					pending = append(pending, wire.will())
				}

				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal will entry: %w", err)
			}
		}

		return nil
	})

	return pending, err
}
