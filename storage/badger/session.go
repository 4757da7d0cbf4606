// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/frenzox/mercurio/storage"
)

var _ storage.SessionStore = (*SessionStore)(nil)

// SessionStore implements storage.SessionStore using BadgerDB.
//
// A disconnected session that carries a nonzero expiry interval is written
// with a BadgerDB TTL counted from DisconnectedAt, not from the moment Save
// runs, so the record's own ExpiresAt metadata stays the authoritative
// expiry time even if Save is called well after the session actually
// disconnected (e.g. on broker restart, reloading state saved earlier).
// GetExpired only needs to compare that metadata against a timestamp, with
// no need to read or unmarshal the value. A connected session is written
// with no TTL at all, since its expiry clock only starts ticking once it
// disconnects.
type SessionStore struct {
	db *badger.DB
}

// NewSessionStore creates a new BadgerDB session store.
func NewSessionStore(db *badger.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Get retrieves a session by client ID.
func (s *SessionStore) Get(clientID string) (*storage.Session, error) {
	var session *storage.Session

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(clientID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			session = &storage.Session{}
			return json.Unmarshal(val, session)
		})
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

// Save persists a session. Only a disconnected session with a nonzero
// expiry interval carries a TTL, measured from when it actually
// disconnected rather than from this call; a connected session is stored
// to live until explicitly disconnected or deleted.
func (s *SessionStore) Save(session *storage.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sessionKey(session.ClientID), data)

		if !session.Connected && session.ExpiryInterval > 0 {
			expiry := session.DisconnectedAt.Add(time.Duration(session.ExpiryInterval) * time.Second)
			ttl := time.Until(expiry)
			if ttl <= 0 {
				ttl = time.Nanosecond
			}
			entry = entry.WithTTL(ttl)
		}

		return txn.SetEntry(entry)
	})
}

// Delete removes a session.
func (s *SessionStore) Delete(clientID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(clientID))
	})
}

// GetExpired returns client IDs of sessions that have expired as of
// before. Since Save only sets a TTL on disconnected, expiry-bearing
// sessions, a key-only scan reading each item's ExpiresAt metadata is
// enough; no value ever needs to be unmarshaled here.
func (s *SessionStore) GetExpired(before time.Time) ([]string, error) {
	var expired []string
	deadline := uint64(before.Unix())

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			expiresAt := item.ExpiresAt()
			if expiresAt == 0 || expiresAt > deadline {
				continue
			}

			clientID := string(item.Key())[len(sessionPrefix):]
			expired = append(expired, clientID)
		}

		return nil
	})

	return expired, err
}

// List returns all sessions (for debugging/metrics).
func (s *SessionStore) List() ([]*storage.Session, error) {
	var sessions []*storage.Session

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			err := item.Value(func(val []byte) error {
				var session storage.Session
				if err := json.Unmarshal(val, &session); err != nil {
					return err
				}
				sessions = append(sessions, &session)
				return nil
			})

			if err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
		}

		return nil
	})

	return sessions, err
}
