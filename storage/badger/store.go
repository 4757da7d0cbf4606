// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"sync"
	"time"

	"github.com/frenzox/mercurio/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite BadgerDB store implementing all storage interfaces.
type Store struct {
	db *badger.DB

	messages      *MessageStore
	sessions      *SessionStore
	subscriptions *SubscriptionStore
	retained      *RetainedStore
	wills         *WillStore

	gcInterval     time.Duration
	gcDiscardRatio float64
	gcStopCh       chan struct{}
	gcDone         chan struct{}
	closed         bool
	mu             sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir string // Directory for BadgerDB data

	// GCInterval is how often the value log GC sweep runs. Defaults to 5
	// minutes if zero.
	GCInterval time.Duration

	// GCDiscardRatio is the fraction of a value log file that must be
	// garbage before RunValueLogGC reclaims it. Defaults to 0.5 if zero.
	GCDiscardRatio float64
}

func (c Config) withDefaults() Config {
	if c.GCInterval <= 0 {
		c.GCInterval = 5 * time.Minute
	}
	if c.GCDiscardRatio <= 0 {
		c.GCDiscardRatio = 0.5
	}
	return c
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	// Disable encryption to avoid "Invalid datakey id" errors on restart
	opts.EncryptionKey = nil
	opts.EncryptionKeyRotationDuration = 0
	// Async writes: MQTT messages are transient and can be re-delivered.
	// SyncWrites=true fsyncs on every write, which is 10-100x slower.
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2
	opts.NumLevelZeroTables = 5
	opts.NumLevelZeroTablesStall = 15

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:             db,
		messages:       NewMessageStore(db),
		sessions:       NewSessionStore(db),
		subscriptions:  NewSubscriptionStore(db),
		retained:       NewRetainedStore(db),
		wills:          NewWillStore(db),
		gcInterval:     cfg.GCInterval,
		gcDiscardRatio: cfg.GCDiscardRatio,
		gcStopCh:       make(chan struct{}),
		gcDone:         make(chan struct{}),
	}

	// Start background value log GC
	go s.runGC()

	return s, nil
}

// Messages returns the message store.
func (s *Store) Messages() storage.MessageStore {
	return s.messages
}

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Subscriptions returns the subscription store.
func (s *Store) Subscriptions() storage.SubscriptionStore {
	return s.subscriptions
}

// Retained returns the retained message store.
func (s *Store) Retained() storage.RetainedStore {
	return s.retained
}

// Wills returns the will message store.
func (s *Store) Wills() storage.WillStore {
	return s.wills
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Signal GC goroutine to stop
	close(s.gcStopCh)

	// Wait for GC to finish
	<-s.gcDone

	// Close the database
	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// RunValueLogGC may return ErrNoRewrite if nothing met the
			// discard ratio; that's a normal outcome, not a failure.
			_ = s.db.RunValueLogGC(s.gcDiscardRatio)
		case <-s.gcStopCh:
			// Graceful shutdown: skip final GC to avoid vlog corruption
			// GC during close can cause "Invalid datakey id" errors on restart
			return
		}
	}
}
