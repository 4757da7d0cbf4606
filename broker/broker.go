// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the MQTT broker core: the CONNECT state
// machine, per-packet dispatch, the subscription fan-out algorithm and
// the QoS engine. It is transport-agnostic — server/tcp feeds it
// session.Connection values accepted off a listener.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frenzox/mercurio/auth"
	"github.com/frenzox/mercurio/config"
	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/ratelimit"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

// Broker wires together the session table, the subscription trie, storage
// and the ambient policy (auth, rate limiting) that every connection task
// shares.
type Broker struct {
	sessions *session.Manager
	router   *topics.Trie
	store    storage.Store
	auth     *auth.Engine
	limiter  *ratelimit.Manager
	logger   *slog.Logger
	cfg      config.BrokerConfig

	shareMu     sync.Mutex
	shareGroups map[string]*topics.ShareGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Broker. auth and limiter may be nil, in which case their
// policies default to permissive / unlimited.
func New(st storage.Store, authEngine *auth.Engine, limiter *ratelimit.Manager, cfg config.BrokerConfig, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broker{
		sessions:    session.NewManager(st),
		router:      topics.NewTrie(),
		store:       st,
		auth:        authEngine,
		limiter:     limiter,
		logger:      logger,
		cfg:         cfg,
		shareGroups: make(map[string]*topics.ShareGroup),
		closed:      make(chan struct{}),
	}

	b.sessions.SetOnWillTrigger(b.publishWill)

	return b
}

// publishWill fans a triggered will message out exactly like a regular
// PUBLISH, bypassing authorization (the publisher is gone, not a client).
func (b *Broker) publishWill(will *storage.WillMessage) {
	msg := &storage.Message{
		Topic:       will.Topic,
		QoS:         will.QoS,
		Retain:      will.Retain,
		PublishTime: time.Now(),
	}
	msg.SetPayloadFromBytes(will.Payload)

	if err := b.distribute(context.Background(), msg, will.ClientID); err != nil {
		b.logger.Error("will distribution failed", slog.String("client_id", will.ClientID), slog.String("error", err.Error()))
	}
}

// Close stops background loops and disconnects every connected session.
// It does not close the underlying storage backend; the caller owns that.
func (b *Broker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.sessions.Close()
	})
	return err
}

// Sessions exposes the broker's session manager.
func (b *Broker) Sessions() *session.Manager { return b.sessions }

// shareGroupKey identifies a shared-subscription group: clients sharing
// the same group name on the same filter round-robin deliveries between
// them.
func shareGroupKey(group, filter string) string { return group + "\x00" + filter }

// joinShareGroup registers clientID in filter's share group, creating the
// group if this is its first member.
func (b *Broker) joinShareGroup(group, filter, clientID string) {
	if group == "" {
		return
	}

	key := shareGroupKey(group, filter)

	b.shareMu.Lock()
	defer b.shareMu.Unlock()

	g, ok := b.shareGroups[key]
	if !ok {
		g = topics.NewShareGroup(group, filter)
		b.shareGroups[key] = g
	}
	g.Join(clientID)
}

// leaveShareGroup removes clientID from filter's share group.
func (b *Broker) leaveShareGroup(group, filter, clientID string) {
	if group == "" {
		return
	}

	key := shareGroupKey(group, filter)

	b.shareMu.Lock()
	defer b.shareMu.Unlock()

	if g, ok := b.shareGroups[key]; ok {
		g.Leave(clientID)
		if g.Empty() {
			delete(b.shareGroups, key)
		}
	}
}

// nextShareMember picks the next client that should receive a delivery
// for group/filter. An online member is preferred over an offline one, so
// a delivery only lands on a session that has to queue it when every
// member of the group is currently disconnected. Returns "" if the group
// has vanished.
func (b *Broker) nextShareMember(group, filter string) string {
	b.shareMu.Lock()
	defer b.shareMu.Unlock()

	g, ok := b.shareGroups[shareGroupKey(group, filter)]
	if !ok {
		return ""
	}

	return g.Next(func(clientID string) bool {
		sess := b.sessions.Get(clientID)
		return sess != nil && sess.IsConnected()
	})
}

// deliveryTarget aggregates every subscription a single session holds
// that matches a published topic, per the fan-out algorithm's "a session
// gets one PUBLISH" rule.
type deliveryTarget struct {
	clientID          string
	maxQoS            byte
	subscriptionIDs   []uint32
	noLocal           bool
	retainAsPublished bool
}

// distribute implements the fan-out algorithm (spec §4.4): collect every
// matching subscription, coalesce per session, skip no_local loops and
// shared-subscription also-rans, then deliver.
func (b *Broker) distribute(ctx context.Context, msg *storage.Message, publisherID string) error {
	matched, err := b.router.Match(msg.Topic)
	if err != nil {
		return fmt.Errorf("match topic %q: %w", msg.Topic, err)
	}

	targets := make(map[string]*deliveryTarget)
	// sharedPicked ensures a given (group, filter) pair is resolved to a
	// single recipient once per publish, even if several of its matched
	// subscriptions are distinct filters that happen to share a group.
	sharedPicked := make(map[string]bool)

	for _, sub := range matched {
		clientID := sub.ClientID

		if sub.Options.ConsumerGroup != "" {
			key := shareGroupKey(sub.Options.ConsumerGroup, sub.Filter)
			if sharedPicked[key] {
				continue
			}
			sharedPicked[key] = true

			if picked := b.nextShareMember(sub.Options.ConsumerGroup, sub.Filter); picked != "" {
				clientID = picked
			}
		}

		t, ok := targets[clientID]
		if !ok {
			t = &deliveryTarget{clientID: clientID, noLocal: true, retainAsPublished: true}
			targets[clientID] = t
		}

		if sub.QoS > t.maxQoS {
			t.maxQoS = sub.QoS
		}
		if sub.SubscriptionID != nil {
			t.subscriptionIDs = append(t.subscriptionIDs, *sub.SubscriptionID)
		}
		// A session with no_local only on some of its matching filters
		// still must receive delivery for the filters where it's false.
		if !sub.Options.NoLocal {
			t.noLocal = false
		}
		if !sub.Options.RetainAsPublished {
			t.retainAsPublished = false
		}
	}

	if msg.Retain {
		if err := b.updateRetained(ctx, msg); err != nil {
			b.logger.Error("update retained message failed", slog.String("topic", msg.Topic), slog.String("error", err.Error()))
		}
	}

	for clientID, t := range targets {
		if t.noLocal && clientID == publisherID {
			continue
		}

		effectiveQoS := msg.QoS
		if t.maxQoS < effectiveQoS {
			effectiveQoS = t.maxQoS
		}

		if err := b.deliverToClient(clientID, msg, effectiveQoS, t.subscriptionIDs, t.retainAsPublished); err != nil {
			b.logger.Warn("delivery failed", slog.String("client_id", clientID), slog.String("topic", msg.Topic), slog.String("error", err.Error()))
		}
	}

	return nil
}

// updateRetained stores or clears the retained message for msg.Topic.
func (b *Broker) updateRetained(ctx context.Context, msg *storage.Message) error {
	if len(msg.GetPayload()) == 0 {
		return b.store.Retained().Delete(ctx, msg.Topic)
	}
	return b.store.Retained().Set(ctx, msg.Topic, storage.CopyMessage(msg))
}

// version mapping helper shared by connect/publish/subscribe handling.
func isV5(version byte) bool { return version == packets.V5 }
