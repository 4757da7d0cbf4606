// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/frenzox/mercurio/storage"
)

func TestMessageStoreCRUD(t *testing.T) {
	s := NewMessageStore()

	msg := &storage.Message{
		Topic:    "test/topic",
		Payload:  []byte("hello"),
		QoS:      1,
		PacketID: 123,
	}

	if err := s.Store("client1/123", msg); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := s.Get("client1/123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Topic != msg.Topic || string(got.Payload) != string(msg.Payload) {
		t.Errorf("Get mismatch: got %+v", got)
	}

	msg.Payload[0] = 'x'
	got2, _ := s.Get("client1/123")
	if string(got2.Payload) != "hello" {
		t.Errorf("mutating the caller's message affected the stored copy")
	}

	if err := s.Delete("client1/123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("client1/123"); err != storage.ErrNotFound {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
}

// TestMessageStoreBucketsByOwner exercises the owner-scoped List/
// DeleteByPrefix path: messages under one clientID must be untouched by
// operations scoped to another.
func TestMessageStoreBucketsByOwner(t *testing.T) {
	s := NewMessageStore()

	s.Store("client1/inflight/1", &storage.Message{Topic: "a"})
	s.Store("client1/queue/1", &storage.Message{Topic: "b"})
	s.Store("client2/queue/1", &storage.Message{Topic: "c"})

	list, err := s.List("client1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(client1/) = %d messages, want 2", len(list))
	}

	if err := s.DeleteByPrefix("client1/queue/"); err != nil {
		t.Fatalf("DeleteByPrefix failed: %v", err)
	}

	list, _ = s.List("client1/")
	if len(list) != 1 {
		t.Errorf("after DeleteByPrefix(client1/queue/), List(client1/) = %d, want 1", len(list))
	}

	list, _ = s.List("client2/")
	if len(list) != 1 {
		t.Errorf("client2's bucket was affected by a client1-scoped delete: got %d", len(list))
	}
}

func TestSubscriptionStoreAddRemove(t *testing.T) {
	s := NewSubscriptionStore()

	sub1 := &storage.Subscription{ClientID: "client1", Filter: "home/+/temp", QoS: 1}
	sub2 := &storage.Subscription{ClientID: "client2", Filter: "home/#", QoS: 2}

	if err := s.Add(sub1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add(sub2); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}

	matched, err := s.Match("home/bedroom/temp")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 2 {
		t.Errorf("Match(home/bedroom/temp) = %d results, want 2", len(matched))
	}

	matched, err = s.Match("home/bedroom/humidity")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 1 {
		t.Errorf("Match(home/bedroom/humidity) = %d results, want 1 (home/#)", len(matched))
	}

	subs, err := s.GetForClient("client1")
	if err != nil {
		t.Fatalf("GetForClient failed: %v", err)
	}
	if len(subs) != 1 {
		t.Errorf("GetForClient(client1) = %d subs, want 1", len(subs))
	}

	if err := s.Remove("client1", "home/+/temp"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if s.Count() != 1 {
		t.Errorf("Count after Remove = %d, want 1", s.Count())
	}

	s.Add(&storage.Subscription{ClientID: "client2", Filter: "other/topic", QoS: 0})
	if err := s.RemoveAll("client2"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count after RemoveAll = %d, want 0", s.Count())
	}
}

func TestSubscriptionStoreMatchKeepsHighestQoS(t *testing.T) {
	s := NewSubscriptionStore()

	s.Add(&storage.Subscription{ClientID: "client1", Filter: "home/#", QoS: 1})
	s.Add(&storage.Subscription{ClientID: "client1", Filter: "home/+/temp", QoS: 2})

	matched, err := s.Match("home/bedroom/temp")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected one result per client, got %d", len(matched))
	}
	if matched[0].QoS != 2 {
		t.Errorf("QoS = %d, want 2 (the higher of the two overlapping filters)", matched[0].QoS)
	}
}

func TestSubscriptionStoreRemoveAllPrunesFilterIndex(t *testing.T) {
	s := NewSubscriptionStore()

	s.Add(&storage.Subscription{ClientID: "client1", Filter: "a/b", QoS: 0})
	s.RemoveAll("client1")

	matched, err := s.Match("a/b")
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("filter index leaked after RemoveAll: got %d matches", len(matched))
	}
}

func TestRetainedStoreSetGetMatch(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	msg := &storage.Message{Topic: "sensors/temp", Payload: []byte("23.5"), QoS: 1, Retain: true}
	if err := s.Set(ctx, "sensors/temp", msg); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "sensors/temp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Payload) != "23.5" {
		t.Errorf("Payload mismatch: got %s", got.Payload)
	}

	s.Set(ctx, "sensors/humidity", &storage.Message{Payload: []byte("60")})
	s.Set(ctx, "sensors/pressure", &storage.Message{Payload: []byte("1013")})

	for _, filter := range []string{"sensors/+", "sensors/#"} {
		matched, err := s.Match(ctx, filter)
		if err != nil {
			t.Fatalf("Match(%s) failed: %v", filter, err)
		}
		if len(matched) != 3 {
			t.Errorf("Match(%s) = %d, want 3", filter, len(matched))
		}
	}

	if err := s.Set(ctx, "sensors/temp", &storage.Message{Payload: nil}); err != nil {
		t.Fatalf("Set with empty payload failed: %v", err)
	}
	if _, err := s.Get(ctx, "sensors/temp"); err != storage.ErrNotFound {
		t.Errorf("Get after empty-payload delete: got %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "sensors/humidity"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	matched, _ := s.Match(ctx, "sensors/#")
	if len(matched) != 1 {
		t.Errorf("Match after delete = %d, want 1", len(matched))
	}
}

func TestRetainedStoreExcludesSystemTopicsFromWildcards(t *testing.T) {
	s := NewRetainedStore()
	ctx := context.Background()

	s.Set(ctx, "$SYS/broker/clients", &storage.Message{Payload: []byte("10")})
	s.Set(ctx, "normal/topic", &storage.Message{Payload: []byte("data")})

	if matched, _ := s.Match(ctx, "#"); len(matched) != 1 {
		t.Errorf("# should not match $SYS topics, got %d matches", len(matched))
	}
	if matched, _ := s.Match(ctx, "+/broker/clients"); len(matched) != 0 {
		t.Errorf("+ should not match $SYS topics, got %d matches", len(matched))
	}
	if matched, _ := s.Match(ctx, "$SYS/#"); len(matched) != 1 {
		t.Errorf("$SYS/# should match $SYS topics, got %d matches", len(matched))
	}
}

func TestWillStoreLifecycle(t *testing.T) {
	s := NewWillStore()
	ctx := context.Background()

	will := &storage.WillMessage{
		ClientID: "client1",
		Topic:    "clients/client1/status",
		Payload:  []byte("offline"),
		QoS:      1,
		Retain:   true,
		Delay:    5,
	}

	if err := s.Set(ctx, "client1", will); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "client1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Topic != will.Topic || got.Delay != will.Delay {
		t.Errorf("Get mismatch: got %+v", got)
	}

	pending, err := s.GetPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetPending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending before the delay window, got %d", len(pending))
	}

	s.MarkDisconnected("client1")

	if pending, _ = s.GetPending(ctx, time.Now()); len(pending) != 0 {
		t.Errorf("expected 0 pending immediately after disconnect, got %d", len(pending))
	}
	if pending, _ = s.GetPending(ctx, time.Now().Add(10*time.Second)); len(pending) != 1 {
		t.Errorf("expected 1 pending once the delay elapsed, got %d", len(pending))
	}

	if err := s.Delete(ctx, "client1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "client1"); err != storage.ErrNotFound {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestSessionStoreGetExpiredBoundary(t *testing.T) {
	s := NewSessionStore()

	now := time.Now()
	s.Save(&storage.Session{
		ClientID:       "c1",
		Connected:      false,
		ExpiryInterval: 10,
		DisconnectedAt: now.Add(-10 * time.Second), // expiry lands exactly on "now"
	})
	s.Save(&storage.Session{
		ClientID:  "c2",
		Connected: true, // still connected: never expires regardless of interval
		ExpiryInterval: 1,
		DisconnectedAt: now.Add(-1 * time.Hour),
	})

	expired, err := s.GetExpired(now)
	if err != nil {
		t.Fatalf("GetExpired failed: %v", err)
	}
	if len(expired) != 1 || expired[0] != "c1" {
		t.Errorf("GetExpired(now) = %v, want [c1]", expired)
	}
}

func TestCompositeStore(t *testing.T) {
	s := New()

	if s.Messages() == nil || s.Sessions() == nil || s.Subscriptions() == nil ||
		s.Retained() == nil || s.Wills() == nil {
		t.Error("composite store returned a nil sub-store")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
