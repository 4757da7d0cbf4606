// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/frenzox/mercurio/config"
	"github.com/frenzox/mercurio/packets"
	v5 "github.com/frenzox/mercurio/packets/v5"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/storage/memory"
)

// fakeConn is a minimal session.Connection double that records what was
// written without touching the network.
type fakeConn struct {
	written []packets.ControlPacket
}

func (c *fakeConn) ReadPacket() (packets.ControlPacket, error) { select {} }
func (c *fakeConn) WritePacket(p packets.ControlPacket) error {
	c.written = append(c.written, p)
	return nil
}
func (c *fakeConn) Close() error                    { return nil }
func (c *fakeConn) RemoteAddr() net.Addr            { return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1} }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(memory.New(), nil, nil, config.BrokerConfig{QueueOverflowPolicy: "drop_oldest"}, nil)
	t.Cleanup(func() { b.Close() })
	return b
}

// connectSession creates and connects a session through the broker's own
// manager, so b.sessions.Get(clientID) finds it the way a real CONNECT
// handshake would leave it.
func connectSession(t *testing.T, b *Broker, clientID string, version byte) (*session.Session, *fakeConn) {
	t.Helper()
	sess, _, err := b.sessions.GetOrCreate(clientID, version, session.Options{CleanStart: true, ReceiveMaximum: 100})
	if err != nil {
		t.Fatalf("GetOrCreate(%s): %v", clientID, err)
	}
	conn := &fakeConn{}
	if err := sess.Connect(conn); err != nil {
		t.Fatalf("Connect(%s): %v", clientID, err)
	}
	return sess, conn
}

func subscribe(t *testing.T, b *Broker, sess *session.Session, filter string, qos byte, opts storage.SubscribeOptions) {
	t.Helper()
	if _, err := b.subscribeOne(sess, filter, qos, opts, nil); err != nil {
		t.Fatalf("subscribeOne(%s, %s): %v", sess.ID, filter, err)
	}
}

func TestDistributeFansOutToEverySubscriber(t *testing.T) {
	b := newTestBroker(t)

	_, connA := connectSession(t, b, "subA", packets.V5)
	_, connB := connectSession(t, b, "subB", packets.V5)
	sessA := b.sessions.Get("subA")
	sessB := b.sessions.Get("subB")

	subscribe(t, b, sessA, "sensors/temp", 1, storage.SubscribeOptions{})
	subscribe(t, b, sessB, "sensors/temp", 1, storage.SubscribeOptions{})

	msg := &storage.Message{Topic: "sensors/temp", QoS: 1}
	msg.SetPayloadFromBytes([]byte("21C"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	if len(connA.written) != 1 {
		t.Fatalf("subA received %d packets, want 1", len(connA.written))
	}
	if len(connB.written) != 1 {
		t.Fatalf("subB received %d packets, want 1", len(connB.written))
	}

	pub, ok := connA.written[0].(*v5.Publish)
	if !ok {
		t.Fatalf("subA packet type = %T, want *v5.Publish", connA.written[0])
	}
	if pub.TopicName != "sensors/temp" {
		t.Errorf("TopicName = %q, want sensors/temp", pub.TopicName)
	}
	if string(pub.Payload) != "21C" {
		t.Errorf("Payload = %q, want 21C", pub.Payload)
	}
}

func TestDistributeCoalescesMultipleFiltersPerSession(t *testing.T) {
	b := newTestBroker(t)

	_, conn := connectSession(t, b, "sub1", packets.V5)
	sess := b.sessions.Get("sub1")

	// Two filters on the same session both match; the session should still
	// only get one PUBLISH, at the higher of the two granted QoS values.
	subscribe(t, b, sess, "sensors/#", 0, storage.SubscribeOptions{})
	subscribe(t, b, sess, "sensors/temp", 2, storage.SubscribeOptions{})

	msg := &storage.Message{Topic: "sensors/temp", QoS: 2}
	msg.SetPayloadFromBytes([]byte("x"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	if len(conn.written) != 1 {
		t.Fatalf("got %d packets, want exactly 1", len(conn.written))
	}
	pub := conn.written[0].(*v5.Publish)
	if pub.QoS != 2 {
		t.Errorf("QoS = %d, want 2 (the higher of the two matching filters)", pub.QoS)
	}
}

func TestDistributeSkipsNoLocalForPublisher(t *testing.T) {
	b := newTestBroker(t)

	_, conn := connectSession(t, b, "loopback", packets.V5)
	sess := b.sessions.Get("loopback")

	subscribe(t, b, sess, "echo/topic", 0, storage.SubscribeOptions{NoLocal: true})

	msg := &storage.Message{Topic: "echo/topic", QoS: 0}

	if err := b.distribute(context.Background(), msg, "loopback"); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(conn.written) != 0 {
		t.Fatalf("publisher with no_local received %d packets, want 0", len(conn.written))
	}

	// A different publisher must still trigger delivery.
	if err := b.distribute(context.Background(), msg, "someone-else"); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if len(conn.written) != 1 {
		t.Fatalf("delivery from a different publisher gave %d packets, want 1", len(conn.written))
	}
}

func TestDistributeRetainAsPublished(t *testing.T) {
	b := newTestBroker(t)

	_, connTrue := connectSession(t, b, "keepsRetain", packets.V5)
	_, connFalse := connectSession(t, b, "clearsRetain", packets.V5)
	sessTrue := b.sessions.Get("keepsRetain")
	sessFalse := b.sessions.Get("clearsRetain")

	subscribe(t, b, sessTrue, "status/topic", 0, storage.SubscribeOptions{RetainAsPublished: true})
	subscribe(t, b, sessFalse, "status/topic", 0, storage.SubscribeOptions{RetainAsPublished: false})

	msg := &storage.Message{Topic: "status/topic", QoS: 0, Retain: true}
	msg.SetPayloadFromBytes([]byte("online"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	pubTrue := connTrue.written[0].(*v5.Publish)
	pubFalse := connFalse.written[0].(*v5.Publish)

	if !pubTrue.Retain {
		t.Error("subscriber with retain_as_published=true should see Retain=true")
	}
	if pubFalse.Retain {
		t.Error("subscriber with retain_as_published=false should see Retain=false")
	}
}

func TestDistributeStoresRetainedMessage(t *testing.T) {
	b := newTestBroker(t)

	msg := &storage.Message{Topic: "status/online", QoS: 0, Retain: true}
	msg.SetPayloadFromBytes([]byte("1"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	retained, err := b.store.Retained().Match(context.Background(), "status/online")
	if err != nil {
		t.Fatalf("Retained().Match: %v", err)
	}
	if len(retained) != 1 {
		t.Fatalf("retained messages for status/online = %d, want 1", len(retained))
	}

	// An empty-payload retained publish clears it.
	clear := &storage.Message{Topic: "status/online", QoS: 0, Retain: true}
	if err := b.distribute(context.Background(), clear, "publisher"); err != nil {
		t.Fatalf("distribute clear: %v", err)
	}
	retained, err = b.store.Retained().Match(context.Background(), "status/online")
	if err != nil {
		t.Fatalf("Retained().Match after clear: %v", err)
	}
	if len(retained) != 0 {
		t.Fatalf("retained messages after empty-payload publish = %d, want 0", len(retained))
	}
}

func TestDistributeSharedSubscriptionPicksOneMember(t *testing.T) {
	b := newTestBroker(t)

	_, connA := connectSession(t, b, "worker-a", packets.V5)
	_, connB := connectSession(t, b, "worker-b", packets.V5)
	sessA := b.sessions.Get("worker-a")
	sessB := b.sessions.Get("worker-b")

	subscribe(t, b, sessA, "$share/workers/jobs", 0, storage.SubscribeOptions{})
	subscribe(t, b, sessB, "$share/workers/jobs", 0, storage.SubscribeOptions{})

	msg := &storage.Message{Topic: "jobs", QoS: 0}
	msg.SetPayloadFromBytes([]byte("task"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	total := len(connA.written) + len(connB.written)
	if total != 1 {
		t.Fatalf("shared subscription delivered to %d connections total, want exactly 1", total)
	}
}

func TestDistributeToDisconnectedSessionQueuesOffline(t *testing.T) {
	b := newTestBroker(t)

	sess, conn := connectSession(t, b, "flaky", packets.V5)
	subscribe(t, b, sess, "inbox", 1, storage.SubscribeOptions{})
	sess.Disconnect(true)

	msg := &storage.Message{Topic: "inbox", QoS: 1}
	msg.SetPayloadFromBytes([]byte("while you were away"))

	if err := b.distribute(context.Background(), msg, "publisher"); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	if len(conn.written) != 0 {
		t.Fatalf("disconnected session's closed connection got %d writes, want 0", len(conn.written))
	}

	queued := b.sessions.DrainOfflineQueue("flaky")
	if len(queued) != 1 {
		t.Fatalf("offline queue length = %d, want 1", len(queued))
	}
	if queued[0].Topic != "inbox" {
		t.Errorf("queued message topic = %q, want inbox", queued[0].Topic)
	}
}
