// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"fmt"

	"github.com/frenzox/mercurio/packets"
	v3 "github.com/frenzox/mercurio/packets/v3"
	v5 "github.com/frenzox/mercurio/packets/v5"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
)

// deliverToClient sends msg to clientID at the given effective QoS,
// attaching subIDs (v5 Subscription Identifiers) and honoring
// retainAsPublished. If the session can't take the delivery right now —
// disconnected, or its in-flight window (Receive Maximum) is full — the
// message is queued on the session's offline queue instead of dropped,
// except at QoS 0 which is fire-and-forget.
func (b *Broker) deliverToClient(clientID string, msg *storage.Message, qos byte, subIDs []uint32, retainAsPublished bool) error {
	sess := b.sessions.Get(clientID)
	if sess == nil {
		return nil
	}

	retain := msg.Retain && retainAsPublished

	if qos == 0 {
		if !sess.IsConnected() {
			return nil
		}
		pkt := buildPublish(sess, msg, 0, 0, subIDs, retain, false)
		return sess.WritePacket(pkt)
	}

	if sess.Inflight.IsFull() || !sess.IsConnected() {
		cp := storage.CopyMessage(msg)
		cp.QoS = qos
		cp.Retain = retain
		if err := b.enqueueOffline(sess, cp); err != nil {
			return fmt.Errorf("enqueue offline for %s: %w", clientID, err)
		}
		return nil
	}

	packetID := sess.NextPacketID()
	stored := storage.CopyMessage(msg)
	stored.QoS = qos
	stored.Retain = retain
	stored.PacketID = packetID

	if err := sess.Inflight.Add(packetID, stored, session.Outbound); err != nil {
		return fmt.Errorf("track in-flight delivery to %s: %w", clientID, err)
	}

	pkt := buildPublish(sess, stored, packetID, qos, subIDs, retain, false)
	return sess.WritePacket(pkt)
}

// enqueueOffline enqueues msg on the session's offline queue, applying
// the configured overflow policy when the queue is full.
func (b *Broker) enqueueOffline(sess *session.Session, msg *storage.Message) error {
	err := sess.EnqueueOffline(msg)
	if err == nil {
		return nil
	}

	switch b.cfg.QueueOverflowPolicy {
	case "drop_newest":
		return nil // the new message is simply discarded
	case "reject_publish":
		return err
	default: // drop_oldest
		sess.DequeueOffline()
		return sess.EnqueueOffline(msg)
	}
}

// buildPublish builds a version-appropriate PUBLISH packet at the given
// qos. packetID is ignored for QoS 0. subIDs carries v5 Subscription
// Identifiers (only the first is encoded — the codec's PublishProperties
// carries a single id).
func buildPublish(sess *session.Session, msg *storage.Message, packetID uint16, qos byte, subIDs []uint32, retain, dup bool) packets.ControlPacket {
	fh := packets.FixedHeader{
		PacketType: packets.PublishType,
		QoS:        qos,
		Retain:     retain,
		Dup:        dup,
	}

	if sess.Version == packets.V5 {
		p := &v5.Publish{
			FixedHeader: fh,
			TopicName:   msg.Topic,
			Payload:     msg.GetPayload(),
			ID:          packetID,
		}

		props := &v5.PublishProperties{
			ContentType:   msg.ContentType,
			ResponseTopic: msg.ResponseTopic,
		}
		if len(msg.CorrelationData) > 0 {
			props.CorrelationData = msg.CorrelationData
		}
		if msg.MessageExpiry != nil {
			props.MessageExpiry = msg.MessageExpiry
		}
		if msg.PayloadFormat != nil {
			props.PayloadFormat = msg.PayloadFormat
		}
		if len(subIDs) > 0 {
			id := int(subIDs[0])
			props.SubscriptionID = &id
		}
		p.Properties = props

		return p
	}

	return &v3.Publish{
		FixedHeader: fh,
		TopicName:   msg.Topic,
		Payload:     msg.GetPayload(),
		ID:          packetID,
	}
}

// publishMessage validates and fans out a client-originated PUBLISH.
// Authorization and retained-store updates happen here before the fan-out
// reaches any subscriber.
func (b *Broker) publishMessage(ctx context.Context, sess *session.Session, msg *storage.Message) error {
	if b.auth != nil && !b.auth.CanPublish(sess.ID, msg.Topic) {
		return ErrNotAuthorized
	}

	if b.limiter != nil && !b.limiter.AllowPublish(sess.ID, msg.QoS, len(msg.GetPayload())) {
		return ErrQuotaExceeded
	}

	return b.distribute(ctx, msg, sess.ID)
}
