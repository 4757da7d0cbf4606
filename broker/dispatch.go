// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frenzox/mercurio/packets"
	v3 "github.com/frenzox/mercurio/packets/v3"
	v5 "github.com/frenzox/mercurio/packets/v5"
	"github.com/frenzox/mercurio/session"
	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/topics"
)

// errGracefulDisconnect signals that the client sent DISCONNECT and the
// session's will (if any) must be suppressed.
var errGracefulDisconnect = errors.New("broker: graceful disconnect")

// dispatch routes one decoded packet to its handler, per the per-packet
// dispatch table in spec §4.2.
func (b *Broker) dispatch(sess *session.Session, pkt packets.ControlPacket) error {
	switch pkt.Type() {
	case packets.PublishType:
		return b.handlePublishIn(sess, pkt)
	case packets.PubAckType:
		return b.handlePubAckIn(sess, pkt)
	case packets.PubRecType:
		return b.handlePubRecIn(sess, pkt)
	case packets.PubRelType:
		return b.handlePubRelIn(sess, pkt)
	case packets.PubCompType:
		return b.handlePubCompIn(sess, pkt)
	case packets.SubscribeType:
		return b.handleSubscribeIn(sess, pkt)
	case packets.UnsubscribeType:
		return b.handleUnsubscribeIn(sess, pkt)
	case packets.PingReqType:
		return b.handlePingReqIn(sess)
	case packets.DisconnectType:
		return b.handleDisconnectIn(sess, pkt)
	default:
		return fmt.Errorf("%w: type %d in Connected state", ErrProtocolViolation, pkt.Type())
	}
}

// handlePublishIn decodes an inbound PUBLISH and runs the three QoS paths
// (spec §4.2's dispatch table and §4.5's QoS engine).
func (b *Broker) handlePublishIn(sess *session.Session, pkt packets.ControlPacket) error {
	var topic string
	var payload []byte
	var qos byte
	var retain bool
	var packetID uint16
	var v5Props *v5.PublishProperties

	switch p := pkt.(type) {
	case *v3.Publish:
		topic, payload, qos, retain, packetID = p.TopicName, p.Payload, p.QoS, p.Retain, p.ID
	case *v5.Publish:
		topic, payload, qos, retain, packetID = p.TopicName, p.Payload, p.QoS, p.Retain, p.ID
		v5Props = p.Properties
		if v5Props != nil && v5Props.TopicAlias != nil {
			alias := *v5Props.TopicAlias
			if topic == "" {
				resolved, ok := sess.ResolveInboundAlias(alias)
				if !ok {
					return fmt.Errorf("%w: unresolved topic alias %d", ErrProtocolViolation, alias)
				}
				topic = resolved
			} else {
				sess.SetInboundAlias(alias, topic)
			}
		}
	default:
		return ErrInvalidPacketType
	}

	if err := topics.ValidateTopicName(topic); err != nil {
		return fmt.Errorf("%w: %s", ErrTopicInvalid, err)
	}

	msg := storage.AcquireMessage()
	defer storage.ReleaseMessage(msg)
	msg.Topic, msg.QoS, msg.Retain, msg.PublishTime = topic, qos, retain, time.Now()
	msg.SetPayloadFromBytes(payload)
	if v5Props != nil {
		msg.ContentType = v5Props.ContentType
		msg.ResponseTopic = v5Props.ResponseTopic
		msg.CorrelationData = v5Props.CorrelationData
		msg.MessageExpiry = v5Props.MessageExpiry
		msg.PayloadFormat = v5Props.PayloadFormat
	}

	ctx := context.Background()

	switch qos {
	case 0:
		return b.publishMessage(ctx, sess, msg)

	case 1:
		if err := b.publishMessage(ctx, sess, msg); err != nil {
			return err
		}
		return b.sendPubAck(sess, packetID)

	case 2:
		if sess.Inflight.WasReceived(packetID) {
			return b.sendPubRec(sess, packetID)
		}
		if err := b.publishMessage(ctx, sess, msg); err != nil {
			return err
		}
		sess.Inflight.MarkReceived(packetID)
		return b.sendPubRec(sess, packetID)

	default:
		return fmt.Errorf("%w: QoS %d", ErrProtocolViolation, qos)
	}
}

func (b *Broker) handlePubAckIn(sess *session.Session, pkt packets.ControlPacket) error {
	packetID, _, err := ackDetails(pkt)
	if err != nil {
		return err
	}
	sess.Inflight.Ack(packetID) //nolint:errcheck // idempotent: unknown id is a no-op, not a protocol error
	return nil
}

func (b *Broker) handlePubRecIn(sess *session.Session, pkt packets.ControlPacket) error {
	packetID, _, err := ackDetails(pkt)
	if err != nil {
		return err
	}
	if updateErr := sess.Inflight.UpdateState(packetID, session.StatePubRecReceived); updateErr != nil {
		// PUBREC for an id we don't have in flight: still respond, per the
		// idempotence property for the QoS 2 handshake.
		return b.sendPubRel(sess, packetID)
	}
	return b.sendPubRel(sess, packetID)
}

func (b *Broker) handlePubRelIn(sess *session.Session, pkt packets.ControlPacket) error {
	packetID, _, err := ackDetails(pkt)
	if err != nil {
		return err
	}
	sess.Inflight.ClearReceived(packetID)
	return b.sendPubComp(sess, packetID)
}

func (b *Broker) handlePubCompIn(sess *session.Session, pkt packets.ControlPacket) error {
	packetID, _, err := ackDetails(pkt)
	if err != nil {
		return err
	}
	sess.Inflight.Ack(packetID) //nolint:errcheck // idempotent
	return nil
}

func (b *Broker) handlePingReqIn(sess *session.Session) error {
	if sess.Version == packets.V5 {
		return sess.WritePacket(&v5.PingResp{FixedHeader: packets.FixedHeader{PacketType: packets.PingRespType}})
	}
	return sess.WritePacket(&v3.PingResp{FixedHeader: packets.FixedHeader{PacketType: packets.PingRespType}})
}

// handleDisconnectIn marks the session clean unless the client is a v5
// client sending reason code DisconnectWithWillMessage, which asks the
// broker to publish the will despite an otherwise-graceful close.
func (b *Broker) handleDisconnectIn(sess *session.Session, pkt packets.ControlPacket) error {
	if d, ok := pkt.(*v5.Disconnect); ok && d.ReasonCode == v5.DisconnectWithWillMessage {
		return nil // ungraceful path: runSession's normal error-free read loop exit still triggers the will
	}
	return errGracefulDisconnect
}

// ackDetails extracts the packet id (and, where present, reason code) from
// any of PUBACK/PUBREC/PUBREL/PUBCOMP in either version.
func ackDetails(pkt packets.ControlPacket) (uint16, byte, error) {
	d, ok := pkt.(packets.Detailer)
	if !ok {
		return 0, 0, ErrInvalidPacketType
	}
	details := d.Details()
	return details.ID, 0, nil
}

func (b *Broker) sendPubAck(sess *session.Session, packetID uint16) error {
	if sess.Version == packets.V5 {
		p := &v5.PubAck{}
		p.FixedHeader = packets.FixedHeader{PacketType: packets.PubAckType}
		p.ID = packetID
		return sess.WritePacket(p)
	}
	return sess.WritePacket(&v3.PubAck{FixedHeader: packets.FixedHeader{PacketType: packets.PubAckType}, ID: packetID})
}

func (b *Broker) sendPubRec(sess *session.Session, packetID uint16) error {
	if sess.Version == packets.V5 {
		p := &v5.PubRec{}
		p.FixedHeader = packets.FixedHeader{PacketType: packets.PubRecType}
		p.ID = packetID
		return sess.WritePacket(p)
	}
	return sess.WritePacket(&v3.PubRec{FixedHeader: packets.FixedHeader{PacketType: packets.PubRecType}, ID: packetID})
}

func (b *Broker) sendPubRel(sess *session.Session, packetID uint16) error {
	if sess.Version == packets.V5 {
		p := &v5.PubRel{}
		p.FixedHeader = packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1}
		p.ID = packetID
		return sess.WritePacket(p)
	}
	return sess.WritePacket(&v3.PubRel{FixedHeader: packets.FixedHeader{PacketType: packets.PubRelType, QoS: 1}, ID: packetID})
}

func (b *Broker) sendPubComp(sess *session.Session, packetID uint16) error {
	if sess.Version == packets.V5 {
		p := &v5.PubComp{}
		p.FixedHeader = packets.FixedHeader{PacketType: packets.PubCompType}
		p.ID = packetID
		return sess.WritePacket(p)
	}
	return sess.WritePacket(&v3.PubComp{FixedHeader: packets.FixedHeader{PacketType: packets.PubCompType}, ID: packetID})
}
