// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"time"

	"github.com/frenzox/mercurio/storage"
)

func unixNano(n int64) time.Time {
	return time.Unix(0, n)
}

// wireMessage is the on-disk form of storage.Message. storage.Message
// carries its payload in a *buffer.RefCounted for zero-copy fan-out; that
// type has no exported fields for JSON to walk, so persistence flattens it
// to a plain byte slice and rehydrates a fresh buffer on load.
type wireMessage struct {
	Expiry          int64
	PublishTime     int64
	Payload         []byte
	CorrelationData []byte
	SubscriptionIDs []uint32
	Topic           string
	ContentType     string
	ResponseTopic   string
	Properties      map[string]string
	UserProperties  map[string]string
	MessageExpiry   *uint32
	PayloadFormat   *byte
	PacketID        uint16
	QoS             byte
	Retain          bool
}

func toWire(msg *storage.Message) *wireMessage {
	return &wireMessage{
		Expiry:          msg.Expiry.UnixNano(),
		PublishTime:     msg.PublishTime.UnixNano(),
		Payload:         msg.GetPayload(),
		CorrelationData: msg.CorrelationData,
		SubscriptionIDs: msg.SubscriptionIDs,
		Topic:           msg.Topic,
		ContentType:     msg.ContentType,
		ResponseTopic:   msg.ResponseTopic,
		Properties:      msg.Properties,
		UserProperties:  msg.UserProperties,
		MessageExpiry:   msg.MessageExpiry,
		PayloadFormat:   msg.PayloadFormat,
		PacketID:        msg.PacketID,
		QoS:             msg.QoS,
		Retain:          msg.Retain,
	}
}

func fromWire(w *wireMessage) *storage.Message {
	msg := &storage.Message{
		CorrelationData: w.CorrelationData,
		SubscriptionIDs: w.SubscriptionIDs,
		Topic:           w.Topic,
		ContentType:     w.ContentType,
		ResponseTopic:   w.ResponseTopic,
		Properties:      w.Properties,
		UserProperties:  w.UserProperties,
		MessageExpiry:   w.MessageExpiry,
		PayloadFormat:   w.PayloadFormat,
		PacketID:        w.PacketID,
		QoS:             w.QoS,
		Retain:          w.Retain,
	}
	if w.Expiry != 0 {
		msg.Expiry = unixNano(w.Expiry)
	}
	if w.PublishTime != 0 {
		msg.PublishTime = unixNano(w.PublishTime)
	}
	msg.SetPayloadFromBytes(w.Payload)
	return msg
}

// willWire is the on-disk form of a stored will message. It flattens
// storage.WillMessage and the disconnect timestamp needed to compute the
// will's trigger time into one record, with the timestamp stored as unix
// nanos for consistency with wireMessage rather than letting time.Time's
// own JSON form leak onto disk.
type willWire struct {
	Payload        []byte
	ClientID       string
	Topic          string
	Properties     map[string]string
	DisconnectedAt int64
	Delay          uint32
	Expiry         uint32
	QoS            byte
	Retain         bool
}

func toWireWill(will *storage.WillMessage, disconnectedAt time.Time) *willWire {
	return &willWire{
		Payload:        will.Payload,
		ClientID:       will.ClientID,
		Topic:          will.Topic,
		Properties:     will.Properties,
		DisconnectedAt: disconnectedAt.UnixNano(),
		Delay:          will.Delay,
		Expiry:         will.Expiry,
		QoS:            will.QoS,
		Retain:         will.Retain,
	}
}

func (w *willWire) will() *storage.WillMessage {
	return &storage.WillMessage{
		Payload:    w.Payload,
		ClientID:   w.ClientID,
		Topic:      w.Topic,
		Properties: w.Properties,
		Delay:      w.Delay,
		Expiry:     w.Expiry,
		QoS:        w.QoS,
		Retain:     w.Retain,
	}
}

func (w *willWire) triggerTime() time.Time {
	return unixNano(w.DisconnectedAt).Add(time.Duration(w.Delay) * time.Second)
}
