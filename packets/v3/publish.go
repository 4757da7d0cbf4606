// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// Publish represents the MQTT 3.1/3.1.1 PUBLISH packet. ID is only present
// on the wire for QoS 1 and 2.
type Publish struct {
	packets.FixedHeader
	TopicName string
	Payload   []byte
	ID        uint16
}

func (p *Publish) Type() byte { return packets.PublishType }

func (p *Publish) String() string {
	return fmt.Sprintf("%s\nTopicName: %s\nPacketID: %d\nPayload: %d bytes\n",
		p.FixedHeader, p.TopicName, p.ID, len(p.Payload))
}

func (p *Publish) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeString(p.TopicName)...)
	if p.QoS > 0 {
		body = append(body, codec.EncodeUint16(p.ID)...)
	}
	body = append(body, p.Payload...)

	p.FixedHeader.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *Publish) Unpack(r io.Reader) error {
	var err error
	if p.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}

	if p.QoS > 0 {
		if p.ID, err = codec.DecodeUint16(r); err != nil {
			return err
		}
	}

	p.Payload, err = io.ReadAll(r)
	return err
}

func (p *Publish) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

func (p *Publish) Details() packets.Details {
	return packets.Details{Type: packets.PublishType, ID: p.ID, QoS: p.QoS}
}
