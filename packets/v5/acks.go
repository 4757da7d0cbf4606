// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v5

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// PUBACK/PUBREC reason codes.
const (
	PubAckSuccess                     = 0x00
	PubAckNoMatchingSubscribers       = 0x10
	PubAckUnspecifiedError            = 0x80
	PubAckImplementationSpecificError = 0x83
	PubAckNotAuthorized               = 0x87
	PubAckTopicNameInvalid            = 0x90
	PubAckPacketIdentifierInUse       = 0x91
	PubAckQuotaExceeded               = 0x97
	PubAckPayloadFormatInvalid        = 0x99
)

// PUBREL/PUBCOMP reason codes.
const (
	PubRelSuccess                 = 0x00
	PubRelPacketIdentifierNotFound = 0x92
)

// ackPacket is the shared shape of PUBACK, PUBREC, PUBREL and PUBCOMP: a
// packet ID, an optional reason code, and optional BasicProperties. MQTT
// 5.0 allows the reason code and properties to be omitted entirely when
// the reason is Success and there's nothing else to say (RemainingLength
// == 2).
type ackPacket struct {
	packets.FixedHeader
	ID         uint16
	ReasonCode *byte
	Properties *BasicProperties
}

func (a *ackPacket) encode() []byte {
	body := codec.EncodeUint16(a.ID)

	if a.ReasonCode == nil && a.Properties == nil {
		a.FixedHeader.RemainingLength = len(body)
		return append(a.FixedHeader.Encode(), body...)
	}

	if a.ReasonCode != nil {
		body = append(body, *a.ReasonCode)
	} else {
		body = append(body, 0)
	}

	if a.Properties != nil {
		body = append(body, encodeProperties(a.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	a.FixedHeader.RemainingLength = len(body)
	return append(a.FixedHeader.Encode(), body...)
}

func (a *ackPacket) unpack(r io.Reader) error {
	var err error
	if a.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	rc, err := codec.DecodeByte(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	a.ReasonCode = &rc

	props, err := unpackBasicProperties(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	a.Properties = props
	return nil
}

// PubAck represents the MQTT 5.0 PUBACK packet.
type PubAck struct{ ackPacket }

func (p *PubAck) Type() byte { return packets.PubAckType }
func (p *PubAck) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID)
}
func (p *PubAck) Encode() []byte         { return p.encode() }
func (p *PubAck) Unpack(r io.Reader) error { return p.unpack(r) }
func (p *PubAck) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}
func (p *PubAck) Details() packets.Details {
	return packets.Details{Type: packets.PubAckType, ID: p.ID}
}

// PubRec represents the MQTT 5.0 PUBREC packet.
type PubRec struct{ ackPacket }

func (p *PubRec) Type() byte { return packets.PubRecType }
func (p *PubRec) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID)
}
func (p *PubRec) Encode() []byte         { return p.encode() }
func (p *PubRec) Unpack(r io.Reader) error { return p.unpack(r) }
func (p *PubRec) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}
func (p *PubRec) Details() packets.Details {
	return packets.Details{Type: packets.PubRecType, ID: p.ID}
}

// PubRel represents the MQTT 5.0 PUBREL packet.
type PubRel struct{ ackPacket }

func (p *PubRel) Type() byte { return packets.PubRelType }
func (p *PubRel) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID)
}
func (p *PubRel) Encode() []byte {
	p.FixedHeader.QoS = 1
	return p.encode()
}
func (p *PubRel) Unpack(r io.Reader) error { return p.unpack(r) }
func (p *PubRel) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}
func (p *PubRel) Details() packets.Details {
	return packets.Details{Type: packets.PubRelType, ID: p.ID}
}

// PubComp represents the MQTT 5.0 PUBCOMP packet.
type PubComp struct{ ackPacket }

func (p *PubComp) Type() byte { return packets.PubCompType }
func (p *PubComp) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID)
}
func (p *PubComp) Encode() []byte         { return p.encode() }
func (p *PubComp) Unpack(r io.Reader) error { return p.unpack(r) }
func (p *PubComp) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}
func (p *PubComp) Details() packets.Details {
	return packets.Details{Type: packets.PubCompType, ID: p.ID}
}
