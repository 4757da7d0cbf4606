// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// PubAck represents the MQTT 3.1.1 PUBACK packet, acknowledging a QoS 1
// PUBLISH.
type PubAck struct {
	packets.FixedHeader
	ID uint16
}

func (p *PubAck) String() string { return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID) }
func (p *PubAck) Type() byte     { return packets.PubAckType }

func (p *PubAck) Encode() []byte {
	body := codec.EncodeUint16(p.ID)
	p.FixedHeader.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *PubAck) Unpack(r io.Reader) error {
	var err error
	p.ID, err = codec.DecodeUint16(r)
	return err
}

func (p *PubAck) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

func (p *PubAck) Details() packets.Details {
	return packets.Details{Type: packets.PubAckType, ID: p.ID}
}

// PubRec represents the MQTT 3.1.1 PUBREC packet, the first step of the
// QoS 2 handshake's acknowledgement.
type PubRec struct {
	packets.FixedHeader
	ID uint16
}

func (p *PubRec) String() string { return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID) }
func (p *PubRec) Type() byte     { return packets.PubRecType }

func (p *PubRec) Encode() []byte {
	body := codec.EncodeUint16(p.ID)
	p.FixedHeader.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *PubRec) Unpack(r io.Reader) error {
	var err error
	p.ID, err = codec.DecodeUint16(r)
	return err
}

func (p *PubRec) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

func (p *PubRec) Details() packets.Details {
	return packets.Details{Type: packets.PubRecType, ID: p.ID}
}

// PubRel represents the MQTT 3.1.1 PUBREL packet, the third step of the
// QoS 2 handshake. Its fixed header flags are fixed at 0x02 per spec.
type PubRel struct {
	packets.FixedHeader
	ID uint16
}

func (p *PubRel) String() string { return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID) }
func (p *PubRel) Type() byte     { return packets.PubRelType }

func (p *PubRel) Encode() []byte {
	p.FixedHeader.QoS = 1 // flags nibble 0x02, encoded via FixedHeader's QoS<<1 shift
	body := codec.EncodeUint16(p.ID)
	p.FixedHeader.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *PubRel) Unpack(r io.Reader) error {
	var err error
	p.ID, err = codec.DecodeUint16(r)
	return err
}

func (p *PubRel) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

func (p *PubRel) Details() packets.Details {
	return packets.Details{Type: packets.PubRelType, ID: p.ID}
}

// PubComp represents the MQTT 3.1.1 PUBCOMP packet, the final step of the
// QoS 2 handshake.
type PubComp struct {
	packets.FixedHeader
	ID uint16
}

func (p *PubComp) String() string { return fmt.Sprintf("%s\nPacketID: %d\n", p.FixedHeader, p.ID) }
func (p *PubComp) Type() byte     { return packets.PubCompType }

func (p *PubComp) Encode() []byte {
	body := codec.EncodeUint16(p.ID)
	p.FixedHeader.RemainingLength = len(body)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *PubComp) Unpack(r io.Reader) error {
	var err error
	p.ID, err = codec.DecodeUint16(r)
	return err
}

func (p *PubComp) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

func (p *PubComp) Details() packets.Details {
	return packets.Details{Type: packets.PubCompType, ID: p.ID}
}
