// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package packets defines the constants, fixed header, and ControlPacket
// interface shared by the version-specific codecs in packets/v3 and
// packets/v5. A connection sniffs the protocol version off CONNECT and then
// binds to one version's decoder for the rest of its lifetime.
package packets

import (
	"errors"
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets/codec"
)

// ErrMalformedPacket is returned when a packet's structure violates a
// protocol-level constraint that the codec layer doesn't already catch
// (e.g. a reserved bit set in CONNECT's flags byte).
var ErrMalformedPacket = errors.New("packets: malformed packet")

// Protocol version constants, as carried in CONNECT's protocol level field.
const (
	V31  byte = 0x03
	V311 byte = 0x04
	V5   byte = 0x05
)

// Packet type constants.
const (
	ConnectType = iota + 1 // 0 is reserved/forbidden
	ConnAckType
	PublishType
	PubAckType
	PubRecType
	PubRelType
	PubCompType
	SubscribeType
	SubAckType
	UnsubscribeType
	UnsubAckType
	PingReqType
	PingRespType
	DisconnectType
	AuthType // MQTT 5.0 only
)

// PacketNames maps packet type constants to their wire names.
var PacketNames = map[byte]string{
	ConnectType:     "CONNECT",
	ConnAckType:     "CONNACK",
	PublishType:     "PUBLISH",
	PubAckType:      "PUBACK",
	PubRecType:      "PUBREC",
	PubRelType:      "PUBREL",
	PubCompType:     "PUBCOMP",
	SubscribeType:   "SUBSCRIBE",
	SubAckType:      "SUBACK",
	UnsubscribeType: "UNSUBSCRIBE",
	UnsubAckType:    "UNSUBACK",
	PingReqType:     "PINGREQ",
	PingRespType:    "PINGRESP",
	DisconnectType:  "DISCONNECT",
	AuthType:        "AUTH",
}

// ControlPacket is satisfied by every packet type in both packets/v3 and
// packets/v5.
type ControlPacket interface {
	// Pack writes the encoded packet to w.
	Pack(w io.Writer) error

	// Unpack reads and decodes the packet body from r. The fixed header
	// has already been consumed by the caller.
	Unpack(r io.Reader) error

	// Type returns the packet type constant.
	Type() byte

	// String returns a human-readable representation, for logging.
	String() string
}

// Details carries the fields the QoS engine needs without a type switch.
type Details struct {
	Type byte
	ID   uint16
	QoS  byte
}

// Detailer is implemented by packets the QoS engine inspects (PUBLISH and
// the acknowledgement packets).
type Detailer interface {
	Details() Details
}

// FixedHeader is the 2-5 byte header present on every MQTT control packet.
type FixedHeader struct {
	PacketType      byte
	Dup             bool
	QoS             byte
	Retain          bool
	RemainingLength int
}

func (fh FixedHeader) String() string {
	return fmt.Sprintf("type: %s dup: %t qos: %d retain: %t remaining_length: %d",
		PacketNames[fh.PacketType], fh.Dup, fh.QoS, fh.Retain, fh.RemainingLength)
}

// Encode serializes the fixed header, including the remaining-length VBI.
func (fh FixedHeader) Encode() []byte {
	var dup, retain byte
	if fh.Dup {
		dup = 1
	}
	if fh.Retain {
		retain = 1
	}
	b := []byte{fh.PacketType<<4 | dup<<3 | fh.QoS<<1 | retain}
	return append(b, codec.EncodeVBI(fh.RemainingLength)...)
}

// Decode parses the fixed header given the already-read type/flags byte and
// a reader positioned at the remaining-length VBI.
func (fh *FixedHeader) Decode(typeAndFlags byte, r io.Reader) error {
	fh.PacketType = typeAndFlags >> 4
	fh.Dup = (typeAndFlags>>3)&0x01 > 0
	fh.QoS = (typeAndFlags >> 1) & 0x03
	fh.Retain = typeAndFlags&0x01 > 0

	var err error
	fh.RemainingLength, err = codec.DecodeVBI(r)
	return err
}

// DecodeFromBytes parses the fixed header from a byte slice, returning the
// number of bytes consumed.
func (fh *FixedHeader) DecodeFromBytes(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, codec.ErrBufferTooShort
	}

	fh.PacketType = data[0] >> 4
	fh.Dup = (data[0]>>3)&0x01 > 0
	fh.QoS = (data[0] >> 1) & 0x03
	fh.Retain = data[0]&0x01 > 0

	length, n, err := codec.DecodeVBIFromBytes(data[1:])
	if err != nil {
		return 0, err
	}
	fh.RemainingLength = length
	return 1 + n, nil
}
