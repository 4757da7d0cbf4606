// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
)

// NewControlPacket allocates a zero-value packet for the given type.
func NewControlPacket(packetType byte) (packets.ControlPacket, error) {
	return NewControlPacketWithHeader(packets.FixedHeader{PacketType: packetType})
}

// NewControlPacketWithHeader allocates a packet for fh.PacketType, pre-set
// with the already-decoded fixed header.
func NewControlPacketWithHeader(fh packets.FixedHeader) (packets.ControlPacket, error) {
	switch fh.PacketType {
	case packets.ConnectType:
		return &Connect{FixedHeader: fh}, nil
	case packets.ConnAckType:
		return &ConnAck{FixedHeader: fh}, nil
	case packets.PublishType:
		return &Publish{FixedHeader: fh}, nil
	case packets.PubAckType:
		return &PubAck{ackPacket{FixedHeader: fh}}, nil
	case packets.PubRecType:
		return &PubRec{ackPacket{FixedHeader: fh}}, nil
	case packets.PubRelType:
		return &PubRel{ackPacket{FixedHeader: fh}}, nil
	case packets.PubCompType:
		return &PubComp{ackPacket{FixedHeader: fh}}, nil
	case packets.SubscribeType:
		return &Subscribe{FixedHeader: fh}, nil
	case packets.SubAckType:
		return &SubAck{FixedHeader: fh}, nil
	case packets.UnsubscribeType:
		return &Unsubscribe{FixedHeader: fh}, nil
	case packets.UnsubAckType:
		return &UnsubAck{FixedHeader: fh}, nil
	case packets.PingReqType:
		return &PingReq{FixedHeader: fh}, nil
	case packets.PingRespType:
		return &PingResp{FixedHeader: fh}, nil
	case packets.DisconnectType:
		return &Disconnect{FixedHeader: fh}, nil
	case packets.AuthType:
		return &Auth{FixedHeader: fh}, nil
	default:
		return nil, fmt.Errorf("v5: unknown packet type %d", fh.PacketType)
	}
}

// ReadPacket reads exactly one control packet off r.
func ReadPacket(r io.Reader) (packets.ControlPacket, error) {
	b := make([]byte, 1)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	var fh packets.FixedHeader
	if err := fh.Decode(b[0], r); err != nil {
		return nil, err
	}

	body := make([]byte, fh.RemainingLength)
	if fh.RemainingLength > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}

	cp, err := NewControlPacketWithHeader(fh)
	if err != nil {
		return nil, err
	}
	if err := cp.Unpack(bytes.NewReader(body)); err != nil {
		return nil, err
	}

	return cp, nil
}
