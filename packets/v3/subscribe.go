// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// SUBACK return codes.
const (
	SubAckGrantedQoS0 = 0x00
	SubAckGrantedQoS1 = 0x01
	SubAckGrantedQoS2 = 0x02
	SubAckFailure     = 0x80
)

// TopicFilter pairs a filter with the QoS requested for it in SUBSCRIBE.
type TopicFilter struct {
	Filter string
	QoS    byte
}

// Subscribe represents the MQTT 3.1.1 SUBSCRIBE packet.
type Subscribe struct {
	packets.FixedHeader
	ID      uint16
	Filters []TopicFilter
}

func (s *Subscribe) Type() byte { return packets.SubscribeType }

func (s *Subscribe) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nFilters: %v\n", s.FixedHeader, s.ID, s.Filters)
}

func (s *Subscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.ID)...)
	for _, f := range s.Filters {
		body = append(body, codec.EncodeString(f.Filter)...)
		body = append(body, f.QoS)
	}

	s.FixedHeader.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *Subscribe) Unpack(r io.Reader) error {
	var err error
	if s.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	for {
		filter, err := codec.DecodeString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		qos, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}

		s.Filters = append(s.Filters, TopicFilter{Filter: filter, QoS: qos & 0x03})
	}

	if len(s.Filters) == 0 {
		return packets.ErrMalformedPacket
	}
	return nil
}

func (s *Subscribe) Pack(w io.Writer) error {
	_, err := w.Write(s.Encode())
	return err
}

func (s *Subscribe) Details() packets.Details {
	return packets.Details{Type: packets.SubscribeType, ID: s.ID}
}

// SubAck represents the MQTT 3.1.1 SUBACK packet.
type SubAck struct {
	packets.FixedHeader
	ID          uint16
	ReturnCodes []byte
}

func (s *SubAck) Type() byte { return packets.SubAckType }

func (s *SubAck) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nReturnCodes: %v\n", s.FixedHeader, s.ID, s.ReturnCodes)
}

func (s *SubAck) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.ID)...)
	body = append(body, s.ReturnCodes...)

	s.FixedHeader.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *SubAck) Unpack(r io.Reader) error {
	var err error
	if s.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	s.ReturnCodes, err = io.ReadAll(r)
	return err
}

func (s *SubAck) Pack(w io.Writer) error {
	_, err := w.Write(s.Encode())
	return err
}

func (s *SubAck) Details() packets.Details {
	return packets.Details{Type: packets.SubAckType, ID: s.ID}
}

// Unsubscribe represents the MQTT 3.1.1 UNSUBSCRIBE packet.
type Unsubscribe struct {
	packets.FixedHeader
	ID      uint16
	Filters []string
}

func (u *Unsubscribe) Type() byte { return packets.UnsubscribeType }

func (u *Unsubscribe) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nFilters: %v\n", u.FixedHeader, u.ID, u.Filters)
}

func (u *Unsubscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(u.ID)...)
	for _, f := range u.Filters {
		body = append(body, codec.EncodeString(f)...)
	}

	u.FixedHeader.RemainingLength = len(body)
	return append(u.FixedHeader.Encode(), body...)
}

func (u *Unsubscribe) Unpack(r io.Reader) error {
	var err error
	if u.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	for {
		filter, err := codec.DecodeString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		u.Filters = append(u.Filters, filter)
	}

	if len(u.Filters) == 0 {
		return packets.ErrMalformedPacket
	}
	return nil
}

func (u *Unsubscribe) Pack(w io.Writer) error {
	_, err := w.Write(u.Encode())
	return err
}

func (u *Unsubscribe) Details() packets.Details {
	return packets.Details{Type: packets.UnsubscribeType, ID: u.ID}
}

// UnsubAck represents the MQTT 3.1.1 UNSUBACK packet.
type UnsubAck struct {
	packets.FixedHeader
	ID uint16
}

func (u *UnsubAck) Type() byte { return packets.UnsubAckType }

func (u *UnsubAck) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\n", u.FixedHeader, u.ID)
}

func (u *UnsubAck) Encode() []byte {
	body := codec.EncodeUint16(u.ID)
	u.FixedHeader.RemainingLength = len(body)
	return append(u.FixedHeader.Encode(), body...)
}

func (u *UnsubAck) Unpack(r io.Reader) error {
	var err error
	u.ID, err = codec.DecodeUint16(r)
	return err
}

func (u *UnsubAck) Pack(w io.Writer) error {
	_, err := w.Write(u.Encode())
	return err
}

func (u *UnsubAck) Details() packets.Details {
	return packets.Details{Type: packets.UnsubAckType, ID: u.ID}
}
