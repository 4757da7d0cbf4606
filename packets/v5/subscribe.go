// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// SUBACK reason codes.
const (
	SubAckGrantedQoS0             = 0x00
	SubAckGrantedQoS1             = 0x01
	SubAckGrantedQoS2             = 0x02
	SubAckUnspecifiedError        = 0x80
	SubAckImplementationSpecific  = 0x83
	SubAckNotAuthorized           = 0x87
	SubAckTopicFilterInvalid      = 0x8F
	SubAckPacketIdentifierInUse   = 0x91
	SubAckQuotaExceeded           = 0x97
	SubAckSharedSubNotSupported   = 0x9E
	SubAckWildcardSubNotSupported = 0xA2
)

// SubscribeProperties carries the SUBSCRIBE-only properties.
type SubscribeProperties struct {
	SubscriptionID *int
	User           []User
}

func (p *SubscribeProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
		case SubscriptionIdentifierProp:
			v, err := codec.DecodeVBI(r)
			if err != nil {
				return err
			}
			p.SubscriptionID = &v
		case UserProp:
			k, err := codec.DecodeString(r)
			if err != nil {
				return err
			}
			v, err := codec.DecodeString(r)
			if err != nil {
				return err
			}
			p.User = append(p.User, User{Key: k, Value: v})
		default:
			return fmt.Errorf("v5: invalid property 0x%x for SUBSCRIBE", prop)
		}
	}
}

func (p *SubscribeProperties) Encode() []byte {
	var ret []byte
	if p.SubscriptionID != nil {
		ret = append(ret, SubscriptionIdentifierProp)
		ret = append(ret, codec.EncodeVBI(*p.SubscriptionID)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// SubscribeOptions packs the per-filter QoS and MQTT 5.0 subscribe flags
// (no local, retain as published, retain handling) into a single byte on
// the wire.
type SubscribeOptions struct {
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

func (o SubscribeOptions) encode() byte {
	b := o.QoS & 0x03
	if o.NoLocal {
		b |= 0x04
	}
	if o.RetainAsPublished {
		b |= 0x08
	}
	b |= (o.RetainHandling & 0x03) << 4
	return b
}

func decodeSubscribeOptions(b byte) SubscribeOptions {
	return SubscribeOptions{
		QoS:               b & 0x03,
		NoLocal:           b&0x04 != 0,
		RetainAsPublished: b&0x08 != 0,
		RetainHandling:    (b >> 4) & 0x03,
	}
}

// TopicFilter pairs a filter with the options requested for it in
// SUBSCRIBE.
type TopicFilter struct {
	Filter  string
	Options SubscribeOptions
}

// Subscribe represents the MQTT 5.0 SUBSCRIBE packet.
type Subscribe struct {
	packets.FixedHeader
	ID         uint16
	Properties *SubscribeProperties
	Filters    []TopicFilter
}

func (s *Subscribe) Type() byte { return packets.SubscribeType }

func (s *Subscribe) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nFilters: %v\n", s.FixedHeader, s.ID, s.Filters)
}

func (s *Subscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.ID)...)

	if s.Properties != nil {
		body = append(body, encodeProperties(s.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	for _, f := range s.Filters {
		body = append(body, codec.EncodeString(f.Filter)...)
		body = append(body, f.Options.encode())
	}

	s.FixedHeader.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *Subscribe) Unpack(r io.Reader) error {
	var err error
	if s.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	raw, err := decodeProperties(r)
	if err != nil {
		return err
	}
	if raw != nil {
		p := &SubscribeProperties{}
		if err := p.Unpack(bytes.NewReader(raw)); err != nil {
			return err
		}
		s.Properties = p
	}

	for {
		filter, err := codec.DecodeString(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		opts, err := codec.DecodeByte(r)
		if err != nil {
			return err
		}

		s.Filters = append(s.Filters, TopicFilter{Filter: filter, Options: decodeSubscribeOptions(opts)})
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

// SubAck represents the MQTT 5.0 SUBACK packet.
type SubAck struct {
	packets.FixedHeader
	ID          uint16
	Properties  *BasicProperties
	ReasonCodes []byte
}

func (s *SubAck) Type() byte { return packets.SubAckType }

func (s *SubAck) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nReasonCodes: %v\n", s.FixedHeader, s.ID, s.ReasonCodes)
}

func (s *SubAck) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(s.ID)...)

	if s.Properties != nil {
		body = append(body, encodeProperties(s.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	body = append(body, s.ReasonCodes...)

	s.FixedHeader.RemainingLength = len(body)
	return append(s.FixedHeader.Encode(), body...)
}

func (s *SubAck) Unpack(r io.Reader) error {
	var err error
	if s.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	props, err := unpackBasicProperties(r)
	if err != nil {
		return err
	}
	s.Properties = props

	s.ReasonCodes, err = io.ReadAll(r)
	return err
}

func (s *SubAck) Pack(w io.Writer) error {
	_, err := w.Write(s.Encode())
	return err
}

func (s *SubAck) Details() packets.Details {
	return packets.Details{Type: packets.SubAckType, ID: s.ID}
}
