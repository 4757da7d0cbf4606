// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v5

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// UNSUBACK reason codes.
const (
	UnsubAckSuccess                = 0x00
	UnsubAckNoSubscriptionExisted  = 0x11
	UnsubAckUnspecifiedError       = 0x80
	UnsubAckImplementationSpecific = 0x83
	UnsubAckNotAuthorized          = 0x87
	UnsubAckTopicFilterInvalid     = 0x8F
	UnsubAckPacketIdentifierInUse  = 0x91
)

// Unsubscribe represents the MQTT 5.0 UNSUBSCRIBE packet.
type Unsubscribe struct {
	packets.FixedHeader
	ID         uint16
	Properties *BasicProperties
	Filters    []string
}

func (u *Unsubscribe) Type() byte { return packets.UnsubscribeType }

func (u *Unsubscribe) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nFilters: %v\n", u.FixedHeader, u.ID, u.Filters)
}

func (u *Unsubscribe) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(u.ID)...)

	if u.Properties != nil {
		body = append(body, encodeProperties(u.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

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

	props, err := unpackBasicProperties(r)
	if err != nil {
		return err
	}
	u.Properties = props

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

// UnsubAck represents the MQTT 5.0 UNSUBACK packet.
type UnsubAck struct {
	packets.FixedHeader
	ID          uint16
	Properties  *BasicProperties
	ReasonCodes []byte
}

func (u *UnsubAck) Type() byte { return packets.UnsubAckType }

func (u *UnsubAck) String() string {
	return fmt.Sprintf("%s\nPacketID: %d\nReasonCodes: %v\n", u.FixedHeader, u.ID, u.ReasonCodes)
}

func (u *UnsubAck) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeUint16(u.ID)...)

	if u.Properties != nil {
		body = append(body, encodeProperties(u.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	body = append(body, u.ReasonCodes...)

	u.FixedHeader.RemainingLength = len(body)
	return append(u.FixedHeader.Encode(), body...)
}

func (u *UnsubAck) Unpack(r io.Reader) error {
	var err error
	if u.ID, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	props, err := unpackBasicProperties(r)
	if err != nil {
		return err
	}
	u.Properties = props

	u.ReasonCodes, err = io.ReadAll(r)
	return err
}

func (u *UnsubAck) Pack(w io.Writer) error {
	_, err := w.Write(u.Encode())
	return err
}

func (u *UnsubAck) Details() packets.Details {
	return packets.Details{Type: packets.UnsubAckType, ID: u.ID}
}
