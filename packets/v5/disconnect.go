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

// DISCONNECT reason codes.
const (
	DisconnectNormal                 = 0x00
	DisconnectWithWillMessage        = 0x04
	DisconnectUnspecifiedError       = 0x80
	DisconnectMalformedPacket        = 0x81
	DisconnectProtocolError          = 0x82
	DisconnectNotAuthorized          = 0x87
	DisconnectServerBusy             = 0x89
	DisconnectServerShuttingDown     = 0x8B
	DisconnectKeepAliveTimeout       = 0x8D
	DisconnectSessionTakenOver       = 0x8E
	DisconnectTopicFilterInvalid     = 0x8F
	DisconnectTopicNameInvalid       = 0x90
	DisconnectReceiveMaximumExceeded = 0x93
	DisconnectMaximumConnectTime     = 0xA0
)

// DisconnectProperties carries the DISCONNECT-only properties.
type DisconnectProperties struct {
	SessionExpiryInterval *uint32
	ReasonString          string
	ServerReference       string
	User                  []User
}

func (p *DisconnectProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
		case SessionExpiryIntervalProp:
			v, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.SessionExpiryInterval = &v
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ServerReferenceProp:
			if p.ServerReference, err = codec.DecodeString(r); err != nil {
				return err
			}
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
			return fmt.Errorf("v5: invalid property 0x%x for DISCONNECT", prop)
		}
	}
}

func (p *DisconnectProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	if p.ServerReference != "" {
		ret = append(ret, ServerReferenceProp)
		ret = append(ret, codec.EncodeString(p.ServerReference)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Disconnect represents the MQTT 5.0 DISCONNECT packet. A bare DISCONNECT
// (RemainingLength == 0) defaults to reason code Normal with no
// properties, in either direction.
type Disconnect struct {
	packets.FixedHeader
	ReasonCode byte
	Properties *DisconnectProperties
}

func (d *Disconnect) Type() byte { return packets.DisconnectType }

func (d *Disconnect) String() string {
	return fmt.Sprintf("%s\nReasonCode: %d\n", d.FixedHeader, d.ReasonCode)
}

func (d *Disconnect) Encode() []byte {
	if d.ReasonCode == DisconnectNormal && d.Properties == nil {
		d.FixedHeader.RemainingLength = 0
		return d.FixedHeader.Encode()
	}

	body := []byte{d.ReasonCode}
	if d.Properties != nil {
		body = append(body, encodeProperties(d.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	d.FixedHeader.RemainingLength = len(body)
	return append(d.FixedHeader.Encode(), body...)
}

func (d *Disconnect) Unpack(r io.Reader) error {
	if d.FixedHeader.RemainingLength == 0 {
		return nil
	}

	rc, err := codec.DecodeByte(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	d.ReasonCode = rc

	raw, err := decodeProperties(r)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	p := &DisconnectProperties{}
	if err := p.Unpack(bytes.NewReader(raw)); err != nil {
		return err
	}
	d.Properties = p
	return nil
}

func (d *Disconnect) Pack(w io.Writer) error {
	_, err := w.Write(d.Encode())
	return err
}
