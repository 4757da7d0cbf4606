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

// CONNACK reason codes.
const (
	ConnAckSuccess                    = 0x00
	ConnAckUnspecifiedError           = 0x80
	ConnAckMalformedPacket            = 0x81
	ConnAckProtocolError              = 0x82
	ConnAckUnsupportedProtocolVersion = 0x84
	ConnAckClientIDNotValid           = 0x85
	ConnAckBadUsernameOrPassword      = 0x86
	ConnAckNotAuthorized              = 0x87
	ConnAckServerUnavailable          = 0x88
	ConnAckBanned                     = 0x8A
	ConnAckQuotaExceeded              = 0x97
)

// ConnAckProperties carries the CONNACK-only properties of MQTT 5.0.
type ConnAckProperties struct {
	SessionExpiryInterval *uint32
	ReceiveMaximum        *uint16
	MaximumQoS            *byte
	RetainAvailable       *bool
	MaximumPacketSize     *uint32
	AssignedClientID      string
	TopicAliasMaximum     *uint16
	ReasonString          string
	WildcardSubAvailable  *bool
	SubIDAvailable        *bool
	SharedSubAvailable    *bool
	ServerKeepAlive       *uint16
	ResponseInfo          string
	ServerReference       string
	AuthMethod            string
	AuthData              []byte
	User                  []User
}

func (p *ConnAckProperties) Unpack(r io.Reader) error {
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
		case ReceiveMaximumProp:
			v, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.ReceiveMaximum = &v
		case MaximumQOSProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.MaximumQoS = &v
		case RetainAvailableProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.RetainAvailable = &b
		case MaximumPacketSizeProp:
			v, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MaximumPacketSize = &v
		case AssignedClientIDProp:
			if p.AssignedClientID, err = codec.DecodeString(r); err != nil {
				return err
			}
		case TopicAliasMaximumProp:
			v, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAliasMaximum = &v
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
				return err
			}
		case WildcardSubAvailableProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.WildcardSubAvailable = &b
		case SubIDAvailableProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.SubIDAvailable = &b
		case SharedSubAvailableProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.SharedSubAvailable = &b
		case ServerKeepAliveProp:
			v, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.ServerKeepAlive = &v
		case ResponseInfoProp:
			if p.ResponseInfo, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ServerReferenceProp:
			if p.ServerReference, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthMethodProp:
			if p.AuthMethod, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthDataProp:
			if p.AuthData, err = codec.DecodeBytes(r); err != nil {
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
			return fmt.Errorf("v5: invalid property 0x%x for CONNACK", prop)
		}
	}
}

func (p *ConnAckProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReceiveMaximum != nil {
		ret = append(ret, ReceiveMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.ReceiveMaximum)...)
	}
	if p.MaximumQoS != nil {
		ret = append(ret, MaximumQOSProp, *p.MaximumQoS)
	}
	if p.RetainAvailable != nil {
		ret = append(ret, RetainAvailableProp, codec.EncodeBool(*p.RetainAvailable))
	}
	if p.MaximumPacketSize != nil {
		ret = append(ret, MaximumPacketSizeProp)
		ret = append(ret, codec.EncodeUint32(*p.MaximumPacketSize)...)
	}
	if p.AssignedClientID != "" {
		ret = append(ret, AssignedClientIDProp)
		ret = append(ret, codec.EncodeString(p.AssignedClientID)...)
	}
	if p.TopicAliasMaximum != nil {
		ret = append(ret, TopicAliasMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAliasMaximum)...)
	}
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	if p.WildcardSubAvailable != nil {
		ret = append(ret, WildcardSubAvailableProp, codec.EncodeBool(*p.WildcardSubAvailable))
	}
	if p.SubIDAvailable != nil {
		ret = append(ret, SubIDAvailableProp, codec.EncodeBool(*p.SubIDAvailable))
	}
	if p.SharedSubAvailable != nil {
		ret = append(ret, SharedSubAvailableProp, codec.EncodeBool(*p.SharedSubAvailable))
	}
	if p.ServerKeepAlive != nil {
		ret = append(ret, ServerKeepAliveProp)
		ret = append(ret, codec.EncodeUint16(*p.ServerKeepAlive)...)
	}
	if p.ResponseInfo != "" {
		ret = append(ret, ResponseInfoProp)
		ret = append(ret, codec.EncodeString(p.ResponseInfo)...)
	}
	if p.ServerReference != "" {
		ret = append(ret, ServerReferenceProp)
		ret = append(ret, codec.EncodeString(p.ServerReference)...)
	}
	if p.AuthMethod != "" {
		ret = append(ret, AuthMethodProp)
		ret = append(ret, codec.EncodeString(p.AuthMethod)...)
	}
	if len(p.AuthData) > 0 {
		ret = append(ret, AuthDataProp)
		ret = append(ret, codec.EncodeBytes(p.AuthData)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// ConnAck represents the MQTT 5.0 CONNACK packet.
type ConnAck struct {
	packets.FixedHeader
	SessionPresent bool
	ReasonCode     byte
	Properties     *ConnAckProperties
}

func (c *ConnAck) Type() byte { return packets.ConnAckType }

func (c *ConnAck) String() string {
	return fmt.Sprintf("%s\nSessionPresent: %t\nReasonCode: %d\n", c.FixedHeader, c.SessionPresent, c.ReasonCode)
}

func (c *ConnAck) Encode() []byte {
	var flags byte
	if c.SessionPresent {
		flags = 0x01
	}

	body := []byte{flags, c.ReasonCode}
	if c.Properties != nil {
		body = append(body, encodeProperties(c.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	c.FixedHeader.RemainingLength = len(body)
	return append(c.FixedHeader.Encode(), body...)
}

func (c *ConnAck) Unpack(r io.Reader) error {
	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	c.SessionPresent = flags&0x01 != 0

	if c.ReasonCode, err = codec.DecodeByte(r); err != nil {
		return err
	}

	raw, err := decodeProperties(r)
	if err != nil {
		return err
	}
	if raw != nil {
		p := &ConnAckProperties{}
		if err := p.Unpack(bytes.NewReader(raw)); err != nil {
			return err
		}
		c.Properties = p
	}

	return nil
}

func (c *ConnAck) Pack(w io.Writer) error {
	_, err := w.Write(c.Encode())
	return err
}
