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

// ConnectProperties carries the CONNECT-only properties of MQTT 5.0.
type ConnectProperties struct {
	SessionExpiryInterval *uint32
	ReceiveMaximum        *uint16
	MaximumPacketSize     *uint32
	TopicAliasMaximum     *uint16
	RequestResponseInfo   *bool
	RequestProblemInfo    *bool
	AuthMethod            string
	AuthData              []byte
	User                  []User
}

func (p *ConnectProperties) Unpack(r io.Reader) error {
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
		case MaximumPacketSizeProp:
			v, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MaximumPacketSize = &v
		case TopicAliasMaximumProp:
			v, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAliasMaximum = &v
		case RequestResponseInfoProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.RequestResponseInfo = &b
		case RequestProblemInfoProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			b := v != 0
			p.RequestProblemInfo = &b
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
			return fmt.Errorf("v5: invalid property 0x%x for CONNECT", prop)
		}
	}
}

func (p *ConnectProperties) Encode() []byte {
	var ret []byte
	if p.SessionExpiryInterval != nil {
		ret = append(ret, SessionExpiryIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.SessionExpiryInterval)...)
	}
	if p.ReceiveMaximum != nil {
		ret = append(ret, ReceiveMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.ReceiveMaximum)...)
	}
	if p.MaximumPacketSize != nil {
		ret = append(ret, MaximumPacketSizeProp)
		ret = append(ret, codec.EncodeUint32(*p.MaximumPacketSize)...)
	}
	if p.TopicAliasMaximum != nil {
		ret = append(ret, TopicAliasMaximumProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAliasMaximum)...)
	}
	if p.RequestResponseInfo != nil {
		ret = append(ret, RequestResponseInfoProp, codec.EncodeBool(*p.RequestResponseInfo))
	}
	if p.RequestProblemInfo != nil {
		ret = append(ret, RequestProblemInfoProp, codec.EncodeBool(*p.RequestProblemInfo))
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

// WillProperties carries the properties attached to CONNECT's will payload.
type WillProperties struct {
	WillDelayInterval *uint32
	PayloadFormat     *byte
	MessageExpiry     *uint32
	ContentType       string
	ResponseTopic     string
	CorrelationData   []byte
	User              []User
}

func (p *WillProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
		case WillDelayIntervalProp:
			v, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.WillDelayInterval = &v
		case PayloadFormatProp:
			v, err := codec.DecodeByte(r)
			if err != nil {
				return err
			}
			p.PayloadFormat = &v
		case MessageExpiryProp:
			v, err := codec.DecodeUint32(r)
			if err != nil {
				return err
			}
			p.MessageExpiry = &v
		case ContentTypeProp:
			if p.ContentType, err = codec.DecodeString(r); err != nil {
				return err
			}
		case ResponseTopicProp:
			if p.ResponseTopic, err = codec.DecodeString(r); err != nil {
				return err
			}
		case CorrelationDataProp:
			if p.CorrelationData, err = codec.DecodeBytes(r); err != nil {
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
			return fmt.Errorf("v5: invalid property 0x%x for will", prop)
		}
	}
}

func (p *WillProperties) Encode() []byte {
	var ret []byte
	if p.WillDelayInterval != nil {
		ret = append(ret, WillDelayIntervalProp)
		ret = append(ret, codec.EncodeUint32(*p.WillDelayInterval)...)
	}
	if p.PayloadFormat != nil {
		ret = append(ret, PayloadFormatProp, *p.PayloadFormat)
	}
	if p.MessageExpiry != nil {
		ret = append(ret, MessageExpiryProp)
		ret = append(ret, codec.EncodeUint32(*p.MessageExpiry)...)
	}
	if p.ContentType != "" {
		ret = append(ret, ContentTypeProp)
		ret = append(ret, codec.EncodeString(p.ContentType)...)
	}
	if p.ResponseTopic != "" {
		ret = append(ret, ResponseTopicProp)
		ret = append(ret, codec.EncodeString(p.ResponseTopic)...)
	}
	if len(p.CorrelationData) > 0 {
		ret = append(ret, CorrelationDataProp)
		ret = append(ret, codec.EncodeBytes(p.CorrelationData)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Connect represents the MQTT 5.0 CONNECT packet.
type Connect struct {
	packets.FixedHeader
	ProtocolName       string
	ClientID           string
	WillTopic          string
	WillMessage        []byte
	Username           string
	Password           []byte
	Properties         *ConnectProperties
	WillProperties     *WillProperties
	ProtocolVersion    byte
	KeepAlive          uint16
	CleanStart         bool
	WillFlag           bool
	WillQoS            byte
	WillRetain         bool
	UsernameFlag       bool
	PasswordFlag       bool
}

func (c *Connect) Type() byte { return packets.ConnectType }

func (c *Connect) String() string {
	return fmt.Sprintf("%s\nClientID: %s\nCleanStart: %t\nKeepAlive: %d\n",
		c.FixedHeader, c.ClientID, c.CleanStart, c.KeepAlive)
}

func (c *Connect) connectFlags() byte {
	var flags byte
	if c.UsernameFlag {
		flags |= 0x80
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.WillFlag {
		flags |= 0x04
		flags |= c.WillQoS << 3
		if c.WillRetain {
			flags |= 0x20
		}
	}
	if c.CleanStart {
		flags |= 0x02
	}
	return flags
}

func (c *Connect) Encode() []byte {
	protocolName := c.ProtocolName
	if protocolName == "" {
		protocolName = "MQTT"
	}

	var body []byte
	body = append(body, codec.EncodeString(protocolName)...)
	body = append(body, packets.V5)
	body = append(body, c.connectFlags())
	body = append(body, codec.EncodeUint16(c.KeepAlive)...)

	if c.Properties != nil {
		body = append(body, encodeProperties(c.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	body = append(body, codec.EncodeString(c.ClientID)...)

	if c.WillFlag {
		if c.WillProperties != nil {
			body = append(body, encodeProperties(c.WillProperties.Encode())...)
		} else {
			body = append(body, 0)
		}
		body = append(body, codec.EncodeString(c.WillTopic)...)
		body = append(body, codec.EncodeBytes(c.WillMessage)...)
	}
	if c.UsernameFlag {
		body = append(body, codec.EncodeString(c.Username)...)
	}
	if c.PasswordFlag {
		body = append(body, codec.EncodeBytes(c.Password)...)
	}

	c.FixedHeader.RemainingLength = len(body)
	return append(c.FixedHeader.Encode(), body...)
}

func (c *Connect) Unpack(r io.Reader) error {
	var err error
	if c.ProtocolName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if c.ProtocolVersion, err = codec.DecodeByte(r); err != nil {
		return err
	}

	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	if flags&0x01 != 0 {
		return packets.ErrMalformedPacket
	}
	c.UsernameFlag = flags&0x80 != 0
	c.PasswordFlag = flags&0x40 != 0
	c.WillRetain = flags&0x20 != 0
	c.WillQoS = (flags >> 3) & 0x03
	c.WillFlag = flags&0x04 != 0
	c.CleanStart = flags&0x02 != 0

	if c.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}

	raw, err := decodeProperties(r)
	if err != nil {
		return err
	}
	if raw != nil {
		p := &ConnectProperties{}
		if err := p.Unpack(bytes.NewReader(raw)); err != nil {
			return err
		}
		c.Properties = p
	}

	if c.ClientID, err = codec.DecodeString(r); err != nil {
		return err
	}

	if c.WillFlag {
		raw, err := decodeProperties(r)
		if err != nil {
			return err
		}
		if raw != nil {
			wp := &WillProperties{}
			if err := wp.Unpack(bytes.NewReader(raw)); err != nil {
				return err
			}
			c.WillProperties = wp
		}

		if c.WillTopic, err = codec.DecodeString(r); err != nil {
			return err
		}
		if c.WillMessage, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}
	if c.UsernameFlag {
		if c.Username, err = codec.DecodeString(r); err != nil {
			return err
		}
	}
	if c.PasswordFlag {
		if c.Password, err = codec.DecodeBytes(r); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connect) Pack(w io.Writer) error {
	_, err := w.Write(c.Encode())
	return err
}
