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

// PublishProperties carries the PUBLISH-only properties of MQTT 5.0.
type PublishProperties struct {
	PayloadFormat   *byte
	MessageExpiry   *uint32
	TopicAlias      *uint16
	ResponseTopic   string
	CorrelationData []byte
	SubscriptionID  *int
	ContentType     string
	User            []User
}

func (p *PublishProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
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
		case TopicAliasProp:
			v, err := codec.DecodeUint16(r)
			if err != nil {
				return err
			}
			p.TopicAlias = &v
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
		case SubscriptionIdentifierProp:
			v, err := codec.DecodeVBI(r)
			if err != nil {
				return err
			}
			p.SubscriptionID = &v
		default:
			return fmt.Errorf("v5: invalid property 0x%x for PUBLISH", prop)
		}
	}
}

func (p *PublishProperties) Encode() []byte {
	var ret []byte
	if p.PayloadFormat != nil {
		ret = append(ret, PayloadFormatProp, *p.PayloadFormat)
	}
	if p.MessageExpiry != nil {
		ret = append(ret, MessageExpiryProp)
		ret = append(ret, codec.EncodeUint32(*p.MessageExpiry)...)
	}
	if p.TopicAlias != nil {
		ret = append(ret, TopicAliasProp)
		ret = append(ret, codec.EncodeUint16(*p.TopicAlias)...)
	}
	if p.ResponseTopic != "" {
		ret = append(ret, ResponseTopicProp)
		ret = append(ret, codec.EncodeString(p.ResponseTopic)...)
	}
	if len(p.CorrelationData) > 0 {
		ret = append(ret, CorrelationDataProp)
		ret = append(ret, codec.EncodeBytes(p.CorrelationData)...)
	}
	if p.SubscriptionID != nil {
		ret = append(ret, SubscriptionIdentifierProp)
		ret = append(ret, codec.EncodeVBI(*p.SubscriptionID)...)
	}
	if p.ContentType != "" {
		ret = append(ret, ContentTypeProp)
		ret = append(ret, codec.EncodeString(p.ContentType)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

// Publish represents the MQTT 5.0 PUBLISH packet.
type Publish struct {
	packets.FixedHeader
	TopicName  string
	Payload    []byte
	Properties *PublishProperties
	ID         uint16
}

func (p *Publish) Type() byte { return packets.PublishType }

func (p *Publish) String() string {
	return fmt.Sprintf("%s\nTopicName: %s\nPacketID: %d\nPayload: %d bytes\n",
		p.FixedHeader, p.TopicName, p.ID, len(p.Payload))
}

func (p *Publish) Encode() []byte {
	var body []byte
	body = append(body, codec.EncodeString(p.TopicName)...)
	if p.QoS > 0 {
		body = append(body, codec.EncodeUint16(p.ID)...)
	}

	if p.Properties != nil {
		body = append(body, encodeProperties(p.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	p.FixedHeader.RemainingLength = len(body) + len(p.Payload)
	body = append(body, p.Payload...)
	return append(p.FixedHeader.Encode(), body...)
}

func (p *Publish) Unpack(r io.Reader) error {
	var err error
	if p.TopicName, err = codec.DecodeString(r); err != nil {
		return err
	}
	if p.QoS > 0 {
		if p.ID, err = codec.DecodeUint16(r); err != nil {
			return err
		}
	}

	raw, err := decodeProperties(r)
	if err != nil {
		return err
	}
	if raw != nil {
		props := &PublishProperties{}
		if err := props.Unpack(bytes.NewReader(raw)); err != nil {
			return err
		}
		p.Properties = props
	}

	p.Payload, err = io.ReadAll(r)
	return err
}

func (p *Publish) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

// Copy returns a new Publish carrying the same topic and payload but a
// fresh fixed header, for redelivering a retained message under a
// subscriber's own QoS and packet ID.
func (p *Publish) Copy() *Publish {
	return &Publish{TopicName: p.TopicName, Payload: p.Payload}
}

func (p *Publish) Details() packets.Details {
	return packets.Details{Type: packets.PublishType, ID: p.ID, QoS: p.QoS}
}
