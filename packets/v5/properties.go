// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package v5 implements the MQTT 5.0 packet codec, including the
// property lists that v3 doesn't carry.
package v5

import (
	"bytes"
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets/codec"
)

// Property identifiers, as assigned by the MQTT 5.0 specification.
const (
	PayloadFormatProp          byte = 1
	MessageExpiryProp          byte = 2
	ContentTypeProp            byte = 3
	ResponseTopicProp          byte = 8
	CorrelationDataProp        byte = 9
	SubscriptionIdentifierProp byte = 11
	SessionExpiryIntervalProp  byte = 17
	AssignedClientIDProp       byte = 18
	ServerKeepAliveProp        byte = 19
	AuthMethodProp             byte = 21
	AuthDataProp               byte = 22
	RequestProblemInfoProp     byte = 23
	WillDelayIntervalProp      byte = 24
	RequestResponseInfoProp    byte = 25
	ResponseInfoProp           byte = 26
	ServerReferenceProp        byte = 28
	ReasonStringProp           byte = 31
	ReceiveMaximumProp         byte = 33
	TopicAliasMaximumProp      byte = 34
	TopicAliasProp             byte = 35
	MaximumQOSProp             byte = 36
	RetainAvailableProp        byte = 37
	UserProp                   byte = 38
	MaximumPacketSizeProp      byte = 39
	WildcardSubAvailableProp   byte = 40
	SubIDAvailableProp         byte = 41
	SharedSubAvailableProp     byte = 42
)

// User is a single user-property key/value pair, repeatable across a
// property list.
type User struct {
	Key   string
	Value string
}

// decodeProperties reads a VBI-prefixed property block from r and returns
// its raw bytes for a type-specific Unpack to parse.
func decodeProperties(r io.Reader) ([]byte, error) {
	length, err := codec.DecodeVBI(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// encodeProperties prefixes body with its VBI length, as every MQTT 5.0
// property list requires.
func encodeProperties(body []byte) []byte {
	return append(codec.EncodeVBI(len(body)), body...)
}

// BasicProperties is the property list shared by the packets that carry
// only a reason string and user properties: SUBACK, UNSUBACK and the
// PUBACK/PUBREC/PUBREL/PUBCOMP family.
type BasicProperties struct {
	ReasonString string
	User         []User
}

func (p *BasicProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
		case ReasonStringProp:
			if p.ReasonString, err = codec.DecodeString(r); err != nil {
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
			return fmt.Errorf("v5: invalid property 0x%x for this packet", prop)
		}
	}
}

func (p *BasicProperties) Encode() []byte {
	var ret []byte
	if p.ReasonString != "" {
		ret = append(ret, ReasonStringProp)
		ret = append(ret, codec.EncodeString(p.ReasonString)...)
	}
	for _, u := range p.User {
		ret = append(ret, UserProp)
		ret = append(ret, codec.EncodeString(u.Key)...)
		ret = append(ret, codec.EncodeString(u.Value)...)
	}
	return ret
}

func unpackBasicProperties(r io.Reader) (*BasicProperties, error) {
	raw, err := decodeProperties(r)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	p := &BasicProperties{}
	if err := p.Unpack(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return p, nil
}
