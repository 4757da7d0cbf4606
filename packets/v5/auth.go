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

// AUTH reason codes.
const (
	AuthSuccess            = 0x00
	AuthContinueAuth       = 0x18
	AuthReAuthenticate     = 0x19
)

// AuthProperties carries the AUTH-only properties.
type AuthProperties struct {
	AuthMethod   string
	AuthData     []byte
	ReasonString string
	User         []User
}

func (p *AuthProperties) Unpack(r io.Reader) error {
	for {
		prop, err := codec.DecodeByte(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch prop {
		case AuthMethodProp:
			if p.AuthMethod, err = codec.DecodeString(r); err != nil {
				return err
			}
		case AuthDataProp:
			if p.AuthData, err = codec.DecodeBytes(r); err != nil {
				return err
			}
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
			return fmt.Errorf("v5: invalid property 0x%x for AUTH", prop)
		}
	}
}

func (p *AuthProperties) Encode() []byte {
	var ret []byte
	if p.AuthMethod != "" {
		ret = append(ret, AuthMethodProp)
		ret = append(ret, codec.EncodeString(p.AuthMethod)...)
	}
	if len(p.AuthData) > 0 {
		ret = append(ret, AuthDataProp)
		ret = append(ret, codec.EncodeBytes(p.AuthData)...)
	}
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

// Auth represents the MQTT 5.0 AUTH packet, used for extended
// (challenge/response) authentication exchanges initiated either by
// CONNECT's AuthMethod property or by the server mid-session.
type Auth struct {
	packets.FixedHeader
	ReasonCode byte
	Properties *AuthProperties
}

func (a *Auth) Type() byte { return packets.AuthType }

func (a *Auth) String() string {
	return fmt.Sprintf("%s\nReasonCode: %d\n", a.FixedHeader, a.ReasonCode)
}

func (a *Auth) Encode() []byte {
	body := []byte{a.ReasonCode}
	if a.Properties != nil {
		body = append(body, encodeProperties(a.Properties.Encode())...)
	} else {
		body = append(body, 0)
	}

	a.FixedHeader.RemainingLength = len(body)
	return append(a.FixedHeader.Encode(), body...)
}

func (a *Auth) Unpack(r io.Reader) error {
	rc, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	a.ReasonCode = rc

	raw, err := decodeProperties(r)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	p := &AuthProperties{}
	if err := p.Unpack(bytes.NewReader(raw)); err != nil {
		return err
	}
	a.Properties = p
	return nil
}

func (a *Auth) Pack(w io.Writer) error {
	_, err := w.Write(a.Encode())
	return err
}
