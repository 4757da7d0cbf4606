// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package v3 implements the MQTT 3.1/3.1.1 packet codec.
package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// Connect represents the MQTT 3.1/3.1.1 CONNECT packet.
type Connect struct {
	packets.FixedHeader
	ProtocolName    string
	ClientID        string
	WillTopic       string
	WillMessage     []byte
	Username        string
	Password        []byte
	ProtocolVersion byte
	KeepAlive       uint16
	CleanSession    bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
}

func (c *Connect) Type() byte { return packets.ConnectType }

func (c *Connect) String() string {
	return fmt.Sprintf("%s\nClientID: %s\nCleanSession: %t\nKeepAlive: %d\n",
		c.FixedHeader, c.ClientID, c.CleanSession, c.KeepAlive)
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
	if c.CleanSession {
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
	body = append(body, c.ProtocolVersion)
	body = append(body, c.connectFlags())
	body = append(body, codec.EncodeUint16(c.KeepAlive)...)
	body = append(body, codec.EncodeString(c.ClientID)...)

	if c.WillFlag {
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
		return packets.ErrMalformedPacket // reserved bit must be 0
	}
	c.UsernameFlag = flags&0x80 != 0
	c.PasswordFlag = flags&0x40 != 0
	c.WillRetain = flags&0x20 != 0
	c.WillQoS = (flags >> 3) & 0x03
	c.WillFlag = flags&0x04 != 0
	c.CleanSession = flags&0x02 != 0

	if c.KeepAlive, err = codec.DecodeUint16(r); err != nil {
		return err
	}
	if c.ClientID, err = codec.DecodeString(r); err != nil {
		return err
	}

	if c.WillFlag {
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
