// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
	"github.com/frenzox/mercurio/packets/codec"
)

// CONNACK return codes.
const (
	ConnAckAccepted              = 0x00
	ConnAckUnacceptableProtocol  = 0x01
	ConnAckIdentifierRejected    = 0x02
	ConnAckServerUnavailable     = 0x03
	ConnAckBadUsernameOrPassword = 0x04
	ConnAckNotAuthorized         = 0x05
)

// ConnAck represents the MQTT 3.1/3.1.1 CONNACK packet.
type ConnAck struct {
	packets.FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

func (c *ConnAck) Type() byte { return packets.ConnAckType }

func (c *ConnAck) String() string {
	return fmt.Sprintf("%s\nSessionPresent: %t\nReturnCode: %d\n", c.FixedHeader, c.SessionPresent, c.ReturnCode)
}

func (c *ConnAck) Encode() []byte {
	var flags byte
	if c.SessionPresent {
		flags = 0x01
	}

	body := []byte{flags, c.ReturnCode}
	c.FixedHeader.RemainingLength = len(body)
	return append(c.FixedHeader.Encode(), body...)
}

func (c *ConnAck) Unpack(r io.Reader) error {
	flags, err := codec.DecodeByte(r)
	if err != nil {
		return err
	}
	c.SessionPresent = flags&0x01 != 0

	c.ReturnCode, err = codec.DecodeByte(r)
	return err
}

func (c *ConnAck) Pack(w io.Writer) error {
	_, err := w.Write(c.Encode())
	return err
}
