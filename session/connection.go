// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/frenzox/mercurio/packets"
	v3 "github.com/frenzox/mercurio/packets/v3"
	v5 "github.com/frenzox/mercurio/packets/v5"
)

// Connection is a network connection that speaks MQTT packets rather than
// raw bytes.
type Connection interface {
	// ReadPacket reads the next MQTT packet from the connection.
	ReadPacket() (packets.ControlPacket, error)

	// WritePacket writes an MQTT packet to the connection. Safe to call
	// concurrently with itself and with ReadPacket.
	WritePacket(p packets.ControlPacket) error

	// Close terminates the connection.
	Close() error

	// RemoteAddr returns the address of the connected client.
	RemoteAddr() net.Addr

	// SetReadDeadline sets the connection read deadline.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the connection write deadline.
	SetWriteDeadline(t time.Time) error
}

var _ Connection = (*mqttCodec)(nil)

// mqttCodec wraps a net.Conn with MQTT packet framing. The protocol
// version isn't known until the first packet (CONNECT) arrives, so
// ReadPacket sniffs it once and dispatches to the matching packet
// decoder from then on.
//
// A session's inbound packet loop and the broker's fan-out path both
// write to the same connection — a PUBLISH being delivered to a
// subscriber runs on the publisher's dispatch goroutine, while that
// subscriber's own PINGRESP/SUBACK writes run on its own read loop.
// writeMu serializes those so two packets never interleave mid-frame on
// the wire.
type mqttCodec struct {
	conn    net.Conn
	reader  io.Reader
	version int // 0 = unknown, 3/4 = v3.1/v3.1.1, 5 = v5

	writeMu sync.Mutex
}

// NewConnection wraps conn in an MQTT packet codec.
func NewConnection(conn net.Conn) Connection {
	return &mqttCodec{
		conn:   conn,
		reader: conn,
	}
}

// ReadPacket reads and decodes the next MQTT packet, detecting the
// protocol version from the first one.
func (c *mqttCodec) ReadPacket() (packets.ControlPacket, error) {
	if c.version == 0 {
		ver, restored, err := packets.DetectProtocolVersion(c.reader)
		if err != nil {
			return nil, err
		}
		c.version = int(ver)
		c.reader = restored
	}

	switch c.version {
	case 5:
		return v5.ReadPacket(c.reader)
	case 3, 4: // 3 is MQTT 3.1, 4 is MQTT 3.1.1
		return v3.ReadPacket(c.reader)
	default:
		return nil, errors.New("unsupported MQTT protocol version")
	}
}

// WritePacket encodes and writes pkt, holding writeMu for the duration so
// a concurrent writer can't interleave bytes into the same frame.
func (c *mqttCodec) WritePacket(pkt packets.ControlPacket) error {
	if pkt == nil {
		return errors.New("cannot encode nil packet")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return pkt.Pack(c.conn)
}

func (c *mqttCodec) Close() error {
	return c.conn.Close()
}

func (c *mqttCodec) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *mqttCodec) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *mqttCodec) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}
