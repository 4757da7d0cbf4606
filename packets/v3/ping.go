// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v3

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
)

// PingReq represents the MQTT 3.1.1 PINGREQ packet.
type PingReq struct {
	packets.FixedHeader
}

func (p *PingReq) String() string { return fmt.Sprintf("%s\n", p.FixedHeader) }
func (p *PingReq) Type() byte     { return packets.PingReqType }

func (p *PingReq) Encode() []byte {
	p.FixedHeader.RemainingLength = 0
	return p.FixedHeader.Encode()
}

func (p *PingReq) Unpack(r io.Reader) error { return nil }

func (p *PingReq) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

// PingResp represents the MQTT 3.1.1 PINGRESP packet.
type PingResp struct {
	packets.FixedHeader
}

func (p *PingResp) String() string { return fmt.Sprintf("%s\n", p.FixedHeader) }
func (p *PingResp) Type() byte     { return packets.PingRespType }

func (p *PingResp) Encode() []byte {
	p.FixedHeader.RemainingLength = 0
	return p.FixedHeader.Encode()
}

func (p *PingResp) Unpack(r io.Reader) error { return nil }

func (p *PingResp) Pack(w io.Writer) error {
	_, err := w.Write(p.Encode())
	return err
}

// Disconnect represents the MQTT 3.1.1 DISCONNECT packet. It carries no
// variable header or payload in v3.
type Disconnect struct {
	packets.FixedHeader
}

func (d *Disconnect) String() string { return fmt.Sprintf("%s\n", d.FixedHeader) }
func (d *Disconnect) Type() byte     { return packets.DisconnectType }

func (d *Disconnect) Encode() []byte {
	d.FixedHeader.RemainingLength = 0
	return d.FixedHeader.Encode()
}

func (d *Disconnect) Unpack(r io.Reader) error { return nil }

func (d *Disconnect) Pack(w io.Writer) error {
	_, err := w.Write(d.Encode())
	return err
}
