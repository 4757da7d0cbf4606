// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package v5

import (
	"fmt"
	"io"

	"github.com/frenzox/mercurio/packets"
)

// PingReq represents the MQTT 5.0 PINGREQ packet.
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

// PingResp represents the MQTT 5.0 PINGRESP packet.
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
