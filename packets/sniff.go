// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets

import (
	"bytes"
	"fmt"
	"io"
)

// DetectProtocolVersion reads the very first packet off r, which MQTT
// requires to be CONNECT, and returns the protocol level carried in its
// variable header (V31, V311, or V5) along with a reader that replays the
// bytes already consumed followed by whatever remains unread on r. The
// caller binds to packets/v3 or packets/v5 based on the returned level and
// reads the rest of the connection's packets from the returned reader.
func DetectProtocolVersion(r io.Reader) (byte, io.Reader, error) {
	first := make([]byte, 1)
	if _, err := io.ReadFull(r, first); err != nil {
		return 0, nil, err
	}

	var vbiBuf bytes.Buffer
	var fh FixedHeader
	if err := fh.Decode(first[0], io.TeeReader(r, &vbiBuf)); err != nil {
		return 0, nil, err
	}

	if fh.PacketType != ConnectType {
		return 0, nil, fmt.Errorf("packets: first packet must be CONNECT, got type %d", fh.PacketType)
	}

	body := make([]byte, fh.RemainingLength)
	if fh.RemainingLength > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, err
		}
	}

	if len(body) < 3 {
		return 0, nil, ErrMalformedPacket
	}

	nameLen := int(body[0])<<8 | int(body[1])
	levelIdx := 2 + nameLen
	if levelIdx >= len(body) {
		return 0, nil, ErrMalformedPacket
	}
	level := body[levelIdx]

	replay := append([]byte{first[0]}, vbiBuf.Bytes()...)
	replay = append(replay, body...)

	return level, io.MultiReader(bytes.NewReader(replay), r), nil
}
