// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package packets_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/frenzox/mercurio/packets"
)

func TestDetectProtocolVersion(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantVersion byte
		wantErr     bool
	}{
		{
			name: "MQTT 3.1.1",
			data: []byte{
				0x10, 10,
				0, 4, 'M', 'Q', 'T', 'T',
				packets.V311,
				0, 0, 0,
			},
			wantVersion: packets.V311,
		},
		{
			name: "MQTT 5.0",
			data: []byte{
				0x10, 10,
				0, 4, 'M', 'Q', 'T', 'T',
				packets.V5,
				0, 0, 0,
			},
			wantVersion: packets.V5,
		},
		{
			name: "first packet not CONNECT",
			data: []byte{
				0x20, 2, // CONNACK type
				0, 0,
			},
			wantErr: true,
		},
		{
			name:    "body too short for protocol name and level",
			data:    []byte{0x10, 1, 0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotVersion, restored, err := packets.DetectProtocolVersion(bytes.NewReader(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectProtocolVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if gotVersion != tt.wantVersion {
				t.Errorf("DetectProtocolVersion() version = %v, want %v", gotVersion, tt.wantVersion)
			}

			restoredData, err := io.ReadAll(restored)
			if err != nil {
				t.Fatalf("reading restored reader failed: %v", err)
			}
			if !bytes.Equal(restoredData, tt.data) {
				t.Errorf("restored reader = %v, want %v", restoredData, tt.data)
			}
		})
	}
}

func TestFixedHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header packets.FixedHeader
	}{
		{
			name:   "simple header",
			header: packets.FixedHeader{PacketType: packets.PublishType, QoS: 0, Retain: false, Dup: false, RemainingLength: 10},
		},
		{
			name:   "header with flags",
			header: packets.FixedHeader{PacketType: packets.PublishType, QoS: 2, Retain: true, Dup: true, RemainingLength: 100},
		},
		{
			name:   "large remaining length",
			header: packets.FixedHeader{PacketType: packets.PublishType, QoS: 1, RemainingLength: 16384},
		},
		{
			name:   "max remaining length",
			header: packets.FixedHeader{PacketType: packets.PublishType, QoS: 1, RemainingLength: 268435455},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.header.Encode()
			if len(encoded) < 2 {
				t.Fatal("encoded header too short")
			}

			var decoded packets.FixedHeader
			if err := decoded.Decode(encoded[0], bytes.NewReader(encoded[1:])); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded != tt.header {
				t.Errorf("Decode() = %+v, want %+v", decoded, tt.header)
			}

			n, err := decoded.DecodeFromBytes(encoded)
			if err != nil {
				t.Fatalf("DecodeFromBytes failed: %v", err)
			}
			if n != len(encoded) {
				t.Errorf("DecodeFromBytes consumed %d bytes, want %d", n, len(encoded))
			}
			if decoded != tt.header {
				t.Errorf("DecodeFromBytes() = %+v, want %+v", decoded, tt.header)
			}
		})
	}
}

func TestFixedHeaderDecodeFromBytesTooShort(t *testing.T) {
	var fh packets.FixedHeader
	_, err := fh.DecodeFromBytes([]byte{0x10})
	if err == nil {
		t.Error("DecodeFromBytes with 1 byte: got nil error")
	}
}
