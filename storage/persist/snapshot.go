// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package persist implements the durable retained-message snapshot
// described in spec §6: a single file holding every retained message,
// written atomically at shutdown and replayed at startup. The file is one
// zstd frame wrapping a gob-encoded record list; each save is a full
// compaction, not an append — there is no incremental log to replay.
package persist

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/frenzox/mercurio/storage"
)

// record is the on-disk shape of one retained message. It mirrors the
// storage.Message fields a retained snapshot needs to restore, not the
// zero-copy buffer storage.Message carries in memory.
type record struct {
	Topic           string
	Payload         []byte
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	MessageExpiry   *uint32
	PayloadFormat   *byte
	QoS             byte
}

// zstd encoder/decoder are safe for concurrent use and expensive to build,
// so Mercurio keeps one pair for the process lifetime, same as the
// teacher's queue/storage/log package does for its batch codec.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("persist: failed to create zstd encoder: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: failed to create zstd decoder: " + err.Error())
	}
}

// Snapshotter saves and restores a RetainedStore's full contents.
type Snapshotter struct {
	retained storage.RetainedStore
}

// NewSnapshotter builds a Snapshotter over store.
func NewSnapshotter(store storage.RetainedStore) *Snapshotter {
	return &Snapshotter{retained: store}
}

// Save compacts every retained message into one zstd-compressed file at
// path, replacing any previous snapshot. It writes to a temp file in the
// same directory first and renames over path, so a crash mid-write never
// corrupts the previous snapshot.
func (s *Snapshotter) Save(ctx context.Context, path string) (int, error) {
	msgs, err := s.retained.Match(ctx, "#")
	if err != nil {
		return 0, fmt.Errorf("list retained messages: %w", err)
	}

	records := make([]record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, record{
			Topic:           m.Topic,
			Payload:         m.GetPayload(),
			ContentType:     m.ContentType,
			ResponseTopic:   m.ResponseTopic,
			CorrelationData: m.CorrelationData,
			MessageExpiry:   m.MessageExpiry,
			PayloadFormat:   m.PayloadFormat,
			QoS:             m.QoS,
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(records); err != nil {
		return 0, fmt.Errorf("encode retained snapshot: %w", err)
	}

	compressed := encoder.EncodeAll(buf.Bytes(), nil)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "retained-*.snap.tmp")
	if err != nil {
		return 0, fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename snapshot into place: %w", err)
	}

	return len(records), nil
}

// Load restores every retained message from path into the store. A
// missing file is returned as os.ReadFile's error, for which os.IsNotExist
// reports true; a caller can treat that as no snapshot ever having been
// taken.
func (s *Snapshotter) Load(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot: %w", err)
	}

	var records []record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}

	for _, r := range records {
		msg := &storage.Message{
			Topic:           r.Topic,
			ContentType:     r.ContentType,
			ResponseTopic:   r.ResponseTopic,
			CorrelationData: r.CorrelationData,
			MessageExpiry:   r.MessageExpiry,
			PayloadFormat:   r.PayloadFormat,
			QoS:             r.QoS,
			Retain:          true,
		}
		msg.SetPayloadFromBytes(r.Payload)

		if err := s.retained.Set(ctx, r.Topic, msg); err != nil {
			return 0, fmt.Errorf("restore retained message for %q: %w", r.Topic, err)
		}
	}

	return len(records), nil
}
