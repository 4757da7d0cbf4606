package session

import "errors"

var (
	// ErrNotConnected is returned when an operation requires a live connection
	// but the session currently has none attached.
	ErrNotConnected = errors.New("session: not connected")

	// ErrInflightFull is returned when the inflight tracker is at capacity.
	ErrInflightFull = errors.New("session: inflight window full")

	// ErrPacketNotFound is returned when an inflight lookup misses.
	ErrPacketNotFound = errors.New("session: packet id not found")

	// ErrQueueFull is returned when the offline message queue is at capacity.
	ErrQueueFull = errors.New("session: offline queue full")
)
