package session

import (
	"fmt"
	"sync"

	"github.com/frenzox/mercurio/storage"
)

// MessageQueue is a queue for offline messages (QoS > 0) held while a
// client is disconnected.
type MessageQueue struct {
	mu       sync.Mutex
	messages []*storage.Message
	maxSize  int
}

// NewMessageQueue creates a new message queue.
func NewMessageQueue(maxSize int) *MessageQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MessageQueue{
		messages: make([]*storage.Message, 0),
		maxSize:  maxSize,
	}
}

// Enqueue adds a message to the queue.
// Returns ErrQueueFull if the queue is at capacity.
func (q *MessageQueue) Enqueue(msg *storage.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.maxSize {
		return fmt.Errorf("enqueue message for topic %s (current: %d, max: %d): %w",
			msg.Topic, len(q.messages), q.maxSize, ErrQueueFull)
	}

	cp := storage.CopyMessage(msg)
	q.messages = append(q.messages, cp)
	return nil
}

// Dequeue removes and returns the first message from the queue.
// Returns nil if the queue is empty.
func (q *MessageQueue) Dequeue() *storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}

	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg
}

// Peek returns the first message without removing it.
func (q *MessageQueue) Peek() *storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}
	return q.messages[0]
}

// Len returns the number of messages in the queue.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// IsEmpty returns true if the queue is empty.
func (q *MessageQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) == 0
}

// IsFull returns true if the queue is at capacity.
func (q *MessageQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages) >= q.maxSize
}

// Drain removes and returns all messages from the queue.
func (q *MessageQueue) Drain() []*storage.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.messages
	q.messages = make([]*storage.Message, 0)
	return msgs
}

// Offline queue operations, convenience wrappers on Session.

func (s *Session) EnqueueOffline(msg *storage.Message) error {
	return s.OfflineQueue.Enqueue(msg)
}

func (s *Session) DequeueOffline() *storage.Message {
	return s.OfflineQueue.Dequeue()
}

func (s *Session) DrainOfflineQueue() []*storage.Message {
	return s.OfflineQueue.Drain()
}

func (s *Session) OfflineQueueLen() int {
	return s.OfflineQueue.Len()
}

func (s *Session) OfflineQueuePeek() *storage.Message {
	return s.OfflineQueue.Peek()
}
