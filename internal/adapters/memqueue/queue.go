// Package memqueue is an in-process message queue used when no broker is
// configured and in tests.
package memqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("memqueue: queue closed")

// DefaultCapacity is the buffer size used when New is given a non-positive value.
const DefaultCapacity = 1024

// Queue is a buffered channel of messages. It implements both
// ports.Producer and ports.Consumer. Several consumers may share one queue;
// each message goes to exactly one of them.
type Queue struct {
	msgs chan domain.Message

	mu     sync.RWMutex
	closed bool
}

// New creates a queue buffering up to capacity messages.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{msgs: make(chan domain.Message, capacity)}
}

// Publish enqueues every line of the batch in order. It blocks while the
// buffer is full and gives up when ctx is canceled.
func (q *Queue) Publish(ctx context.Context, batch domain.Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	for _, msg := range batch.Messages() {
		select {
		case q.msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Consume delivers messages to handler until ctx is canceled or the queue is
// closed and drained. A handler error puts the message back on the queue.
func (q *Queue) Consume(ctx context.Context, handler ports.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q.msgs:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				q.requeue(ctx, msg)
			}
		}
	}
}

func (q *Queue) requeue(ctx context.Context, msg domain.Message) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.msgs <- msg:
	case <-ctx.Done():
	}
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.msgs)
}

// Close stops accepting messages. Buffered messages can still be consumed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.msgs)
	return nil
}
