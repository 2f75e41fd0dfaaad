package ports

import (
	"context"

	"github.com/bft-labs/logship/internal/domain"
)

// Producer hands tailed lines to the message queue.
type Producer interface {
	// Publish sends every line of the batch, in order.
	// A nil error means the whole batch was accepted by the queue.
	Publish(ctx context.Context, batch domain.Batch) error

	// Close releases the underlying connection.
	Close() error
}

// MessageHandler processes one queued line.
// Returning an error asks the consumer to redeliver the message.
type MessageHandler func(ctx context.Context, msg domain.Message) error

// Consumer receives lines from the message queue.
type Consumer interface {
	// Consume blocks, invoking handler for each message, until ctx is
	// canceled or the subscription fails.
	Consume(ctx context.Context, handler MessageHandler) error
}
