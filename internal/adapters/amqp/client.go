// Package amqp publishes tailed lines to, and consumes them from, a RabbitMQ
// queue.
//
// Every line becomes one persistent message whose body is the raw line. The
// source file and line index travel in the x-source and x-line headers.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bft-labs/logship/internal/domain"
	"github.com/bft-labs/logship/internal/ports"
	"github.com/bft-labs/logship/pkg/log"
)

const (
	HeaderSource = "x-source"
	HeaderLine   = "x-line"

	// DefaultQueue is the queue name used when none is configured.
	DefaultQueue = "logship"
	// DefaultPrefetch is the per-consumer unacknowledged message limit.
	DefaultPrefetch = 50
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery stream.
var ErrDeliveriesClosed = errors.New("amqp: delivery channel closed")

// Config holds the broker connection settings.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
}

// channel is the subset of *amqp.Channel used by the client.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// Client implements ports.Producer and ports.Consumer on one connection.
// Publishing uses a dedicated channel; each Consume call opens its own.
type Client struct {
	queue    string
	prefetch int
	logger   log.Logger

	open    func() (channel, error)
	pub     channel
	closeFn func() error
}

// Dial connects to the broker and declares the durable queue.
func Dial(cfg Config, logger log.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	open := func() (channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
	c, err := newClient(cfg, open, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.closeFn = conn.Close
	return c, nil
}

func newClient(cfg Config, open func() (channel, error), logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}

	pub, err := open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	return &Client{
		queue:    cfg.Queue,
		prefetch: cfg.Prefetch,
		logger:   logger.With(log.String("queue", cfg.Queue)),
		open:     open,
		pub:      pub,
	}, nil
}

// Publish sends one persistent message per line, in order.
func (c *Client) Publish(ctx context.Context, batch domain.Batch) error {
	now := time.Now()
	for _, m := range batch.Messages() {
		err := c.pub.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
			ContentType:  "text/plain",
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
			Headers: amqp.Table{
				HeaderSource: m.Source,
				HeaderLine:   m.Line,
			},
			Body: []byte(m.Body),
		})
		if err != nil {
			return fmt.Errorf("publish line %d of %s: %w", m.Line, m.Source, err)
		}
	}
	return nil
}

// Consume delivers messages to handler until ctx is canceled. Messages are
// acknowledged when handler succeeds and requeued when it fails.
func (c *Client) Consume(ctx context.Context, handler ports.MessageHandler) error {
	ch, err := c.open()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	tag := "logship-" + uuid.NewString()
	deliveries, err := ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				c.logger.Warn("failed to cancel consumer", log.Err(err))
			}
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			if err := handler(ctx, toMessage(d)); err != nil {
				if nerr := d.Nack(false, true); nerr != nil {
					c.logger.Error("failed to requeue message", log.Err(nerr))
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				c.logger.Error("failed to acknowledge message", log.Err(err))
			}
		}
	}
}

// Close closes the publishing channel and the connection.
func (c *Client) Close() error {
	err := c.pub.Close()
	if c.closeFn != nil {
		if cerr := c.closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func toMessage(d amqp.Delivery) domain.Message {
	msg := domain.Message{Body: string(d.Body)}
	if src, ok := d.Headers[HeaderSource].(string); ok {
		msg.Source = src
	}
	switch v := d.Headers[HeaderLine].(type) {
	case int64:
		msg.Line = v
	case int32:
		msg.Line = int64(v)
	case int:
		msg.Line = int64(v)
	}
	return msg
}
