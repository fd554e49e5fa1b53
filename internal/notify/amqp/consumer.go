package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/notify"
)

const baseReconnectDelay = 1 * time.Second

// Consumer binds a private, auto-deleted queue to the fanout exchange and
// forwards every event to a local sink, typically a notify.Hub.
type Consumer struct {
	url      string
	exchange string
	conn     *amqplib.Connection
	channel  *amqplib.Channel
	queue    string
	sink     notify.Sink
	logger   *zap.Logger

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer creates a new RabbitMQ event consumer.
func NewConsumer(url, exchange string, sink notify.Sink, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{
		url:      url,
		exchange: exchange,
		sink:     sink,
		logger:   logger,
		closeCh:  make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(c.exchange, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp exchange declare: %w", err)
	}

	// Server-named, exclusive, auto-delete: one queue per process.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue bind: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.queue = q.Name
	c.mu.Unlock()

	return nil
}

// Start begins consuming events. It blocks until the context is cancelled.
// On connection loss it automatically reconnects with exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			return nil
		}

		select {
		case <-c.closeCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		c.logger.Warn("AMQP event consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))

			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}

			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch, queue := c.channel, c.queue
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP event consumer started", zap.String("exchange", c.exchange), zap.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, delivery.Body)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) {
	var event domain.TaskEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("Failed to unmarshal task event", zap.Error(err), zap.Int("body_size", len(body)))
		return
	}
	if err := c.sink.Notify(ctx, event); err != nil {
		c.logger.Warn("Local event delivery failed",
			zap.String("task_id", event.TaskID.String()),
			zap.Error(err),
		)
	}
}

// Close gracefully shuts down the consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
