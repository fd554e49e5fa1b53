// Package amqp broadcasts task status events through a RabbitMQ fanout
// exchange so every API instance can push them to its own stream clients.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/codesandbox/internal/domain"
	"github.com/Harsh-BH/codesandbox/internal/notify"
)

const (
	exchangeType = "fanout"

	// Reconnection settings
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 30 * time.Second

	publishTimeout = 5 * time.Second
)

var _ notify.Sink = (*Publisher)(nil)

// Publisher is a notify.Sink backed by a fanout exchange with publisher confirms.
type Publisher struct {
	url      string
	exchange string
	conn     *amqplib.Connection
	channel  *amqplib.Channel
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewPublisher dials RabbitMQ and declares the exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		url:      url,
		exchange: exchange,
		logger:   logger,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	go p.watchConnection()

	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqplib.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq: channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(p.exchange, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = ch
	p.mu.Unlock()

	p.logger.Info("RabbitMQ notification publisher initialized", zap.String("exchange", p.exchange))
	return nil
}

// watchConnection monitors the connection and reconnects on failure.
func (p *Publisher) watchConnection() {
	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return
		}
		conn := p.conn
		p.mu.RUnlock()

		reason, ok := <-conn.NotifyClose(make(chan *amqplib.Error, 1))
		if !ok {
			return
		}

		p.logger.Warn("RabbitMQ connection lost, reconnecting...", zap.String("reason", reason.Error()))

		delay := reconnectDelay
		for {
			p.mu.RLock()
			if p.closed {
				p.mu.RUnlock()
				return
			}
			p.mu.RUnlock()

			time.Sleep(delay)

			if err := p.connect(); err != nil {
				p.logger.Warn("RabbitMQ reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
				delay = min(delay*2, maxReconnectDelay)
				continue
			}

			p.logger.Info("RabbitMQ reconnected successfully")
			break
		}
	}
}

// Notify publishes the event and waits for the broker confirm.
func (p *Publisher) Notify(ctx context.Context, event domain.TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	p.mu.RLock()
	ch := p.channel
	p.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("rabbitmq: channel not available (reconnecting)")
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(publishCtx,
		p.exchange,
		"",
		false, // mandatory
		false, // immediate
		amqplib.Publishing{
			ContentType: "application/json",
			MessageId:   event.TaskID.String(),
			Type:        string(event.Status),
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	acked, err := confirmation.WaitContext(publishCtx)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish confirmation (task_id=%s): %w", event.TaskID, err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq: broker nacked event (task_id=%s)", event.TaskID)
	}

	p.logger.Debug("Published task event",
		zap.String("task_id", event.TaskID.String()),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// Ping reports whether the publisher currently holds an open channel.
func (p *Publisher) Ping(context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq: channel closed")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
