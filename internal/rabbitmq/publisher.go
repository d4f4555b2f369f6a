// Package rabbitmq publishes reservation lifecycle events to durable
// RabbitMQ queues, one queue per event type.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ms-booking/internal/events"
	"ms-booking/internal/logger"
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       Channel
	exchange string
	declared map[string]bool
	log      *logger.Logger
}

// Dial opens one connection and channel for the publisher's lifetime. An
// empty exchange publishes through the default exchange with the queue
// name as routing key.
func Dial(url, exchange string, log *logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	p := NewPublisher(ch, exchange, log)
	p.conn = conn
	log.Info("RABBITMQ", "✅ RabbitMQ publisher connected")
	return p, nil
}

func NewPublisher(ch Channel, exchange string, log *logger.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, declared: make(map[string]bool), log: log}
}

func (p *Publisher) Publish(ctx context.Context, ev events.ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	queue := string(ev.Type)

	// amqp channels must not be used concurrently
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exchange == "" && !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ReservationID,
		Timestamp:    time.Now().UTC(),
		Type:         queue,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", queue, err)
	}
	p.log.Debug("RABBITMQ", fmt.Sprintf("Published %s for %s", queue, ev.ReservationID))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
