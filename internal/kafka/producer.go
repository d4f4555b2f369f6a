package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-booking/internal/config"
	"ms-booking/internal/events"
	"ms-booking/internal/logger"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes reservation lifecycle events, one topic per type,
// keyed by reservation id so a reservation's events stay ordered.
type Producer struct {
	Writer Writer
	topics map[events.Type]string
	log    *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return NewProducerWithWriter(writer, topics, log)
}

func NewProducerWithWriter(w Writer, topics config.TopicConfig, log *logger.Logger) *Producer {
	return &Producer{
		Writer: w,
		topics: map[events.Type]string{
			events.ReservationCreated:   topics.Created,
			events.ReservationConfirmed: topics.Confirmed,
			events.ReservationExpired:   topics.Expired,
			events.ReservationCancelled: topics.Cancelled,
		},
		log: log,
	}
}

func (p *Producer) Publish(ctx context.Context, ev events.ReservationEvent) error {
	topic, ok := p.topics[ev.Type]
	if !ok || topic == "" {
		return fmt.Errorf("no topic for %s", ev.Type)
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(ev.ReservationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.log.LogKafka("PUBLISH", topic, ev.ReservationID)
	return nil
}

// Topics lists the lifecycle topics this producer writes to.
func (p *Producer) Topics() []string {
	out := make([]string, 0, len(p.topics))
	for _, t := range []events.Type{events.ReservationCreated, events.ReservationConfirmed, events.ReservationExpired, events.ReservationCancelled} {
		out = append(out, p.topics[t])
	}
	return out
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
