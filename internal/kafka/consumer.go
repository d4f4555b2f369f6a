package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"ms-booking/internal/booking"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// Reader is the part of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Confirmer interface {
	Confirm(ctx context.Context, trackingID string, by booking.Actor) (models.ConfirmResult, error)
}

// PaymentSucceeded is the payment layer's signal that a hold was paid for.
type PaymentSucceeded struct {
	TrackingID string `json:"tracking_id"`
	PaymentID  string `json:"payment_id,omitempty"`
}

// PaymentConsumer confirms reservations from payment signals. Messages are
// committed only after they were handled; replays are harmless because
// confirmation is idempotent.
type PaymentConsumer struct {
	reader    Reader
	confirmer Confirmer
	log       *logger.Logger
	actor     booking.Actor
	retries   uint64
	interval  time.Duration
}

func NewPaymentConsumer(brokers []string, topic, groupID string, c Confirmer, log *logger.Logger) *PaymentConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewPaymentConsumerWithReader(reader, c, log)
}

func NewPaymentConsumerWithReader(r Reader, c Confirmer, log *logger.Logger) *PaymentConsumer {
	return &PaymentConsumer{
		reader:    r,
		confirmer: c,
		log:       log,
		actor:     booking.Actor{ID: "payments", Privileged: true},
		retries:   5,
		interval:  200 * time.Millisecond,
	}
}

// Start consumes until ctx is cancelled or the reader fails for good.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	c.log.Info("KAFKA", "🔄 Payment consumer started...")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.log.Info("KAFKA", "Payment consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch payment message: %w", err)
		}

		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("❌ Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) {
	var signal PaymentSucceeded
	if err := json.Unmarshal(msg.Value, &signal); err != nil || signal.TrackingID == "" {
		c.log.Warn("KAFKA", fmt.Sprintf("⚠️ Skipping malformed payment message at offset %d", msg.Offset))
		return
	}
	c.log.LogKafka("RECEIVE", msg.Topic, signal.TrackingID)

	var result models.ConfirmResult
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries), ctx)
	err := backoff.Retry(func() error {
		var err error
		result, err = c.confirmer.Confirm(ctx, signal.TrackingID, c.actor)
		if err != nil && !errors.Is(err, models.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		c.log.Error("KAFKA", fmt.Sprintf("❌ Could not confirm %s: %v", signal.TrackingID, err))
		return
	}

	switch result.State {
	case models.ConfirmConfirmed:
		c.log.LogReservation("PAID", signal.TrackingID, "confirmed from payment signal")
	case models.ConfirmAlreadyFinal:
		c.log.Warn("KAFKA", fmt.Sprintf("Payment %s arrived for %s reservation %s", signal.PaymentID, result.Final, signal.TrackingID))
	case models.ConfirmNotFound:
		c.log.Warn("KAFKA", fmt.Sprintf("Payment %s names unknown reservation %s", signal.PaymentID, signal.TrackingID))
	}
}

func (c *PaymentConsumer) Close() error {
	return c.reader.Close()
}
