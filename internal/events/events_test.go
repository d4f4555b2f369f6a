package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev ReservationEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type countingNotifier struct {
	calls []string
}

func (c *countingNotifier) Notify(eventID string) {
	c.calls = append(c.calls, eventID)
}

func TestForState(t *testing.T) {
	assert.Equal(t, ReservationConfirmed, ForState(models.ReservationConfirmed))
	assert.Equal(t, ReservationExpired, ForState(models.ReservationExpired))
	assert.Equal(t, ReservationCancelled, ForState(models.ReservationCancelled))
	assert.Equal(t, ReservationCreated, ForState(models.ReservationPending))
}

func TestFanOutJoinsErrors(t *testing.T) {
	ok := new(MockPublisher)
	bad := new(MockPublisher)
	boom := errors.New("broker down")
	ok.On("Publish", mock.Anything, mock.Anything).Return(nil)
	bad.On("Publish", mock.Anything, mock.Anything).Return(boom)

	err := FanOut{ok, bad}.Publish(context.Background(), ReservationEvent{Type: ReservationCreated})
	assert.ErrorIs(t, err, boom)
	ok.AssertNumberOfCalls(t, "Publish", 1)
}

func TestEmitterSwallowsPublishFailures(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(ev ReservationEvent) bool {
		return ev.Type == ReservationExpired && ev.ReservationID == "r1" && ev.Quantity == 2
	})).Return(errors.New("unavailable"))
	notifier := &countingNotifier{}

	e := NewEmitter(pub, notifier, logger.NewNop())
	r := &models.Reservation{ID: "r1", EventID: "ev", Kind: models.LayoutStanding, Quantity: 2, State: models.ReservationExpired}
	e.Reservation(context.Background(), ReservationExpired, r, "deadline passed")

	pub.AssertExpectations(t)
	assert.Equal(t, []string{"ev"}, notifier.calls)
}

func TestEmitterSkipsAvailabilityForStandingConfirm(t *testing.T) {
	notifier := &countingNotifier{}
	e := NewEmitter(nil, notifier, logger.NewNop())

	e.Reservation(context.Background(), ReservationConfirmed, &models.Reservation{ID: "r", EventID: "ev", Kind: models.LayoutStanding}, "")
	assert.Empty(t, notifier.calls)

	e.Reservation(context.Background(), ReservationConfirmed, &models.Reservation{ID: "s", EventID: "ev", Kind: models.LayoutSeated}, "")
	assert.Equal(t, []string{"ev"}, notifier.calls)
}
