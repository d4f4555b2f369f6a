package qr_test

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/models"
	"ms-booking/internal/tickets/qr"
)

func confirmed() *models.Reservation {
	return &models.Reservation{
		ID:         "b3f5c1e0-1111-4c2a-9d7e-0a6b2f3c4d5e",
		EventID:    "evt-1",
		ZoneName:   "Stalls",
		Kind:       models.LayoutSeated,
		Principal:  "alice",
		Quantity:   2,
		SeatLabels: []string{"A1", "A2"},
		State:      models.ReservationConfirmed,
	}
}

func TestGeneratePNG(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")

	img, err := gen.GeneratePNG(confirmed(), time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, img)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 256, decoded.Bounds().Dx())
}

func TestGeneratePNGRequiresConfirmedBooking(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")
	r := confirmed()
	r.State = models.ReservationPending

	_, err := gen.GeneratePNG(r, time.Now())
	assert.ErrorIs(t, err, qr.ErrNotConfirmed)
}

func TestDecryptReadsBackTicket(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")
	issued := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	encrypted, err := gen.Encrypt(qr.TicketFor(confirmed(), issued))
	require.NoError(t, err)

	ticket, err := gen.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "alice", ticket.Principal)
	assert.Equal(t, []string{"A1", "A2"}, ticket.SeatIDs)
	assert.True(t, issued.Equal(ticket.IssuedAt))

	other := qr.NewQRGenerator("another-key")
	_, err = other.Decrypt(encrypted)
	assert.Error(t, err, "a different key must not yield a valid payload")
}

func TestEncryptionIsRandomised(t *testing.T) {
	gen := qr.NewQRGenerator("test-secret-key")
	ticket := qr.TicketFor(confirmed(), time.Now())

	a, err := gen.Encrypt(ticket)
	require.NoError(t, err)
	b, err := gen.Encrypt(ticket)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
