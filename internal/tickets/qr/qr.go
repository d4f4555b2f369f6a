package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"ms-booking/internal/models"
)

const imageSize = 256

var ErrNotConfirmed = errors.New("ticket requires a confirmed booking")

// Ticket is what a scanner reads back out of the code.
type Ticket struct {
	BookingID string    `json:"booking_id"`
	EventID   string    `json:"event_id"`
	Zone      string    `json:"zone"`
	Quantity  int       `json:"quantity"`
	SeatIDs   []string  `json:"seat_ids,omitempty"`
	Principal string    `json:"principal"`
	IssuedAt  time.Time `json:"issued_at"`
}

func TicketFor(r *models.Reservation, issuedAt time.Time) Ticket {
	return Ticket{
		BookingID: r.ID,
		EventID:   r.EventID,
		Zone:      r.ZoneName,
		Quantity:  r.Quantity,
		SeatIDs:   r.SeatLabels,
		Principal: r.Principal,
		IssuedAt:  issuedAt.UTC(),
	}
}

type QRGenerator struct {
	secret []byte
}

func NewQRGenerator(secret string) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// Encrypt returns the URL-safe ciphertext a code carries.
func (q *QRGenerator) Encrypt(t Ticket) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return encryptAES(data, q.secret)
}

// GeneratePNG renders the encrypted ticket of a confirmed reservation.
func (q *QRGenerator) GeneratePNG(r *models.Reservation, issuedAt time.Time) ([]byte, error) {
	if r.State != models.ReservationConfirmed {
		return nil, ErrNotConfirmed
	}
	encrypted, err := q.Encrypt(TicketFor(r, issuedAt))
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, imageSize)
}

func (q *QRGenerator) Decrypt(encrypted string) (Ticket, error) {
	var t Ticket
	raw, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return t, fmt.Errorf("decode ticket: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return t, errors.New("ticket ciphertext too short")
	}

	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return t, err
	}
	plain := make([]byte, len(raw)-aes.BlockSize)
	cipher.NewCFBDecrypter(block, raw[:aes.BlockSize]).XORKeyStream(plain, raw[aes.BlockSize:])

	if err := json.Unmarshal(plain, &t); err != nil {
		return t, fmt.Errorf("ticket payload: %w", err)
	}
	return t, nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}
