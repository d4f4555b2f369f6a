package inventory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/models"
)

// RowLabel names a zero-based row: A..Z, then AA, AB and so on.
func RowLabel(row int) string {
	var b []byte
	for n := row + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// SeatLabel is the row label followed by the one-based column.
func SeatLabel(row, col int) string {
	return RowLabel(row) + strconv.Itoa(col+1)
}

func generateSeats(eventID, zoneID string, rows, cols int, now time.Time) []models.Seat {
	seats := make([]models.Seat, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			seats = append(seats, models.Seat{
				ID:        uuid.NewString(),
				EventID:   eventID,
				ZoneID:    zoneID,
				Label:     SeatLabel(r, c),
				RowIndex:  r,
				ColIndex:  c,
				State:     models.SeatFree,
				UpdatedAt: now,
			})
		}
	}
	return seats
}

// NormalizeLabels upper-cases, trims and sorts seat labels. Empty or
// repeated labels are rejected.
func NormalizeLabels(labels []string) ([]string, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", models.ErrInvalidRequest)
	}
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l == "" {
			return nil, fmt.Errorf("%w: empty seat id", models.ErrInvalidRequest)
		}
		if _, dup := seen[l]; dup {
			return nil, fmt.Errorf("%w: seat %s requested twice", models.ErrInvalidRequest, l)
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}
