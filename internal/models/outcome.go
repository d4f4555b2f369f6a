package models

import "time"

type AdmissionState string

const (
	AdmissionPending    AdmissionState = "pending"
	AdmissionProcessing AdmissionState = "processing"
	AdmissionRejected   AdmissionState = "rejected"
)

// AdmissionOutcome is the tagged result of a booking request: admitted
// (pending), queued (processing) or rejected. Reason carries the rejection
// cause and Err the matching sentinel.
type AdmissionOutcome struct {
	TrackingID  string         `json:"tracking_id,omitempty"`
	State       AdmissionState `json:"state"`
	Reason      string         `json:"reason,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at,omitempty"`
	Reservation *Reservation   `json:"booking,omitempty"`
	Err         error          `json:"-"`
}

func Admitted(r *Reservation) AdmissionOutcome {
	return AdmissionOutcome{TrackingID: r.ID, State: AdmissionPending, ExpiresAt: r.ExpiresAt, Reservation: r}
}

func Queued(trackingID string) AdmissionOutcome {
	return AdmissionOutcome{TrackingID: trackingID, State: AdmissionProcessing}
}

func Rejected(trackingID string, err error) AdmissionOutcome {
	return AdmissionOutcome{TrackingID: trackingID, State: AdmissionRejected, Reason: err.Error(), Err: err}
}

type ConfirmState string

const (
	ConfirmConfirmed    ConfirmState = "confirmed"
	ConfirmAlreadyFinal ConfirmState = "already-final"
	ConfirmNotFound     ConfirmState = "not-found"
)

type ConfirmResult struct {
	State       ConfirmState     `json:"state"`
	Final       ReservationState `json:"final_state,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Reservation *Reservation     `json:"booking,omitempty"`
}

type CancelState string

const (
	CancelCancelled CancelState = "cancelled"
	CancelConflict  CancelState = "conflict"
	CancelNotFound  CancelState = "not-found"
)

type CancelResult struct {
	State       CancelState      `json:"state"`
	Current     ReservationState `json:"current_state,omitempty"`
	Reservation *Reservation     `json:"booking,omitempty"`
}

// Status answers a tracking-id poll. BookingID is set once a ledger entry
// exists.
type Status struct {
	TrackingID string `json:"tracking_id"`
	State      string `json:"state"`
	BookingID  string `json:"booking_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// ReconfigureImpact summarises what a destructive layout change would discard.
type ReconfigureImpact struct {
	EventID        string `json:"event_id"`
	Rows           int    `json:"rows"`
	Cols           int    `json:"cols"`
	SeatedZones    int    `json:"seated_zones"`
	HeldSeats      int    `json:"held_seats"`
	SoldSeats      int    `json:"sold_seats"`
	PendingHolds   int    `json:"pending_reservations"`
	CancelledHolds int    `json:"cancelled_reservations,omitempty"`
	Applied        bool   `json:"applied"`
}
