package booking_api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

// RequestBooking admits, queues or rejects a hold request. 201 means held,
// 202 queued (poll the status route), 409 rejected for lack of inventory.
func (h *Handler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Principal = auth.UserID(r.Context())

	outcome, err := h.Admission.RequestBooking(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	switch outcome.State {
	case models.AdmissionPending:
		h.respond(w, http.StatusCreated, utils.SuccessResponse("Seats held", outcome))
	case models.AdmissionProcessing:
		w.Header().Set("Location", "/api/bookings/status/"+outcome.TrackingID)
		h.respond(w, http.StatusAccepted, utils.SuccessResponse("Booking request queued", outcome))
	default:
		cause := outcome.Err
		if cause == nil {
			cause = models.ErrCapacityExhausted
		}
		h.fail(w, r, cause, outcome)
	}
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Status.Status(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Booking status", status))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	res, err := h.Booking.Get(r.Context(), chi.URLParam(r, "trackingId"), h.actor(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Booking", res))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	out, err := h.Booking.ListMine(r.Context(), auth.UserID(r.Context()), page, limit)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Bookings", out))
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingId")
	res, err := h.Booking.Confirm(r.Context(), trackingID, h.actor(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	switch res.State {
	case models.ConfirmConfirmed:
		h.respond(w, http.StatusOK, utils.SuccessResponse("Booking confirmed", res))
	case models.ConfirmAlreadyFinal:
		cause := fmt.Errorf("booking is %s: %w", res.Final, models.ErrConflict)
		if res.Reason == models.ErrHoldExpired.Error() {
			cause = models.ErrHoldExpired
		}
		h.fail(w, r, cause, res)
	default:
		h.fail(w, r, fmt.Errorf("booking %s: %w", trackingID, models.ErrNotFound), res)
	}
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingId")
	res, err := h.Booking.Cancel(r.Context(), trackingID, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	switch res.State {
	case models.CancelCancelled:
		h.respond(w, http.StatusOK, utils.SuccessResponse("Booking cancelled", res))
	case models.CancelConflict:
		h.fail(w, r, fmt.Errorf("booking is %s: %w", res.Current, models.ErrConflict), res)
	default:
		h.fail(w, r, fmt.Errorf("booking %s: %w", trackingID, models.ErrNotFound), nil)
	}
}

// Ticket renders the QR code of a confirmed booking as a PNG.
func (h *Handler) Ticket(w http.ResponseWriter, r *http.Request) {
	res, err := h.Booking.Ticket(r.Context(), chi.URLParam(r, "trackingId"), h.actor(r))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	img, err := h.QRGenerator.GeneratePNG(res, h.Clock.Now())
	if err != nil {
		h.fail(w, r, fmt.Errorf("render ticket: %w", err), nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Ticket: failed to write image: %v", err))
	}
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	av, err := h.Booking.Availability(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Availability", av))
}
