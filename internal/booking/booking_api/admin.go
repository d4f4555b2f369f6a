package booking_api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/auth"
	"ms-booking/internal/inventory"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var spec inventory.EventSpec
	if !h.decode(w, r, &spec) {
		return
	}
	event, err := h.Booking.CreateEvent(r.Context(), spec)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Event created", event))
}

func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var spec inventory.ZoneSpec
	if !h.decode(w, r, &spec) {
		return
	}
	zone, err := h.Booking.CreateZone(r.Context(), chi.URLParam(r, "eventId"), spec)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Zone created", zone))
}

func (h *Handler) UpdateZone(w http.ResponseWriter, r *http.Request) {
	var upd inventory.ZoneUpdate
	if !h.decode(w, r, &upd) {
		return
	}
	zone, err := h.Booking.UpdateZone(r.Context(), chi.URLParam(r, "eventId"), chi.URLParam(r, "zone"), upd)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Zone updated", zone))
}

type layoutRequest struct {
	Rows    int  `json:"rows"`
	Cols    int  `json:"cols"`
	Confirm bool `json:"confirm"`
}

// ReconfigureLayout previews a destructive layout change, or applies it
// when the body carries confirm=true.
func (h *Handler) ReconfigureLayout(w http.ResponseWriter, r *http.Request) {
	var req layoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	impact, err := h.Booking.ReconfigureLayout(r.Context(), chi.URLParam(r, "eventId"), req.Rows, req.Cols, req.Confirm, auth.UserID(r.Context()))
	if err != nil {
		var data interface{}
		if errors.Is(err, models.ErrReconfigureUnconfirmed) {
			data = impact
		}
		h.fail(w, r, err, data)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Layout reconfigured", impact))
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()
	out, err := h.Booking.ListByEvent(r.Context(), q.Get("event_id"), models.ReservationState(q.Get("state")), page, limit)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Bookings", out))
}

type overrideRequest struct {
	State  models.ReservationState `json:"state"`
	Reason string                  `json:"reason"`
}

func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	trackingID := chi.URLParam(r, "trackingId")
	res, err := h.Booking.Override(r.Context(), trackingID, req.State, req.Reason, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("Booking set to %s", res.State), res))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Booking.History(r.Context(), chi.URLParam(r, "trackingId"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Booking history", entries))
}
