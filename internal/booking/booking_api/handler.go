package booking_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/clock"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/sse"
	"ms-booking/internal/tickets/qr"
	"ms-booking/internal/utils"
)

type Admitter interface {
	RequestBooking(ctx context.Context, req models.BookingRequest) (models.AdmissionOutcome, error)
}

type StatusReader interface {
	Status(ctx context.Context, trackingID string) (models.Status, error)
}

type Handler struct {
	Admission   Admitter
	Booking     *booking.Service
	Status      StatusReader
	Broadcaster *sse.Broadcaster
	QRGenerator *qr.QRGenerator
	Clock       clock.Clock
	Logger      *logger.Logger

	AdminRole   string
	ServiceRole string
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

// Routes mounts the public, authenticated and admin routes. authn must put
// an auth.Identity in the request context.
func (h *Handler) Routes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Use(h.logRequests)
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events/{eventId}/availability", h.GetAvailability)
		r.Get("/events/{eventId}/availability/stream", h.StreamAvailability)

		r.Group(func(r chi.Router) {
			r.Use(authn)

			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", h.RequestBooking)
				r.Get("/me", h.ListMine)
				r.Get("/status/{trackingId}", h.GetStatus)
				r.Get("/{trackingId}", h.GetBooking)
				r.With(auth.RequireRole(h.Logger, h.ServiceRole, h.AdminRole)).Post("/{trackingId}/confirm", h.Confirm)
				r.Post("/{trackingId}/cancel", h.Cancel)
				r.Get("/{trackingId}/ticket", h.Ticket)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(h.Logger, h.AdminRole))
				r.Post("/events", h.CreateEvent)
				r.Post("/events/{eventId}/zones", h.CreateZone)
				r.Patch("/events/{eventId}/zones/{zone}", h.UpdateZone)
				r.Put("/events/{eventId}/layout", h.ReconfigureLayout)
				r.Get("/bookings", h.ListBookings)
				r.Patch("/bookings/{trackingId}", h.Override)
				r.Get("/bookings/{trackingId}/history", h.History)
			})
		})
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, utils.SuccessResponse("ok", map[string]string{"status": "up"}))
}

func (h *Handler) actor(r *http.Request) booking.Actor {
	id := auth.FromContext(r.Context())
	return booking.Actor{
		ID:         id.Subject,
		Privileged: id.HasRole(h.AdminRole) || (h.ServiceRole != "" && id.HasRole(h.ServiceRole)),
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp interface{}) {
	if err := utils.WriteJSON(w, status, resp); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respond(w, http.StatusBadRequest, utils.CodedErrorResponse("invalid_request", "Invalid JSON body", err.Error()))
		return false
	}
	return true
}

// errorStatus maps a domain error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrCapacityExhausted):
		return http.StatusConflict, "capacity_exhausted"
	case errors.Is(err, models.ErrSeatUnavailable):
		return http.StatusConflict, "seat_unavailable"
	case errors.Is(err, models.ErrHoldExpired):
		return http.StatusConflict, "hold_expired"
	case errors.Is(err, models.ErrReconfigureUnconfirmed):
		return http.StatusConflict, "confirmation_required"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, models.ErrSeatedCapacityEdit):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full"
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrLockTimeout):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, models.ErrInventoryMismatch):
		return http.StatusInternalServerError, "inventory_mismatch"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status, code := errorStatus(err)
	switch {
	case status >= 500:
		h.Logger.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	case !booking.IsRejection(err):
		h.Logger.Warn("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}

	message := http.StatusText(status)
	if status == http.StatusInternalServerError {
		err = errors.New("internal error")
	}
	resp := utils.CodedErrorResponse(code, message, err.Error())
	resp.Data = data
	h.respond(w, status, resp)
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
