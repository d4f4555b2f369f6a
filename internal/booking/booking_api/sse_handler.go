package booking_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/models"
)

type zoneCount struct {
	Zone      string `json:"zone"`
	Available int    `json:"available"`
	Total     int    `json:"total"`
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// StreamAvailability pushes {zone, available} counts for an event: once on
// connect and again after every change to its inventory.
func (h *Handler) StreamAvailability(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	// Subscribe before the first read so no change slips in between.
	changes := h.Broadcaster.SubscribeToEvent(ctx, eventID)
	counts, err := h.counts(r, eventID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to availability stream for event: %s", eventID))
	if err := writeEvent(w, "availability", counts); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
			counts, err := h.counts(r, eventID)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to read availability for %s: %v", eventID, err))
				continue
			}
			if err := writeEvent(w, "availability", counts); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from availability stream for event: %s", eventID))
			return
		}
	}
}

func (h *Handler) counts(r *http.Request, eventID string) ([]zoneCount, error) {
	av, err := h.Booking.Availability(r.Context(), eventID)
	if err != nil {
		return nil, err
	}
	return zoneCounts(av), nil
}

func zoneCounts(av *models.EventAvailability) []zoneCount {
	out := make([]zoneCount, 0, len(av.Zones))
	for _, z := range av.Zones {
		out = append(out, zoneCount{Zone: z.Zone.Name, Available: z.Zone.Available, Total: z.Zone.Total})
	}
	return out
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
