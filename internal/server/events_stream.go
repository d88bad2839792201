package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/events"
)

// streamedTypes is every pipeline event exposed over the stream when the
// client does not narrow the subscription.
var streamedTypes = []events.EventType{
	events.SignalGenerated,
	events.SignalFailed,
	events.OrderCompleted,
	events.PnLChanged,
	events.ExitDecided,
	events.ErrorOccurred,
}

// EventsStreamHandler pushes pipeline events to clients over
// Server-Sent Events.
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	filter := parseTypeFilter(r.URL.Query().Get("types"))

	h.log.Info().
		Str("types_filter", r.URL.Query().Get("types")).
		Msg("Client connected to event stream")

	// Per-connection buffer; a slow client drops events rather than
	// blocking the bus.
	deliveries := make(chan *events.Event, 100)
	forward := func(event *events.Event) {
		if filter != nil && !filter[event.Type] {
			return
		}
		select {
		case deliveries <- event:
		default:
			h.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	if filter == nil {
		for _, eventType := range streamedTypes {
			h.eventBus.Subscribe(eventType, forward)
		}
	} else {
		for eventType := range filter {
			h.eventBus.Subscribe(eventType, forward)
		}
	}

	h.writeData(w, flusher, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-deliveries:
			h.writeData(w, flusher, map[string]interface{}{
				"type":      string(event.Type),
				"module":    event.Module,
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			})

		case <-heartbeat.C:
			h.writeData(w, flusher, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
	}
}

// parseTypeFilter turns a comma-separated types parameter into a lookup
// set. Nil means no filter.
func parseTypeFilter(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		filter[events.EventType(strings.TrimSpace(t))] = true
	}
	return filter
}

// writeData sends one SSE data frame and flushes it.
func (h *EventsStreamHandler) writeData(w http.ResponseWriter, flusher http.Flusher, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}