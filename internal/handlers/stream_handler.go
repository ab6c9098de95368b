package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// StreamHandler bridges the relay's live feed to clients over SSE. Each
// request opens its own relay subscription; the handler forwards decoded
// envelopes as data frames, emits heartbeat comments to keep intermediaries
// from idling the connection out, and closes shortly after a terminal
// envelope so in-flight frames drain first.
type StreamHandler struct {
	storage      interfaces.TaskLogStorage
	relay        interfaces.RelayService
	pingInterval time.Duration
	graceWait    time.Duration
	logger       arbor.ILogger
}

// NewStreamHandler creates a new SSE bridge handler
func NewStreamHandler(storage interfaces.TaskLogStorage, relay interfaces.RelayService, pingInterval, graceWait time.Duration, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		storage:      storage,
		relay:        relay,
		pingInterval: pingInterval,
		graceWait:    graceWait,
		logger:       logger,
	}
}

// HandleStream handles GET /api/tasks/stream?taskId=<id>
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := RequireTaskID(w, r)
	if taskID == "" {
		return
	}

	// Unknown ids are rejected before any subscription is opened
	exists, err := h.storage.TaskExists(r.Context(), taskID)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Stream existence check failed")
		WriteError(w, http.StatusInternalServerError, "Failed to check task")
		return
	}
	if !exists {
		WriteError(w, http.StatusNotFound, "Task not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The synthetic connected event confirms the bridge is live before any
	// relay traffic arrives
	h.writeEnvelope(w, flusher, models.NewConnectedEnvelope(taskID))

	subCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := make(chan string, 64)
	subDone := make(chan error, 1)

	go func() {
		subDone <- h.relay.Subscribe(subCtx, h.relay.Channel(taskID), func(message string) error {
			select {
			case messages <- message:
				return nil
			case <-subCtx.Done():
				return subCtx.Err()
			}
		})
	}()

	h.logger.Debug().Str("task_id", taskID).Msg("Stream bridge opened")

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	var graceTimer *time.Timer
	var graceExpired <-chan time.Time

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("task_id", taskID).Msg("Stream client disconnected")
			return

		case <-graceExpired:
			h.logger.Debug().Str("task_id", taskID).Msg("Stream bridge closed after terminal event")
			return

		case err := <-subDone:
			if err != nil {
				h.logger.Warn().Err(err).Str("task_id", taskID).Msg("Relay subscription failed")
				// The client learns the feed died, not just that it ended
				h.writeEnvelope(w, flusher, models.NewErrorEnvelope("stream subscription failed"))
			}
			// Give buffered frames a moment to flush before closing
			time.Sleep(h.graceWait)
			return

		case <-pingTicker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case message := <-messages:
			fmt.Fprintf(w, "data: %s\n\n", message)
			flusher.Flush()

			if envelope, ok := models.ParseEnvelope(message); ok && isTerminalEnvelope(envelope.Type) && graceTimer == nil {
				// Keep draining during the grace window so the terminal
				// frame's siblings still reach the client
				graceTimer = time.NewTimer(h.graceWait)
				graceExpired = graceTimer.C
				defer graceTimer.Stop()
			}
		}
	}
}

// writeEnvelope serializes one envelope as an SSE data frame
func (h *StreamHandler) writeEnvelope(w http.ResponseWriter, flusher http.Flusher, envelope models.Envelope) {
	message, err := envelope.ToJSON()
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", message)
	flusher.Flush()
}

// isTerminalEnvelope reports whether the envelope ends the live stream
func isTerminalEnvelope(t models.EnvelopeType) bool {
	return t == models.EnvelopeEnd || t == models.EnvelopeError
}
