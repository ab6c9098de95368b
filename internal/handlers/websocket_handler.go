package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler is the alternate stream transport: the same task event
// feed the SSE bridge serves, delivered as websocket text frames. Each
// connection carries exactly one task subscription.
type WebSocketHandler struct {
	storage      interfaces.TaskLogStorage
	relay        interfaces.RelayService
	pingInterval time.Duration
	graceWait    time.Duration
	logger       arbor.ILogger
}

// NewWebSocketHandler creates a new websocket stream handler
func NewWebSocketHandler(storage interfaces.TaskLogStorage, relay interfaces.RelayService, pingInterval, graceWait time.Duration, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		storage:      storage,
		relay:        relay,
		pingInterval: pingInterval,
		graceWait:    graceWait,
		logger:       logger,
	}
}

// HandleStream handles GET /ws/tasks?taskId=<id>
func (h *WebSocketHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		WriteError(w, http.StatusBadRequest, "Missing taskId parameter")
		return
	}

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

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	subCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads are only used to observe the close handshake
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	if message, err := models.NewConnectedEnvelope(taskID).ToJSON(); err == nil {
		conn.WriteMessage(websocket.TextMessage, []byte(message))
	}

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

	h.logger.Debug().Str("task_id", taskID).Msg("WebSocket bridge opened")

	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	var graceTimer *time.Timer
	var graceExpired <-chan time.Time

	for {
		select {
		case <-subCtx.Done():
			return

		case <-graceExpired:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
				time.Now().Add(time.Second))
			return

		case err := <-subDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn().Err(err).Str("task_id", taskID).Msg("Relay subscription failed")
				if message, merr := models.NewErrorEnvelope("stream subscription failed").ToJSON(); merr == nil {
					conn.WriteMessage(websocket.TextMessage, []byte(message))
				}
			}
			time.Sleep(h.graceWait)
			return

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}

		case message := <-messages:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
				return
			}
			if envelope, ok := models.ParseEnvelope(message); ok && isTerminalEnvelope(envelope.Type) && graceTimer == nil {
				graceTimer = time.NewTimer(h.graceWait)
				graceExpired = graceTimer.C
				defer graceTimer.Stop()
			}
		}
	}
}
