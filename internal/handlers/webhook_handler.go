package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
	"github.com/ternarybob/taskstream/internal/services/tasks"
)

const signatureHeader = "Upstash-Signature"

// WebhookHandler receives task deliveries from the durable queue and runs
// them through the executor. In production every delivery must carry a valid
// signature; outside production unsigned deliveries are accepted so local
// development works without queue credentials.
type WebhookHandler struct {
	executor   *tasks.Executor
	verifier   interfaces.DeliveryVerifier
	config     *common.Config
	webhookURL string
	logger     arbor.ILogger
}

// NewWebhookHandler creates a new queue delivery handler
func NewWebhookHandler(executor *tasks.Executor, verifier interfaces.DeliveryVerifier, config *common.Config, webhookURL string, logger arbor.ILogger) *WebhookHandler {
	return &WebhookHandler{
		executor:   executor,
		verifier:   verifier,
		config:     config,
		webhookURL: webhookURL,
		logger:     logger,
	}
}

// HandleDelivery handles POST /api/queue/webhook
func (h *WebhookHandler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read delivery body")
		return
	}

	if h.config.IsProduction() {
		if h.verifier == nil {
			h.logger.Error().Msg("No delivery verifier configured in production")
			WriteError(w, http.StatusUnauthorized, "Delivery verification unavailable")
			return
		}
		if err := h.verifier.Verify(r.Header.Get(signatureHeader), body, h.webhookURL); err != nil {
			h.logger.Warn().Err(err).Msg("Rejected delivery with invalid signature")
			WriteError(w, http.StatusUnauthorized, "Invalid delivery signature")
			return
		}
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid delivery payload")
		return
	}
	if payload.TaskID == "" {
		WriteError(w, http.StatusBadRequest, "Delivery payload missing taskId")
		return
	}

	result, err := h.executor.Execute(r.Context(), payload)
	if err != nil {
		// The failure is already recorded in the task's durable log; answer
		// 200 so the queue does not redeliver a handled failure.
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"result": false,
			"taskId": payload.TaskID,
			"error":  err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"result":  true,
		"taskId":  result.TaskID,
		"status":  result.Status,
		"skipped": result.Skipped,
	})
}
