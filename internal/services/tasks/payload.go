package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/taskstream/internal/models"
)

// DecodeWebhookPayload parses a delivery body into a WebhookPayload
func DecodeWebhookPayload(body []byte) (models.WebhookPayload, error) {
	var payload models.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, fmt.Errorf("invalid delivery payload: %w", err)
	}
	if payload.TaskID == "" {
		return payload, fmt.Errorf("delivery payload missing task id")
	}
	return payload, nil
}
