package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// WebhookPath is where the durable queue delivers accepted tasks
const WebhookPath = "/api/queue/webhook"

// DispatchResult is the acknowledgement for an accepted task
type DispatchResult struct {
	TaskID    string `json:"taskId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Dispatcher accepts task requests, records them as pending, and hands them
// to the durable queue for asynchronous delivery back to the executor's
// webhook. Acceptance is durable: once the caller holds a task id, the task
// is queryable even if execution has not begun.
type Dispatcher struct {
	storage    interfaces.TaskLogStorage
	queue      interfaces.QueueClient
	validate   *validator.Validate
	webhookURL string
	defaults   *common.LLMConfig
	logger     arbor.ILogger
}

// NewDispatcher creates a new task dispatcher
func NewDispatcher(storage interfaces.TaskLogStorage, queue interfaces.QueueClient, config *common.Config, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		storage:    storage,
		queue:      queue,
		validate:   validator.New(),
		webhookURL: strings.TrimSuffix(config.Server.BaseURL, "/") + WebhookPath,
		defaults:   &config.LLM,
		logger:     logger,
	}
}

// WebhookURL returns the destination the queue delivers to
func (d *Dispatcher) WebhookURL() string {
	return d.webhookURL
}

// Dispatch validates the request, persists the pending record, and enqueues
// the delivery. Returns the minted task id and the queue's message id.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.TaskRequest) (DispatchResult, error) {
	if err := d.validate.Struct(req); err != nil {
		return DispatchResult{}, fmt.Errorf("invalid task request: %w", err)
	}

	req.ApplyDefaults(d.defaults.Model, d.defaults.MaxTokens, d.defaults.Temperature)

	taskID := common.NewTaskID()

	// Pending is recorded before the enqueue so the id is queryable the
	// moment the caller receives it.
	if err := d.storage.AppendStatus(ctx, taskID, models.TaskStatusPending); err != nil {
		return DispatchResult{}, fmt.Errorf("failed to record pending task: %w", err)
	}

	payload := models.WebhookPayload{
		TaskID:      taskID,
		Prompt:      req.Prompt,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	messageID, err := d.queue.Enqueue(ctx, d.webhookURL, payload)
	if err != nil {
		// The pending record stays; the caller learns dispatch failed and
		// the record ages out on its TTL.
		d.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to enqueue task delivery")
		return DispatchResult{}, fmt.Errorf("failed to enqueue task: %w", err)
	}

	d.logger.Info().
		Str("task_id", taskID).
		Str("message_id", messageID).
		Str("model", req.Model).
		Msg("Task dispatched")

	return DispatchResult{
		TaskID:    taskID,
		MessageID: messageID,
		Status:    string(models.TaskStatusPending),
	}, nil
}
