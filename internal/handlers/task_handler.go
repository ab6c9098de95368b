package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
	"github.com/ternarybob/taskstream/internal/services/tasks"
)

// TaskHandler serves the task lifecycle API: creation, status lookup,
// replay of the durable output log, and explicit cleanup.
type TaskHandler struct {
	dispatcher *tasks.Dispatcher
	storage    interfaces.TaskLogStorage
	logger     arbor.ILogger
}

// NewTaskHandler creates a new task API handler
func NewTaskHandler(dispatcher *tasks.Dispatcher, storage interfaces.TaskLogStorage, logger arbor.ILogger) *TaskHandler {
	return &TaskHandler{
		dispatcher: dispatcher,
		storage:    storage,
		logger:     logger,
	}
}

// HandleCreate handles POST /api/tasks
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			h.logger.Warn().Err(err).Msg("Task dispatch rejected")
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Not the caller's fault: storage or queue is misbehaving
		h.logger.Error().Err(err).Msg("Task dispatch failed")
		WriteError(w, http.StatusBadGateway, "Failed to enqueue task")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// statusResponse is the status lookup reply
type statusResponse struct {
	TaskID  string               `json:"taskId"`
	Status  models.TaskStatus    `json:"status"`
	History []models.StatusEntry `json:"history,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// HandleStatus handles GET /api/tasks/status?taskId=<id>
func (h *TaskHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := RequireTaskID(w, r)
	if taskID == "" {
		return
	}

	status, err := h.storage.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Status lookup failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read task status")
		return
	}

	response := statusResponse{TaskID: taskID, Status: status}

	if history, err := h.storage.GetStatusHistory(r.Context(), taskID); err == nil {
		response.History = history
	}
	if status == models.TaskStatusFailed {
		if message, err := h.storage.GetError(r.Context(), taskID); err == nil {
			response.Error = message
		}
	}

	WriteJSON(w, http.StatusOK, response)
}

// resultResponse is the replay reply
type resultResponse struct {
	TaskID string            `json:"taskId"`
	Status models.TaskStatus `json:"status"`
	Output string            `json:"output"`
	Chunks int               `json:"chunks"`
}

// HandleResult handles GET /api/tasks/result?taskId=<id>. It replays the
// durable output log, available while the task's TTL window lasts.
func (h *TaskHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	taskID := RequireTaskID(w, r)
	if taskID == "" {
		return
	}

	status, err := h.storage.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Result lookup failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read task result")
		return
	}

	chunks, err := h.storage.GetStreamChunks(r.Context(), taskID)
	if err != nil && !errors.Is(err, interfaces.ErrTaskNotFound) {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Result lookup failed")
		WriteError(w, http.StatusInternalServerError, "Failed to read task output")
		return
	}

	output := ""
	for _, chunk := range chunks {
		output += chunk
	}

	WriteJSON(w, http.StatusOK, resultResponse{
		TaskID: taskID,
		Status: status,
		Output: output,
		Chunks: len(chunks),
	})
}

// HandleCleanup handles DELETE /api/tasks?taskId=<id>
func (h *TaskHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	taskID := RequireTaskID(w, r)
	if taskID == "" {
		return
	}

	if err := h.storage.Cleanup(r.Context(), taskID); err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Task cleanup failed")
		WriteError(w, http.StatusInternalServerError, "Failed to clean up task")
		return
	}

	h.logger.Info().Str("task_id", taskID).Msg("Task state cleaned up")
	WriteSuccess(w, "Task state removed")
}
