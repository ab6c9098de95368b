package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/taskstream/internal/models"
)

// ErrTaskNotFound is returned when no state exists (or remains) for a task id
var ErrTaskNotFound = errors.New("task not found")

// TaskLogStorage persists per-task append-only logs: status transitions,
// error messages, and streamed output chunks. Every write re-applies the
// configured TTL so the whole per-task window slides (refresh-on-write).
type TaskLogStorage interface {
	// AppendStatus appends a status transition to the task's status history
	AppendStatus(ctx context.Context, taskID string, status models.TaskStatus) error

	// AppendError appends an error message to the task's error history
	AppendError(ctx context.Context, taskID string, message string) error

	// AppendChunk appends a streamed output fragment in production order
	AppendChunk(ctx context.Context, taskID string, chunk string) error

	// GetStatus returns the latest status, or ErrTaskNotFound
	GetStatus(ctx context.Context, taskID string) (models.TaskStatus, error)

	// GetStatusHistory returns all status entries, oldest first
	GetStatusHistory(ctx context.Context, taskID string) ([]models.StatusEntry, error)

	// GetError returns the latest error message, or ErrTaskNotFound
	GetError(ctx context.Context, taskID string) (string, error)

	// GetErrorHistory returns all error entries, oldest first
	GetErrorHistory(ctx context.Context, taskID string) ([]models.ErrorEntry, error)

	// GetStreamChunks returns all streamed fragments in production order
	GetStreamChunks(ctx context.Context, taskID string) ([]string, error)

	// GetStreamText returns the concatenation of all streamed fragments
	GetStreamText(ctx context.Context, taskID string) (string, error)

	// TaskExists reports whether any status state exists for the task id
	TaskExists(ctx context.Context, taskID string) (bool, error)

	// ClaimRun atomically claims a single executor run for the task.
	// Returns false when another delivery already holds the claim.
	ClaimRun(ctx context.Context, taskID string) (bool, error)

	// Cleanup removes all keys for a task id immediately, independent of TTL
	Cleanup(ctx context.Context, taskID string) error
}
