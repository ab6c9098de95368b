package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewTaskID generates a unique task ID with the "task_" prefix.
// Format: task_<unix-millis>_<random suffix>. The timestamp component keeps
// IDs roughly sortable by creation time; the uuid fragment makes them
// collision-resistant across concurrent dispatches.
func NewTaskID() string {
	return fmt.Sprintf("task_%d_%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
