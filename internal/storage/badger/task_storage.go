package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// Key suffixes for the per-task logs. Each key holds one append-ordered
// JSON log and carries its own TTL, re-applied on every write so the whole
// window slides (the original store's LPUSH+EXPIRE behavior).
const (
	suffixStatus = ":status"
	suffixStream = ":stream"
	suffixError  = ":error"
	suffixClaim  = ":claim"

	keyPrefix = "task:"
)

// TaskStorage implements the TaskLogStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	ttl    time.Duration
}

// NewTaskStorage creates a new TaskStorage instance with the given TTL window
func NewTaskStorage(db *BadgerDB, ttl time.Duration, logger arbor.ILogger) interfaces.TaskLogStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
		ttl:    ttl,
	}
}

func taskKey(taskID, suffix string) []byte {
	return []byte(keyPrefix + taskID + suffix)
}

// appendEntry appends one JSON-encoded element to the log at key, rewriting
// the log inside a single transaction and refreshing its TTL.
func (s *TaskStorage) appendEntry(key []byte, element any) error {
	encoded, err := json.Marshal(element)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	return s.db.DB().Update(func(txn *badger.Txn) error {
		var entries []json.RawMessage

		item, err := txn.Get(key)
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entries)
			}); err != nil {
				return fmt.Errorf("failed to decode existing log: %w", err)
			}
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to read log: %w", err)
		}

		entries = append(entries, json.RawMessage(encoded))

		value, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to encode log: %w", err)
		}

		return txn.SetEntry(badger.NewEntry(key, value).WithTTL(s.ttl))
	})
}

// readEntries reads the raw log elements at key, oldest first.
// A missing or expired key yields interfaces.ErrTaskNotFound.
func (s *TaskStorage) readEntries(key []byte) ([]json.RawMessage, error) {
	var entries []json.RawMessage

	err := s.db.DB().View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return interfaces.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read log: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// AppendStatus appends a status transition to the task's status history
func (s *TaskStorage) AppendStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	entry := models.StatusEntry{Status: status, Timestamp: time.Now().UTC()}
	if err := s.appendEntry(taskKey(taskID, suffixStatus), entry); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Str("status", string(status)).Msg("Failed to append status")
		return err
	}

	s.logger.Debug().Str("task_id", taskID).Str("status", string(status)).Msg("Status appended")
	return nil
}

// AppendError appends an error message to the task's error history
func (s *TaskStorage) AppendError(ctx context.Context, taskID string, message string) error {
	entry := models.ErrorEntry{Error: message, Timestamp: time.Now().UTC()}
	if err := s.appendEntry(taskKey(taskID, suffixError), entry); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to append error entry")
		return err
	}
	return nil
}

// AppendChunk appends a streamed output fragment in production order
func (s *TaskStorage) AppendChunk(ctx context.Context, taskID string, chunk string) error {
	if err := s.appendEntry(taskKey(taskID, suffixStream), chunk); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to append stream chunk")
		return err
	}
	return nil
}

// GetStatus returns the latest status for a task
func (s *TaskStorage) GetStatus(ctx context.Context, taskID string) (models.TaskStatus, error) {
	history, err := s.GetStatusHistory(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", interfaces.ErrTaskNotFound
	}
	return history[len(history)-1].Status, nil
}

// GetStatusHistory returns all status entries, oldest first
func (s *TaskStorage) GetStatusHistory(ctx context.Context, taskID string) ([]models.StatusEntry, error) {
	raw, err := s.readEntries(taskKey(taskID, suffixStatus))
	if err != nil {
		return nil, err
	}

	history := make([]models.StatusEntry, 0, len(raw))
	for _, element := range raw {
		var entry models.StatusEntry
		if err := json.Unmarshal(element, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode status entry: %w", err)
		}
		history = append(history, entry)
	}
	return history, nil
}

// GetError returns the latest error message for a task
func (s *TaskStorage) GetError(ctx context.Context, taskID string) (string, error) {
	history, err := s.GetErrorHistory(ctx, taskID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", interfaces.ErrTaskNotFound
	}
	return history[len(history)-1].Error, nil
}

// GetErrorHistory returns all error entries, oldest first
func (s *TaskStorage) GetErrorHistory(ctx context.Context, taskID string) ([]models.ErrorEntry, error) {
	raw, err := s.readEntries(taskKey(taskID, suffixError))
	if err != nil {
		return nil, err
	}

	history := make([]models.ErrorEntry, 0, len(raw))
	for _, element := range raw {
		var entry models.ErrorEntry
		if err := json.Unmarshal(element, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode error entry: %w", err)
		}
		history = append(history, entry)
	}
	return history, nil
}

// GetStreamChunks returns all streamed fragments in production order
func (s *TaskStorage) GetStreamChunks(ctx context.Context, taskID string) ([]string, error) {
	raw, err := s.readEntries(taskKey(taskID, suffixStream))
	if err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(raw))
	for _, element := range raw {
		var chunk string
		if err := json.Unmarshal(element, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// GetStreamText returns the concatenation of all streamed fragments
func (s *TaskStorage) GetStreamText(ctx context.Context, taskID string) (string, error) {
	chunks, err := s.GetStreamChunks(ctx, taskID)
	if err != nil {
		return "", err
	}
	return strings.Join(chunks, ""), nil
}

// TaskExists reports whether any status state exists for the task id
func (s *TaskStorage) TaskExists(ctx context.Context, taskID string) (bool, error) {
	err := s.db.DB().View(func(txn *badger.Txn) error {
		_, err := txn.Get(taskKey(taskID, suffixStatus))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task existence: %w", err)
	}
	return true, nil
}

// ClaimRun atomically claims a single executor run for the task. The claim
// key shares the task TTL so a crashed run does not pin the id forever.
func (s *TaskStorage) ClaimRun(ctx context.Context, taskID string) (bool, error) {
	claimed := false
	key := taskKey(taskID, suffixClaim)

	err := s.db.DB().Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil // already claimed by an earlier delivery
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to check run claim: %w", err)
		}
		claimed = true
		return txn.SetEntry(badger.NewEntry(key, []byte(time.Now().UTC().Format(time.RFC3339))).WithTTL(s.ttl))
	})
	if err != nil {
		return false, err
	}

	if !claimed {
		s.logger.Warn().Str("task_id", taskID).Msg("Duplicate delivery for already-claimed task")
	}
	return claimed, nil
}

// Cleanup removes all keys for a task id immediately, independent of TTL
func (s *TaskStorage) Cleanup(ctx context.Context, taskID string) error {
	err := s.db.DB().Update(func(txn *badger.Txn) error {
		for _, suffix := range []string{suffixStatus, suffixStream, suffixError, suffixClaim} {
			if err := txn.Delete(taskKey(taskID, suffix)); err != nil && err != badger.ErrKeyNotFound {
				return fmt.Errorf("failed to delete %s key: %w", suffix, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("task_id", taskID).Msg("Task state cleaned up")
	return nil
}
