package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// memoryStorage is an in-memory TaskLogStorage for handler tests
type memoryStorage struct {
	mu       sync.Mutex
	statuses map[string][]models.StatusEntry
	errors   map[string][]models.ErrorEntry
	chunks   map[string][]string
	claims   map[string]bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		statuses: make(map[string][]models.StatusEntry),
		errors:   make(map[string][]models.ErrorEntry),
		chunks:   make(map[string][]string),
		claims:   make(map[string]bool),
	}
}

func (m *memoryStorage) AppendStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[taskID] = append(m.statuses[taskID], models.StatusEntry{Status: status})
	return nil
}

func (m *memoryStorage) AppendError(ctx context.Context, taskID string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[taskID] = append(m.errors[taskID], models.ErrorEntry{Error: message})
	return nil
}

func (m *memoryStorage) AppendChunk(ctx context.Context, taskID string, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[taskID] = append(m.chunks[taskID], chunk)
	return nil
}

func (m *memoryStorage) GetStatus(ctx context.Context, taskID string) (models.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.statuses[taskID]
	if len(history) == 0 {
		return "", interfaces.ErrTaskNotFound
	}
	return history[len(history)-1].Status, nil
}

func (m *memoryStorage) GetStatusHistory(ctx context.Context, taskID string) ([]models.StatusEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.statuses[taskID]
	if len(history) == 0 {
		return nil, interfaces.ErrTaskNotFound
	}
	return append([]models.StatusEntry(nil), history...), nil
}

func (m *memoryStorage) GetError(ctx context.Context, taskID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.errors[taskID]
	if len(history) == 0 {
		return "", interfaces.ErrTaskNotFound
	}
	return history[len(history)-1].Error, nil
}

func (m *memoryStorage) GetErrorHistory(ctx context.Context, taskID string) ([]models.ErrorEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errors[taskID]) == 0 {
		return nil, interfaces.ErrTaskNotFound
	}
	return append([]models.ErrorEntry(nil), m.errors[taskID]...), nil
}

func (m *memoryStorage) GetStreamChunks(ctx context.Context, taskID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chunks[taskID]) == 0 {
		return nil, interfaces.ErrTaskNotFound
	}
	return append([]string(nil), m.chunks[taskID]...), nil
}

func (m *memoryStorage) GetStreamText(ctx context.Context, taskID string) (string, error) {
	chunks, err := m.GetStreamChunks(ctx, taskID)
	if err != nil {
		return "", err
	}
	return strings.Join(chunks, ""), nil
}

func (m *memoryStorage) TaskExists(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statuses[taskID]) > 0, nil
}

func (m *memoryStorage) ClaimRun(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[taskID] {
		return false, nil
	}
	m.claims[taskID] = true
	return true, nil
}

func (m *memoryStorage) Cleanup(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, taskID)
	delete(m.errors, taskID)
	delete(m.chunks, taskID)
	delete(m.claims, taskID)
	return nil
}

// failingRelay breaks every subscription immediately
type failingRelay struct{}

func (r *failingRelay) Publish(ctx context.Context, channel string, message string) (int, error) {
	return 0, nil
}

func (r *failingRelay) Subscribe(ctx context.Context, channel string, onMessage interfaces.MessageHandler) error {
	return fmt.Errorf("relay connection refused")
}

func (r *failingRelay) Channel(taskID string) string {
	return "task:" + taskID
}

func (r *failingRelay) PublishEnvelope(ctx context.Context, taskID string, envelope models.Envelope) error {
	return nil
}

// stubQueue returns a fixed message id without delivering anything
type stubQueue struct {
	mu       sync.Mutex
	payloads []models.WebhookPayload
	err      error
}

func (q *stubQueue) Enqueue(ctx context.Context, url string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, payload.(models.WebhookPayload))
	return "msg_stub", nil
}

// stubGenerator emits fixed fragments
type stubGenerator struct {
	fragments []string
	err       error
}

func (g *stubGenerator) GenerateStream(ctx context.Context, req interfaces.GenerationRequest, onFragment interfaces.FragmentHandler) (string, error) {
	var full strings.Builder
	for _, fragment := range g.fragments {
		full.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return "", err
			}
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return full.String(), nil
}

func (g *stubGenerator) HealthCheck(ctx context.Context) error { return nil }
func (g *stubGenerator) Close() error                          { return nil }
