package tasks

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/models"
)

// recordingQueue captures enqueued payloads
type recordingQueue struct {
	url      string
	payloads []models.WebhookPayload
	err      error
}

func (q *recordingQueue) Enqueue(ctx context.Context, url string, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.url = url
	q.payloads = append(q.payloads, payload.(models.WebhookPayload))
	return "msg_test", nil
}

func newTestDispatcher(queue *recordingQueue, storage *memoryStorage) *Dispatcher {
	config := common.NewDefaultConfig()
	config.Server.BaseURL = "https://tasks.example.com"
	config.LLM.Model = "claude-sonnet-4-20250514"
	config.LLM.MaxTokens = 500
	config.LLM.Temperature = 0.5
	return NewDispatcher(storage, queue, config, arbor.NewLogger())
}

func TestDispatcher_Dispatch(t *testing.T) {
	queue := &recordingQueue{}
	storage := newMemoryStorage()
	dispatcher := newTestDispatcher(queue, storage)

	result, err := dispatcher.Dispatch(context.Background(), models.TaskRequest{Prompt: "write a poem"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.TaskID, "task_"))
	assert.Equal(t, "msg_test", result.MessageID)
	assert.Equal(t, "pending", result.Status)

	// The id is queryable before delivery happens
	status, err := storage.GetStatus(context.Background(), result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, status)

	// Delivery targets the webhook and carries the resolved request
	assert.Equal(t, "https://tasks.example.com"+WebhookPath, queue.url)
	require.Len(t, queue.payloads, 1)
	payload := queue.payloads[0]
	assert.Equal(t, result.TaskID, payload.TaskID)
	assert.Equal(t, "write a poem", payload.Prompt)
	assert.Equal(t, "claude-sonnet-4-20250514", payload.Model)
	assert.Equal(t, 500, payload.MaxTokens)
	assert.Equal(t, 0.5, payload.Temperature)
}

func TestDispatcher_ExplicitOverridesKept(t *testing.T) {
	queue := &recordingQueue{}
	dispatcher := newTestDispatcher(queue, newMemoryStorage())

	_, err := dispatcher.Dispatch(context.Background(), models.TaskRequest{
		Prompt:      "p",
		Model:       "gemini-2.0-flash",
		MaxTokens:   32,
		Temperature: 1.2,
	})
	require.NoError(t, err)

	payload := queue.payloads[0]
	assert.Equal(t, "gemini-2.0-flash", payload.Model)
	assert.Equal(t, 32, payload.MaxTokens)
	assert.Equal(t, 1.2, payload.Temperature)
}

func TestDispatcher_RejectsInvalidRequests(t *testing.T) {
	queue := &recordingQueue{}
	storage := newMemoryStorage()
	dispatcher := newTestDispatcher(queue, storage)

	_, err := dispatcher.Dispatch(context.Background(), models.TaskRequest{})
	assert.Error(t, err)

	_, err = dispatcher.Dispatch(context.Background(), models.TaskRequest{Prompt: "p", MaxTokens: -5})
	assert.Error(t, err)

	_, err = dispatcher.Dispatch(context.Background(), models.TaskRequest{Prompt: "p", Temperature: 3.0})
	assert.Error(t, err)

	// Nothing was persisted or enqueued
	assert.Empty(t, queue.payloads)
	assert.Empty(t, storage.statuses)
}

func TestDispatcher_EnqueueFailure(t *testing.T) {
	queue := &recordingQueue{err: fmt.Errorf("queue unavailable")}
	storage := newMemoryStorage()
	dispatcher := newTestDispatcher(queue, storage)

	_, err := dispatcher.Dispatch(context.Background(), models.TaskRequest{Prompt: "p"})
	require.Error(t, err)

	// The pending record stays behind and ages out on TTL
	assert.Len(t, storage.statuses, 1)
}

func TestDecodeWebhookPayload(t *testing.T) {
	payload, err := DecodeWebhookPayload([]byte(`{"taskId":"task_1","prompt":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "task_1", payload.TaskID)

	_, err = DecodeWebhookPayload([]byte(`{"prompt":"no id"}`))
	assert.Error(t, err)

	_, err = DecodeWebhookPayload([]byte(`not json`))
	assert.Error(t, err)
}
