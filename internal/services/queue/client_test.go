package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/models"
)

func TestClient_Enqueue(t *testing.T) {
	var gotPath, gotAuth, gotRetries, gotDelay string
	var gotBody models.WebhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get("Upstash-Retries")
		gotDelay = r.Header.Get("Upstash-Delay")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messageId":"msg_123"}`))
	}))
	defer server.Close()

	client, err := NewClient(&common.QueueConfig{
		Endpoint: server.URL,
		Token:    "qs-token",
		Retries:  5,
	}, 5*time.Second, arbor.NewLogger())
	require.NoError(t, err)

	payload := models.WebhookPayload{TaskID: "task_1", Prompt: "hello"}
	messageID, err := client.Enqueue(context.Background(), "https://app.example.com/api/queue/webhook", payload)
	require.NoError(t, err)

	assert.Equal(t, "msg_123", messageID)
	assert.Equal(t, "/v2/publish/https://app.example.com/api/queue/webhook", gotPath)
	assert.Equal(t, "Bearer qs-token", gotAuth)
	assert.Equal(t, "5", gotRetries)
	assert.Equal(t, "0s", gotDelay)
	assert.Equal(t, "task_1", gotBody.TaskID)
	assert.Equal(t, "hello", gotBody.Prompt)
}

func TestClient_EnqueueServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(&common.QueueConfig{Endpoint: server.URL, Token: "t"}, 5*time.Second, arbor.NewLogger())
	require.NoError(t, err)

	_, err = client.Enqueue(context.Background(), "https://app.example.com/hook", models.WebhookPayload{TaskID: "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestNewClient_RequiresEndpointAndToken(t *testing.T) {
	_, err := NewClient(&common.QueueConfig{Token: "t"}, time.Second, arbor.NewLogger())
	assert.Error(t, err)

	_, err = NewClient(&common.QueueConfig{Endpoint: "https://q"}, time.Second, arbor.NewLogger())
	assert.Error(t, err)
}

func TestLocalClient_DeliversInProcess(t *testing.T) {
	delivered := make(chan []byte, 1)

	client := NewLocalClient(func(ctx context.Context, body []byte) error {
		delivered <- body
		return nil
	}, 5*time.Second, arbor.NewLogger())

	messageID, err := client.Enqueue(context.Background(), "https://ignored", models.WebhookPayload{TaskID: "task_l", Prompt: "p"})
	require.NoError(t, err)
	assert.Contains(t, messageID, "local_")

	select {
	case body := <-delivered:
		var payload models.WebhookPayload
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "task_l", payload.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never happened")
	}
}
