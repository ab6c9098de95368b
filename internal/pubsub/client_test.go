package pubsub

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/models"
)

// newBrokerBackedClient runs the embedded broker behind httptest and points
// a relay client at it, exercising the full REST round trip.
func newBrokerBackedClient(t *testing.T) (*Client, *Broker) {
	t.Helper()

	logger := arbor.NewLogger()
	broker := NewBroker(logger)
	server := httptest.NewServer(broker)
	t.Cleanup(server.Close)

	client, err := NewClient(&common.RelayConfig{URL: server.URL, ChannelPrefix: "task:"}, 5*time.Second, logger)
	require.NoError(t, err)
	return client, broker
}

func TestClient_Channel(t *testing.T) {
	client, _ := newBrokerBackedClient(t)
	assert.Equal(t, "task:task_1", client.Channel("task_1"))
}

func TestClient_PublishWithoutSubscribers(t *testing.T) {
	client, _ := newBrokerBackedClient(t)

	count, err := client.Publish(context.Background(), "task:lonely", "nobody listening")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestClient_PublishSubscribeRoundTrip(t *testing.T) {
	client, _ := newBrokerBackedClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 16)
	subReady := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		close(subReady)
		done <- client.Subscribe(ctx, "task:rt", func(message string) error {
			received <- message
			return nil
		})
	}()

	<-subReady
	// Give the subscription time to attach before publishing
	require.Eventually(t, func() bool {
		count, err := client.Publish(context.Background(), "task:rt", "probe")
		return err == nil && count > 0
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case message := <-received:
		assert.Equal(t, "probe", message)
	case <-time.After(2 * time.Second):
		t.Fatal("message never arrived")
	}

	// Cancellation is a clean exit
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not exit on cancel")
	}
}

func TestClient_PublishEnvelope(t *testing.T) {
	client, _ := newBrokerBackedClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 16)
	go client.Subscribe(ctx, "task:task_env", func(message string) error {
		received <- message
		return nil
	})

	require.Eventually(t, func() bool {
		err := client.PublishEnvelope(context.Background(), "task_env", models.NewContentEnvelope("hello"))
		return err == nil && len(received) > 0
	}, 2*time.Second, 20*time.Millisecond)

	envelope, ok := models.ParseEnvelope(<-received)
	require.True(t, ok)
	assert.Equal(t, models.EnvelopeContent, envelope.Type)
	assert.Equal(t, "hello", envelope.Data)
}

func TestBroker_FanOut(t *testing.T) {
	logger := arbor.NewLogger()
	broker := NewBroker(logger)

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make([][]string, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewLocalRelay(broker, "task:", logger)

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Subscribe(ctx, "task:fan", func(message string) error {
				mu.Lock()
				results[i] = append(results[i], message)
				mu.Unlock()
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool {
		return broker.Publish("task:fan", "warmup") == 3
	}, 2*time.Second, 10*time.Millisecond)

	broker.Publish("task:fan", "one")
	broker.Publish("task:fan", "two")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < 3; i++ {
			if len(results[i]) < 3 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()

	for i := 0; i < 3; i++ {
		assert.Equal(t, []string{"warmup", "one", "two"}, results[i])
	}
}

func TestLocalRelay_PublishEnvelope(t *testing.T) {
	logger := arbor.NewLogger()
	relay := NewLocalRelay(NewBroker(logger), "task:", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 1)
	go relay.Subscribe(ctx, relay.Channel("t1"), func(message string) error {
		received <- message
		return nil
	})

	require.Eventually(t, func() bool {
		require.NoError(t, relay.PublishEnvelope(context.Background(), "t1", models.NewStartEnvelope("t1")))
		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)

	envelope, ok := models.ParseEnvelope(<-received)
	require.True(t, ok)
	assert.Equal(t, models.EnvelopeStart, envelope.Type)
	assert.Equal(t, "t1", envelope.TaskID)
}
