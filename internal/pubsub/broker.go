package pubsub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
)

// brokerSubscriber is one live feed on a broker channel
type brokerSubscriber struct {
	messages chan string
}

// Broker is an embedded, in-process pub/sub transport exposing the same
// REST surface the Client speaks (POST /publish/<channel>,
// GET /subscribe/<channel> as a text/event-stream). It lets the system run
// in development without an external relay service and backs the
// integration tests. Channels are ephemeral and carry no persistence: a
// late subscriber has missed everything published before it joined.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*brokerSubscriber]struct{}
	logger      arbor.ILogger
}

// NewBroker creates a new embedded broker
func NewBroker(logger arbor.ILogger) *Broker {
	return &Broker{
		subscribers: make(map[string]map[*brokerSubscriber]struct{}),
		logger:      logger,
	}
}

// Publish fans a message out to the channel's live subscribers and returns
// how many were notified. Slow subscribers with full buffers are skipped
// (at-most-once, no back-pressure).
func (b *Broker) Publish(channel, message string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	notified := 0
	for sub := range b.subscribers[channel] {
		select {
		case sub.messages <- message:
			notified++
		default:
			b.logger.Warn().Str("channel", channel).Msg("Subscriber buffer full, dropping message")
		}
	}
	return notified
}

func (b *Broker) addSubscriber(channel string) *brokerSubscriber {
	sub := &brokerSubscriber{messages: make(chan string, 256)}

	b.mu.Lock()
	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[*brokerSubscriber]struct{})
	}
	b.subscribers[channel][sub] = struct{}{}
	count := len(b.subscribers[channel])
	b.mu.Unlock()

	b.logger.Debug().Str("channel", channel).Int("subscriber_count", count).Msg("Broker subscriber joined")
	return sub
}

func (b *Broker) removeSubscriber(channel string, sub *brokerSubscriber) {
	b.mu.Lock()
	delete(b.subscribers[channel], sub)
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
	b.mu.Unlock()

	b.logger.Debug().Str("channel", channel).Msg("Broker subscriber left")
}

// ServeHTTP routes the broker's REST surface
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case strings.HasPrefix(path, "publish/"):
		b.handlePublish(w, r, strings.TrimPrefix(path, "publish/"))
	case strings.HasPrefix(path, "subscribe/"):
		b.handleSubscribe(w, r, strings.TrimPrefix(path, "subscribe/"))
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (b *Broker) handlePublish(w http.ResponseWriter, r *http.Request, channel string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if channel == "" {
		http.Error(w, "Missing channel", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1024*1024))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	notified := b.Publish(channel, string(body))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"result": notified})
}

func (b *Broker) handleSubscribe(w http.ResponseWriter, r *http.Request, channel string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if channel == "" {
		http.Error(w, "Missing channel", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	sub := b.addSubscriber(channel)
	defer b.removeSubscriber(channel, sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case message := <-sub.messages:
			// Mirror the foreign transport's framing: SSE line wrapping a
			// JSON {"message": ...} envelope.
			frame, err := json.Marshal(map[string]string{"channel": channel, "message": message})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}
