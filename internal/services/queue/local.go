package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// DeliveryFunc receives a locally enqueued payload
type DeliveryFunc func(ctx context.Context, body []byte) error

// LocalClient is the in-process stand-in for the external durable queue,
// used when no queue endpoint is configured. Deliveries happen once, on a
// background goroutine, with none of the real queue's retry or durability
// guarantees.
type LocalClient struct {
	deliver DeliveryFunc
	timeout time.Duration
	logger  arbor.ILogger
}

// NewLocalClient creates an in-process queue client
func NewLocalClient(deliver DeliveryFunc, timeout time.Duration, logger arbor.ILogger) *LocalClient {
	return &LocalClient{
		deliver: deliver,
		timeout: timeout,
		logger:  logger,
	}
}

// Enqueue hands the payload to the delivery function on a new goroutine
func (c *LocalClient) Enqueue(ctx context.Context, url string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue payload: %w", err)
	}

	messageID := "local_" + uuid.New().String()

	go func() {
		// Delivery outlives the originating request
		deliveryCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if err := c.deliver(deliveryCtx, body); err != nil {
			c.logger.Error().Err(err).Str("message_id", messageID).Msg("Local delivery failed")
		}
	}()

	c.logger.Debug().Str("message_id", messageID).Str("url", url).Msg("Delivery enqueued locally")
	return messageID, nil
}
