package interfaces

import (
	"context"
	"errors"
)

// ErrInvalidSignature is returned when a delivery signature fails verification
var ErrInvalidSignature = errors.New("invalid delivery signature")

// QueueClient submits payloads to the external durable delivery queue.
// The queue guarantees at-least-once delivery to the destination URL with
// its own retry/backoff machinery.
type QueueClient interface {
	// Enqueue submits a JSON payload for asynchronous delivery to url.
	// Returns the queue-assigned message id.
	Enqueue(ctx context.Context, url string, payload any) (string, error)
}

// DeliveryVerifier authenticates webhook deliveries from the durable queue
type DeliveryVerifier interface {
	// Verify checks the delivery signature against the request body and
	// destination URL. Returns ErrInvalidSignature on mismatch.
	Verify(signature string, body []byte, url string) error
}
