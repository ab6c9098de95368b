package interfaces

import (
	"context"

	"github.com/ternarybob/taskstream/internal/models"
)

// MessageHandler receives each decoded relay message for a subscription.
// Returning an error tears the subscription down.
type MessageHandler func(message string) error

// RelayService publishes task-scoped events to named channels and exposes a
// live feed of those events to independent subscribers. Channels are
// ephemeral: a subscriber that joins late has missed all earlier messages.
type RelayService interface {
	// Publish sends a message to a channel, returning the number of live
	// subscribers notified. Zero subscribers is not an error.
	Publish(ctx context.Context, channel string, message string) (int, error)

	// Subscribe opens a long-lived feed on a channel, invoking onMessage for
	// every decoded message until the feed ends or ctx is cancelled.
	// Cancellation is a clean exit and returns nil.
	Subscribe(ctx context.Context, channel string, onMessage MessageHandler) error

	// Channel returns the channel name for a task id
	Channel(taskID string) string

	// PublishEnvelope marshals and publishes a typed envelope on the task's channel
	PublishEnvelope(ctx context.Context, taskID string, envelope models.Envelope) error
}
