package pubsub

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// LocalRelay adapts the embedded Broker to the RelayService interface so
// the system runs without an external relay. Publishes and subscriptions
// share the broker's channel registry with any HTTP clients attached to the
// broker's REST surface.
type LocalRelay struct {
	broker        *Broker
	channelPrefix string
	logger        arbor.ILogger
}

// NewLocalRelay creates a relay service backed by the embedded broker
func NewLocalRelay(broker *Broker, channelPrefix string, logger arbor.ILogger) *LocalRelay {
	if channelPrefix == "" {
		channelPrefix = "task:"
	}
	return &LocalRelay{
		broker:        broker,
		channelPrefix: channelPrefix,
		logger:        logger,
	}
}

// Channel returns the channel name for a task id
func (l *LocalRelay) Channel(taskID string) string {
	return l.channelPrefix + taskID
}

// Publish fans the message out to the channel's live subscribers
func (l *LocalRelay) Publish(ctx context.Context, channel string, message string) (int, error) {
	return l.broker.Publish(channel, message), nil
}

// Subscribe feeds channel messages to onMessage until ctx is cancelled
func (l *LocalRelay) Subscribe(ctx context.Context, channel string, onMessage interfaces.MessageHandler) error {
	sub := l.broker.addSubscriber(channel)
	defer l.broker.removeSubscriber(channel, sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-sub.messages:
			if err := onMessage(message); err != nil {
				return fmt.Errorf("subscription handler failed: %w", err)
			}
		}
	}
}

// PublishEnvelope marshals and publishes a typed envelope on the task's channel
func (l *LocalRelay) PublishEnvelope(ctx context.Context, taskID string, envelope models.Envelope) error {
	message, err := envelope.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if _, err := l.Publish(ctx, l.Channel(taskID), message); err != nil {
		return err
	}
	return nil
}
