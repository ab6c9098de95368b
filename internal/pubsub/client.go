package pubsub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
	"github.com/ternarybob/taskstream/internal/models"
)

// publishResponse is the relay's reply to a publish request
type publishResponse struct {
	Result int `json:"result"`
}

// Client implements the RelayService interface against an Upstash-style
// REST pub/sub transport: POST /publish/<channel> for fan-out, long-lived
// GET /subscribe/<channel> for the live feed.
type Client struct {
	baseURL       string
	token         string
	channelPrefix string
	publishClient *http.Client
	streamClient  *http.Client
	logger        arbor.ILogger
}

// NewClient creates a new relay client
func NewClient(config *common.RelayConfig, publishTimeout time.Duration, logger arbor.ILogger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("relay URL is required")
	}

	prefix := config.ChannelPrefix
	if prefix == "" {
		prefix = "task:"
	}

	return &Client{
		baseURL:       strings.TrimSuffix(config.URL, "/"),
		token:         config.Token,
		channelPrefix: prefix,
		publishClient: &http.Client{Timeout: publishTimeout},
		// Subscriptions are long-lived reads; no client timeout, cancellation
		// comes from the request context.
		streamClient: &http.Client{},
		logger:       logger,
	}, nil
}

// Channel returns the channel name for a task id
func (c *Client) Channel(taskID string) string {
	return c.channelPrefix + taskID
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Publish sends a message to a channel, returning the number of live
// subscribers notified. Zero subscribers is not an error.
func (c *Client) Publish(ctx context.Context, channel string, message string) (int, error) {
	endpoint := fmt.Sprintf("%s/publish/%s", c.baseURL, url.PathEscape(channel))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return 0, fmt.Errorf("failed to create publish request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.publishClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("relay publish failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("relay publish failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var result publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode publish response: %w", err)
	}

	c.logger.Debug().
		Str("channel", channel).
		Int("subscribers", result.Result).
		Msg("Published relay message")

	return result.Result, nil
}

// Subscribe opens a long-lived feed on a channel and invokes onMessage for
// every decoded message. Context cancellation is a clean exit and returns
// nil; the underlying transport is released on every exit path.
func (c *Client) Subscribe(ctx context.Context, channel string, onMessage interfaces.MessageHandler) error {
	endpoint := fmt.Sprintf("%s/subscribe/%s", c.baseURL, url.PathEscape(channel))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create subscribe request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug().Str("channel", channel).Msg("Subscribing to relay channel")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug().Str("channel", channel).Msg("Relay subscription aborted")
			return nil
		}
		return fmt.Errorf("relay subscribe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay subscribe failed: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		message, ok := DecodeWireLine(scanner.Text())
		if !ok {
			continue
		}
		if err := onMessage(message); err != nil {
			return fmt.Errorf("subscription handler failed: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		// A cancelled context surfaces as a read error on the body
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.logger.Debug().Str("channel", channel).Msg("Relay subscription aborted")
			return nil
		}
		return fmt.Errorf("relay subscription read failed: %w", err)
	}

	c.logger.Debug().Str("channel", channel).Msg("Relay subscription ended")
	return nil
}

// PublishEnvelope marshals and publishes a typed envelope on the task's channel
func (c *Client) PublishEnvelope(ctx context.Context, taskID string, envelope models.Envelope) error {
	message, err := envelope.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if _, err := c.Publish(ctx, c.Channel(taskID), message); err != nil {
		return err
	}
	return nil
}
