package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
)

// publishResponse is the queue's reply to a publish request
type publishResponse struct {
	MessageID string `json:"messageId"`
}

// Client submits delivery requests to the external durable queue. The queue
// owns retry/backoff; this client only configures the retry budget and
// delivery delay headers on submission.
type Client struct {
	endpoint   string
	token      string
	retries    int
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewClient creates a new durable queue client
func NewClient(config *common.QueueConfig, timeout time.Duration, logger arbor.ILogger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("queue endpoint is required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("queue token is required")
	}

	retries := config.Retries
	if retries <= 0 {
		retries = 3
	}

	return &Client{
		endpoint:   strings.TrimSuffix(config.Endpoint, "/"),
		token:      config.Token,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Enqueue submits a JSON payload for asynchronous delivery to url.
// Returns the queue-assigned message id.
func (c *Client) Enqueue(ctx context.Context, url string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/publish/%s", c.endpoint, url)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create queue request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	req.Header.Set("Upstash-Delay", "0s")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("queue submission failed: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var result publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode queue response: %w", err)
	}

	c.logger.Debug().
		Str("message_id", result.MessageID).
		Str("url", url).
		Int("retries", c.retries).
		Msg("Delivery enqueued")

	return result.MessageID, nil
}
