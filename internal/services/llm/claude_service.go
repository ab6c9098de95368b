package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
)

// ClaudeService implements the GenerationService interface using the
// Anthropic Claude API with streaming message completions.
type ClaudeService struct {
	config  *common.LLMConfig
	logger  arbor.ILogger
	client  anthropic.Client
	timeout time.Duration
}

// NewClaudeService creates a new Claude generation service instance
func NewClaudeService(config *common.LLMConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for Claude service (set via ANTHROPIC_API_KEY, TASKSTREAM_LLM_API_KEY, or llm.api_key in config)")
	}

	// Set default model name if not specified
	if config.Model == "" {
		config.Model = "claude-sonnet-4-20250514"
	}

	// Parse timeout duration
	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	service := &ClaudeService{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Int("max_tokens", config.MaxTokens).
		Msg("Claude generation service initialized successfully")

	return service, nil
}

// GenerateStream runs one streaming generation, invoking onFragment for
// each text delta as the engine emits it, and returns the full output.
func (s *ClaudeService) GenerateStream(ctx context.Context, req interfaces.GenerationRequest, onFragment interfaces.FragmentHandler) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty for generation")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = s.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	startTime := time.Now()
	s.logger.Debug().
		Str("model", model).
		Int("prompt_length", len(req.Prompt)).
		Msg("Starting Claude streaming generation")

	stream := s.client.Messages.NewStreaming(timeoutCtx, params)

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				full.WriteString(delta.Text)
				if onFragment != nil {
					if err := onFragment(delta.Text); err != nil {
						return "", fmt.Errorf("fragment handler failed: %w", err)
					}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		s.logger.Error().
			Err(err).
			Str("model", model).
			Msg("Claude streaming generation failed")
		return "", fmt.Errorf("Claude API stream failed: %w", err)
	}

	s.logger.Debug().
		Str("model", model).
		Int("response_length", full.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Claude streaming generation completed")

	return full.String(), nil
}

// HealthCheck verifies the Claude service can handle requests
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.GenerateStream(healthCtx, interfaces.GenerationRequest{
		Prompt:    "ping",
		MaxTokens: 16,
	}, nil)
	if err != nil {
		return fmt.Errorf("Claude health check failed: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return fmt.Errorf("Claude probe returned empty response")
	}
	return nil
}

// Close releases resources and performs cleanup operations
func (s *ClaudeService) Close() error {
	s.logger.Debug().Msg("Closing Claude generation service")
	// Claude client doesn't require explicit cleanup
	return nil
}
