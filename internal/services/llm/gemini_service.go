package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
)

// GeminiService implements the GenerationService interface using the
// Google Gemini API with streaming content generation.
type GeminiService struct {
	config  *common.LLMConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiService creates a new Gemini generation service instance
func NewGeminiService(config *common.LLMConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for Gemini service (set via GEMINI_API_KEY, TASKSTREAM_LLM_API_KEY, or llm.api_key in config)")
	}

	// Set default model name if not specified
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	// Parse timeout duration
	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini generation service initialized successfully")

	return service, nil
}

// GenerateStream runs one streaming generation, invoking onFragment for
// each text chunk as the engine emits it, and returns the full output.
func (s *GeminiService) GenerateStream(ctx context.Context, req interfaces.GenerationRequest, onFragment interfaces.FragmentHandler) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty for generation")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = s.config.Model
	}

	genConfig := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(req.MaxTokens)
	} else if s.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(s.config.MaxTokens)
	}
	if req.Temperature > 0 {
		genConfig.Temperature = genai.Ptr(float32(req.Temperature))
	}

	startTime := time.Now()
	s.logger.Debug().
		Str("model", model).
		Int("prompt_length", len(req.Prompt)).
		Msg("Starting Gemini streaming generation")

	var full strings.Builder
	for resp, err := range s.client.Models.GenerateContentStream(timeoutCtx, model, genai.Text(req.Prompt), genConfig) {
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("model", model).
				Msg("Gemini streaming generation failed")
			return "", fmt.Errorf("Gemini API stream failed: %w", err)
		}

		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		if onFragment != nil {
			if err := onFragment(chunk); err != nil {
				return "", fmt.Errorf("fragment handler failed: %w", err)
			}
		}
	}

	s.logger.Debug().
		Str("model", model).
		Int("response_length", full.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini streaming generation completed")

	return full.String(), nil
}

// HealthCheck verifies the Gemini service can handle requests
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.GenerateStream(healthCtx, interfaces.GenerationRequest{
		Prompt:    "ping",
		MaxTokens: 16,
	}, nil)
	if err != nil {
		return fmt.Errorf("Gemini health check failed: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return fmt.Errorf("Gemini probe returned empty response")
	}
	return nil
}

// Close releases resources and performs cleanup operations
func (s *GeminiService) Close() error {
	s.logger.Debug().Msg("Closing Gemini generation service")
	// Gemini client doesn't require explicit cleanup
	return nil
}
