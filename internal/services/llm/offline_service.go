package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/interfaces"
)

const defaultOfflineResponse = "This is a generated response produced without an external model. " +
	"The text is emitted fragment by fragment so every downstream consumer " +
	"exercises the same streaming path a live engine would drive."

// OfflineService is a deterministic GenerationService used in development
// and tests when no API key is configured. It echoes a canned completion
// word by word through the fragment handler.
type OfflineService struct {
	logger   arbor.ILogger
	response string
	delay    time.Duration
}

// NewOfflineService creates an offline generation service
func NewOfflineService(logger arbor.ILogger) *OfflineService {
	return &OfflineService{
		logger:   logger,
		response: defaultOfflineResponse,
		delay:    10 * time.Millisecond,
	}
}

// WithResponse overrides the canned completion. Used by tests.
func (s *OfflineService) WithResponse(response string) *OfflineService {
	s.response = response
	return s
}

// GenerateStream emits the canned completion as word fragments
func (s *OfflineService) GenerateStream(ctx context.Context, req interfaces.GenerationRequest, onFragment interfaces.FragmentHandler) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty for generation")
	}

	s.logger.Debug().
		Int("prompt_length", len(req.Prompt)).
		Msg("Starting offline generation")

	words := strings.Fields(s.response)
	var full strings.Builder

	for i, word := range words {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		fragment := word
		if i < len(words)-1 {
			fragment += " "
		}
		full.WriteString(fragment)

		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return "", fmt.Errorf("fragment handler failed: %w", err)
			}
		}

		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}

	return full.String(), nil
}

// HealthCheck always succeeds for the offline service
func (s *OfflineService) HealthCheck(ctx context.Context) error {
	return nil
}

// Close releases resources and performs cleanup operations
func (s *OfflineService) Close() error {
	return nil
}
