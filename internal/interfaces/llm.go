package interfaces

import (
	"context"
)

// GenerationRequest describes one generation run
type GenerationRequest struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// FragmentHandler receives each text fragment as the engine produces it.
// Returning an error aborts the run.
type FragmentHandler func(fragment string) error

// GenerationService drives the token-generation engine. Fragments arrive in
// production order; the sequence is finite and not restartable.
type GenerationService interface {
	// GenerateStream runs a generation, invoking onFragment per fragment,
	// and returns the full concatenated output on success.
	GenerateStream(ctx context.Context, req GenerationRequest, onFragment FragmentHandler) (string, error)

	// HealthCheck verifies the engine is reachable
	HealthCheck(ctx context.Context) error

	// Close releases engine resources
	Close() error
}
