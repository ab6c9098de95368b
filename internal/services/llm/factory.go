package llm

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskstream/internal/common"
	"github.com/ternarybob/taskstream/internal/interfaces"
)

// NewGenerationService creates the configured generation engine. Supported
// providers are "claude", "gemini", and "offline". An empty provider falls
// back to offline so the system runs without credentials.
func NewGenerationService(config *common.LLMConfig, logger arbor.ILogger) (interfaces.GenerationService, error) {
	provider := strings.ToLower(strings.TrimSpace(config.Provider))

	switch provider {
	case "claude":
		return NewClaudeService(config, logger)
	case "gemini":
		return NewGeminiService(config, logger)
	case "offline", "":
		if provider == "" {
			logger.Warn().Msg("No generation provider configured, using offline engine")
		}
		return NewOfflineService(logger), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s (supported: claude, gemini, offline)", config.Provider)
	}
}
