package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, 8085, config.Server.Port)
	assert.Equal(t, "1h", config.Tasks.TTL)
	assert.Equal(t, 3, config.Queue.Retries)
	assert.Equal(t, "task:", config.Relay.ChannelPrefix)
	assert.Equal(t, "offline", config.LLM.Provider)
	require.NoError(t, config.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskstream.toml")
	content := `
environment = "production"

[server]
port = 9090
base_url = "https://tasks.example.com"

[tasks]
ttl = "30m"

[llm]
provider = "claude"
api_key = "sk-test"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "https://tasks.example.com", config.Server.BaseURL)
	assert.Equal(t, 30*time.Minute, config.TaskTTL())
	assert.Equal(t, "claude", config.LLM.Provider)
	// Unset sections keep defaults
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, "1s", config.Tasks.StreamGraceWait)
}

func TestLoadFromFile_EmptyPathLoadsDefaults(t *testing.T) {
	config, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, 8085, config.Server.Port)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKSTREAM_SERVER_PORT", "7070")
	t.Setenv("TASKSTREAM_QUEUE_TOKEN", "env-token")
	t.Setenv("TASKSTREAM_LLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")

	config, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.Port)
	assert.Equal(t, "env-token", config.Queue.Token)
	assert.Equal(t, "gemini", config.LLM.Provider)
	assert.Equal(t, "g-key", config.LLM.APIKey)
}

func TestEnvOverrides_ExplicitKeyWinsOverProviderKey(t *testing.T) {
	t.Setenv("TASKSTREAM_LLM_API_KEY", "explicit")
	t.Setenv("ANTHROPIC_API_KEY", "fallback")

	config, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, "explicit", config.LLM.APIKey)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 6060, "0.0.0.0")

	assert.Equal(t, 6060, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 6060, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestValidate_Rejections(t *testing.T) {
	config := NewDefaultConfig()
	config.Server.Port = 0
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.Tasks.TTL = "not-a-duration"
	assert.Error(t, config.Validate())

	config = NewDefaultConfig()
	config.LLM.Provider = "gpt4"
	assert.Error(t, config.Validate())
}

func TestIsProduction(t *testing.T) {
	config := NewDefaultConfig()
	assert.False(t, config.IsProduction())

	config.Environment = "Production"
	assert.True(t, config.IsProduction())
}

func TestDurationHelpers_FallBackOnGarbage(t *testing.T) {
	config := NewDefaultConfig()
	config.Tasks.TTL = "garbage"
	config.Tasks.PingInterval = "garbage"
	config.Queue.Timeout = "garbage"

	assert.Equal(t, time.Hour, config.TaskTTL())
	assert.Equal(t, 15*time.Second, config.PingInterval())
	assert.Equal(t, 30*time.Second, config.QueueTimeout())
}
