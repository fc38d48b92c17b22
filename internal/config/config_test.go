package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"WS_URL", "API_BASE_URL", "DIRECTIVE_TIMEOUT", "ALLOWED_ORIGIN", "RATE_LIMIT_BURST"} {
		t.Setenv(key, "")
	}

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "ws://localhost:8080", cfg.WSURL)
	assert.Equal(t, "http://bob:8080", cfg.APIBaseURL)
	assert.Equal(t, 2*time.Minute, cfg.DirectiveTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("WS_URL", "ws://relay:9000/ws")
	t.Setenv("DIRECTIVE_TIMEOUT", "30s")
	t.Setenv("LOG_DEVELOPMENT", "yes")
	t.Setenv("ALLOWED_ORIGIN", "http://a.test, http://b.test,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "ws://relay:9000/ws", cfg.WSURL)
	assert.Equal(t, 30*time.Second, cfg.DirectiveTimeout)
	assert.True(t, cfg.LogDevelopment)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoad_DotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OPENAI_MODEL=from-file\nAGENT_PROMPT_FILE=prompt.yaml\n"), 0o600))

	t.Setenv("OPENAI_MODEL", "from-env")
	t.Setenv("AGENT_PROMPT_FILE", "")
	os.Unsetenv("AGENT_PROMPT_FILE")

	cfg := Load(path)

	assert.Equal(t, "from-env", cfg.OpenAIModel)
	assert.Equal(t, "prompt.yaml", cfg.AgentPromptFile)
	os.Unsetenv("AGENT_PROMPT_FILE")
}
