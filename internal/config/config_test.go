package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "RELAY_MAX_BODY_BYTES", "AI_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL",
		"OPENAI_BASE_URL", "ARK_API_KEY", "ARK_MODEL", "ARK_BASE_URL", "ARK_REGION",
		"AI_TEMPERATURE", "AI_TOP_P", "AI_MAX_TOKENS", "AI_UPSTREAM_TIMEOUT",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(defaultMaxBodyBytes), cfg.Server.MaxBodyBytes)
	assert.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, 2*time.Minute, cfg.AI.UpstreamTimeout)
	assert.False(t, cfg.AI.Enabled())
	assert.Equal(t, "OPENAI_API_KEY", cfg.AI.CredentialEnv())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadOpenAIOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("OPENAI_API_KEY", " sk-test ")
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	t.Setenv("AI_TEMPERATURE", "0.3")
	t.Setenv("AI_MAX_TOKENS", "256")
	t.Setenv("AI_UPSTREAM_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.AI.Model)
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.3, *cfg.AI.Temperature, 1e-9)
	require.NotNil(t, cfg.AI.MaxTokens)
	assert.Equal(t, 256, *cfg.AI.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.AI.UpstreamTimeout)
}

func TestLoadArkProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "ARK")
	t.Setenv("ARK_API_KEY", "ark-key")
	t.Setenv("ARK_MODEL", "ep-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, "ARK_API_KEY", cfg.AI.CredentialEnv())
	assert.Equal(t, "ep-123", cfg.AI.Model)
	assert.Equal(t, "cn-beijing", cfg.AI.Region)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"provider":  {"AI_PROVIDER", "anthropic"},
		"port":      {"PORT", "80 80"},
		"timeout":   {"AI_UPSTREAM_TIMEOUT", "soon"},
		"negative":  {"AI_UPSTREAM_TIMEOUT", "-1s"},
		"maxTokens": {"AI_MAX_TOKENS", "many"},
		"body":      {"RELAY_MAX_BODY_BYTES", "0"},
	}

	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewChatModelRequiresCredential(t *testing.T) {
	_, err := AIConfig{Provider: ProviderOpenAI}.NewChatModel(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}
