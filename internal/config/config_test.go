package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENT_RUNTIME", RuntimeLocal)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "persistent_chatbot_app", cfg.AppName)
	assert.Equal(t, 5, cfg.Session.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.BaseDelay)
	assert.Equal(t, 3, cfg.Turn.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Turn.RecoveryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Turn.SettleDelay)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENT_RUNTIME", "GRPC")
	t.Setenv("AGENT_GRPC_ADDR", "agent:6000")
	t.Setenv("SESSION_ENSURE_BASE_DELAY", "25ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DEBUG", "yes")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RuntimeGrpc, cfg.Agent.Runtime)
	assert.Equal(t, "agent:6000", cfg.Agent.GrpcAddr)
	assert.Equal(t, 25*time.Millisecond, cfg.Session.BaseDelay)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Debug)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("AGENT_RUNTIME", RuntimeLocal)
	t.Setenv("TURN_SETTLE_DELAY", "soon")
	t.Setenv("TURN_MAX_ATTEMPTS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Turn.SettleDelay)
	assert.Equal(t, 3, cfg.Turn.MaxAttempts)
}

func TestLoadRejectsNonPositiveSessionTTL(t *testing.T) {
	t.Setenv("AGENT_RUNTIME", RuntimeLocal)
	t.Setenv("SESSION_TTL", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_TTL")
}

func TestValidate(t *testing.T) {
	t.Setenv("AGENT_RUNTIME", RuntimeLocal)
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty app name", func(c *Config) { c.AppName = "" }},
		{"zero retries", func(c *Config) { c.Session.MaxRetries = 0 }},
		{"zero attempts", func(c *Config) { c.Turn.MaxAttempts = 0 }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"negative session ttl", func(c *Config) { c.SessionTTL = -time.Hour }},
		{"unknown runtime", func(c *Config) { c.Agent.Runtime = "remote" }},
		{"grpc without addr", func(c *Config) {
			c.Agent.Runtime = RuntimeGrpc
			c.Agent.GrpcAddr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
