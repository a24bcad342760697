// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Agent runtime selectors.
const (
	RuntimeLocal = "local"
	RuntimeGrpc  = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	Debug          bool
	AppName        string
	DBPath         string
	HospitalDBPath string
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	Session        SessionConfig
	Turn           TurnConfig
	RateLimit      RateLimitConfig
	Agent          AgentConfig
	LLM            LLMConfig
}

// SessionConfig controls session creation retries.
type SessionConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// TurnConfig controls agent turn recovery.
type TurnConfig struct {
	MaxAttempts   int
	RecoveryDelay time.Duration
	SettleDelay   time.Duration
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// AgentConfig selects the agent runtime.
type AgentConfig struct {
	Runtime  string
	GrpcAddr string
}

// LLMConfig points the in-process SQL agent at an OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL  string
	Model    string
	APIKey   string
	MaxSteps int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Debug:          getEnvBool("DEBUG", false),
		AppName:        getEnv("APP_NAME", "persistent_chatbot_app"),
		DBPath:         getEnv("DB_PATH", "./data/sessions.db"),
		HospitalDBPath: getEnv("HOSPITAL_DB_PATH", "./data/hospital.db"),
		SessionTTL:     getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 2*time.Minute),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Session: SessionConfig{
			MaxRetries: getEnvInt("SESSION_ENSURE_MAX_RETRIES", 5),
			BaseDelay:  getEnvDuration("SESSION_ENSURE_BASE_DELAY", 100*time.Millisecond),
		},
		Turn: TurnConfig{
			MaxAttempts:   getEnvInt("TURN_MAX_ATTEMPTS", 3),
			RecoveryDelay: getEnvDuration("TURN_RECOVERY_DELAY", 200*time.Millisecond),
			SettleDelay:   getEnvDuration("TURN_SETTLE_DELAY", 500*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 1),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Agent: AgentConfig{
			Runtime:  strings.ToLower(getEnv("AGENT_RUNTIME", RuntimeLocal)),
			GrpcAddr: getEnv("AGENT_GRPC_ADDR", "localhost:50051"),
		},
		LLM: LLMConfig{
			BaseURL:  getEnv("LLM_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
			Model:    getEnv("LLM_MODEL", "gemini-2.5-flash"),
			APIKey:   getEnv("LLM_API_KEY", os.Getenv("GOOGLE_API_KEY")),
			MaxSteps: getEnvInt("LLM_MAX_STEPS", 12),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AppName == "" {
		return fmt.Errorf("APP_NAME cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.MaxRetries <= 0 {
		return fmt.Errorf("SESSION_ENSURE_MAX_RETRIES must be > 0")
	}
	if c.Session.BaseDelay < 0 {
		return fmt.Errorf("SESSION_ENSURE_BASE_DELAY must be >= 0")
	}
	if c.Turn.MaxAttempts <= 0 {
		return fmt.Errorf("TURN_MAX_ATTEMPTS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	switch c.Agent.Runtime {
	case RuntimeLocal:
		if c.HospitalDBPath == "" {
			return fmt.Errorf("HOSPITAL_DB_PATH cannot be empty")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("LLM_MODEL cannot be empty")
		}
		if c.LLM.MaxSteps <= 0 {
			return fmt.Errorf("LLM_MAX_STEPS must be > 0")
		}
	case RuntimeGrpc:
		if c.Agent.GrpcAddr == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("AGENT_RUNTIME must be %q or %q, got %q", RuntimeLocal, RuntimeGrpc, c.Agent.Runtime)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
