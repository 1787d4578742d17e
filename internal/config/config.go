package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NT_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NT_DB_MAX_CONNS" default:"8"`

	LLMProvider          string        `envconfig:"LLM_PROVIDER" default:"gemini"`
	LLMModel             string        `envconfig:"LLM_MODEL" default:""`
	LLMBaseURL           string        `envconfig:"LLM_BASE_URL" default:""`
	GeminiAPIKey         string        `envconfig:"GEMINI_API_KEY" default:""`
	OpenAIAPIKey         string        `envconfig:"OPENAI_API_KEY" default:""`
	LLMTimeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	LLMMaxAttempts       int           `envconfig:"LLM_MAX_ATTEMPTS" default:"3"`
	LLMRequestsPerMinute int           `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"30"`

	EmbedProvider  string        `envconfig:"EMBED_PROVIDER" default:"http"`
	EmbedEndpoint  string        `envconfig:"EMBED_ENDPOINT" default:""`
	EmbedModel     string        `envconfig:"EMBED_MODEL" default:""`
	EmbedTimeout   time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	EmbedBatchSize int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`

	ThresholdNational float64 `envconfig:"THRESHOLD_NATIONAL" default:"0.60"`
	ThresholdGlobal   float64 `envconfig:"THRESHOLD_GLOBAL" default:"0.85"`
	ThresholdTitle    float64 `envconfig:"THRESHOLD_TITLE" default:"0.75"`
	ThresholdSemantic float64 `envconfig:"THRESHOLD_SEMANTIC" default:"0.85"`
	ThresholdSweep    float64 `envconfig:"THRESHOLD_SWEEP" default:"0.65"`

	MatchWindow     time.Duration `envconfig:"MATCH_WINDOW" default:"72h"`
	ClusterLookback time.Duration `envconfig:"CLUSTER_LOOKBACK" default:"24h"`
	SweepLimit      int           `envconfig:"SWEEP_LIMIT" default:"2000"`
	Workers         int           `envconfig:"WORKERS" default:"6"`

	FeedsFile        string        `envconfig:"FEEDS_FILE" default:"feeds.yaml"`
	CollectTimeout   time.Duration `envconfig:"COLLECT_TIMEOUT" default:"30s"`
	CollectUserAgent string        `envconfig:"COLLECT_USER_AGENT" default:"newstoss-collector/1.0"`
	FetchFullText    bool          `envconfig:"FETCH_FULL_TEXT" default:"false"`

	TranslationProvider   string `envconfig:"TRANSLATION_PROVIDER" default:"llm"`
	TranslationEndpoint   string `envconfig:"TRANSLATION_ENDPOINT" default:""`
	TranslationTargetLang string `envconfig:"TRANSLATION_TARGET_LANG" default:"en"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"127.0.0.1"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NT_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NT_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NT_DB_MIN_CONNS (%d) cannot exceed NT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch strings.ToLower(strings.TrimSpace(c.LLMProvider)) {
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
		}
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" && strings.TrimSpace(c.LLMBaseURL) == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be gemini or openai, got %q", c.LLMProvider)
	}

	switch strings.ToLower(strings.TrimSpace(c.EmbedProvider)) {
	case "http":
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when EMBED_PROVIDER=gemini")
		}
	case "openai":
		if strings.TrimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when EMBED_PROVIDER=openai")
		}
	default:
		return fmt.Errorf("EMBED_PROVIDER must be http, gemini or openai, got %q", c.EmbedProvider)
	}

	for _, threshold := range []struct {
		name  string
		value float64
	}{
		{"THRESHOLD_NATIONAL", c.ThresholdNational},
		{"THRESHOLD_GLOBAL", c.ThresholdGlobal},
		{"THRESHOLD_TITLE", c.ThresholdTitle},
		{"THRESHOLD_SEMANTIC", c.ThresholdSemantic},
		{"THRESHOLD_SWEEP", c.ThresholdSweep},
	} {
		if threshold.value <= 0 || threshold.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", threshold.name, threshold.value)
		}
	}

	if c.Workers < 1 || c.Workers > 16 {
		return fmt.Errorf("WORKERS must be between 1 and 16, got %d", c.Workers)
	}
	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be >= 1")
	}
	if c.LLMRequestsPerMinute < 1 {
		return fmt.Errorf("LLM_REQUESTS_PER_MINUTE must be >= 1")
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be >= 1")
	}
	if c.SweepLimit < 1 {
		return fmt.Errorf("SWEEP_LIMIT must be >= 1")
	}
	if c.MatchWindow <= 0 || c.ClusterLookback <= 0 {
		return fmt.Errorf("MATCH_WINDOW and CLUSTER_LOOKBACK must be > 0")
	}
	if c.LLMTimeout <= 0 || c.EmbedTimeout <= 0 || c.CollectTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT, EMBED_TIMEOUT and COLLECT_TIMEOUT must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.TranslationProvider)) {
	case "llm", "local", "none":
	default:
		return fmt.Errorf("TRANSLATION_PROVIDER must be llm, local or none, got %q", c.TranslationProvider)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

// LLMAPIKey returns the key matching LLM_PROVIDER.
func (c *Config) LLMAPIKey() string {
	if strings.EqualFold(strings.TrimSpace(c.LLMProvider), "openai") {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

// EmbedAPIKey returns the key matching EMBED_PROVIDER.
func (c *Config) EmbedAPIKey() string {
	switch strings.ToLower(strings.TrimSpace(c.EmbedProvider)) {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}
