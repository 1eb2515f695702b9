package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Summarizer providers accepted in SUMMARIZER_PROVIDER. Empty disables
// narrative summaries.
const (
	ProviderNone     = ""
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	CacheTTL           time.Duration `mapstructure:"CACHE_TTL"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	VocabularyFile     string        `mapstructure:"VOCABULARY_FILE"`
	MaxScanDepth       int           `mapstructure:"MAX_SCAN_DEPTH"`
	SampleFallback     string        `mapstructure:"SAMPLE_FALLBACK"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	SummarizerProvider string        `mapstructure:"SUMMARIZER_PROVIDER"`
	SummarizerAPIKey   string        `mapstructure:"SUMMARIZER_API_KEY"`
	SummarizerModel    string        `mapstructure:"SUMMARIZER_MODEL"`
	SummarizerBaseURL  string        `mapstructure:"SUMMARIZER_BASE_URL"`
	SummarizerTimeout  time.Duration `mapstructure:"SUMMARIZER_TIMEOUT"`
	PDFFontPath        string        `mapstructure:"PDF_FONT_PATH"`
}

var envKeys = []string{
	"PORT", "ENV",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "CACHE_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"VOCABULARY_FILE", "MAX_SCAN_DEPTH", "SAMPLE_FALLBACK",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"SUMMARIZER_PROVIDER", "SUMMARIZER_API_KEY", "SUMMARIZER_MODEL", "SUMMARIZER_BASE_URL", "SUMMARIZER_TIMEOUT",
	"PDF_FONT_PATH",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("MAX_SCAN_DEPTH", 64)
	v.SetDefault("AUTH_ISSUER", "aibot")
	v.SetDefault("SUMMARIZER_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.SummarizerProvider = strings.ToLower(strings.TrimSpace(cfg.SummarizerProvider))

	if cfg.IsDev() {
		log.Warn().Msg("server is running in DEVELOPMENT mode (ENV=development): authentication is disabled and empty requests fall back to the sample EMR")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ArchiveEnabled reports whether analyses are persisted to Postgres.
func (c *Config) ArchiveEnabled() bool {
	return c.DatabaseURL != ""
}

// CacheEnabled reports whether report responses are cached in Redis.
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != ""
}

// UseSampleFallback resolves SAMPLE_FALLBACK. When unset it follows ENV:
// enabled in development, disabled elsewhere.
func (c *Config) UseSampleFallback() bool {
	if c.SampleFallback == "" {
		return c.IsDev()
	}
	b, err := strconv.ParseBool(c.SampleFallback)
	return err == nil && b
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SIGNING_KEY must be set so bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}

	switch c.SummarizerProvider {
	case ProviderNone:
	case ProviderOpenAI, ProviderDeepSeek, ProviderGemini:
		if c.SummarizerAPIKey == "" {
			return fmt.Errorf("SUMMARIZER_API_KEY is required when SUMMARIZER_PROVIDER is %q", c.SummarizerProvider)
		}
	default:
		return fmt.Errorf("SUMMARIZER_PROVIDER must be empty, \"openai\", \"deepseek\" or \"gemini\", got %q", c.SummarizerProvider)
	}

	if c.SampleFallback != "" {
		if _, err := strconv.ParseBool(c.SampleFallback); err != nil {
			return fmt.Errorf("SAMPLE_FALLBACK is not a boolean: %w", err)
		}
	}
	if c.MaxScanDepth <= 0 {
		return fmt.Errorf("MAX_SCAN_DEPTH must be positive, got %d", c.MaxScanDepth)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	return nil
}
