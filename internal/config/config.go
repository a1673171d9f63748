package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	ContextPolicyAuto     = "auto"
	ContextPolicyExplicit = "explicit"
)

// Config holds all environment backed configuration for the chat backend.
type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	LogMode string `env:"LOG_MODE" envDefault:"development"`

	// DBDriver selects postgres or sqlite. sqlite is meant for local runs only.
	DBDriver   string `env:"DB_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"ollama_chat.db"`

	// Postgres. DatabaseURL wins when set.
	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	PostgresName     string `env:"POSTGRES_NAME" envDefault:"ollama_chat"`

	// Redis pub/sub for realtime fan-out across instances. Optional.
	RedisAddress  string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"ollama_chat_hub_broadcast"`

	// Inference
	OllamaBaseURL        string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	DefaultModel         string        `env:"DEFAULT_MODEL" envDefault:"mistral:7b"`
	TitleGenerationModel string        `env:"TITLE_GENERATION_MODEL" envDefault:"SummLlama3.2:3B-Q5_K_M"`
	TitlePromptFile      string        `env:"TITLE_PROMPT_FILE" envDefault:"prompts/chat_title_generation.md"`
	EnableAutoTitle      bool          `env:"ENABLE_AUTO_TITLE" envDefault:"true"`
	ContextPolicy        string        `env:"CONTEXT_POLICY" envDefault:"auto"`
	StreamTimeout        time.Duration `env:"STREAM_TIMEOUT" envDefault:"10m"`

	// Health monitor
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"45s"`
	HealthCheckTimeout  time.Duration `env:"HEALTH_CHECK_TIMEOUT" envDefault:"5s"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:3000"`

	// Raw upload archive. Disabled when GCSBucket is empty.
	GCSBucket          string `env:"GCS_BUCKET"`
	GCSCredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.ContextPolicy = strings.ToLower(strings.TrimSpace(c.ContextPolicy))
	switch c.ContextPolicy {
	case ContextPolicyAuto, ContextPolicyExplicit:
	default:
		return fmt.Errorf("invalid CONTEXT_POLICY %q: must be %q or %q", c.ContextPolicy, ContextPolicyAuto, ContextPolicyExplicit)
	}
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("invalid DB_DRIVER %q: must be postgres or sqlite", c.DBDriver)
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("HEALTH_CHECK_INTERVAL must be positive")
	}
	if c.HealthCheckTimeout <= 0 {
		return errors.New("HEALTH_CHECK_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.OllamaBaseURL) == "" {
		return errors.New("OLLAMA_BASE_URL must not be empty")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresName)
}
