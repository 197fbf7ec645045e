package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every environment-backed setting of the server. All fields
// have dev-friendly defaults so a bare `go run .` works on a LAN table.
type Config struct {
	Port           string   `env:"PORT" envDefault:"4000"`
	GinMode        string   `env:"GIN_MODE" envDefault:"debug"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	AppVersion     string   `env:"APP_VERSION" envDefault:"dev-local"`

	// Wizard Battle oracle (OpenAI responses API)
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4.1-nano"`

	// Relic forge image generation (Together images API)
	TogetherAPIKey string `env:"TOGETHER_API"`
}

// Load reads .env (if present) and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
