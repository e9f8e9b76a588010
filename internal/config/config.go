package config

import (
	"log"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Secret           string        `env:"SECRET" envDefault:"dev_secret"`
	DatabaseDSN      string        `env:"DATABASE_DSN" envDefault:"medtrack.db"`
	HTTPPort         string        `env:"HTTP_PORT" envDefault:"8080"`
	LogFile          string        `env:"LOG_FILE"`
	SeedFile         string        `env:"SEED_FILE" envDefault:"seed_data.toml"`
	DrugCatalogue    string        `env:"DRUG_CATALOGUE" envDefault:"assets/drugs.csv"`
	HeartbeatTimeout time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60m"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	SMTPHost      string `env:"SMTP_HOST" envDefault:"smtp.office365.com"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser      string `env:"SMTP_EMAIL"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	LowStockEmail string `env:"LOW_STOCK_EMAIL" envDefault:"pharmacy.hub@funlhn.health"`
	SMSFrom       string `env:"SMS_FROM_NUMBER"`
}

// Load reads .env (if present) and the process environment, falling back to defaults.
func Load() Config {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Printf("invalid environment, using defaults where possible: %v", err)
	}
	return normalize(cfg)
}

func normalize(cfg Config) Config {
	if cfg.Secret == "" {
		cfg.Secret = "dev_secret"
	}
	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = "medtrack.db"
	}
	// Validate that port is numeric.
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 8080", cfg.HTTPPort)
		cfg.HTTPPort = "8080"
	}
	if cfg.HeartbeatTimeout < 0 {
		cfg.HeartbeatTimeout = 0
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return cfg
}
