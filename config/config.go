package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	FeedPostgres = "postgres"
	FeedAMQP     = "amqp"
	FeedMemory   = "memory"
)

type R2Config struct {
	AccountID       string `env:"ACCOUNT_ID"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	BucketName      string `env:"BUCKET_NAME"`
	PublicBaseURL   string `env:"PUBLIC_BASE_URL"`
}

type LiveConfig struct {
	Debounce           time.Duration `env:"DEBOUNCE" envDefault:"150ms"`
	RecomputeTimeout   time.Duration `env:"RECOMPUTE_TIMEOUT" envDefault:"2s"`
	MinPublishInterval time.Duration `env:"MIN_PUBLISH_INTERVAL" envDefault:"250ms"`
}

type Config struct {
	DatabaseURL  string `env:"DATABASE_URL"`
	JWTSecretKey string `env:"JWT_SECRET_KEY,required,notEmpty"`
	ServerPort   int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	MatchStore    string `env:"MATCH_STORE" envDefault:"postgres"`
	ChangeFeed    string `env:"CHANGE_FEED" envDefault:"postgres"`
	AMQPURL       string `env:"AMQP_URL"`
	AMQPExchange  string `env:"AMQP_EXCHANGE" envDefault:"league.match_changes"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" envDefault:"true"`

	Live               LiveConfig `envPrefix:"LIVE_"`
	ScoreRetryAttempts int        `env:"SCORE_RETRY_ATTEMPTS" envDefault:"3"`
	PlacementPoints    string     `env:"PLACEMENT_POINTS" envDefault:"1:100,2:70,3:40"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	SeedSportID int `env:"SEED_SPORT_ID" envDefault:"1"`
	SeedTeams   int `env:"SEED_TEAMS" envDefault:"8"`

	R2 R2Config `envPrefix:"R2_"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

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
	var errs []error

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort))
	}

	switch c.MatchStore {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("MATCH_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.MatchStore))
	}
	switch c.ChangeFeed {
	case FeedPostgres, FeedAMQP, FeedMemory:
	default:
		errs = append(errs, fmt.Errorf("CHANGE_FEED must be one of %q, %q, %q, got %q", FeedPostgres, FeedAMQP, FeedMemory, c.ChangeFeed))
	}

	if c.NeedsDatabase() && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is not set"))
	}
	if c.ChangeFeed == FeedAMQP && c.AMQPURL == "" {
		errs = append(errs, errors.New("AMQP_URL is required when CHANGE_FEED=amqp"))
	}
	if c.MatchStore == StoreMemory && c.ChangeFeed == FeedPostgres {
		errs = append(errs, errors.New("CHANGE_FEED=postgres requires MATCH_STORE=postgres"))
	}

	if c.Live.Debounce < 0 || c.Live.MinPublishInterval < 0 {
		errs = append(errs, errors.New("LIVE_DEBOUNCE and LIVE_MIN_PUBLISH_INTERVAL must not be negative"))
	}
	if c.Live.RecomputeTimeout <= 0 {
		errs = append(errs, errors.New("LIVE_RECOMPUTE_TIMEOUT must be positive"))
	}
	if c.ScoreRetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("SCORE_RETRY_ATTEMPTS must be at least 1, got %d", c.ScoreRetryAttempts))
	}
	if c.MatchStore == StoreMemory && c.SeedTeams != 0 && c.SeedTeams < 2 {
		errs = append(errs, fmt.Errorf("SEED_TEAMS must be 0 or at least 2, got %d", c.SeedTeams))
	}

	return errors.Join(errs...)
}

// NeedsDatabase reports whether any configured component talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.MatchStore == StorePostgres || c.ChangeFeed == FeedPostgres
}
