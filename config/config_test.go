package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/league?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StorePostgres, cfg.MatchStore)
	assert.Equal(t, FeedPostgres, cfg.ChangeFeed)
	assert.Equal(t, 150*time.Millisecond, cfg.Live.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Live.RecomputeTimeout)
	assert.Equal(t, 3, cfg.ScoreRetryAttempts)
	assert.Equal(t, "1:100,2:70,3:40", cfg.PlacementPoints)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_MemoryStoreWithoutDatabase(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("MATCH_STORE", "memory")
	t.Setenv("CHANGE_FEED", "memory")
	t.Setenv("LIVE_DEBOUNCE", "50ms")
	t.Setenv("R2_BUCKET_NAME", "portal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.NeedsDatabase())
	assert.Equal(t, 50*time.Millisecond, cfg.Live.Debounce)
	assert.Equal(t, "portal", cfg.R2.BucketName)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/league")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseURL:        "postgres://localhost/league",
			JWTSecretKey:       "secret",
			ServerPort:         8080,
			MatchStore:         StorePostgres,
			ChangeFeed:         FeedPostgres,
			Live:               LiveConfig{RecomputeTimeout: time.Second},
			ScoreRetryAttempts: 3,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.ServerPort = 70000 }, want: "SERVER_PORT"},
		{name: "store", mutate: func(c *Config) { c.MatchStore = "redis" }, want: "MATCH_STORE"},
		{name: "feed", mutate: func(c *Config) { c.ChangeFeed = "kafka" }, want: "CHANGE_FEED"},
		{name: "database", mutate: func(c *Config) { c.DatabaseURL = "" }, want: "DATABASE_URL"},
		{name: "amqp url", mutate: func(c *Config) { c.ChangeFeed = FeedAMQP }, want: "AMQP_URL"},
		{name: "memory with pg feed", mutate: func(c *Config) { c.MatchStore = StoreMemory }, want: "requires MATCH_STORE=postgres"},
		{name: "timeout", mutate: func(c *Config) { c.Live.RecomputeTimeout = 0 }, want: "LIVE_RECOMPUTE_TIMEOUT"},
		{name: "retries", mutate: func(c *Config) { c.ScoreRetryAttempts = 0 }, want: "SCORE_RETRY_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
