package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.True(t, cfg.App.IsDevelopment())
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, DriverMemory, cfg.DB.Driver)
	assert.Equal(t, 4, cfg.Recalc.Workers)
	assert.Equal(t, 3, cfg.Recalc.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Recalc.RetryBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Recalc.CascadeTimeout)
	assert.False(t, cfg.Ledger.AllowNegativeStock)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 90*24*time.Hour, cfg.Worker.JournalRetention)
	assert.Empty(t, cfg.HTTP.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://stock@localhost/bondstock")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("RECALC_WORKERS", "8")
	t.Setenv("RECALC_RETRY_BACKOFF", "2s")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("WORKER_POLL_INTERVAL", "5s")
	t.Setenv("HTTP_CORS_ORIGINS", "https://ops.example.com, ,https://lpj.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.App.IsDevelopment())
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.Recalc.Workers)
	assert.Equal(t, 2*time.Second, cfg.Recalc.RetryBackoff)
	assert.True(t, cfg.Ledger.AllowNegativeStock)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, []string{"https://ops.example.com", "https://lpj.example.com"}, cfg.HTTP.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"STORAGE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "sqlite"}},
		{name: "no workers", env: map[string]string{"STORAGE_DRIVER": "memory", "RECALC_WORKERS": "0"}},
		{name: "unbounded cascade", env: map[string]string{"STORAGE_DRIVER": "memory", "RECALC_CASCADE_TIMEOUT": "0s"}},
		{name: "negative cascade timeout", env: map[string]string{"STORAGE_DRIVER": "memory", "RECALC_CASCADE_TIMEOUT": "-1m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
