package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestApplyPlatformDefaults_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "ok", cfg: Config{DatabaseURL: "postgres://db", RestaurantCacheTTL: time.Minute}},
		{name: "no database", cfg: Config{}, wantErr: "database URL is required"},
		{name: "bad tax rate", cfg: Config{DatabaseURL: "postgres://db", Tax: TaxConfig{DefaultRate: "seven"}}, wantErr: "tax default rate"},
		{name: "tax rate too precise", cfg: Config{DatabaseURL: "postgres://db", Tax: TaxConfig{DefaultRate: "5.1255"}}, wantErr: "at most 3 decimal places"},
		{name: "tax rate out of range", cfg: Config{DatabaseURL: "postgres://db", Tax: TaxConfig{DefaultRate: "101"}}, wantErr: "between 0 and 100"},
		{name: "negative ttl", cfg: Config{DatabaseURL: "postgres://db", RestaurantCacheTTL: -time.Second}, wantErr: "cache TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTaxFallback(t *testing.T) {
	var cfg Config
	_, ok, err := cfg.TaxFallback()
	require.NoError(t, err)
	assert.False(t, ok)

	cfg.Tax.DefaultRate = "6.5"
	rate, ok, err := cfg.TaxFallback()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rate.Equal(decimal.RequireFromString("6.5")))
}
