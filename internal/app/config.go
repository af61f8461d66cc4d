package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/tax"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr    string `default:"" usage:"Redis address for the restaurant cache; empty disables caching" flag:"redis-addr"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`

	RestaurantCacheTTL time.Duration `default:"1m" usage:"Restaurant cache entry lifetime" flag:"restaurant-cache-ttl"`

	AMQP      AMQPConfig
	Tax       TaxConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// AMQPConfig selects the status event broker. Without a URL events are
// only logged.
type AMQPConfig struct {
	URL      string `default:"" usage:"RabbitMQ URL for order status events"`
	Exchange string `default:"orders.events" usage:"Topic exchange for order status events"`
}

// TaxConfig overrides the rate used for regions missing from the table.
type TaxConfig struct {
	DefaultRate string `default:"" usage:"Fallback tax rate in percent" flag:"tax-default-rate"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
	MaxAge  int      `default:"86400" usage:"Preflight cache lifetime in seconds" flag:"cors-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env (when present), environment variables and YAML
// config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	if _, _, err := c.TaxFallback(); err != nil {
		return err
	}
	if c.RestaurantCacheTTL < 0 {
		return errors.Errorf("restaurant cache TTL must not be negative, got %s", c.RestaurantCacheTTL)
	}
	return nil
}

// TaxFallback parses Tax.DefaultRate. ok is false when it is unset.
func (c *Config) TaxFallback() (rate decimal.Decimal, ok bool, err error) {
	if c.Tax.DefaultRate == "" {
		return decimal.Decimal{}, false, nil
	}
	rate, err = decimal.NewFromString(c.Tax.DefaultRate)
	if err != nil {
		return decimal.Decimal{}, false, errors.Wrapf(err, "parse tax default rate %q", c.Tax.DefaultRate)
	}
	if err := tax.Validate(rate); err != nil {
		return decimal.Decimal{}, false, errors.Wrap(err, "tax default rate")
	}
	return rate, true, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_ADDR"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
