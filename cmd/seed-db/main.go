package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/cache"
	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
	"github.com/xenking/oolio-orders/internal/repository"
)

type hoursJSON struct {
	Open   string `json:"open"`
	Close  string `json:"close"`
	Closed bool   `json:"closed"`
}

type restaurantJSON struct {
	ID                    string               `json:"id"`
	Name                  string               `json:"name"`
	Region                string               `json:"region"`
	OffersDelivery        bool                 `json:"offers_delivery"`
	OffersPickup          bool                 `json:"offers_pickup"`
	TimeZone              string               `json:"time_zone"`
	FreeDeliveryThreshold decimal.Decimal      `json:"free_delivery_threshold"`
	DeliveryFee           decimal.Decimal      `json:"delivery_fee"`
	Hours                 map[string]hoursJSON `json:"hours"`
}

func main() {
	var (
		databaseURL     string
		restaurantsFile string
		apiKey          string
		apiKeyPepper    string
		redisAddr       string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&restaurantsFile, "restaurants-file", "db/seed/restaurants.json", "path to restaurants JSON file, optionally .gz")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address whose restaurant cache entries are invalidated (or KART_REDIS_ADDR env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}
	if redisAddr == "" {
		redisAddr = os.Getenv("KART_REDIS_ADDR")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, restaurantsFile, apiKey, apiKeyPepper, redisAddr); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, restaurantsFile, apiKey, pepper, redisAddr string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	restaurants, err := readRestaurants(restaurantsFile)
	if err != nil {
		return errors.Wrap(err, "read restaurants")
	}

	if err := seedRestaurants(ctx, repository.NewRestaurantRepository(pool), restaurants); err != nil {
		return errors.Wrap(err, "seed restaurants")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if redisAddr != "" {
		if err := invalidateCache(ctx, redisAddr, restaurants); err != nil {
			return errors.Wrap(err, "invalidate cache")
		}
	}

	return nil
}

// readRestaurants decodes a JSON array of restaurants. Files ending in .gz
// are decompressed first.
func readRestaurants(path string) ([]*restaurant.Restaurant, error) {
	slog.Info("reading restaurants file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var raw []restaurantJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse restaurants JSON")
	}

	out := make([]*restaurant.Restaurant, 0, len(raw))
	for _, rj := range raw {
		rest, err := rj.toDomain()
		if err != nil {
			return nil, errors.Wrapf(err, "restaurant %s", rj.ID)
		}
		out = append(out, rest)
	}
	return out, nil
}

func (rj restaurantJSON) toDomain() (*restaurant.Restaurant, error) {
	if rj.ID == "" {
		return nil, errors.New("id is required")
	}
	if rj.TimeZone != "" {
		if _, err := time.LoadLocation(rj.TimeZone); err != nil {
			return nil, errors.Wrapf(err, "time zone %q", rj.TimeZone)
		}
	}

	r := &restaurant.Restaurant{
		ID:                    rj.ID,
		Name:                  rj.Name,
		Region:                rj.Region,
		OffersDelivery:        rj.OffersDelivery,
		OffersPickup:          rj.OffersPickup,
		TimeZone:              rj.TimeZone,
		FreeDeliveryThreshold: rj.FreeDeliveryThreshold,
		DeliveryFee:           rj.DeliveryFee,
	}
	// Days missing from the file are closed.
	for day := time.Sunday; day <= time.Saturday; day++ {
		h, ok := rj.Hours[strings.ToLower(day.String())]
		if !ok || h.Closed {
			r.Hours[day] = restaurant.DayHours{Closed: true}
			continue
		}
		open, err := restaurant.ParseTimeOfDay(h.Open)
		if err != nil {
			return nil, errors.Wrapf(err, "%s open", day)
		}
		closing, err := restaurant.ParseTimeOfDay(h.Close)
		if err != nil {
			return nil, errors.Wrapf(err, "%s close", day)
		}
		r.Hours[day] = restaurant.DayHours{Open: &open, Close: &closing}
	}
	return r, nil
}

func seedRestaurants(ctx context.Context, repo *repository.RestaurantRepository, restaurants []*restaurant.Restaurant) error {
	slog.Info("upserting restaurants", slog.Int("count", len(restaurants)))

	for _, r := range restaurants {
		if err := repo.Save(ctx, r); err != nil {
			return errors.Wrapf(err, "save restaurant %s", r.ID)
		}

		slog.Info("upserted restaurant", slog.String("id", r.ID), slog.String("name", r.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	info := &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(pepper, apiKey),
		Name:    "Default key",
		Scopes: []string{
			auth.ScopeQuote,
			auth.ScopePlaceOrder,
			auth.ScopeReadOrder,
			auth.ScopeManageOrders,
			auth.ScopeAvailability,
		},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.Any("scopes", info.Scopes))

	return nil
}

func invalidateCache(ctx context.Context, addr string, restaurants []*restaurant.Restaurant) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = rdb.Close() }()

	c := cache.NewRestaurants(nil, cache.NewRedisStore(rdb), 0)
	for _, r := range restaurants {
		if err := c.Invalidate(ctx, r.ID); err != nil {
			return errors.Wrapf(err, "restaurant %s", r.ID)
		}
	}

	slog.Info("invalidated cached restaurants", slog.Int("count", len(restaurants)))
	return nil
}
