package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-orders/internal/cache"
	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/quote"
	"github.com/xenking/oolio-orders/internal/domain/restaurant"
	"github.com/xenking/oolio-orders/internal/domain/tax"
	"github.com/xenking/oolio-orders/internal/events"
	"github.com/xenking/oolio-orders/internal/handler"
	"github.com/xenking/oolio-orders/internal/repository"
	"github.com/xenking/oolio-orders/pkg/health"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

const serviceName = "orders-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second,
		Func: health.PingCheck(pool),
	})
	healthSvc.Register(health.Check{
		Name: "goroutines", Kind: health.Liveness, Timeout: time.Second,
		Func: health.GoroutineCountCheck(10000),
	})

	// Repositories, optionally behind the Redis cache.
	var restaurants restaurant.Repository = repository.NewRestaurantRepository(pool)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		restaurants = cache.NewRestaurants(restaurants, cache.NewRedisStore(rdb), cfg.RestaurantCacheTTL)
		healthSvc.Register(health.Check{
			Name: "redis", Kind: health.Readiness, Timeout: 2 * time.Second,
			Func: health.RedisCheck(rdb),
		})
		lg.Info("Restaurant cache enabled", zap.String("redis", cfg.RedisAddr))
	}
	orderRepo := repository.NewOrderRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Status events.
	var publisher order.Publisher = events.Log{}
	if cfg.AMQP.URL != "" {
		p, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "connect event broker")
		}
		defer func() { _ = p.Close() }()

		publisher = p
		healthSvc.Register(health.Check{
			Name: "amqp", Kind: health.Readiness, Timeout: 2 * time.Second,
			Func: health.PingCheck(p),
		})
	}

	// Domain services.
	taxes := tax.Default()
	if rate, ok, err := cfg.TaxFallback(); err != nil {
		return err
	} else if ok {
		if taxes, err = tax.WithFallback(rate); err != nil {
			return errors.Wrap(err, "tax table")
		}
	}
	orderService, err := order.NewService(restaurants, orderRepo, quote.NewCalculator(taxes),
		order.WithPublisher(publisher),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Key:    handler.RateLimitKey,
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: NewRouter(RouterConfig{
			Orders:         orderService,
			Auth:           auth.NewAuthenticator(apikeyRepo, cfg.APIKeyPepper),
			Health:         healthSvc,
			Limiter:        limiter,
			CORS:           cfg.CORS,
			Logger:         zctx.From(ctx),
			MeterProvider:  m.MeterProvider(),
			TracerProvider: m.TracerProvider(),
		}),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gCtx, 10*time.Second) })
	g.Go(func() error { return limiter.Run(gCtx) })
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

// RouterConfig holds what NewRouter serves.
type RouterConfig struct {
	Orders         handler.Orders
	Auth           handler.Authenticator
	Health         *health.Health
	Limiter        *httpmiddleware.Limiter
	CORS           CORSConfig
	Logger         *zap.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// NewRouter mounts the health probes and the order API on one mux and wraps
// it in the middleware chain, outermost first.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", cfg.Health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", cfg.Health.ReadyEndpoint)
	handler.NewHandler(cfg.Orders, cfg.Auth).Register(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	return httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(cfg.Logger),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, routeFinder, cfg.MeterProvider, cfg.TracerProvider),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:  cfg.CORS.Origins,
			AllowHeaders:  []string{"Content-Type", handler.APIKeyHeader, handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders: []string{"Location", httpmiddleware.RequestIDHeader},
			MaxAge:        cfg.CORS.MaxAge,
		}),
		cfg.Limiter.Middleware(),
	)
}
