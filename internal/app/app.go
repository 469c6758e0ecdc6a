package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/pricecache"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
	"github.com/xenking/bluelight-offers/pkg/health"
	"github.com/xenking/bluelight-offers/pkg/httpmiddleware"
)

// NewRedisClient connects to the pricing cache described by cfg.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	}), nil
}

// Run creates all dependencies, starts the maintenance worker and the probe
// server, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis pricing cache.
	rdb, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	store := pricecache.NewRedisStore(rdb)
	pricing := pricecache.NewNamespace(store, pricecache.PricingNamespace)

	// System groups.
	groups := offer.NewSystemGroups()
	for _, slug := range cfg.SystemGroups {
		groups.Register(slug, "")
	}
	if err := groups.Ensure(ctx, postgres.NewGroupRepository(pool), lg); err != nil {
		return err
	}

	configRepo := postgres.NewConfigRepository(pool)
	configRepo.OnCommit(InvalidatePricing(pricing))

	cosmetic := pricecache.NewCosmeticCache(pricecache.New(store, lg.Named("cache")), cfg.Pricing.CosmeticTTL)
	refresher := NewCosmeticRefresher(
		configRepo,
		postgres.NewProductRepository(pool),
		cosmetic,
		cfg.Pricing.Currency,
		offer.WithLogger(lg.Named("offers")),
		offer.WithMeterProvider(m.MeterProvider()),
		offer.WithTracerProvider(m.TracerProvider()),
	)

	worker, err := NewWorker(
		postgres.NewUsageRepository(pool),
		configRepo,
		pricing,
		refresher,
		cfg.Recalculate.Interval,
		lg.Named("worker"),
		m.MeterProvider(),
	)
	if err != nil {
		return errors.Wrap(err, "create worker")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("recalculate", time.Second,
		health.StalenessCheck(worker.LastRun, 3*cfg.Recalculate.Interval),
	)
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(healthSvc.Handler(),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("offer-worker", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Probe server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
