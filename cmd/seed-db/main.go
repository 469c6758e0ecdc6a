package main

import (
	"bytes"
	"cmp"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/bluelight-offers/db"
	"github.com/xenking/bluelight-offers/internal/app"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/fixture"
	"github.com/xenking/bluelight-offers/internal/pricecache"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		redisURL    string
		fixtureFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL of the pricing cache to invalidate (or REDIS_URL env)")
	flag.StringVar(&fixtureFile, "fixture", "", "path to an offers YAML fixture (defaults to the bundled demo data)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if redisURL == "" {
		redisURL = os.Getenv("REDIS_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, redisURL, fixtureFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func openFixture(path string) (*fixture.Fixture, error) {
	var r io.Reader = bytes.NewReader(db.SeedFixture)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open fixture")
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	slog.Info("reading fixture", slog.String("path", cmp.Or(path, "bundled")))
	return fixture.Parse(r)
}

func run(ctx context.Context, databaseURL, redisURL, fixtureFile string) error {
	fx, err := openFixture(fixtureFile)
	if err != nil {
		return err
	}

	// Reject broken configuration before touching the database.
	snap, err := fx.Snapshot()
	if err != nil {
		return errors.Wrap(err, "build snapshot")
	}
	offers, err := offer.NewLoader(nil).Load(snap)
	if err != nil {
		return errors.Wrap(err, "validate offers")
	}
	slog.Info("fixture is valid", slog.Int("offers", len(offers)))

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), fx); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedRanges(ctx, postgres.NewRangeRepository(pool), fx); err != nil {
		return errors.Wrap(err, "seed ranges")
	}

	configRepo := postgres.NewConfigRepository(pool)
	if redisURL != "" {
		rdb, err := app.NewRedisClient(app.RedisConfig{URL: redisURL})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		ns := pricecache.NewNamespace(pricecache.NewRedisStore(rdb), pricecache.PricingNamespace)
		configRepo.OnCommit(app.InvalidatePricing(ns))
	} else {
		slog.Warn("no redis URL given, cached prices are not invalidated")
	}

	cs, err := fx.Changeset()
	if err != nil {
		return errors.Wrap(err, "build changeset")
	}
	if err := configRepo.Save(ctx, cs); err != nil {
		return errors.Wrap(err, "save offers")
	}
	slog.Info("saved offer configuration",
		slog.Int("groups", len(cs.Groups)),
		slog.Int("conditions", len(cs.Conditions)),
		slog.Int("benefits", len(cs.Benefits)),
		slog.Int("offers", len(cs.Offers)),
	)

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, fx *fixture.Fixture) error {
	products, err := fx.CatalogProducts()
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	return repo.Upsert(ctx, products)
}

func seedRanges(ctx context.Context, repo *postgres.RangeRepository, fx *fixture.Fixture) error {
	for _, def := range fx.RangeDefinitions() {
		if err := repo.Save(ctx, def); err != nil {
			return errors.Wrapf(err, "save range %d", def.ID)
		}

		slog.Info("saved range", slog.Int64("id", def.ID), slog.String("name", def.Name))
	}

	return nil
}
