package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bluelight-offers/internal/app"
	"github.com/xenking/bluelight-offers/internal/pricecache"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	batchSize     = 5_000
	progressEvery = 1_000_000
	maxIDLen      = 128
)

// writer receives deduplicated product id batches.
type writer func(ctx context.Context, ids []string) (int64, error)

func main() {
	var (
		databaseURL string
		redisURL    string
		rangeID     int64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisURL, "redis-url", "", "Redis URL of the pricing cache to invalidate (or REDIS_URL env)")
	flag.Int64Var(&rangeID, "range-id", 0, "range to add the products to")
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
	if rangeID <= 0 {
		slog.Error("range id is required: set --range-id")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no input files: pass one or more gzip files of product ids")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, redisURL, rangeID, files); err != nil {
		slog.Error("range ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("range ingest completed successfully")
}

func run(ctx context.Context, databaseURL, redisURL string, rangeID int64, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewRangeRepository(pool)
	write := func(ctx context.Context, ids []string) (int64, error) {
		return repo.AddProducts(ctx, rangeID, ids)
	}

	added, err := ingest(ctx, files, write)
	if err != nil {
		return err
	}
	slog.Info("products added", slog.Int64("range_id", rangeID), slog.Int64("added", added))

	if added == 0 || redisURL == "" {
		return nil
	}
	rdb, err := app.NewRedisClient(app.RedisConfig{URL: redisURL})
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	ns := pricecache.NewNamespace(pricecache.NewRedisStore(rdb), pricecache.PricingNamespace)
	if err := ns.Invalidate(ctx); err != nil {
		return errors.Wrap(err, "invalidate pricing cache")
	}
	slog.Info("pricing cache invalidated")
	return nil
}

// ingest streams every file concurrently and writes each product id once.
//
// Ids the bloom filter has not seen are written straight away. Ids it
// reports as seen are either repeats or false positives; they are kept in
// an exact set and written at the end, where the insert ignores repeats.
func ingest(ctx context.Context, files []string, write writer) (int64, error) {
	ids := make(chan string, batchSize)

	g, ctx := errgroup.WithContext(ctx)
	readers, readCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		readers.Go(readFile(readCtx, i, f, ids))
	}
	g.Go(func() error {
		defer close(ids)
		return readers.Wait()
	})

	var added int64
	g.Go(func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		maybeSeen := make(map[string]struct{})
		batch := make([]string, 0, batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := write(ctx, batch)
			if err != nil {
				return err
			}
			added += n
			batch = batch[:0]
			return nil
		}

		for id := range ids {
			if filter.TestAndAddString(id) {
				maybeSeen[id] = struct{}{}
				continue
			}
			batch = append(batch, id)
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		slog.Info("writing repeated ids", slog.Int("count", len(maybeSeen)))
		for id := range maybeSeen {
			batch = append(batch, id)
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return added, err
	}
	return added, nil
}

func readFile(ctx context.Context, idx int, path string, out chan<- string) func() error {
	return func() error {
		var count uint64

		if err := streamGzFile(ctx, path, func(id string) error {
			if id == "" || len(id) > maxIDLen {
				return nil
			}
			count++
			if count%progressEvery == 0 {
				slog.Info("read progress",
					slog.Int("file", idx+1),
					slog.Uint64("ids", count),
				)
			}
			select {
			case out <- id:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}); err != nil {
			return errors.Wrapf(err, "read file %d", idx+1)
		}

		slog.Info("file complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_ids", count),
		)
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each trimmed line.
func streamGzFile(ctx context.Context, path string, fn func(id string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(strings.TrimSpace(scanner.Text())); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
