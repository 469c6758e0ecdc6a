// Command price-baskets applies the configured offers to baskets read as JSON
// lines and writes the priced baskets as JSON lines.
package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bluelight-offers/db"
	"github.com/xenking/bluelight-offers/internal/app"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/order"
	"github.com/xenking/bluelight-offers/internal/domain/product"
	"github.com/xenking/bluelight-offers/internal/fixture"
	"github.com/xenking/bluelight-offers/internal/pricecache"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
)

const maxLineSize = 4 << 20

type options struct {
	databaseURL string
	redisURL    string
	fixtureFile string
	input       string
	output      string
	currency    string
	workers     int
	cosmetic    bool
	cosmeticTTL time.Duration
	record      bool
}

// source is where products and offer configuration come from.
type source struct {
	catalog  product.Repository
	products func(ctx context.Context) ([]product.Product, error)
	snapshot offer.Snapshot
	usage    *postgres.UsageRepository
	close    func()
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env); the fixture is used when empty")
	flag.StringVar(&opts.redisURL, "redis-url", "", "Redis URL for the cosmetic price cache (or REDIS_URL env)")
	flag.StringVar(&opts.fixtureFile, "fixture", "", "offers YAML fixture used instead of the database")
	flag.StringVar(&opts.input, "input", "-", "baskets as JSON lines, gzip when the name ends in .gz")
	flag.StringVar(&opts.output, "output", "-", "where to write priced baskets")
	flag.StringVar(&opts.currency, "currency", "USD", "currency of baskets that do not name one")
	flag.IntVar(&opts.workers, "workers", runtime.GOMAXPROCS(0), "baskets priced concurrently")
	flag.BoolVar(&opts.cosmetic, "cosmetic", false, "print cosmetic unit prices for the catalog instead of pricing baskets")
	flag.DurationVar(&opts.cosmeticTTL, "cosmetic-ttl", 24*time.Hour, "lifetime of cached cosmetic prices")
	flag.BoolVar(&opts.record, "record", false, "record priced baskets as orders (database source only)")
	flag.Parse()

	if opts.databaseURL == "" && opts.fixtureFile == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts, lg); err != nil {
		lg.Error("Pricing failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, lg *zap.Logger) error {
	src, err := openSource(ctx, opts, lg)
	if err != nil {
		return err
	}
	defer src.close()

	offers, err := offer.NewLoader(nil).Load(src.snapshot)
	if err != nil {
		return errors.Wrap(err, "load offers")
	}
	lg.Info("Loaded offers", zap.Int("count", len(offers)))

	applicatorOpts := []offer.ApplicatorOption{offer.WithLogger(lg.Named("offers"))}
	if src.usage != nil {
		applicatorOpts = append(applicatorOpts, offer.WithUsageCounter(src.usage))
	}
	applicator, err := offer.NewApplicator(applicatorOpts...)
	if err != nil {
		return errors.Wrap(err, "create applicator")
	}

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()

	if opts.cosmetic {
		store, closeStore, err := openStore(opts.redisURL)
		if err != nil {
			return err
		}
		defer closeStore()

		cache := pricecache.NewCosmeticCache(pricecache.New(store, lg.Named("cache")), opts.cosmeticTTL)
		cp := offer.NewCosmeticPricer(applicator, cache, opts.currency)
		return writeCosmetic(ctx, cp, src, offers, opts.currency, out)
	}

	in, closeIn, err := openInput(opts.input)
	if err != nil {
		return err
	}
	defer closeIn()

	if opts.record && src.usage == nil {
		return errors.New("--record needs a database source")
	}
	var recorder order.Recorder
	if src.usage != nil {
		recorder = src.usage
	}
	svc := order.NewService(src.catalog, order.StaticOffers(offers), applicator, recorder, opts.currency)
	return priceAll(ctx, svc, opts.record, opts.workers, in, out, lg)
}

func openSource(ctx context.Context, opts options, lg *zap.Logger) (*source, error) {
	if opts.databaseURL == "" {
		fx, err := readFixture(opts.fixtureFile)
		if err != nil {
			return nil, err
		}
		products, err := fx.CatalogProducts()
		if err != nil {
			return nil, err
		}
		snap, err := fx.Snapshot()
		if err != nil {
			return nil, err
		}
		return &source{
			catalog: newMemoryCatalog(products),
			products: func(context.Context) ([]product.Product, error) {
				return products, nil
			},
			snapshot: snap,
			close:    func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	snap, err := postgres.NewConfigRepository(pool).Snapshot(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	lg.Info("Loaded configuration from database", zap.Int("offers", len(snap.Offers)))

	products := postgres.NewProductRepository(pool)
	return &source{
		catalog:  products,
		products: products.List,
		snapshot: snap,
		usage:    postgres.NewUsageRepository(pool),
		close:    pool.Close,
	}, nil
}

func readFixture(path string) (*fixture.Fixture, error) {
	if path == "" {
		return fixture.Parse(bytes.NewReader(db.SeedFixture))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open fixture")
	}
	defer func() { _ = f.Close() }()
	return fixture.Parse(f)
}

func openStore(redisURL string) (pricecache.Store, func(), error) {
	if redisURL == "" {
		return pricecache.NewMemoryStore(), func() {}, nil
	}
	rdb, err := app.NewRedisClient(app.RedisConfig{URL: redisURL})
	if err != nil {
		return nil, nil, err
	}
	return pricecache.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
}

func openInput(path string) (io.Reader, func(), error) {
	var (
		r       io.Reader = os.Stdin
		closeFn           = func() {}
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open input")
		}
		r = f
		closeFn = func() { _ = f.Close() }
	}
	if !strings.HasSuffix(path, ".gz") {
		return r, closeFn, nil
	}
	gz, err := pgzip.NewReader(r)
	if err != nil {
		closeFn()
		return nil, nil, errors.Wrap(err, "create gzip reader")
	}
	return gz, func() {
		_ = gz.Close()
		closeFn()
	}, nil
}

func openOutput(path string) (*bufio.Writer, func(), error) {
	if path == "-" {
		w := bufio.NewWriter(os.Stdout)
		return w, func() { _ = w.Flush() }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create output")
	}
	w := bufio.NewWriter(f)
	return w, func() {
		_ = w.Flush()
		_ = f.Close()
	}, nil
}

// priceAll prices every basket of in concurrently and writes the results in
// input order. Baskets that fail are written as error objects.
func priceAll(
	ctx context.Context,
	svc *order.Service,
	record bool,
	workers int,
	in io.Reader,
	out io.Writer,
	lg *zap.Logger,
) error {
	var lines [][]byte
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read baskets")
	}

	results := make([][]byte, len(lines))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, line := range lines {
		g.Go(func() error {
			var e jx.Encoder
			if id, err := priceLine(ctx, svc, record, line, &e); err != nil {
				lg.Warn("Basket skipped", zap.Int("line", i+1), zap.String("basket_id", id), zap.Error(err))
				e.Reset()
				encodeFailure(&e, i+1, id, err)
			}
			results[i] = e.Bytes()
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if _, err := out.Write(append(r, '\n')); err != nil {
			return errors.Wrap(err, "write result")
		}
	}
	lg.Info("Priced baskets", zap.Int("count", len(results)))
	return nil
}

func priceLine(
	ctx context.Context,
	svc *order.Service,
	record bool,
	line []byte,
	e *jx.Encoder,
) (string, error) {
	in, err := decodeBasket(line)
	if err != nil {
		return "", err
	}
	b, err := price(ctx, svc, in, record)
	if err != nil {
		return in.ID, err
	}
	encodeBasket(e, in.ID, b)
	return in.ID, nil
}

// writeCosmetic writes the single-unit cosmetic price of every discountable
// catalog product.
func writeCosmetic(
	ctx context.Context,
	cp *offer.CosmeticPricer,
	src *source,
	offers []*offer.Offer,
	currency string,
	out io.Writer,
) error {
	products, err := src.products(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	var e jx.Encoder
	for i := range products {
		pr := &products[i]
		if !pr.IsDiscountable {
			continue
		}
		unit, err := cp.Price(ctx, pr, 1, offers)
		if err != nil {
			return errors.Wrapf(err, "cosmetic price of %q", pr.ID)
		}
		e.Reset()
		encodeCosmetic(&e, pr.ID, 1, unit, currency)
		if _, err := out.Write(append(e.Bytes(), '\n')); err != nil {
			return errors.Wrap(err, "write result")
		}
	}
	return nil
}
