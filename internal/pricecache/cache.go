package pricecache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

// ErrMissingKeyPart is returned when a key is built without a declared part.
var ErrMissingKeyPart = errors.New("cache key is missing a key part")

const keyPrefix = "bluelight"

// Namespace is a version counter shared by a family of keys. Bumping it
// orphans every key built with the previous version.
type Namespace struct {
	store Store
	name  string
}

// NewNamespace returns the namespace called name.
func NewNamespace(store Store, name string) *Namespace {
	return &Namespace{store: store, name: name}
}

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) key() string {
	return keyPrefix + ".cache-ns:" + n.name
}

// Version returns the current version, starting at 1.
func (n *Namespace) Version(ctx context.Context) (int64, error) {
	if _, err := n.store.SetNX(ctx, n.key(), "1", 0); err != nil {
		return 0, errors.Wrapf(err, "init namespace %s", n.name)
	}
	v, err := n.store.Get(ctx, n.key())
	if err != nil {
		return 0, errors.Wrapf(err, "read namespace %s", n.name)
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse namespace %s", n.name)
	}
	return version, nil
}

// Invalidate bumps the version.
func (n *Namespace) Invalidate(ctx context.Context) error {
	if _, err := n.store.Incr(ctx, n.key()); err != nil {
		return errors.Wrapf(err, "invalidate namespace %s", n.name)
	}
	return nil
}

// Key builds cache keys of the form
// base.ns:<name>:<version>...p:<part>:<value>...
type Key struct {
	base       string
	namespaces []*Namespace
	parts      []string
}

// NewKey starts a key under base.
func NewKey(base string) *Key {
	return &Key{base: base}
}

// Namespaces sets the namespaces whose versions are embedded in the key.
func (k *Key) Namespaces(ns ...*Namespace) *Key {
	k.namespaces = ns
	return k
}

// Parts declares the named values Build requires.
func (k *Key) Parts(names ...string) *Key {
	k.parts = names
	return k
}

// Build renders the key. Every declared part must be present in values.
func (k *Key) Build(ctx context.Context, values map[string]string) (string, error) {
	fragments := make([]string, 0, 1+len(k.namespaces)+len(k.parts))
	fragments = append(fragments, keyPrefix+"."+k.base)
	for _, ns := range k.namespaces {
		v, err := ns.Version(ctx)
		if err != nil {
			return "", err
		}
		fragments = append(fragments, fmt.Sprintf("ns:%s:%d", ns.Name(), v))
	}
	for _, part := range k.parts {
		v, ok := values[part]
		if !ok {
			return "", errors.Wrapf(ErrMissingKeyPart, "%s", part)
		}
		fragments = append(fragments, fmt.Sprintf("p:%s:%s", part, v))
	}
	return strings.Join(fragments, "."), nil
}

// Cache stores decimals in a Store. Store failures are logged and the value
// is computed directly.
type Cache struct {
	store Store
	lg    *zap.Logger
}

// New returns a cache over store. A nil logger discards output.
func New(store Store, lg *zap.Logger) *Cache {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Cache{store: store, lg: lg}
}

// Store returns the backing store.
func (c *Cache) Store() Store { return c.store }

// GetOrSetDecimal returns the cached value at key, computing and storing it
// with ttl on a miss. Compute errors are returned and nothing is stored.
func (c *Cache) GetOrSetDecimal(
	ctx context.Context,
	key string,
	ttl time.Duration,
	compute func(ctx context.Context) (decimal.Decimal, error),
) (decimal.Decimal, error) {
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		v, perr := decimal.NewFromString(raw)
		if perr == nil {
			return v, nil
		}
		c.lg.Warn("Discarding malformed cache entry", zap.String("key", key), zap.Error(perr))
	case !errors.Is(err, ErrMiss):
		c.lg.Warn("Price cache read failed", zap.String("key", key), zap.Error(err))
	}

	v, err := compute(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.store.Set(ctx, key, v.String(), ttl); err != nil {
		c.lg.Warn("Price cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// PricingNamespace is bumped whenever offer configuration changes.
const PricingNamespace = "pricing"

var _ offer.PriceCache = (*CosmeticCache)(nil)

// CosmeticCache caches cosmetic unit prices per product and quantity under
// the pricing namespace.
type CosmeticCache struct {
	cache *Cache
	key   *Key
	ttl   time.Duration
}

// NewCosmeticCache returns a cosmetic price cache whose entries live for ttl.
func NewCosmeticCache(cache *Cache, ttl time.Duration) *CosmeticCache {
	ns := NewNamespace(cache.Store(), PricingNamespace)
	return &CosmeticCache{
		cache: cache,
		key:   NewKey("cosmetic-price").Namespaces(ns).Parts("product", "quantity"),
		ttl:   ttl,
	}
}

func (c *CosmeticCache) GetOrSet(
	ctx context.Context,
	productID string,
	quantity int,
	compute func(ctx context.Context) (decimal.Decimal, error),
) (decimal.Decimal, error) {
	key, err := c.key.Build(ctx, map[string]string{
		"product":  productID,
		"quantity": strconv.Itoa(quantity),
	})
	if err != nil {
		c.cache.lg.Warn("Price cache key unavailable", zap.Error(err))
		return compute(ctx)
	}
	return c.cache.GetOrSetDecimal(ctx, key, c.ttl, compute)
}
