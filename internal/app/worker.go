package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/bluelight-offers/internal/pricecache"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
)

// TotalsRecalculator refreshes offer usage counters.
type TotalsRecalculator interface {
	RecalculateTotals(ctx context.Context) (int64, error)
}

// ChangeLog reports the latest offer configuration change.
type ChangeLog interface {
	LatestChange(ctx context.Context) (int64, error)
}

// Invalidator drops every cached price.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Refresher recomputes cached prices after an invalidation.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Worker periodically recomputes offer usage totals and invalidates cached
// prices when offer configuration changed since the previous tick.
type Worker struct {
	totals   TotalsRecalculator
	changes  ChangeLog
	pricing  Invalidator
	refresh  Refresher
	interval time.Duration
	lg       *zap.Logger

	lastChange int64
	lastRun    atomic.Int64

	recalculated metric.Int64Counter
	invalidated  metric.Int64Counter
}

// NewWorker returns a worker ticking every interval. refresh and mp may be
// nil.
func NewWorker(
	totals TotalsRecalculator,
	changes ChangeLog,
	pricing Invalidator,
	refresh Refresher,
	interval time.Duration,
	lg *zap.Logger,
	mp metric.MeterProvider,
) (*Worker, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/xenking/bluelight-offers/internal/app")

	w := &Worker{
		totals:   totals,
		changes:  changes,
		pricing:  pricing,
		refresh:  refresh,
		interval: interval,
		lg:       lg,
	}
	var err error
	if w.recalculated, err = meter.Int64Counter("offers.recalculated",
		metric.WithDescription("Offers whose usage totals changed"),
	); err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	if w.invalidated, err = meter.Int64Counter("offers.pricing_invalidations",
		metric.WithDescription("Pricing cache namespace bumps"),
	); err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return w, nil
}

// LastRun returns when the last tick finished successfully.
func (w *Worker) LastRun() time.Time {
	ns := w.lastRun.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run ticks until ctx is done. Tick errors are logged and retried on the
// next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.lg.Error("Offer maintenance failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one maintenance pass.
func (w *Worker) Tick(ctx context.Context) error {
	changed, err := w.totals.RecalculateTotals(ctx)
	if err != nil {
		return err
	}
	w.recalculated.Add(ctx, changed)
	if changed > 0 {
		w.lg.Info("Recalculated offer totals", zap.Int64("offers", changed))
	}

	latest, err := w.changes.LatestChange(ctx)
	if err != nil {
		return err
	}
	if latest != w.lastChange {
		if err := w.pricing.Invalidate(ctx); err != nil {
			return err
		}
		w.invalidated.Add(ctx, 1)
		w.lg.Info("Invalidated cached prices",
			zap.Int64("change", latest),
			zap.Int64("previous", w.lastChange),
		)
		w.lastChange = latest

		if w.refresh != nil {
			n, err := w.refresh.Refresh(ctx)
			if err != nil {
				// Prices are computed on demand until the next change.
				w.lg.Warn("Cosmetic price refresh failed", zap.Error(err))
			} else {
				w.lg.Info("Refreshed cosmetic prices", zap.Int("products", n))
			}
		}
	}

	w.lastRun.Store(time.Now().UnixNano())
	return nil
}

// InvalidatePricing returns a commit hook that bumps the pricing namespace.
func InvalidatePricing(ns *pricecache.Namespace) postgres.CommitHook {
	return func(ctx context.Context, _ postgres.Changeset) error {
		return ns.Invalidate(ctx)
	}
}
