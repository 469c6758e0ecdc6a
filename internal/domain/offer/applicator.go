package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

const instrumentationName = "github.com/xenking/bluelight-offers/internal/domain/offer"

// UsageCounter reports how often a basket's owner already used an offer.
type UsageCounter interface {
	UserApplications(ctx context.Context, b *basket.Basket, o *Offer) (int, error)
}

// ApplicatorOption configures an Applicator.
type ApplicatorOption func(*Applicator)

// WithLogger sets the logger for evaluation errors.
func WithLogger(lg *zap.Logger) ApplicatorOption {
	return func(a *Applicator) { a.lg = lg }
}

func WithMeterProvider(mp metric.MeterProvider) ApplicatorOption {
	return func(a *Applicator) { a.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) ApplicatorOption {
	return func(a *Applicator) { a.tracerProvider = tp }
}

// WithHooks sets callbacks fired around runs and groups.
func WithHooks(h *Hooks) ApplicatorOption {
	return func(a *Applicator) { a.hooks = h }
}

// WithUsageCounter enables per-user application limits.
func WithUsageCounter(u UsageCounter) ApplicatorOption {
	return func(a *Applicator) { a.usage = u }
}

// WithClock overrides the time used for availability checks.
func WithClock(now func() time.Time) ApplicatorOption {
	return func(a *Applicator) { a.now = now }
}

// Applicator applies offers to baskets group by group.
type Applicator struct {
	lg             *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	hooks          *Hooks
	usage          UsageCounter
	now            func() time.Time

	applications metric.Int64Counter
	errors       metric.Int64Counter
	discounts    metric.Float64Histogram
}

// NewApplicator returns an Applicator. Telemetry defaults to noop providers.
func NewApplicator(opts ...ApplicatorOption) (*Applicator, error) {
	a := &Applicator{
		lg:             zap.NewNop(),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		hooks:          &Hooks{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	meter := a.meterProvider.Meter(instrumentationName)
	a.tracer = a.tracerProvider.Tracer(instrumentationName)

	var err error
	if a.applications, err = meter.Int64Counter("offers.applications",
		metric.WithDescription("Successful offer applications"),
	); err != nil {
		return nil, errors.Wrap(err, "applications counter")
	}
	if a.errors, err = meter.Int64Counter("offers.evaluation_errors",
		metric.WithDescription("Offer evaluations that failed and were skipped"),
	); err != nil {
		return nil, errors.Wrap(err, "errors counter")
	}
	if a.discounts, err = meter.Float64Histogram("offers.discount",
		metric.WithDescription("Discount granted per offer application"),
	); err != nil {
		return nil, errors.Wrap(err, "discount histogram")
	}
	return a, nil
}

// Apply applies offers to b in priority order and stores the resulting
// applications on the basket.
//
// Offers are batched by group priority. Inside a batch a unit consumed by
// an exclusive offer is unavailable to the others; every batch starts from
// fresh consumption so discounts from different batches compound.
func (a *Applicator) Apply(ctx context.Context, b *basket.Basket, offers []*Offer) {
	a.apply(ctx, b, offers, false)
}

func (a *Applicator) apply(ctx context.Context, b *basket.Basket, offers []*Offer, cosmetic bool) {
	ctx, span := a.tracer.Start(ctx, "offer.Apply",
		trace.WithAttributes(
			attribute.String("basket.id", b.ID.String()),
			attribute.Bool("cosmetic", cosmetic),
		),
	)
	defer span.End()

	// Every run starts from undiscounted lines.
	b.ResetOffers()
	b.ClearUpsells()
	a.hooks.beforeRun(ctx, b, offers)
	apps := basket.NewApplications()

	now := a.now()
	candidates := make([]*Offer, 0, len(offers))
	for _, o := range offers {
		if cosmetic && !o.AffectsCosmeticPricing {
			continue
		}
		if !o.IsAvailable(now) {
			continue
		}
		candidates = append(candidates, o)
	}

	for _, batch := range GroupOffers(candidates) {
		a.hooks.beforeGroup(ctx, b, batch.Group, batch.Offers)
		for _, line := range b.Lines() {
			line.BeginOfferGroup()
		}

		for _, o := range batch.Offers {
			a.applyOffer(ctx, b, o, apps)

			// Upsells are collected before the group ends, otherwise only
			// the last group's upsells would be visible.
			if !o.IsConditionSatisfied(b) && o.IsConditionPartiallySatisfied(b) {
				if u := o.UpsellDetails(b); u != nil {
					b.AddUpsell(u)
				}
			}
		}

		for _, line := range b.Lines() {
			line.EndOfferGroup()
		}
		a.hooks.afterGroup(ctx, b, batch.Group, batch.Offers)
	}

	for _, line := range b.Lines() {
		line.FinalizeOfferGroups()
	}
	b.SetApplications(apps)
	span.SetAttributes(attribute.Int("offers.applied", apps.Len()))
	a.hooks.afterRun(ctx, b, offers)
}

func (a *Applicator) applyOffer(ctx context.Context, b *basket.Basket, o *Offer, apps *basket.Applications) {
	userApplications := 0
	if a.usage != nil {
		n, err := a.usage.UserApplications(ctx, b, o)
		if err != nil {
			a.lg.Warn("Failed to count user applications",
				zap.Int64("offer_id", o.ID),
				zap.Error(err),
			)
			return
		}
		userApplications = n
	}

	attrs := metric.WithAttributes(attribute.Int64("offer.id", o.ID))
	limit := o.MaxApplications(userApplications)
	granted := grants{}
	for n := 0; n < limit; {
		res, err := o.applyBenefit(b, granted)
		n++
		if err != nil {
			a.reportError(ctx, o, err)
			break
		}
		if !res.IsSuccessful() {
			break
		}
		granted.add(o.Benefit.ID(), res.Discount)
		apps.Add(o, res.Affects(), res.Discount, res.Description, res.IsHidden())
		a.applications.Add(ctx, 1, attrs)
		a.discounts.Record(ctx, res.Discount.InexactFloat64(), attrs)
		if res.IsFinal() {
			break
		}
	}
}

// reportError logs an evaluation error. Broken configuration is a
// programming error and panics under development loggers.
func (a *Applicator) reportError(ctx context.Context, o *Offer, err error) {
	a.errors.Add(ctx, 1, metric.WithAttributes(attribute.Int64("offer.id", o.ID)))
	fields := []zap.Field{
		zap.Int64("offer_id", o.ID),
		zap.String("offer_name", o.Name),
		zap.Error(err),
	}
	if o.Benefit != nil {
		fields = append(fields, zap.Stringer("benefit_kind", o.Benefit.Kind()))
	}
	if isInvariantViolation(err) {
		a.lg.DPanic("Offer configuration violates invariant", fields...)
		return
	}
	a.lg.Warn("Offer evaluation failed", fields...)
}
