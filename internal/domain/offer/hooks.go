package offer

import (
	"context"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// RunHook observes a whole applicator run.
type RunHook func(ctx context.Context, b *basket.Basket, offers []*Offer)

// GroupHook observes the application of one batch. g is nil for the batch of
// offers without a group.
type GroupHook func(ctx context.Context, b *basket.Basket, g *Group, offers []*Offer)

// Hooks are callbacks fired around applicator runs and offer groups.
type Hooks struct {
	BeforeRun   []RunHook
	AfterRun    []RunHook
	BeforeGroup []GroupHook
	AfterGroup  []GroupHook
}

// OnBeforeGroup registers fn for the group with slug only.
func (h *Hooks) OnBeforeGroup(slug string, fn GroupHook) {
	h.BeforeGroup = append(h.BeforeGroup, forSlug(slug, fn))
}

// OnAfterGroup registers fn for the group with slug only.
func (h *Hooks) OnAfterGroup(slug string, fn GroupHook) {
	h.AfterGroup = append(h.AfterGroup, forSlug(slug, fn))
}

func forSlug(slug string, fn GroupHook) GroupHook {
	return func(ctx context.Context, b *basket.Basket, g *Group, offers []*Offer) {
		if g != nil && g.Slug == slug {
			fn(ctx, b, g, offers)
		}
	}
}

func (h *Hooks) beforeRun(ctx context.Context, b *basket.Basket, offers []*Offer) {
	for _, fn := range h.BeforeRun {
		fn(ctx, b, offers)
	}
}

func (h *Hooks) afterRun(ctx context.Context, b *basket.Basket, offers []*Offer) {
	for _, fn := range h.AfterRun {
		fn(ctx, b, offers)
	}
}

func (h *Hooks) beforeGroup(ctx context.Context, b *basket.Basket, g *Group, offers []*Offer) {
	for _, fn := range h.BeforeGroup {
		fn(ctx, b, g, offers)
	}
}

func (h *Hooks) afterGroup(ctx context.Context, b *basket.Basket, g *Group, offers []*Offer) {
	for _, fn := range h.AfterGroup {
		fn(ctx, b, g, offers)
	}
}
