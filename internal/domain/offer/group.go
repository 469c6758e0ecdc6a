package offer

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Group is a priority bucket of offers. Offers inside a group compete for
// basket units; offers in different groups compound.
type Group struct {
	ID       int64
	Name     string
	Slug     string
	Priority int
	// IsSystemGroup marks groups the code refers to by slug.
	IsSystemGroup bool
}

// Batch is the offers of one group in application order.
type Batch struct {
	Priority int
	// Group is nil for offers that belong to no group.
	Group  *Group
	Offers []*Offer
}

// GroupOffers orders offers by group priority and then offer priority, both
// descending, and splits them into batches of equal group priority.
//
// Offers without a group form an implicit group ranked just below the
// lowest group present. The sort is stable, so equal offers keep their
// input order.
func GroupOffers(offers []*Offer) []Batch {
	grouped := lo.Filter(offers, func(o *Offer, _ int) bool { return o.Group != nil })
	priorities := lo.Map(grouped, func(o *Offer, _ int) int { return o.Group.Priority })
	nullPriority := -1
	if len(priorities) > 0 {
		nullPriority = lo.Min(priorities) - 1
	}
	priorityOf := func(o *Offer) int {
		if o.Group == nil {
			return nullPriority
		}
		return o.Group.Priority
	}

	sorted := slices.Clone(offers)
	slices.SortStableFunc(sorted, func(a, b *Offer) int {
		if pa, pb := priorityOf(a), priorityOf(b); pa != pb {
			return pb - pa
		}
		return b.Priority - a.Priority
	})

	var batches []Batch
	for _, o := range sorted {
		p := priorityOf(o)
		if n := len(batches); n > 0 && batches[n-1].Priority == p {
			batches[n-1].Offers = append(batches[n-1].Offers, o)
			continue
		}
		batches = append(batches, Batch{Priority: p, Group: o.Group, Offers: []*Offer{o}})
	}
	return batches
}

// GroupStore creates system groups on demand.
type GroupStore interface {
	// EnsureSystemGroup returns the system group with slug, creating it with
	// name when it does not exist.
	EnsureSystemGroup(ctx context.Context, slug, name string) (g *Group, created bool, err error)
}

// SystemGroups is a registry of groups referenced by slug from code.
type SystemGroups struct {
	mu      sync.Mutex
	pending []systemGroup
	groups  map[string]*Group
}

type systemGroup struct {
	slug string
	name string
}

// NewSystemGroups returns an empty registry.
func NewSystemGroups() *SystemGroups {
	return &SystemGroups{groups: make(map[string]*Group)}
}

// Register queues a system group for creation. name defaults to slug.
func (s *SystemGroups) Register(slug, name string) {
	if name == "" {
		name = slug
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, systemGroup{slug: slug, name: name})
}

// Ensure creates every registered group that does not exist yet.
func (s *SystemGroups) Ensure(ctx context.Context, store GroupStore, lg *zap.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) > 0 {
		sg := s.pending[0]
		g, created, err := store.EnsureSystemGroup(ctx, sg.slug, sg.name)
		if err != nil {
			return errors.Wrapf(err, "ensure system group %q", sg.slug)
		}
		if created {
			lg.Info("Created system offer group",
				zap.String("slug", g.Slug),
				zap.Int("priority", g.Priority),
			)
		}
		s.groups[sg.slug] = g
		s.pending = s.pending[1:]
	}
	return nil
}

// Get returns an ensured system group.
func (s *SystemGroups) Get(slug string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[slug]
	return g, ok
}
