package offer

import (
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// ValidateConditionGraph checks that every compound condition refers to
// existing conditions and that no compound reaches itself.
func ValidateConditionGraph(records []ConditionRecord) error {
	edges := make(map[int64][]int64, len(records))
	for _, r := range records {
		edges[r.ID] = r.Children
	}
	return validateGraph("condition", edges)
}

// ValidateBenefitGraph checks that every compound benefit refers to existing
// benefits, that no compound reaches itself, and that no compound mixes
// benefits that discount the basket with ones that discount shipping.
func ValidateBenefitGraph(records []BenefitRecord) error {
	edges := make(map[int64][]int64, len(records))
	for _, r := range records {
		edges[r.ID] = r.Children
	}
	if err := validateGraph("benefit", edges); err != nil {
		return err
	}
	return validateBenefitKinds(records)
}

type resolvedAffects struct {
	affects basket.Affects
	known   bool
}

// validateBenefitKinds expects an acyclic graph.
func validateBenefitKinds(records []BenefitRecord) error {
	byID := make(map[int64]BenefitRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	memo := make(map[int64]resolvedAffects, len(records))

	var resolve func(id int64) (resolvedAffects, error)
	resolve = func(id int64) (resolvedAffects, error) {
		if r, ok := memo[id]; ok {
			return r, nil
		}
		rec := byID[id]
		var r resolvedAffects
		if rec.Kind != CompoundBenefitKind {
			r.affects, r.known = rec.Kind.affects()
		}
		for _, child := range rec.Children {
			cr, err := resolve(child)
			if err != nil {
				return resolvedAffects{}, err
			}
			if !cr.known {
				continue
			}
			if r.known && cr.affects != r.affects {
				return resolvedAffects{}, errors.Wrapf(ErrMixedResultKinds,
					"benefit %d: child %d affects %s, others %s", id, child, cr.affects, r.affects)
			}
			r = cr
		}
		memo[id] = r
		return r, nil
	}

	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := resolve(id); err != nil {
			return err
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

func validateGraph(entity string, edges map[int64][]int64) error {
	state := make(map[int64]int, len(edges))
	var path []int64

	var visit func(id int64) error
	visit = func(id int64) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(path, id)
			cycle := append(slices.Clone(path[start:]), id)
			return &CycleError{Entity: entity, Path: cycle}
		}
		state[id] = visiting
		path = append(path, id)
		for _, child := range edges[id] {
			if _, ok := edges[child]; !ok {
				return errors.Wrapf(ErrMissingDependency, "%s %d: child %d", entity, id, child)
			}
			if err := visit(child); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		return nil
	}

	ids := make([]int64, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
