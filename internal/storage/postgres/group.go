package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

const (
	groupColumns = `id, name, slug, priority, is_system_group`

	listGroupsSQL = `SELECT ` + groupColumns + ` FROM offer_groups ORDER BY priority DESC, id`

	insertSystemGroupSQL = `INSERT INTO offer_groups (name, slug, priority, is_system_group)
		VALUES ($1, $2, 0, TRUE)
		ON CONFLICT (slug) DO NOTHING
		RETURNING ` + groupColumns

	getGroupBySlugSQL = `SELECT ` + groupColumns + ` FROM offer_groups WHERE slug = $1`

	upsertGroupSQL = `INSERT INTO offer_groups (id, name, slug, priority, is_system_group)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			priority = EXCLUDED.priority,
			is_system_group = EXCLUDED.is_system_group`
)

var _ offer.GroupStore = (*GroupRepository)(nil)

// GroupRepository stores offer groups.
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository returns a GroupRepository that uses the given pool.
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// List returns every group, highest priority first.
func (r *GroupRepository) List(ctx context.Context) ([]*offer.Group, error) {
	rows, err := r.pool.Query(ctx, listGroupsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	return pgx.CollectRows(rows, scanGroup)
}

// EnsureSystemGroup implements offer.GroupStore.
func (r *GroupRepository) EnsureSystemGroup(ctx context.Context, slug, name string) (*offer.Group, bool, error) {
	rows, err := r.pool.Query(ctx, insertSystemGroupSQL, name, slug)
	if err != nil {
		return nil, false, errors.Wrapf(err, "insert group %q", slug)
	}
	g, err := pgx.CollectExactlyOneRow(rows, scanGroup)
	if err == nil {
		return g, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, errors.Wrapf(err, "insert group %q", slug)
	}

	rows, err = r.pool.Query(ctx, getGroupBySlugSQL, slug)
	if err != nil {
		return nil, false, errors.Wrapf(err, "get group %q", slug)
	}
	g, err = pgx.CollectExactlyOneRow(rows, scanGroup)
	if err != nil {
		return nil, false, errors.Wrapf(err, "get group %q", slug)
	}
	return g, false, nil
}

func upsertGroup(ctx context.Context, tx pgx.Tx, g *offer.Group) error {
	if _, err := tx.Exec(ctx, upsertGroupSQL, g.ID, g.Name, g.Slug, g.Priority, g.IsSystemGroup); err != nil {
		return errors.Wrapf(err, "upsert group %q", g.Slug)
	}
	return nil
}

func scanGroup(row pgx.CollectableRow) (*offer.Group, error) {
	var g offer.Group
	err := row.Scan(&g.ID, &g.Name, &g.Slug, &g.Priority, &g.IsSystemGroup)
	return &g, err
}
