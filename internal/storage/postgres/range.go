package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bluelight-offers/internal/domain/catalog"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

const (
	listRangesSQL = `SELECT id, name, includes_all_products FROM ranges ORDER BY id`

	listRangeProductsSQL = `SELECT range_id, product_id FROM range_products ORDER BY range_id, product_id`

	listRangeExcludedSQL = `SELECT range_id, product_id FROM range_excluded_products ORDER BY range_id, product_id`

	listRangeClassesSQL = `SELECT range_id, class_id FROM range_classes ORDER BY range_id, class_id`

	upsertRangeSQL = `INSERT INTO ranges (id, name, includes_all_products) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, includes_all_products = EXCLUDED.includes_all_products`
)

// RangeRepository loads and stores product ranges.
type RangeRepository struct {
	pool *pgxpool.Pool
}

// NewRangeRepository returns a RangeRepository that uses the given pool.
func NewRangeRepository(pool *pgxpool.Pool) *RangeRepository {
	return &RangeRepository{pool: pool}
}

type rangeMember struct {
	RangeID int64
	Value   string
}

func (r *RangeRepository) members(ctx context.Context, query string) (map[int64][]string, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	members, err := pgx.CollectRows(rows, pgx.RowToStructByPos[rangeMember])
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]string)
	for _, m := range members {
		out[m.RangeID] = append(out[m.RangeID], m.Value)
	}
	return out, nil
}

// Definitions returns every stored range definition.
func (r *RangeRepository) Definitions(ctx context.Context) ([]catalog.Definition, error) {
	rows, err := r.pool.Query(ctx, listRangesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list ranges")
	}
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Definition, error) {
		var def catalog.Definition
		err := row.Scan(&def.ID, &def.Name, &def.IncludesAllProducts)
		return def, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan ranges")
	}

	products, err := r.members(ctx, listRangeProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list range products")
	}
	excluded, err := r.members(ctx, listRangeExcludedSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list range exclusions")
	}
	classes, err := r.members(ctx, listRangeClassesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list range classes")
	}

	for i := range defs {
		id := defs[i].ID
		defs[i].ProductIDs = products[id]
		defs[i].ExcludedProductIDs = excluded[id]
		defs[i].ClassIDs = classes[id]
	}
	return defs, nil
}

// Load returns every range, pre-loaded for membership checks.
func (r *RangeRepository) Load(ctx context.Context) (map[int64]offer.Range, error) {
	defs, err := r.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	ranges := make(map[int64]offer.Range, len(defs))
	for _, def := range defs {
		ranges[def.ID] = catalog.New(def)
	}
	return ranges, nil
}

// Save replaces a range definition and its membership lists.
func (r *RangeRepository) Save(ctx context.Context, def catalog.Definition) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertRangeSQL, def.ID, def.Name, def.IncludesAllProducts); err != nil {
			return errors.Wrapf(err, "upsert range %d", def.ID)
		}
		for _, table := range []string{"range_products", "range_excluded_products", "range_classes"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE range_id = $1`, def.ID); err != nil {
				return errors.Wrapf(err, "clear %s", table)
			}
		}
		if err := copyMembers(ctx, tx, "range_products", "product_id", def.ID, def.ProductIDs); err != nil {
			return err
		}
		if err := copyMembers(ctx, tx, "range_excluded_products", "product_id", def.ID, def.ExcludedProductIDs); err != nil {
			return err
		}
		return copyMembers(ctx, tx, "range_classes", "class_id", def.ID, def.ClassIDs)
	})
}

// AddProducts appends product ids to a range, skipping ones already present.
func (r *RangeRepository) AddProducts(ctx context.Context, rangeID int64, ids []string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO range_products (range_id, product_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`,
		rangeID, ids,
	)
	if err != nil {
		return 0, errors.Wrapf(err, "add products to range %d", rangeID)
	}
	return tag.RowsAffected(), nil
}

func copyMembers(ctx context.Context, tx pgx.Tx, table, column string, rangeID int64, values []string) error {
	if len(values) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{table},
		[]string{"range_id", column},
		pgx.CopyFromSlice(len(values), func(i int) ([]any, error) {
			return []any{rangeID, values[i]}, nil
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "copy %s", table)
	}
	return nil
}
