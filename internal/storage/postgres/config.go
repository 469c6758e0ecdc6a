package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

const (
	listConditionsSQL = `SELECT id, kind, range_id, value, conjunction FROM conditions ORDER BY id`

	listConditionChildrenSQL = `SELECT parent_id, child_id FROM condition_children ORDER BY parent_id, position`

	listBenefitsSQL = `SELECT id, kind, range_id, value, max_affected_items, max_discount, conjunction
		FROM benefits ORDER BY id`

	listBenefitChildrenSQL = `SELECT parent_id, child_id FROM benefit_children ORDER BY parent_id, position`

	offerColumns = `id, name, description, condition_id, benefit_id, group_id, priority, exclusive,
		affects_cosmetic_pricing, status, start_at, end_at, max_basket_applications,
		max_user_applications, max_global_applications, max_total_discount, num_applications,
		total_discount, voucher_name, voucher_code`

	listOffersSQL = `SELECT ` + offerColumns + ` FROM offers ORDER BY id`

	upsertConditionSQL = `INSERT INTO conditions (id, kind, range_id, value, conjunction)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			range_id = EXCLUDED.range_id,
			value = EXCLUDED.value,
			conjunction = EXCLUDED.conjunction`

	upsertBenefitSQL = `INSERT INTO benefits (id, kind, range_id, value, max_affected_items, max_discount, conjunction)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			range_id = EXCLUDED.range_id,
			value = EXCLUDED.value,
			max_affected_items = EXCLUDED.max_affected_items,
			max_discount = EXCLUDED.max_discount,
			conjunction = EXCLUDED.conjunction`

	upsertOfferSQL = `INSERT INTO offers (` + offerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			condition_id = EXCLUDED.condition_id,
			benefit_id = EXCLUDED.benefit_id,
			group_id = EXCLUDED.group_id,
			priority = EXCLUDED.priority,
			exclusive = EXCLUDED.exclusive,
			affects_cosmetic_pricing = EXCLUDED.affects_cosmetic_pricing,
			status = EXCLUDED.status,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			max_basket_applications = EXCLUDED.max_basket_applications,
			max_user_applications = EXCLUDED.max_user_applications,
			max_global_applications = EXCLUDED.max_global_applications,
			max_total_discount = EXCLUDED.max_total_discount,
			voucher_name = EXCLUDED.voucher_name,
			voucher_code = EXCLUDED.voucher_code`

	syncGroupSequenceSQL = `SELECT setval(pg_get_serial_sequence('offer_groups', 'id'),
		GREATEST((SELECT MAX(id) FROM offer_groups), 1))`

	insertConfigChangeSQL = `INSERT INTO config_changes (entity, entity_id) VALUES ($1, $2)`

	latestConfigChangeSQL = `SELECT COALESCE(MAX(id), 0) FROM config_changes`
)

// Changeset is a set of offer configuration records saved together.
type Changeset struct {
	Groups     []*offer.Group
	Conditions []offer.ConditionRecord
	Benefits   []offer.BenefitRecord
	Offers     []offer.OfferRecord
}

// CommitHook runs after a changeset is committed.
type CommitHook func(ctx context.Context, cs Changeset) error

// ConfigRepository loads and saves offer configuration.
type ConfigRepository struct {
	pool   *pgxpool.Pool
	ranges *RangeRepository
	groups *GroupRepository
	hooks  []CommitHook
}

// NewConfigRepository returns a ConfigRepository that uses the given pool.
func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{
		pool:   pool,
		ranges: NewRangeRepository(pool),
		groups: NewGroupRepository(pool),
	}
}

// OnCommit registers a hook that runs after every successful Save.
func (r *ConfigRepository) OnCommit(h CommitHook) {
	r.hooks = append(r.hooks, h)
}

// Snapshot loads everything offer.Loader needs. The tables are read
// concurrently.
func (r *ConfigRepository) Snapshot(ctx context.Context) (offer.Snapshot, error) {
	var s offer.Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Ranges, err = r.ranges.Load(ctx)
		return err
	})
	g.Go(func() (err error) {
		s.Groups, err = r.groups.List(ctx)
		return err
	})
	g.Go(func() (err error) {
		s.Conditions, err = r.conditions(ctx, r.pool)
		return err
	})
	g.Go(func() (err error) {
		s.Benefits, err = r.benefits(ctx, r.pool)
		return err
	})
	g.Go(func() (err error) {
		s.Offers, err = r.offers(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return offer.Snapshot{}, errors.Wrap(err, "load offer snapshot")
	}
	return s, nil
}

// LatestChange returns the id of the most recent configuration change, or
// zero when nothing was saved yet.
func (r *ConfigRepository) LatestChange(ctx context.Context) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, latestConfigChangeSQL).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "latest config change")
	}
	return id, nil
}

// Save validates cs against the stored graphs and writes it in one
// transaction. Commit hooks run afterwards; their errors are returned but
// the changeset stays committed.
func (r *ConfigRepository) Save(ctx context.Context, cs Changeset) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		conditions, err := r.conditions(ctx, tx)
		if err != nil {
			return err
		}
		if err := offer.ValidateConditionGraph(overlay(conditions, cs.Conditions, conditionID)); err != nil {
			return err
		}
		benefits, err := r.benefits(ctx, tx)
		if err != nil {
			return err
		}
		if err := offer.ValidateBenefitGraph(overlay(benefits, cs.Benefits, benefitID)); err != nil {
			return err
		}

		for _, g := range cs.Groups {
			if err := upsertGroup(ctx, tx, g); err != nil {
				return err
			}
		}
		if len(cs.Groups) > 0 {
			if _, err := tx.Exec(ctx, syncGroupSequenceSQL); err != nil {
				return errors.Wrap(err, "sync group sequence")
			}
		}
		// Rows first, then edges: children may reference records saved later
		// in the same changeset.
		for _, c := range cs.Conditions {
			if _, err := tx.Exec(ctx, upsertConditionSQL,
				c.ID, string(c.Kind), nullID(c.RangeID), c.Value, string(c.Conjunction),
			); err != nil {
				return errors.Wrapf(err, "upsert condition %d", c.ID)
			}
		}
		for _, c := range cs.Conditions {
			if err := replaceChildren(ctx, tx, "condition_children", c.ID, c.Children); err != nil {
				return err
			}
		}
		for _, b := range cs.Benefits {
			if _, err := tx.Exec(ctx, upsertBenefitSQL,
				b.ID, string(b.Kind), nullID(b.RangeID), b.Value, b.MaxAffectedItems, b.MaxDiscount, string(b.Conjunction),
			); err != nil {
				return errors.Wrapf(err, "upsert benefit %d", b.ID)
			}
		}
		for _, b := range cs.Benefits {
			if err := replaceChildren(ctx, tx, "benefit_children", b.ID, b.Children); err != nil {
				return err
			}
		}
		for _, o := range cs.Offers {
			if _, err := tx.Exec(ctx, upsertOfferSQL, offerArgs(o)...); err != nil {
				return errors.Wrapf(err, "upsert offer %d", o.ID)
			}
		}

		return recordChanges(ctx, tx, cs)
	})
	if err != nil {
		return errors.Wrap(err, "save offer configuration")
	}

	for _, h := range r.hooks {
		if err := h(ctx, cs); err != nil {
			return errors.Wrap(err, "post-commit hook")
		}
	}
	return nil
}

func recordChanges(ctx context.Context, tx pgx.Tx, cs Changeset) error {
	batch := &pgx.Batch{}
	for _, g := range cs.Groups {
		batch.Queue(insertConfigChangeSQL, "group", g.ID)
	}
	for _, c := range cs.Conditions {
		batch.Queue(insertConfigChangeSQL, "condition", c.ID)
	}
	for _, b := range cs.Benefits {
		batch.Queue(insertConfigChangeSQL, "benefit", b.ID)
	}
	for _, o := range cs.Offers {
		batch.Queue(insertConfigChangeSQL, "offer", o.ID)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "record config changes")
	}
	return nil
}

func replaceChildren(ctx context.Context, tx pgx.Tx, table string, parentID int64, children []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE parent_id = $1`, parentID); err != nil {
		return errors.Wrapf(err, "clear %s of %d", table, parentID)
	}
	for pos, child := range children {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+table+` (parent_id, child_id, position) VALUES ($1, $2, $3)`,
			parentID, child, pos,
		); err != nil {
			return errors.Wrapf(err, "insert %s %d -> %d", table, parentID, child)
		}
	}
	return nil
}

func conditionID(c offer.ConditionRecord) int64 { return c.ID }
func benefitID(b offer.BenefitRecord) int64     { return b.ID }

// overlay replaces stored records by id with the changed ones.
func overlay[T any](stored, changed []T, id func(T) int64) []T {
	byID := lo.SliceToMap(changed, func(t T) (int64, T) { return id(t), t })
	out := make([]T, 0, len(stored)+len(changed))
	for _, t := range stored {
		if _, ok := byID[id(t)]; !ok {
			out = append(out, t)
		}
	}
	return append(out, changed...)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type edge struct {
	Parent int64
	Child  int64
}

func children(ctx context.Context, q querier, query string) (map[int64][]int64, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	edges, err := pgx.CollectRows(rows, pgx.RowToStructByPos[edge])
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]int64)
	for _, e := range edges {
		out[e.Parent] = append(out[e.Parent], e.Child)
	}
	return out, nil
}

func (r *ConfigRepository) conditions(ctx context.Context, q querier) ([]offer.ConditionRecord, error) {
	rows, err := q.Query(ctx, listConditionsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list conditions")
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (offer.ConditionRecord, error) {
		var (
			rec        offer.ConditionRecord
			kind, conj string
			rangeID    *int64
		)
		err := row.Scan(&rec.ID, &kind, &rangeID, &rec.Value, &conj)
		rec.Kind = offer.ConditionKind(kind)
		rec.Conjunction = offer.Conjunction(conj)
		rec.RangeID = lo.FromPtr(rangeID)
		return rec, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan conditions")
	}
	edges, err := children(ctx, q, listConditionChildrenSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list condition children")
	}
	for i := range records {
		records[i].Children = edges[records[i].ID]
	}
	return records, nil
}

func (r *ConfigRepository) benefits(ctx context.Context, q querier) ([]offer.BenefitRecord, error) {
	rows, err := q.Query(ctx, listBenefitsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list benefits")
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (offer.BenefitRecord, error) {
		var (
			rec        offer.BenefitRecord
			kind, conj string
			rangeID    *int64
		)
		err := row.Scan(&rec.ID, &kind, &rangeID, &rec.Value, &rec.MaxAffectedItems, &rec.MaxDiscount, &conj)
		rec.Kind = offer.BenefitKind(kind)
		rec.Conjunction = offer.Conjunction(conj)
		rec.RangeID = lo.FromPtr(rangeID)
		return rec, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan benefits")
	}
	edges, err := children(ctx, q, listBenefitChildrenSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list benefit children")
	}
	for i := range records {
		records[i].Children = edges[records[i].ID]
	}
	return records, nil
}

func (r *ConfigRepository) offers(ctx context.Context) ([]offer.OfferRecord, error) {
	rows, err := r.pool.Query(ctx, listOffersSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}
	records, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, errors.Wrap(err, "scan offers")
	}
	return records, nil
}

func scanOffer(row pgx.CollectableRow) (offer.OfferRecord, error) {
	var (
		rec            offer.OfferRecord
		groupID        *int64
		status         string
		startAt, endAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.Description, &rec.ConditionID, &rec.BenefitID, &groupID,
		&rec.Priority, &rec.Exclusive, &rec.AffectsCosmeticPricing, &status, &startAt, &endAt,
		&rec.MaxBasketApplications, &rec.MaxUserApplications, &rec.MaxGlobalApplications,
		&rec.MaxTotalDiscount, &rec.NumApplications, &rec.TotalDiscount,
		&rec.VoucherName, &rec.VoucherCode,
	)
	rec.GroupID = lo.FromPtr(groupID)
	rec.Status = offer.Status(status)
	rec.StartAt = lo.FromPtr(startAt)
	rec.EndAt = lo.FromPtr(endAt)
	return rec, err
}

func offerArgs(o offer.OfferRecord) []any {
	status := o.Status
	if status == "" {
		status = offer.StatusOpen
	}
	return []any{
		o.ID, o.Name, o.Description, o.ConditionID, o.BenefitID, nullID(o.GroupID),
		o.Priority, o.Exclusive, o.AffectsCosmeticPricing, string(status),
		nullTime(o.StartAt), nullTime(o.EndAt),
		o.MaxBasketApplications, o.MaxUserApplications, o.MaxGlobalApplications,
		o.MaxTotalDiscount, o.NumApplications, o.TotalDiscount,
		o.VoucherName, o.VoucherCode,
	}
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
