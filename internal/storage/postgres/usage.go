package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

const (
	insertOrderDiscountSQL = `INSERT INTO order_discounts (order_id, user_id, offer_id, amount, frequency)
		VALUES ($1, $2, $3, $4, $5)`

	userApplicationsSQL = `SELECT COALESCE(SUM(frequency), 0) FROM order_discounts
		WHERE user_id = $1 AND offer_id = $2`

	recalculateTotalsSQL = `UPDATE offers o SET
			num_applications = t.num_applications,
			total_discount = t.total_discount
		FROM (
			SELECT src.id,
				COALESCE(SUM(d.frequency), 0) AS num_applications,
				COALESCE(SUM(d.amount), 0) AS total_discount
			FROM offers src
			LEFT JOIN order_discounts d ON d.offer_id = src.id
			GROUP BY src.id
		) t
		WHERE o.id = t.id
			AND (o.num_applications <> t.num_applications OR o.total_discount <> t.total_discount)`
)

var _ offer.UsageCounter = (*UsageRepository)(nil)

// UsageRepository records placed-order discounts and maintains the usage
// counters offers are limited by.
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository returns a UsageRepository that uses the given pool.
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// RecordOrder stores the discounts a placed order received.
func (r *UsageRepository) RecordOrder(ctx context.Context, orderID uuid.UUID, b *basket.Basket) error {
	batch := &pgx.Batch{}
	for _, app := range b.Applications().All() {
		batch.Queue(insertOrderDiscountSQL, orderID, b.OwnerID, app.Offer.OfferID(), app.Discount, app.Frequency)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "record order %s", orderID)
	}
	return nil
}

// UserApplications implements offer.UsageCounter. Anonymous baskets have no
// history.
func (r *UsageRepository) UserApplications(ctx context.Context, b *basket.Basket, o *offer.Offer) (int, error) {
	if b.OwnerID == "" {
		return 0, nil
	}
	var n int
	if err := r.pool.QueryRow(ctx, userApplicationsSQL, b.OwnerID, o.ID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count applications of offer %d", o.ID)
	}
	return n, nil
}

// RecalculateTotals refreshes every offer's application count and total
// discount from recorded orders and returns how many offers changed.
func (r *UsageRepository) RecalculateTotals(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, recalculateTotalsSQL)
	if err != nil {
		return 0, errors.Wrap(err, "recalculate offer totals")
	}
	return tag.RowsAffected(), nil
}
