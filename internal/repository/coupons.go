package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type CouponRepository struct {
	q querier
}

func NewCouponRepository(q querier) *CouponRepository {
	return &CouponRepository{q: q}
}

const couponColumns = `code, discount_type, discount_value, min_purchase_amount, max_discount_amount,
		       usage_limit, used_count, valid_from, valid_until, is_active, applicable_activity_ids,
		       created_at, updated_at`

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	var maxDiscount decimal.NullDecimal
	var usageLimit sql.NullInt64
	var activityIDs pq.StringArray

	err := row.Scan(
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&c.MinPurchaseAmount,
		&maxDiscount,
		&usageLimit,
		&c.UsedCount,
		&c.ValidFrom,
		&c.ValidUntil,
		&c.IsActive,
		&activityIDs,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if maxDiscount.Valid {
		c.MaxDiscountAmount = &maxDiscount.Decimal
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int64)
		c.UsageLimit = &limit
	}
	c.ApplicableActivityIDs = []string(activityIDs)
	return c, nil
}

// GetByCode looks a coupon up case-insensitively
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*models.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		WHERE LOWER(code) = LOWER($1)`

	c, err := scanCoupon(r.q.QueryRowContext(ctx, query, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	query := `
		UPDATE coupons
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE LOWER(code) = LOWER($1)
		  AND (usage_limit IS NULL OR used_count < usage_limit)`

	result, err := r.q.ExecContext(ctx, query, code)
	if err != nil {
		return false, fmt.Errorf("failed to apply coupon: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func couponArgs(c *models.Coupon) []any {
	var maxDiscount decimal.NullDecimal
	if c.MaxDiscountAmount != nil {
		maxDiscount = decimal.NewNullDecimal(*c.MaxDiscountAmount)
	}
	var usageLimit sql.NullInt64
	if c.UsageLimit != nil {
		usageLimit = sql.NullInt64{Int64: int64(*c.UsageLimit), Valid: true}
	}
	activityIDs := c.ApplicableActivityIDs
	if activityIDs == nil {
		activityIDs = []string{}
	}

	return []any{
		c.Code,
		c.DiscountType,
		c.DiscountValue,
		c.MinPurchaseAmount,
		maxDiscount,
		usageLimit,
		c.ValidFrom,
		c.ValidUntil,
		c.IsActive,
		pq.Array(activityIDs),
	}
}

func (r *CouponRepository) Create(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_type, discount_value, min_purchase_amount, max_discount_amount,
		                     usage_limit, valid_from, valid_until, is_active, applicable_activity_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING used_count, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query, couponArgs(c)...).Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicateCoupon
	}
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// Update replaces the coupon definition; used_count is never touched here
func (r *CouponRepository) Update(ctx context.Context, c *models.Coupon) error {
	query := `
		UPDATE coupons
		SET discount_type = $2, discount_value = $3, min_purchase_amount = $4, max_discount_amount = $5,
		    usage_limit = $6, valid_from = $7, valid_until = $8, is_active = $9,
		    applicable_activity_ids = $10, updated_at = NOW()
		WHERE LOWER(code) = LOWER($1)
		RETURNING code, used_count, created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query, couponArgs(c)...).Scan(&c.Code, &c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperrors.ErrCouponNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	return nil
}

func (r *CouponRepository) List(ctx context.Context, limit, offset int) ([]models.Coupon, error) {
	query := `
		SELECT ` + couponColumns + `
		FROM coupons
		ORDER BY created_at DESC, code
		LIMIT $1 OFFSET $2`

	rows, err := r.q.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []models.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}
