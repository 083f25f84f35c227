package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func intPtr(v int) *int { return &v }

func (e *testEnv) coupon(c models.Coupon) {
	e.t.Helper()
	if c.ValidFrom.IsZero() {
		c.ValidFrom = e.now.Add(-24 * time.Hour)
	}
	if c.ValidUntil.IsZero() {
		c.ValidUntil = e.now.Add(30 * 24 * time.Hour)
	}
	c.IsActive = true
	require.NoError(e.t, e.services.Coupons.Create(context.Background(), admin, &c))
}

func TestCalculateDiscount(t *testing.T) {
	tests := []struct {
		name   string
		coupon models.Coupon
		total  decimal.Decimal
		want   decimal.Decimal
	}{
		{
			name:   "percentage",
			coupon: models.Coupon{DiscountType: models.DiscountTypePercentage, DiscountValue: dec(10)},
			total:  dec(1000),
			want:   dec(100),
		},
		{
			name:   "percentage capped by max discount",
			coupon: models.Coupon{DiscountType: models.DiscountTypePercentage, DiscountValue: dec(50), MaxDiscountAmount: decPtr(500)},
			total:  dec(2000),
			want:   dec(500),
		},
		{
			name:   "percentage rounds half away from zero",
			coupon: models.Coupon{DiscountType: models.DiscountTypePercentage, DiscountValue: dec(15)},
			total:  dec(333),
			want:   dec(50),
		},
		{
			name:   "fixed",
			coupon: models.Coupon{DiscountType: models.DiscountTypeFixed, DiscountValue: dec(150)},
			total:  dec(1000),
			want:   dec(150),
		},
		{
			name:   "fixed larger than total",
			coupon: models.Coupon{DiscountType: models.DiscountTypeFixed, DiscountValue: dec(1500)},
			total:  dec(1000),
			want:   dec(1000),
		},
		{
			name:   "full percentage",
			coupon: models.Coupon{DiscountType: models.DiscountTypePercentage, DiscountValue: dec(100)},
			total:  dec(750),
			want:   dec(750),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDiscount(&tt.coupon, tt.total)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestValidateReasons(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.coupon(models.Coupon{Code: "SOON", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), ValidFrom: env.now.Add(time.Hour)})
	env.coupon(models.Coupon{Code: "OLD", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), ValidFrom: env.now.Add(-48 * time.Hour), ValidUntil: env.now.Add(-time.Hour)})
	env.coupon(models.Coupon{Code: "USED", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), UsageLimit: intPtr(0)})
	env.coupon(models.Coupon{Code: "BIG", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), MinPurchaseAmount: dec(5000)})
	env.coupon(models.Coupon{Code: "OTHER", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), ApplicableActivityIDs: []string{"balloon-ride"}})

	off := models.Coupon{Code: "OFF", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), ValidFrom: env.now.Add(-time.Hour), ValidUntil: env.now.Add(time.Hour)}
	require.NoError(t, env.services.Coupons.Create(ctx, admin, &off))

	tests := map[string]string{
		"MISSING": apperrors.CouponReasonNotFound,
		"OFF":     apperrors.CouponReasonInactive,
		"SOON":    apperrors.CouponReasonNotYetValid,
		"OLD":     apperrors.CouponReasonExpired,
		"USED":    apperrors.CouponReasonUsageExhausted,
		"BIG":     apperrors.CouponReasonBelowMinimum,
		"OTHER":   apperrors.CouponReasonNotApplicable,
	}
	for code, reason := range tests {
		t.Run(code, func(t *testing.T) {
			_, _, err := env.services.Coupons.Validate(ctx, code, dec(1000), env.activity.ID)
			var invalid *apperrors.CouponInvalidError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, reason, invalid.Reason)
			assert.ErrorIs(t, err, apperrors.ErrCouponInvalid)
		})
	}
}

func TestValidateIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.coupon(models.Coupon{Code: "Save10", DiscountType: models.DiscountTypePercentage, DiscountValue: dec(10)})

	coupon, discount, err := env.services.Coupons.Validate(context.Background(), " save10 ", dec(1000), env.activity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Save10", coupon.Code)
	assert.True(t, dec(100).Equal(discount))
}

func TestApplyStopsAtUsageLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.coupon(models.Coupon{Code: "TWICE", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(10), UsageLimit: intPtr(2)})

	require.NoError(t, env.services.Coupons.Apply(ctx, "TWICE"))
	require.NoError(t, env.services.Coupons.Apply(ctx, "twice"))

	err := env.services.Coupons.Apply(ctx, "TWICE")
	var invalid *apperrors.CouponInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, apperrors.CouponReasonUsageExhausted, invalid.Reason)

	c, err := env.services.Coupons.Get(ctx, admin, "TWICE")
	require.NoError(t, err)
	assert.Equal(t, 2, c.UsedCount)
}

func TestPreviewDoesNotRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.coupon(models.Coupon{Code: "HALF", DiscountType: models.DiscountTypePercentage, DiscountValue: dec(50), MaxDiscountAmount: decPtr(500)})

	resp, err := env.services.Coupons.Preview(ctx, &models.CouponPreviewRequest{Code: "HALF", ActivityID: env.activity.ID, GuestCount: 2})
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.True(t, dec(2000).Equal(resp.Subtotal))
	assert.True(t, dec(500).Equal(resp.DiscountAmount))
	assert.True(t, dec(1500).Equal(resp.TotalPrice))

	resp, err = env.services.Coupons.Preview(ctx, &models.CouponPreviewRequest{Code: "NOPE", ActivityID: env.activity.ID, GuestCount: 1})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, apperrors.CouponReasonNotFound, resp.Reason)

	c, err := env.services.Coupons.Get(ctx, admin, "HALF")
	require.NoError(t, err)
	assert.Zero(t, c.UsedCount)
}

func TestCouponAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := models.Coupon{Code: "BAD", DiscountType: models.DiscountTypePercentage, DiscountValue: dec(120), ValidFrom: env.now, ValidUntil: env.now.Add(time.Hour)}
	assert.ErrorIs(t, env.services.Coupons.Create(ctx, admin, &bad), apperrors.ErrValidation)

	good := models.Coupon{Code: "SPRING", DiscountType: models.DiscountTypeFixed, DiscountValue: dec(50), ValidFrom: env.now, ValidUntil: env.now.Add(time.Hour), IsActive: true}
	assert.ErrorIs(t, env.services.Coupons.Create(ctx, operator, &good), apperrors.ErrForbidden)
	require.NoError(t, env.services.Coupons.Create(ctx, admin, &good))

	dup := good
	assert.ErrorIs(t, env.services.Coupons.Create(ctx, admin, &dup), apperrors.ErrDuplicateCoupon)

	good.DiscountValue = dec(75)
	require.NoError(t, env.services.Coupons.Update(ctx, admin, &good))

	missing := good
	missing.Code = "WINTER"
	assert.ErrorIs(t, env.services.Coupons.Update(ctx, admin, &missing), apperrors.ErrCouponNotFound)

	list, err := env.services.Coupons.List(ctx, admin, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, dec(75).Equal(list[0].DiscountValue))

	_, err = env.services.Coupons.Get(ctx, admin, "WINTER")
	assert.ErrorIs(t, err, apperrors.ErrCouponNotFound)
}
