package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

var hundred = decimal.NewFromInt(100)

type CouponService struct {
	repos *repository.Repositories
	clock func() time.Time
}

func NewCouponService(repos *repository.Repositories) *CouponService {
	return &CouponService{repos: repos, clock: time.Now}
}

// CalculateDiscount returns the discount for total, always within [0, total].
// Percentages round half away from zero to whole currency units.
func CalculateDiscount(coupon *models.Coupon, total decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountTypePercentage:
		discount = total.Mul(coupon.DiscountValue).Div(hundred).Round(0)
		if coupon.MaxDiscountAmount != nil && discount.GreaterThan(*coupon.MaxDiscountAmount) {
			discount = *coupon.MaxDiscountAmount
		}
	case models.DiscountTypeFixed:
		discount = decimal.Min(coupon.DiscountValue, total)
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	if discount.GreaterThan(total) {
		return total
	}
	return discount
}

// Validate checks the coupon against an order total. Business rejections are
// returned as *CouponInvalidError; any other error is infrastructure.
func (s *CouponService) Validate(ctx context.Context, code string, total decimal.Decimal, activityID string) (*models.Coupon, decimal.Decimal, error) {
	return s.validate(ctx, s.repos.Coupons, code, total, activityID, s.clock())
}

func (s *CouponService) validate(ctx context.Context, coupons repository.CouponStore, code string, total decimal.Decimal, activityID string, now time.Time) (*models.Coupon, decimal.Decimal, error) {
	invalid := func(reason string) (*models.Coupon, decimal.Decimal, error) {
		metrics.TrackCoupon(reason)
		return nil, decimal.Zero, &apperrors.CouponInvalidError{Code: code, Reason: reason}
	}

	coupon, err := coupons.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to load coupon: %w", err)
	}

	switch {
	case coupon == nil:
		return invalid(apperrors.CouponReasonNotFound)
	case !coupon.IsActive:
		return invalid(apperrors.CouponReasonInactive)
	case now.Before(coupon.ValidFrom):
		return invalid(apperrors.CouponReasonNotYetValid)
	case now.After(coupon.ValidUntil):
		return invalid(apperrors.CouponReasonExpired)
	case coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit:
		return invalid(apperrors.CouponReasonUsageExhausted)
	case total.LessThan(coupon.MinPurchaseAmount):
		return invalid(apperrors.CouponReasonBelowMinimum)
	case len(coupon.ApplicableActivityIDs) > 0 && !slices.Contains(coupon.ApplicableActivityIDs, activityID):
		return invalid(apperrors.CouponReasonNotApplicable)
	}

	return coupon, CalculateDiscount(coupon, total), nil
}

// Apply records one redemption, failing with usage_exhausted once the limit is hit
func (s *CouponService) Apply(ctx context.Context, code string) error {
	return s.apply(ctx, s.repos.Coupons, code)
}

func (s *CouponService) apply(ctx context.Context, coupons repository.CouponStore, code string) error {
	ok, err := coupons.IncrementUsage(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		metrics.TrackCoupon(apperrors.CouponReasonUsageExhausted)
		return &apperrors.CouponInvalidError{Code: code, Reason: apperrors.CouponReasonUsageExhausted}
	}
	metrics.TrackCoupon("applied")
	return nil
}

// Preview prices an order for an activity without redeeming the coupon
func (s *CouponService) Preview(ctx context.Context, req *models.CouponPreviewRequest) (*models.CouponPreviewResponse, error) {
	if req.GuestCount < 1 {
		return nil, apperrors.Validation("guest_count", "must be at least 1")
	}

	activity, err := s.repos.Activities.GetByID(ctx, req.ActivityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, apperrors.ErrActivityNotFound
	}

	subtotal := activity.Price.Mul(decimal.NewFromInt(int64(req.GuestCount)))
	resp := &models.CouponPreviewResponse{
		Code:           req.Code,
		Subtotal:       subtotal,
		DiscountAmount: decimal.Zero,
		TotalPrice:     subtotal,
		Currency:       activity.Currency,
	}

	_, discount, err := s.Validate(ctx, req.Code, subtotal, activity.ID)
	var invalid *apperrors.CouponInvalidError
	switch {
	case errors.As(err, &invalid):
		resp.Reason = invalid.Reason
		return resp, nil
	case err != nil:
		return nil, err
	}

	resp.Valid = true
	resp.DiscountAmount = discount
	resp.TotalPrice = subtotal.Sub(discount)
	return resp, nil
}

func validateCoupon(c *models.Coupon) error {
	c.Code = strings.TrimSpace(c.Code)
	switch {
	case c.Code == "":
		return apperrors.Validation("code", "is required")
	case c.DiscountType != models.DiscountTypePercentage && c.DiscountType != models.DiscountTypeFixed:
		return apperrors.Validation("discount_type", "must be percentage or fixed")
	case !c.DiscountValue.IsPositive():
		return apperrors.Validation("discount_value", "must be positive")
	case c.DiscountType == models.DiscountTypePercentage && c.DiscountValue.GreaterThan(hundred):
		return apperrors.Validation("discount_value", "percentage cannot exceed 100")
	case c.MinPurchaseAmount.IsNegative():
		return apperrors.Validation("min_purchase_amount", "must not be negative")
	case c.MaxDiscountAmount != nil && c.MaxDiscountAmount.IsNegative():
		return apperrors.Validation("max_discount_amount", "must not be negative")
	case c.UsageLimit != nil && *c.UsageLimit < 0:
		return apperrors.Validation("usage_limit", "must not be negative")
	case !c.ValidUntil.After(c.ValidFrom):
		return apperrors.Validation("valid_until", "must be after valid_from")
	}
	return nil
}

func (s *CouponService) Create(ctx context.Context, principal models.Principal, c *models.Coupon) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if err := validateCoupon(c); err != nil {
		return err
	}
	if err := s.repos.Coupons.Create(ctx, c); err != nil {
		return err
	}

	logger.WithContext(ctx).Info("Coupon created", "code", c.Code, "admin_id", principal.UserID)
	return nil
}

func (s *CouponService) Update(ctx context.Context, principal models.Principal, c *models.Coupon) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if err := validateCoupon(c); err != nil {
		return err
	}
	if err := s.repos.Coupons.Update(ctx, c); err != nil {
		return err
	}

	logger.WithContext(ctx).Info("Coupon updated", "code", c.Code, "admin_id", principal.UserID)
	return nil
}

func (s *CouponService) Get(ctx context.Context, principal models.Principal, code string) (*models.Coupon, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	c, err := s.repos.Coupons.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperrors.ErrCouponNotFound
	}
	return c, nil
}

func (s *CouponService) List(ctx context.Context, principal models.Principal, limit, offset int) ([]models.Coupon, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repos.Coupons.List(ctx, limit, offset)
}
