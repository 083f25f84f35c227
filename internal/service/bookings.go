package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/messaging"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

// Booking error codes stored in the payment correlation
const (
	ErrorCodeHoldExpired      = "HOLD_EXPIRED"
	ErrorCodeCapacityReleased = "CAPACITY_RELEASED"
	ErrorCodeCancelledByAdmin = "CANCELLED_BY_ADMIN"
)

const maxRefAttempts = 3

type checkoutInitiator interface {
	initiate(ctx context.Context, booking *models.Booking, activity *models.Activity) (*models.CheckoutSession, error)
}

// paymentVerdict is the provider's authoritative answer for one checkout
type paymentVerdict struct {
	Success        bool
	ConversationID string
	TransactionID  string
	ErrorCode      string
	ErrorMessage   string
}

// BookingService owns the booking state machine
type BookingService struct {
	repos     *repository.Repositories
	capacity  *CapacityService
	coupons   *CouponService
	publisher messaging.Publisher
	checkout  checkoutInitiator
	policy    Policy
	clock     func() time.Time
	newRef    func(prefix string, now time.Time) (string, error)
}

func NewBookingService(repos *repository.Repositories, capacity *CapacityService, coupons *CouponService, publisher messaging.Publisher, policy Policy) *BookingService {
	return &BookingService{
		repos:     repos,
		capacity:  capacity,
		coupons:   coupons,
		publisher: publisher,
		policy:    policy,
		clock:     time.Now,
		newRef:    NewBookingRef,
	}
}

func validateCreate(req *models.CreateBookingRequest) (time.Time, error) {
	if strings.TrimSpace(req.ActivityID) == "" {
		return time.Time{}, apperrors.Validation("activity_id", "is required")
	}
	if req.GuestCount < 1 {
		return time.Time{}, apperrors.Validation("guest_count", "must be at least 1")
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		return time.Time{}, apperrors.Validation("customer.name", "is required")
	}
	if _, err := mail.ParseAddress(req.Customer.Email); err != nil {
		return time.Time{}, apperrors.Validation("customer.email", "is not a valid address")
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, apperrors.Validation("date", "must be formatted as YYYY-MM-DD")
	}
	return date, nil
}

// Create reserves capacity, prices the order and persists a pending booking.
// Reservation, booking, hold and coupon redemption commit together or not at all.
func (s *BookingService) Create(ctx context.Context, req *models.CreateBookingRequest) (*models.CreateBookingResponse, error) {
	date, err := validateCreate(req)
	if err != nil {
		metrics.TrackBookingCreated("invalid")
		return nil, err
	}

	activity, err := s.repos.Activities.GetByID(ctx, req.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	if activity == nil {
		metrics.TrackBookingCreated("invalid")
		return nil, apperrors.ErrActivityNotFound
	}
	if activity.MaxParticipants > 0 && req.GuestCount > activity.MaxParticipants {
		metrics.TrackBookingCreated("invalid")
		return nil, apperrors.Validation("guest_count", "must not exceed %d", activity.MaxParticipants)
	}

	strictCoupon := s.policy.ApplyCouponStrict || req.StrictCoupon.Bool()
	key := models.CapacityKey{ActivityID: activity.ID, Date: date, TimeSlotID: req.TimeSlotID}
	subtotal := activity.Price.Mul(decimal.NewFromInt(int64(req.GuestCount)))

	var booking *models.Booking
	var couponErr string
	for attempt := 1; attempt <= maxRefAttempts; attempt++ {
		booking, couponErr, err = s.createOnce(ctx, req, activity, key, subtotal, strictCoupon)
		if !errors.Is(err, apperrors.ErrDuplicateBookingRef) {
			break
		}
		logger.WithContext(ctx).Warn("Booking reference collision, retrying", "attempt", attempt)
	}
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrCapacityExceeded), errors.Is(err, apperrors.ErrDateBlocked):
			metrics.TrackBookingCreated("rejected")
		case errors.Is(err, apperrors.ErrCouponInvalid), errors.Is(err, apperrors.ErrValidation):
			metrics.TrackBookingCreated("invalid")
		default:
			metrics.TrackBookingCreated("error")
		}
		return nil, err
	}
	metrics.TrackBookingCreated("created")

	logger.WithContext(ctx).Info("Booking created",
		"booking_id", booking.ID,
		"booking_ref", booking.BookingRef,
		"activity_id", booking.ActivityID,
		"guest_count", booking.GuestCount)

	publish(ctx, s.publisher, models.EventBookingCreated, models.BookingCreatedEvent{
		BookingID:  booking.ID,
		BookingRef: booking.BookingRef,
		ActivityID: booking.ActivityID,
		Date:       booking.Date.Format(models.DateLayout),
		GuestCount: booking.GuestCount,
		TotalPrice: booking.TotalPrice.String(),
		Timestamp:  s.clock(),
	})

	return &models.CreateBookingResponse{
		BookingID:      booking.ID,
		BookingRef:     booking.BookingRef,
		TotalPrice:     booking.TotalPrice,
		DiscountAmount: booking.DiscountAmount,
		Currency:       booking.Currency,
		CouponApplied:  booking.CouponCode != nil,
		CouponError:    couponErr,
	}, nil
}

func (s *BookingService) createOnce(ctx context.Context, req *models.CreateBookingRequest, activity *models.Activity, key models.CapacityKey, subtotal decimal.Decimal, strictCoupon bool) (*models.Booking, string, error) {
	var booking *models.Booking
	var couponErr string

	err := s.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
		couponErr = ""
		now := s.clock()

		hold, err := s.capacity.Reserve(ctx, tx, key, req.GuestCount)
		if err != nil {
			return err
		}

		var couponCode *string
		discount := decimal.Zero
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			coupon, d, err := s.coupons.validate(ctx, tx.Coupons, code, subtotal, activity.ID, now)
			if err == nil {
				err = s.coupons.apply(ctx, tx.Coupons, coupon.Code)
			}

			var invalid *apperrors.CouponInvalidError
			switch {
			case err == nil:
				couponCode = &coupon.Code
				discount = d
			case errors.As(err, &invalid) && !strictCoupon:
				couponErr = invalid.Reason
				logger.WithContext(ctx).Info("Dropping invalid coupon", "code", code, "reason", invalid.Reason)
			default:
				return err
			}
		}

		ref, err := s.newRef(s.policy.RefPrefix, now)
		if err != nil {
			return err
		}

		booking = &models.Booking{
			ID:             uuid.New().String(),
			BookingRef:     ref,
			ActivityID:     activity.ID,
			Date:           key.Date,
			TimeSlotID:     key.TimeSlotID,
			GuestCount:     req.GuestCount,
			Customer:       models.Customer{Name: strings.TrimSpace(req.Customer.Name), Email: req.Customer.Email, Phone: req.Customer.Phone},
			CouponCode:     couponCode,
			DiscountAmount: discount,
			TotalPrice:     subtotal.Sub(discount),
			Currency:       activity.Currency,
			Status:         models.BookingStatusPending,
			PaymentStatus:  models.PaymentStatusPending,
		}
		if err := tx.Bookings.Create(ctx, booking); err != nil {
			return err
		}

		hold.BookingID = booking.ID
		return tx.Holds.Create(ctx, hold)
	})

	return booking, couponErr, err
}

// InitiatePayment starts a provider checkout for a pending booking with a live hold
func (s *BookingService) InitiatePayment(ctx context.Context, bookingID string) (*models.CheckoutSession, error) {
	booking, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, apperrors.ErrBookingNotFound
	}
	if booking.Status != models.BookingStatusPending || booking.PaymentStatus != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: booking is %s/%s", apperrors.ErrInvalidTransition, booking.Status, booking.PaymentStatus)
	}

	hold, err := s.repos.Holds.GetByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	if hold == nil || hold.State != models.HoldStateHeld {
		return nil, fmt.Errorf("%w: capacity hold is no longer active", apperrors.ErrInvalidTransition)
	}

	activity, err := s.repos.Activities.GetByID(ctx, booking.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	if activity == nil {
		return nil, apperrors.ErrActivityNotFound
	}

	return s.checkout.initiate(ctx, booking, activity)
}

// reconcilePayment applies a provider verdict exactly once. A booking whose payment
// status is no longer pending turns the call into an acknowledged duplicate.
func (s *BookingService) reconcilePayment(ctx context.Context, token string, verdict paymentVerdict) (*models.ReconciliationResult, error) {
	log := logger.WithContext(ctx)
	var result *models.ReconciliationResult
	var booking *models.Booking

	err := s.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
		b, err := tx.Bookings.GetByTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("%w: unknown token", apperrors.ErrReconciliation)
		}
		if verdict.ConversationID != "" && b.Payment.ConversationID != nil && *b.Payment.ConversationID != verdict.ConversationID {
			return fmt.Errorf("%w: conversation id mismatch", apperrors.ErrReconciliation)
		}
		booking = b

		if b.PaymentStatus != models.PaymentStatusPending {
			result = &models.ReconciliationResult{
				Outcome:    models.OutcomeFailed,
				BookingRef: b.BookingRef,
				Duplicate:  true,
			}
			if b.PaymentStatus == models.PaymentStatusPaid {
				result.Outcome = models.OutcomeSuccess
			}
			if verdict.Success && b.PaymentStatus != models.PaymentStatusPaid {
				log.Error("Provider reports success for a closed booking, manual refund required",
					"booking_ref", b.BookingRef, "payment_status", b.PaymentStatus, "transaction_id", verdict.TransactionID)
			}
			return nil
		}

		hold, err := tx.Holds.GetByBookingID(ctx, b.ID)
		if err != nil {
			return err
		}
		if hold == nil {
			return fmt.Errorf("booking %s has no capacity hold", b.ID)
		}

		now := s.clock()
		if verdict.Success {
			result, err = s.applySuccess(ctx, tx, b, hold, verdict, now)
		} else {
			result, err = s.applyFailure(ctx, tx, b, hold, verdict)
		}
		if err != nil {
			return err
		}

		return tx.Bookings.UpdateState(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	metrics.TrackPaymentCallback(outcomeLabel(result))
	if result.Duplicate {
		log.Debug("Duplicate payment callback ignored", "booking_ref", result.BookingRef, "outcome", result.Outcome)
		return result, nil
	}

	log.Info("Payment reconciled",
		"booking_ref", booking.BookingRef,
		"status", booking.Status,
		"payment_status", booking.PaymentStatus)

	if booking.PaymentStatus == models.PaymentStatusPaid {
		s.publishConfirmed(ctx, booking)
	} else {
		publish(ctx, s.publisher, models.EventPaymentFailed, models.PaymentFailedEvent{
			BookingID:  booking.ID,
			BookingRef: booking.BookingRef,
			ErrorCode:  result.ErrorCode,
			Reason:     valueOr(booking.Payment.ErrorMessage, ""),
			Timestamp:  s.clock(),
		})
	}
	return result, nil
}

func (s *BookingService) applySuccess(ctx context.Context, tx *repository.Repositories, b *models.Booking, hold *models.Hold, verdict paymentVerdict, now time.Time) (*models.ReconciliationResult, error) {
	err := s.capacity.Confirm(ctx, tx, hold)
	if errors.Is(err, errHoldReleased) {
		err = s.capacity.Reacquire(ctx, tx, hold)
		if errors.Is(err, apperrors.ErrCapacityExceeded) || errors.Is(err, apperrors.ErrDateBlocked) {
			logger.WithContext(ctx).Error("Paid booking lost its capacity, manual refund required",
				"booking_ref", b.BookingRef, "transaction_id", verdict.TransactionID)

			b.Status = models.BookingStatusCancelled
			b.PaymentStatus = models.PaymentStatusFailed
			b.Payment.TransactionID = optional(verdict.TransactionID)
			b.Payment.CompletedAt = &now
			b.Payment.ErrorCode = optional(ErrorCodeCapacityReleased)
			b.Payment.ErrorMessage = optional("capacity was released before payment completed")
			return &models.ReconciliationResult{
				Outcome:    models.OutcomeFailed,
				BookingRef: b.BookingRef,
				ErrorCode:  ErrorCodeCapacityReleased,
			}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatusConfirmed
	b.PaymentStatus = models.PaymentStatusPaid
	b.Payment.TransactionID = optional(verdict.TransactionID)
	b.Payment.CompletedAt = &now
	b.Payment.ErrorCode = nil
	b.Payment.ErrorMessage = nil

	return &models.ReconciliationResult{Outcome: models.OutcomeSuccess, BookingRef: b.BookingRef}, nil
}

func (s *BookingService) applyFailure(ctx context.Context, tx *repository.Repositories, b *models.Booking, hold *models.Hold, verdict paymentVerdict) (*models.ReconciliationResult, error) {
	if _, err := s.capacity.Release(ctx, tx, hold, ReleaseReasonPaymentFailed); err != nil {
		return nil, err
	}

	code := verdict.ErrorCode
	if code == "" {
		code = "PAYMENT_FAILED"
	}
	b.PaymentStatus = models.PaymentStatusFailed
	b.Payment.TransactionID = optional(verdict.TransactionID)
	b.Payment.ErrorCode = &code
	b.Payment.ErrorMessage = optional(verdict.ErrorMessage)

	return &models.ReconciliationResult{Outcome: models.OutcomeFailed, BookingRef: b.BookingRef, ErrorCode: code}, nil
}

// AdminTransition applies a manual status change:
// pending→confirmed (cash), any non-cancelled→cancelled, confirmed→completed after the activity date.
func (s *BookingService) AdminTransition(ctx context.Context, principal models.Principal, bookingID, newStatus string) (*models.Booking, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	var booking *models.Booking
	var previous string
	err := s.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
		b, err := tx.Bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return apperrors.ErrBookingNotFound
		}
		previous = b.Status

		hold, err := tx.Holds.GetByBookingID(ctx, b.ID)
		if err != nil {
			return err
		}

		now := s.clock()
		switch {
		case newStatus == models.BookingStatusConfirmed && b.Status == models.BookingStatusPending:
			if hold != nil {
				err := s.capacity.Confirm(ctx, tx, hold)
				if errors.Is(err, errHoldReleased) {
					err = s.capacity.Reacquire(ctx, tx, hold)
				}
				if err != nil {
					return err
				}
			}
			b.Status = models.BookingStatusConfirmed
			b.PaymentStatus = models.PaymentStatusPaid
			b.Payment.CompletedAt = &now
			b.Payment.ErrorCode = nil
			b.Payment.ErrorMessage = nil

		case newStatus == models.BookingStatusCancelled && b.Status != models.BookingStatusCancelled:
			if hold != nil {
				if _, err := s.capacity.Revoke(ctx, tx, hold, ReleaseReasonCancelled); err != nil {
					return err
				}
			}
			switch b.PaymentStatus {
			case models.PaymentStatusPaid:
				b.PaymentStatus = models.PaymentStatusRefunded
			case models.PaymentStatusPending:
				b.PaymentStatus = models.PaymentStatusFailed
				b.Payment.ErrorCode = optional(ErrorCodeCancelledByAdmin)
			}
			b.Status = models.BookingStatusCancelled

		case newStatus == models.BookingStatusCompleted && b.Status == models.BookingStatusConfirmed:
			if !b.Date.Before(s.capacity.today()) {
				return fmt.Errorf("%w: activity date %s has not passed", apperrors.ErrInvalidTransition, b.Date.Format(models.DateLayout))
			}
			b.Status = models.BookingStatusCompleted

		default:
			return fmt.Errorf("%w: %s → %s", apperrors.ErrInvalidTransition, b.Status, newStatus)
		}

		booking = b
		return tx.Bookings.UpdateState(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Booking status changed by admin",
		"booking_ref", booking.BookingRef,
		"from", previous,
		"to", booking.Status,
		"payment_status", booking.PaymentStatus,
		"admin_id", principal.UserID)

	switch booking.Status {
	case models.BookingStatusConfirmed:
		s.publishConfirmed(ctx, booking)
	case models.BookingStatusCancelled:
		publish(ctx, s.publisher, models.EventBookingCancelled, models.BookingCancelledEvent{
			BookingID:  booking.ID,
			BookingRef: booking.BookingRef,
			Reason:     ErrorCodeCancelledByAdmin,
			Timestamp:  s.clock(),
		})
	}
	return booking, nil
}

// ExpireStaleHolds cancels pending bookings whose hold outlived the TTL and whose
// checkout token (if any) has expired. Payment status stays pending so a late
// provider success can still be reconciled.
func (s *BookingService) ExpireStaleHolds(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = s.policy.HoldTTL
	}
	now := s.clock()

	candidates, err := s.repos.Bookings.ListExpirable(ctx, now.Add(-olderThan), now, 500)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable bookings: %w", err)
	}

	expired := 0
	for _, candidate := range candidates {
		var hold *models.Hold
		var booking *models.Booking
		err := s.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
			b, err := tx.Bookings.GetByIDForUpdate(ctx, candidate.ID)
			if err != nil || b == nil {
				return err
			}
			if b.Status != models.BookingStatusPending || b.PaymentStatus != models.PaymentStatusPending {
				return nil
			}
			if b.Payment.TokenExpiresAt != nil && !b.Payment.TokenExpiresAt.Before(now) {
				return nil
			}

			h, err := tx.Holds.GetByBookingID(ctx, b.ID)
			if err != nil || h == nil {
				return err
			}
			released, err := s.capacity.Release(ctx, tx, h, ReleaseReasonExpired)
			if err != nil || !released {
				return err
			}

			b.Status = models.BookingStatusCancelled
			b.Payment.ErrorCode = optional(ErrorCodeHoldExpired)
			b.Payment.ErrorMessage = optional("capacity hold expired before payment")
			if err := tx.Bookings.UpdateState(ctx, b); err != nil {
				return err
			}
			hold, booking = h, b
			return nil
		})
		if err != nil {
			logger.WithContext(ctx).Error("Failed to expire booking", "booking_id", candidate.ID, "error", err)
			continue
		}
		if booking == nil {
			continue
		}

		expired++
		publish(ctx, s.publisher, models.EventHoldReleased, models.HoldReleasedEvent{
			HoldID:     hold.ID,
			BookingID:  booking.ID,
			ActivityID: hold.ActivityID,
			Date:       hold.Date.Format(models.DateLayout),
			Quantity:   hold.Quantity,
			Reason:     ReleaseReasonExpired,
			Timestamp:  s.clock(),
		})
		publish(ctx, s.publisher, models.EventBookingCancelled, models.BookingCancelledEvent{
			BookingID:  booking.ID,
			BookingRef: booking.BookingRef,
			Reason:     ErrorCodeHoldExpired,
			Timestamp:  s.clock(),
		})
	}

	metrics.TrackExpiredHolds(expired)
	return expired, nil
}

// Get returns one booking for admin views
func (s *BookingService) Get(ctx context.Context, principal models.Principal, id string) (*models.Booking, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	booking, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) List(ctx context.Context, principal models.Principal, filter models.BookingFilter) ([]models.Booking, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repos.Bookings.List(ctx, filter)
}

// lookup resolves a booking by uuid or by reference
func (s *BookingService) lookup(ctx context.Context, idOrRef string) (*models.Booking, error) {
	var booking *models.Booking
	var err error
	if _, parseErr := uuid.Parse(idOrRef); parseErr == nil {
		booking, err = s.repos.Bookings.GetByID(ctx, idOrRef)
	} else {
		booking, err = s.repos.Bookings.GetByRef(ctx, idOrRef)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if booking == nil {
		return nil, apperrors.ErrBookingNotFound
	}
	return booking, nil
}

func (s *BookingService) publishConfirmed(ctx context.Context, b *models.Booking) {
	publish(ctx, s.publisher, models.EventBookingConfirmed, models.BookingConfirmedEvent{
		BookingID:     b.ID,
		BookingRef:    b.BookingRef,
		ActivityID:    b.ActivityID,
		Date:          b.Date.Format(models.DateLayout),
		GuestCount:    b.GuestCount,
		CustomerName:  b.Customer.Name,
		CustomerEmail: b.Customer.Email,
		TotalPrice:    b.TotalPrice.String(),
		Currency:      b.Currency,
		Timestamp:     s.clock(),
	})
}

func outcomeLabel(r *models.ReconciliationResult) string {
	if r.Duplicate {
		return "duplicate"
	}
	return r.Outcome
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func valueOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
