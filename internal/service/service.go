package service

import (
	"context"
	"time"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/external"
	"tourbook/internal/logger"
	"tourbook/internal/messaging"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

// Policy carries the booking rules shared by the services
type Policy struct {
	DefaultCapacity     int
	LeadTimeDays        int
	Location            *time.Location
	MaxAvailabilityDays int
	RefPrefix           string
	HoldTTL             time.Duration
	ApplyCouponStrict   bool
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

type Services struct {
	Capacity *CapacityService
	Coupons  *CouponService
	Bookings *BookingService
	Payments *PaymentService
}

func NewServices(repos *repository.Repositories, publisher messaging.Publisher, provider checkoutProvider, paymentCfg external.PaymentConfig, policy Policy) *Services {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}

	capacityService := NewCapacityService(repos, policy)
	couponService := NewCouponService(repos)
	bookingService := NewBookingService(repos, capacityService, couponService, publisher, policy)
	paymentService := NewPaymentService(repos, provider, bookingService, publisher, paymentCfg)
	bookingService.checkout = paymentService

	return &Services{
		Capacity: capacityService,
		Coupons:  couponService,
		Bookings: bookingService,
		Payments: paymentService,
	}
}

func requireAdmin(p models.Principal) error {
	if p.UserID == 0 {
		return apperrors.ErrUnauthorized
	}
	if !p.IsAdmin {
		return apperrors.ErrForbidden
	}
	return nil
}

// publish sends an event after commit; failures are logged, never returned
func publish(ctx context.Context, publisher messaging.Publisher, subject string, event any) {
	if err := publisher.Publish(subject, event); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"event_type", subject)
	}
}
