package errors

import (
	"errors"
	"fmt"
)

var ErrUnauthorized = errors.New("user is not authorized")
var ErrForbidden = errors.New("operation is forbidden for user")

var (
	ErrValidation          = errors.New("validation failed")
	ErrCapacityExceeded    = errors.New("capacity exceeded")
	ErrDateBlocked         = errors.New("date is not bookable")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrActivityNotFound    = errors.New("activity not found")
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponInvalid       = errors.New("coupon is not valid")
	ErrInvalidTransition   = errors.New("invalid booking status transition")
	ErrGateway             = errors.New("payment gateway error")
	ErrReconciliation      = errors.New("payment callback could not be reconciled")
	ErrDuplicateBookingRef = errors.New("booking reference already exists")
	ErrDuplicateCoupon     = errors.New("coupon code already exists")
)

// Coupon rejection reasons, in the order they are checked
const (
	CouponReasonNotFound       = "not_found"
	CouponReasonInactive       = "inactive"
	CouponReasonNotYetValid    = "not_yet_valid"
	CouponReasonExpired        = "expired"
	CouponReasonUsageExhausted = "usage_exhausted"
	CouponReasonBelowMinimum   = "below_minimum"
	CouponReasonNotApplicable  = "not_applicable"
)

// ValidationError describes malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation is a shorthand for a field validation failure
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CouponInvalidError carries the first failing coupon check
type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %q is not valid: %s", e.Code, e.Reason)
}

func (e *CouponInvalidError) Unwrap() error { return ErrCouponInvalid }

// GatewayError wraps a payment provider failure. The booking stays pending and retryable.
type GatewayError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("payment gateway %s failed", e.Op)
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}
