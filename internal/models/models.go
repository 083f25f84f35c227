package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of calendar dates
const DateLayout = "2006-01-02"

// Booking statuses
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
	BookingStatusCompleted = "completed"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Hold states
const (
	HoldStateHeld      = "held"
	HoldStateConfirmed = "confirmed"
	HoldStateReleased  = "released"
)

// Coupon discount types
const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

// User represents a staff account used by the admin API
type User struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	FullName     string    `json:"full_name" db:"full_name"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// Activity is the read-only snapshot of a bookable tour owned by the content store
type Activity struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	MaxParticipants int             `json:"max_participants"`
}

// CapacityRecord is the inventory ledger row for one activity, date and optional time slot.
// TimeSlotID is empty for the whole-day record.
type CapacityRecord struct {
	ActivityID       string    `json:"activity_id" db:"activity_id"`
	Date             time.Time `json:"date" db:"date"`
	TimeSlotID       string    `json:"time_slot_id,omitempty" db:"time_slot_id"`
	Label            string    `json:"label,omitempty" db:"label"`
	TotalCapacity    int       `json:"total_capacity" db:"total_capacity"`
	ConsumedCapacity int       `json:"consumed_capacity" db:"consumed_capacity"`
	IsBlocked        bool      `json:"is_blocked" db:"is_blocked"`
	BlockReason      string    `json:"block_reason,omitempty" db:"block_reason"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Remaining returns the capacity still available on the record
func (r *CapacityRecord) Remaining() int {
	if r.ConsumedCapacity >= r.TotalCapacity {
		return 0
	}
	return r.TotalCapacity - r.ConsumedCapacity
}

// CapacityKey identifies a ledger row
type CapacityKey struct {
	ActivityID string
	Date       time.Time
	TimeSlotID string
}

// Hold is capacity already consumed on behalf of a booking, reversible until finalized
type Hold struct {
	ID            string     `json:"id" db:"id"`
	BookingID     string     `json:"booking_id" db:"booking_id"`
	ActivityID    string     `json:"activity_id" db:"activity_id"`
	Date          time.Time  `json:"date" db:"date"`
	TimeSlotID    string     `json:"time_slot_id,omitempty" db:"time_slot_id"`
	Quantity      int        `json:"quantity" db:"quantity"`
	State         string     `json:"state" db:"state"`
	ReleaseReason string     `json:"release_reason,omitempty" db:"release_reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	FinalizedAt   *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Key returns the ledger key the hold was taken against
func (h *Hold) Key() CapacityKey {
	return CapacityKey{ActivityID: h.ActivityID, Date: h.Date, TimeSlotID: h.TimeSlotID}
}

// Coupon represents a discount code
type Coupon struct {
	Code                  string           `json:"code" db:"code"`
	DiscountType          string           `json:"discount_type" db:"discount_type"`
	DiscountValue         decimal.Decimal  `json:"discount_value" db:"discount_value"`
	MinPurchaseAmount     decimal.Decimal  `json:"min_purchase_amount" db:"min_purchase_amount"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount,omitempty" db:"max_discount_amount"`
	UsageLimit            *int             `json:"usage_limit,omitempty" db:"usage_limit"`
	UsedCount             int              `json:"used_count" db:"used_count"`
	ValidFrom             time.Time        `json:"valid_from" db:"valid_from"`
	ValidUntil            time.Time        `json:"valid_until" db:"valid_until"`
	IsActive              bool             `json:"is_active" db:"is_active"`
	ApplicableActivityIDs []string         `json:"applicable_activity_ids" db:"applicable_activity_ids"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at" db:"updated_at"`
}

// Customer holds the contact fields captured with a booking
type Customer struct {
	Name  string `json:"name" db:"customer_name"`
	Email string `json:"email" db:"customer_email"`
	Phone string `json:"phone,omitempty" db:"customer_phone"`
}

// PaymentCorrelation links a booking to the provider checkout
type PaymentCorrelation struct {
	Token          *string    `json:"token,omitempty" db:"payment_token"`
	ConversationID *string    `json:"conversation_id,omitempty" db:"payment_conversation_id"`
	TransactionID  *string    `json:"transaction_id,omitempty" db:"payment_transaction_id"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty" db:"payment_token_expires_at"`
	InitiatedAt    *time.Time `json:"initiated_at,omitempty" db:"payment_initiated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"payment_completed_at"`
	ErrorCode      *string    `json:"error_code,omitempty" db:"payment_error_code"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"payment_error_message"`
}

// Booking represents a reservation of an activity slot
type Booking struct {
	ID             string             `json:"id" db:"id"`
	BookingRef     string             `json:"booking_ref" db:"booking_ref"`
	ActivityID     string             `json:"activity_id" db:"activity_id"`
	Date           time.Time          `json:"date" db:"date"`
	TimeSlotID     string             `json:"time_slot_id,omitempty" db:"time_slot_id"`
	GuestCount     int                `json:"guest_count" db:"guest_count"`
	Customer       Customer           `json:"customer"`
	CouponCode     *string            `json:"coupon_code,omitempty" db:"coupon_code"`
	DiscountAmount decimal.Decimal    `json:"discount_amount" db:"discount_amount"`
	TotalPrice     decimal.Decimal    `json:"total_price" db:"total_price"`
	Currency       string             `json:"currency" db:"currency"`
	Status         string             `json:"status" db:"status"`
	PaymentStatus  string             `json:"payment_status" db:"payment_status"`
	Payment        PaymentCorrelation `json:"payment"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`
}

// InLockstep reports whether status and payment status agree: a paid booking is
// always confirmed, or completed once the activity took place.
func (b *Booking) InLockstep() bool {
	if b.PaymentStatus != PaymentStatusPaid {
		return true
	}
	return b.Status == BookingStatusConfirmed || b.Status == BookingStatusCompleted
}

// BookingFilter narrows admin booking listings
type BookingFilter struct {
	ActivityID    string
	Status        string
	PaymentStatus string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// ParseDate parses a calendar date into UTC midnight
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// DateOf truncates t to its calendar date in loc, returned as UTC midnight
func DateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Principal is the authenticated caller of an admin operation
type Principal struct {
	UserID  int64
	Email   string
	IsAdmin bool
}
