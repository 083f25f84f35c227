package models

import "time"

// NATS Event Types
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
	EventPaymentInitiated = "payment.initiated"
	EventPaymentFailed    = "payment.failed"
	EventHoldReleased     = "hold.released"
)

// BookingCreatedEvent represents a booking creation event
type BookingCreatedEvent struct {
	BookingID  string    `json:"booking_id"`
	BookingRef string    `json:"booking_ref"`
	ActivityID string    `json:"activity_id"`
	Date       string    `json:"date"`
	GuestCount int       `json:"guest_count"`
	TotalPrice string    `json:"total_price"`
	Timestamp  time.Time `json:"timestamp"`
}

// BookingConfirmedEvent is published once a booking reaches confirmed and paid.
// Consumers send the customer notification from it.
type BookingConfirmedEvent struct {
	BookingID     string    `json:"booking_id"`
	BookingRef    string    `json:"booking_ref"`
	ActivityID    string    `json:"activity_id"`
	Date          string    `json:"date"`
	GuestCount    int       `json:"guest_count"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	TotalPrice    string    `json:"total_price"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// PaymentInitiatedEvent represents a payment initiation event
type PaymentInitiatedEvent struct {
	BookingID      string    `json:"booking_id"`
	ConversationID string    `json:"conversation_id"`
	TotalPrice     string    `json:"total_price"`
	Timestamp      time.Time `json:"timestamp"`
}

// PaymentFailedEvent represents a failed payment event
type PaymentFailedEvent struct {
	BookingID  string    `json:"booking_id"`
	BookingRef string    `json:"booking_ref"`
	ErrorCode  string    `json:"error_code"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// BookingCancelledEvent represents a booking cancellation event
type BookingCancelledEvent struct {
	BookingID  string    `json:"booking_id"`
	BookingRef string    `json:"booking_ref"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// HoldReleasedEvent represents capacity returned to the ledger
type HoldReleasedEvent struct {
	HoldID     string    `json:"hold_id"`
	BookingID  string    `json:"booking_id"`
	ActivityID string    `json:"activity_id"`
	Date       string    `json:"date"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
