package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

type BookingRepository struct {
	q querier
}

func NewBookingRepository(q querier) *BookingRepository {
	return &BookingRepository{q: q}
}

const bookingColumns = `b.id, b.booking_ref, b.activity_id, b.date, b.time_slot_id, b.guest_count,
		       b.customer_name, b.customer_email, b.customer_phone, b.coupon_code,
		       b.discount_amount, b.total_price, b.currency, b.status, b.payment_status,
		       b.payment_token, b.payment_conversation_id, b.payment_transaction_id,
		       b.payment_token_expires_at, b.payment_initiated_at, b.payment_completed_at,
		       b.payment_error_code, b.payment_error_message, b.created_at, b.updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	err := row.Scan(
		&b.ID,
		&b.BookingRef,
		&b.ActivityID,
		&b.Date,
		&b.TimeSlotID,
		&b.GuestCount,
		&b.Customer.Name,
		&b.Customer.Email,
		&b.Customer.Phone,
		&b.CouponCode,
		&b.DiscountAmount,
		&b.TotalPrice,
		&b.Currency,
		&b.Status,
		&b.PaymentStatus,
		&b.Payment.Token,
		&b.Payment.ConversationID,
		&b.Payment.TransactionID,
		&b.Payment.TokenExpiresAt,
		&b.Payment.InitiatedAt,
		&b.Payment.CompletedAt,
		&b.Payment.ErrorCode,
		&b.Payment.ErrorMessage,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (id, booking_ref, activity_id, date, time_slot_id, guest_count,
		                      customer_name, customer_email, customer_phone, coupon_code,
		                      discount_amount, total_price, currency, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	err := r.q.QueryRowContext(ctx, query,
		b.ID,
		b.BookingRef,
		b.ActivityID,
		b.Date,
		b.TimeSlotID,
		b.GuestCount,
		b.Customer.Name,
		b.Customer.Email,
		b.Customer.Phone,
		b.CouponCode,
		b.DiscountAmount,
		b.TotalPrice,
		b.Currency,
		b.Status,
		b.PaymentStatus,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicateBookingRef
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *BookingRepository) getOne(ctx context.Context, where string, arg any) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE ` + where

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return b, err
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.Booking, error) {
	return r.getOne(ctx, "b.id = $1", id)
}

func (r *BookingRepository) GetByRef(ctx context.Context, ref string) (*models.Booking, error) {
	return r.getOne(ctx, "b.booking_ref = UPPER($1)", ref)
}

func (r *BookingRepository) GetByToken(ctx context.Context, token string) (*models.Booking, error) {
	return r.getOne(ctx, "b.payment_token = $1", token)
}

func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return r.getOne(ctx, "b.id = $1 FOR UPDATE", id)
}

func (r *BookingRepository) GetByTokenForUpdate(ctx context.Context, token string) (*models.Booking, error) {
	return r.getOne(ctx, "b.payment_token = $1 FOR UPDATE", token)
}

func (r *BookingRepository) UpdateState(ctx context.Context, b *models.Booking) error {
	query := `
		UPDATE bookings
		SET status = $2, payment_status = $3, payment_transaction_id = $4,
		    payment_completed_at = $5, payment_error_code = $6, payment_error_message = $7,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.q.QueryRowContext(ctx, query,
		b.ID,
		b.Status,
		b.PaymentStatus,
		b.Payment.TransactionID,
		b.Payment.CompletedAt,
		b.Payment.ErrorCode,
		b.Payment.ErrorMessage,
	).Scan(&b.UpdatedAt)
	if err == sql.ErrNoRows {
		return apperrors.ErrBookingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update booking state: %w", err)
	}
	return nil
}

func (r *BookingRepository) SaveCheckout(ctx context.Context, id string, p models.PaymentCorrelation) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_token = $2, payment_conversation_id = $3, payment_token_expires_at = $4,
		    payment_initiated_at = $5, payment_error_code = NULL, payment_error_message = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending' AND status = 'pending'
		  AND (payment_token IS NULL OR payment_token_expires_at IS NULL OR payment_token_expires_at <= $5)`

	result, err := r.q.ExecContext(ctx, query, id, p.Token, p.ConversationID, p.TokenExpiresAt, p.InitiatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to save checkout: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *BookingRepository) RecordPaymentError(ctx context.Context, id, code, message string) error {
	query := `
		UPDATE bookings
		SET payment_error_code = $2, payment_error_message = $3, payment_initiated_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	if _, err := r.q.ExecContext(ctx, query, id, code, message); err != nil {
		return fmt.Errorf("failed to record payment error: %w", err)
	}
	return nil
}

func (r *BookingRepository) List(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE 1=1`
	var args []any
	argIndex := 1

	if f.ActivityID != "" {
		query += fmt.Sprintf(" AND b.activity_id = $%d", argIndex)
		args = append(args, f.ActivityID)
		argIndex++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND b.status = $%d", argIndex)
		args = append(args, f.Status)
		argIndex++
	}
	if f.PaymentStatus != "" {
		query += fmt.Sprintf(" AND b.payment_status = $%d", argIndex)
		args = append(args, f.PaymentStatus)
		argIndex++
	}
	if f.From != nil {
		query += fmt.Sprintf(" AND b.date >= $%d", argIndex)
		args = append(args, *f.From)
		argIndex++
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND b.date <= $%d", argIndex)
		args = append(args, *f.To)
		argIndex++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY b.created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, f.Offset)

	return r.queryMany(ctx, query, args...)
}

func (r *BookingRepository) ListExpirable(ctx context.Context, createdBefore, now time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings b
		JOIN capacity_holds h ON h.booking_id = b.id
		WHERE b.status = 'pending' AND b.payment_status = 'pending'
		  AND h.state = 'held'
		  AND b.created_at < $1
		  AND (b.payment_token_expires_at IS NULL OR b.payment_token_expires_at < $2)
		ORDER BY b.created_at
		LIMIT $3`

	return r.queryMany(ctx, query, createdBefore, now, limit)
}

func (r *BookingRepository) queryMany(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []models.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}
