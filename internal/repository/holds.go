package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"tourbook/internal/models"
)

type HoldRepository struct {
	q querier
}

func NewHoldRepository(q querier) *HoldRepository {
	return &HoldRepository{q: q}
}

func (r *HoldRepository) Create(ctx context.Context, hold *models.Hold) error {
	query := `
		INSERT INTO capacity_holds (id, booking_id, activity_id, date, time_slot_id, quantity, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.q.QueryRowContext(ctx, query,
		hold.ID,
		hold.BookingID,
		hold.ActivityID,
		hold.Date,
		hold.TimeSlotID,
		hold.Quantity,
		hold.State,
	).Scan(&hold.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetByBookingID(ctx context.Context, bookingID string) (*models.Hold, error) {
	hold := &models.Hold{}
	query := `
		SELECT id, booking_id, activity_id, date, time_slot_id, quantity, state, release_reason, created_at, finalized_at
		FROM capacity_holds
		WHERE booking_id = $1`

	err := r.q.QueryRowContext(ctx, query, bookingID).Scan(
		&hold.ID,
		&hold.BookingID,
		&hold.ActivityID,
		&hold.Date,
		&hold.TimeSlotID,
		&hold.Quantity,
		&hold.State,
		&hold.ReleaseReason,
		&hold.CreatedAt,
		&hold.FinalizedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return hold, err
}

func (r *HoldRepository) Transition(ctx context.Context, holdID string, from []string, to, reason string) (bool, error) {
	query := `
		UPDATE capacity_holds
		SET state = $2,
		    release_reason = $3,
		    finalized_at = CASE WHEN $2 = 'held' THEN NULL ELSE NOW() END
		WHERE id = $1 AND state = ANY($4)`

	result, err := r.q.ExecContext(ctx, query, holdID, to, reason, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition hold: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
