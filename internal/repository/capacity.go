package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/database"
	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

type CapacityRepository struct {
	q querier
	// db is set outside transactions; read-only range queries retry through it
	db *database.DB
}

func NewCapacityRepository(q querier, db *database.DB) *CapacityRepository {
	return &CapacityRepository{q: q, db: db}
}

const capacityColumns = `activity_id, date, time_slot_id, label, total_capacity, consumed_capacity,
		       is_blocked, block_reason, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapacity(row rowScanner) (*models.CapacityRecord, error) {
	rec := &models.CapacityRecord{}
	err := row.Scan(
		&rec.ActivityID,
		&rec.Date,
		&rec.TimeSlotID,
		&rec.Label,
		&rec.TotalCapacity,
		&rec.ConsumedCapacity,
		&rec.IsBlocked,
		&rec.BlockReason,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *CapacityRepository) Get(ctx context.Context, key models.CapacityKey) (*models.CapacityRecord, error) {
	query := `
		SELECT ` + capacityColumns + `
		FROM capacity_records
		WHERE activity_id = $1 AND date = $2 AND time_slot_id = $3`

	rec, err := scanCapacity(r.q.QueryRowContext(ctx, query, key.ActivityID, key.Date, key.TimeSlotID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *CapacityRepository) GetRange(ctx context.Context, activityID string, from, to time.Time) ([]models.CapacityRecord, error) {
	query := `
		SELECT ` + capacityColumns + `
		FROM capacity_records
		WHERE activity_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, time_slot_id`

	var rows *sql.Rows
	var err error
	if r.db != nil {
		rows, err = r.db.QueryWithRetry(ctx, query, activityID, from, to)
	} else {
		rows, err = r.q.QueryContext(ctx, query, activityID, from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query capacity range: %w", err)
	}
	defer rows.Close()

	var records []models.CapacityRecord
	for rows.Next() {
		rec, err := scanCapacity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func (r *CapacityRepository) UpsertDay(ctx context.Context, activityID string, date time.Time, defaultCapacity int, settings models.DaySettings) (*models.DayRecordResponse, error) {
	insertTotal := defaultCapacity
	var newTotal sql.NullInt64
	if settings.TotalCapacity != nil {
		insertTotal = *settings.TotalCapacity
		newTotal = sql.NullInt64{Int64: int64(*settings.TotalCapacity), Valid: true}
	}

	dayQuery := `
		INSERT INTO capacity_records (activity_id, date, time_slot_id, total_capacity, is_blocked, block_reason)
		VALUES ($1, $2, '', $3, $4, $5)
		ON CONFLICT (activity_id, date, time_slot_id) DO UPDATE
		SET total_capacity = COALESCE($6, capacity_records.total_capacity),
		    is_blocked = EXCLUDED.is_blocked,
		    block_reason = EXCLUDED.block_reason,
		    updated_at = NOW()
		WHERE COALESCE($6, capacity_records.total_capacity) >= capacity_records.consumed_capacity
		RETURNING ` + capacityColumns

	day, err := scanCapacity(r.q.QueryRowContext(ctx, dayQuery,
		activityID, date, insertTotal, settings.IsBlocked, settings.BlockReason, newTotal))
	if err == sql.ErrNoRows {
		return nil, apperrors.Validation("total_capacity", "cannot be lower than consumed capacity")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert capacity day: %w", err)
	}

	slotQuery := `
		INSERT INTO capacity_records (activity_id, date, time_slot_id, label, total_capacity, is_blocked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (activity_id, date, time_slot_id) DO UPDATE
		SET label = EXCLUDED.label,
		    total_capacity = EXCLUDED.total_capacity,
		    is_blocked = EXCLUDED.is_blocked,
		    updated_at = NOW()
		WHERE EXCLUDED.total_capacity >= capacity_records.consumed_capacity
		RETURNING ` + capacityColumns

	resp := &models.DayRecordResponse{Day: *day, TimeSlots: []models.CapacityRecord{}}
	for _, slot := range settings.TimeSlots {
		rec, err := scanCapacity(r.q.QueryRowContext(ctx, slotQuery,
			activityID, date, slot.ID, slot.Label, slot.TotalCapacity, slot.IsBlocked))
		if err == sql.ErrNoRows {
			return nil, apperrors.Validation("time_slots", "slot %s total cannot be lower than consumed capacity", slot.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to upsert time slot %s: %w", slot.ID, err)
		}
		resp.TimeSlots = append(resp.TimeSlots, *rec)
	}

	return resp, nil
}

func (r *CapacityRepository) BulkSetBlocked(ctx context.Context, activityID string, start, end time.Time, defaultCapacity int, blocked bool, reason string) (int, error) {
	query := `
		INSERT INTO capacity_records (activity_id, date, time_slot_id, total_capacity, is_blocked, block_reason)
		SELECT $1, d::date, '', $4, $5, $6
		FROM generate_series($2::date, $3::date, interval '1 day') AS d
		ON CONFLICT (activity_id, date, time_slot_id) DO UPDATE
		SET is_blocked = EXCLUDED.is_blocked,
		    block_reason = EXCLUDED.block_reason,
		    updated_at = NOW()`

	result, err := r.q.ExecContext(ctx, query, activityID, start, end, defaultCapacity, blocked, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update capacity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Increment never reads before writing: the conditional UPDATE is the only check.
func (r *CapacityRepository) Increment(ctx context.Context, key models.CapacityKey, quantity, defaultCapacity int) error {
	var query string
	if key.TimeSlotID == "" {
		seed := `
			INSERT INTO capacity_records (activity_id, date, time_slot_id, total_capacity)
			VALUES ($1, $2, '', $3)
			ON CONFLICT (activity_id, date, time_slot_id) DO NOTHING`
		if _, err := r.q.ExecContext(ctx, seed, key.ActivityID, key.Date, defaultCapacity); err != nil {
			return fmt.Errorf("failed to seed capacity record: %w", err)
		}

		query = `
			UPDATE capacity_records
			SET consumed_capacity = consumed_capacity + $4, updated_at = NOW()
			WHERE activity_id = $1 AND date = $2 AND time_slot_id = $3
			  AND NOT is_blocked
			  AND consumed_capacity + $4 <= total_capacity`
	} else {
		query = `
			UPDATE capacity_records
			SET consumed_capacity = consumed_capacity + $4, updated_at = NOW()
			WHERE activity_id = $1 AND date = $2 AND time_slot_id = $3
			  AND NOT is_blocked
			  AND consumed_capacity + $4 <= total_capacity
			  AND NOT EXISTS (
			      SELECT 1 FROM capacity_records d
			      WHERE d.activity_id = $1 AND d.date = $2 AND d.time_slot_id = '' AND d.is_blocked
			  )`
	}

	result, err := r.q.ExecContext(ctx, query, key.ActivityID, key.Date, key.TimeSlotID, quantity)
	if err != nil {
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	return r.rejection(ctx, key)
}

// rejection explains why a conditional increment matched no row
func (r *CapacityRepository) rejection(ctx context.Context, key models.CapacityKey) error {
	rec, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return apperrors.Validation("time_slot_id", "unknown time slot %q", key.TimeSlotID)
	}
	if rec.IsBlocked {
		return apperrors.ErrDateBlocked
	}

	if key.TimeSlotID != "" {
		day, err := r.Get(ctx, models.CapacityKey{ActivityID: key.ActivityID, Date: key.Date})
		if err != nil {
			return err
		}
		if day != nil && day.IsBlocked {
			return apperrors.ErrDateBlocked
		}
	}

	return apperrors.ErrCapacityExceeded
}

func (r *CapacityRepository) Decrement(ctx context.Context, key models.CapacityKey, quantity int) error {
	query := `
		UPDATE capacity_records
		SET consumed_capacity = consumed_capacity - $4, updated_at = NOW()
		WHERE activity_id = $1 AND date = $2 AND time_slot_id = $3
		  AND consumed_capacity >= $4`

	result, err := r.q.ExecContext(ctx, query, key.ActivityID, key.Date, key.TimeSlotID, quantity)
	if err != nil {
		return fmt.Errorf("failed to release capacity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return errors.New("capacity ledger out of sync: nothing to release")
	}
	return nil
}
