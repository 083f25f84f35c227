package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

// Hold release reasons
const (
	ReleaseReasonPaymentFailed = "payment_failed"
	ReleaseReasonExpired       = "expired"
	ReleaseReasonCancelled     = "cancelled"
)

// BlockReasonLeadTime marks dates closed by the lead-time rule
const BlockReasonLeadTime = "lead_time"

// errHoldReleased means a confirm found the hold already returned to the ledger
var errHoldReleased = errors.New("hold already released")

// CapacityService is the inventory ledger: per-day (and per-slot) capacity with
// reversible holds. Every mutation runs on repositories bound to a transaction.
type CapacityService struct {
	repos  *repository.Repositories
	policy Policy
	clock  func() time.Time
}

func NewCapacityService(repos *repository.Repositories, policy Policy) *CapacityService {
	return &CapacityService{repos: repos, policy: policy, clock: time.Now}
}

// today returns the current calendar date in the booking timezone
func (s *CapacityService) today() time.Time {
	return models.DateOf(s.clock(), s.policy.location())
}

// withinLeadTime reports whether the date is too close to book
func (s *CapacityService) withinLeadTime(date time.Time) bool {
	cutoff := s.today().AddDate(0, 0, s.policy.LeadTimeDays)
	return date.Before(cutoff)
}

func (s *CapacityService) GetAvailability(ctx context.Context, activityID string, from, to time.Time) ([]models.DayAvailability, error) {
	if strings.TrimSpace(activityID) == "" {
		return nil, apperrors.Validation("activity_id", "is required")
	}
	if to.Before(from) {
		return nil, apperrors.Validation("to", "must not be before from")
	}
	days := int(to.Sub(from).Hours()/24) + 1
	if s.policy.MaxAvailabilityDays > 0 && days > s.policy.MaxAvailabilityDays {
		return nil, apperrors.Validation("to", "range exceeds %d days", s.policy.MaxAvailabilityDays)
	}

	records, err := s.repos.Capacity.GetRange(ctx, activityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load capacity: %w", err)
	}

	dayRecords := map[string]models.CapacityRecord{}
	slotRecords := map[string][]models.CapacityRecord{}
	for _, rec := range records {
		key := rec.Date.Format(models.DateLayout)
		if rec.TimeSlotID == "" {
			dayRecords[key] = rec
		} else {
			slotRecords[key] = append(slotRecords[key], rec)
		}
	}

	result := make([]models.DayAvailability, 0, days)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(models.DateLayout)
		day, ok := dayRecords[key]
		if !ok {
			day = models.CapacityRecord{ActivityID: activityID, Date: d, TotalCapacity: s.policy.DefaultCapacity}
		}

		avail := models.DayAvailability{
			Date:              key,
			IsBlocked:         day.IsBlocked,
			BlockReason:       day.BlockReason,
			TotalCapacity:     day.TotalCapacity,
			RemainingCapacity: day.Remaining(),
			TimeSlots:         []models.TimeSlotAvailability{},
		}

		anySlotOpen := false
		for _, slot := range slotRecords[key] {
			blocked := slot.IsBlocked || day.IsBlocked
			avail.TimeSlots = append(avail.TimeSlots, models.TimeSlotAvailability{
				ID:                slot.TimeSlotID,
				Label:             slot.Label,
				IsBlocked:         blocked,
				TotalCapacity:     slot.TotalCapacity,
				RemainingCapacity: slot.Remaining(),
			})
			if !blocked && slot.Remaining() > 0 {
				anySlotOpen = true
			}
		}

		hasCapacity := avail.RemainingCapacity > 0
		if len(avail.TimeSlots) > 0 {
			hasCapacity = anySlotOpen
		}
		avail.IsAvailable = !day.IsBlocked && hasCapacity

		if s.withinLeadTime(d) {
			avail.IsAvailable = false
			if !day.IsBlocked {
				avail.BlockReason = BlockReasonLeadTime
			}
		}

		result = append(result, avail)
	}

	return result, nil
}

// SetDay upserts the admin settings for one date. Repeating the call is harmless.
func (s *CapacityService) SetDay(ctx context.Context, principal models.Principal, activityID string, date time.Time, settings models.DaySettings) (*models.DayRecordResponse, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if strings.TrimSpace(activityID) == "" {
		return nil, apperrors.Validation("activity_id", "is required")
	}
	if settings.TotalCapacity != nil && *settings.TotalCapacity < 0 {
		return nil, apperrors.Validation("total_capacity", "must not be negative")
	}
	seen := map[string]bool{}
	for _, slot := range settings.TimeSlots {
		if strings.TrimSpace(slot.ID) == "" {
			return nil, apperrors.Validation("time_slots", "slot id is required")
		}
		if seen[slot.ID] {
			return nil, apperrors.Validation("time_slots", "duplicate slot id %s", slot.ID)
		}
		seen[slot.ID] = true
		if slot.TotalCapacity < 0 {
			return nil, apperrors.Validation("time_slots", "slot %s capacity must not be negative", slot.ID)
		}
	}

	var resp *models.DayRecordResponse
	err := s.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
		var err error
		resp, err = tx.Capacity.UpsertDay(ctx, activityID, date, s.policy.DefaultCapacity, settings)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Capacity day updated",
		"activity_id", activityID,
		"date", date.Format(models.DateLayout),
		"is_blocked", settings.IsBlocked,
		"admin_id", principal.UserID)
	return resp, nil
}

// BulkSetRange opens or closes every date in [start, end] in one statement
func (s *CapacityService) BulkSetRange(ctx context.Context, principal models.Principal, activityID string, start, end time.Time, blocked bool, reason string) (int, error) {
	if err := requireAdmin(principal); err != nil {
		return 0, err
	}
	if strings.TrimSpace(activityID) == "" {
		return 0, apperrors.Validation("activity_id", "is required")
	}
	if end.Before(start) {
		return 0, apperrors.Validation("end_date", "must not be before start_date")
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if s.policy.MaxAvailabilityDays > 0 && days > s.policy.MaxAvailabilityDays {
		return 0, apperrors.Validation("end_date", "range exceeds %d days", s.policy.MaxAvailabilityDays)
	}

	updated, err := s.repos.Capacity.BulkSetBlocked(ctx, activityID, start, end, s.policy.DefaultCapacity, blocked, reason)
	if err != nil {
		return 0, err
	}

	logger.WithContext(ctx).Info("Capacity range updated",
		"activity_id", activityID,
		"start", start.Format(models.DateLayout),
		"end", end.Format(models.DateLayout),
		"is_blocked", blocked,
		"updated", updated)
	return updated, nil
}

// Reserve consumes capacity for a new booking and returns the unsaved hold.
// The caller persists the hold once the booking row exists.
func (s *CapacityService) Reserve(ctx context.Context, tx *repository.Repositories, key models.CapacityKey, guestCount int) (*models.Hold, error) {
	if guestCount < 1 {
		return nil, apperrors.Validation("guest_count", "must be at least 1")
	}
	if s.withinLeadTime(key.Date) {
		metrics.TrackCapacityRejection(BlockReasonLeadTime)
		return nil, apperrors.ErrDateBlocked
	}

	if err := tx.Capacity.Increment(ctx, key, guestCount, s.policy.DefaultCapacity); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrCapacityExceeded):
			metrics.TrackCapacityRejection("full")
		case errors.Is(err, apperrors.ErrDateBlocked):
			metrics.TrackCapacityRejection("blocked")
		}
		return nil, err
	}

	return &models.Hold{
		ID:         uuid.New().String(),
		ActivityID: key.ActivityID,
		Date:       key.Date,
		TimeSlotID: key.TimeSlotID,
		Quantity:   guestCount,
		State:      models.HoldStateHeld,
	}, nil
}

// Release returns a held reservation to the ledger exactly once.
// It reports false when the hold was already finalized.
func (s *CapacityService) Release(ctx context.Context, tx *repository.Repositories, hold *models.Hold, reason string) (bool, error) {
	return s.giveBack(ctx, tx, hold, []string{models.HoldStateHeld}, reason)
}

// Revoke releases a hold whether it is held or confirmed (admin cancellation)
func (s *CapacityService) Revoke(ctx context.Context, tx *repository.Repositories, hold *models.Hold, reason string) (bool, error) {
	return s.giveBack(ctx, tx, hold, []string{models.HoldStateHeld, models.HoldStateConfirmed}, reason)
}

func (s *CapacityService) giveBack(ctx context.Context, tx *repository.Repositories, hold *models.Hold, from []string, reason string) (bool, error) {
	changed, err := tx.Holds.Transition(ctx, hold.ID, from, models.HoldStateReleased, reason)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if err := tx.Capacity.Decrement(ctx, hold.Key(), hold.Quantity); err != nil {
		return false, err
	}

	hold.State = models.HoldStateReleased
	hold.ReleaseReason = reason
	metrics.TrackHoldReleased(reason)
	return true, nil
}

// Confirm makes a held reservation permanent without touching counters.
// Confirming an already confirmed hold is a no-op.
func (s *CapacityService) Confirm(ctx context.Context, tx *repository.Repositories, hold *models.Hold) error {
	changed, err := tx.Holds.Transition(ctx, hold.ID, []string{models.HoldStateHeld}, models.HoldStateConfirmed, "")
	if err != nil {
		return err
	}
	if changed {
		hold.State = models.HoldStateConfirmed
		return nil
	}

	current, err := tx.Holds.GetByBookingID(ctx, hold.BookingID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("hold %s disappeared", hold.ID)
	}
	if current.State == models.HoldStateReleased {
		return errHoldReleased
	}
	hold.State = current.State
	return nil
}

// Reacquire consumes capacity again for a released hold and confirms it.
// The lead-time rule does not apply: the booking already exists.
func (s *CapacityService) Reacquire(ctx context.Context, tx *repository.Repositories, hold *models.Hold) error {
	if err := tx.Capacity.Increment(ctx, hold.Key(), hold.Quantity, s.policy.DefaultCapacity); err != nil {
		return err
	}

	changed, err := tx.Holds.Transition(ctx, hold.ID, []string{models.HoldStateReleased}, models.HoldStateConfirmed, "")
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("hold %s is not released", hold.ID)
	}
	hold.State = models.HoldStateConfirmed
	hold.ReleaseReason = ""
	return nil
}
