package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

func TestGetAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blocked := env.day(3)
	_, err := env.services.Capacity.SetDay(ctx, admin, env.activity.ID, blocked, models.DaySettings{IsBlocked: true, BlockReason: "storm"})
	require.NoError(t, err)
	env.create(env.day(2), 4)

	days, err := env.services.Capacity.GetAvailability(ctx, env.activity.ID, env.day(0), env.day(4))
	require.NoError(t, err)
	require.Len(t, days, 5)

	assert.False(t, days[0].IsAvailable)
	assert.Equal(t, BlockReasonLeadTime, days[0].BlockReason)

	assert.True(t, days[1].IsAvailable)
	assert.Equal(t, 20, days[1].RemainingCapacity)

	assert.True(t, days[2].IsAvailable)
	assert.Equal(t, 16, days[2].RemainingCapacity)

	assert.False(t, days[3].IsAvailable)
	assert.True(t, days[3].IsBlocked)
	assert.Equal(t, "storm", days[3].BlockReason)
}

func TestLeadTimeOverridesOpenRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.services.Capacity.policy.LeadTimeDays = 7

	total := 50
	for n := 0; n <= 7; n++ {
		_, err := env.services.Capacity.SetDay(ctx, admin, env.activity.ID, env.day(n), models.DaySettings{TotalCapacity: &total})
		require.NoError(t, err)
	}

	days, err := env.services.Capacity.GetAvailability(ctx, env.activity.ID, env.day(0), env.day(7))
	require.NoError(t, err)
	require.Len(t, days, 8)

	for n := 0; n < 7; n++ {
		assert.False(t, days[n].IsAvailable, "day %d", n)
		assert.Equal(t, BlockReasonLeadTime, days[n].BlockReason, "day %d", n)
		assert.Equal(t, 50, days[n].RemainingCapacity, "day %d", n)

		_, err := env.services.Bookings.Create(ctx, env.request(env.day(n), 1))
		assert.ErrorIs(t, err, apperrors.ErrDateBlocked, "day %d", n)
		assert.Zero(t, env.consumed(env.day(n)))
	}

	assert.True(t, days[7].IsAvailable)
	env.create(env.day(7), 1)
	assert.Equal(t, 1, env.consumed(env.day(7)))
}

func TestGetAvailabilityRejectsBadRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.services.Capacity.GetAvailability(ctx, env.activity.ID, env.day(5), env.day(1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.services.Capacity.GetAvailability(ctx, env.activity.ID, env.day(0), env.day(400))
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestSetDayRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.services.Capacity.SetDay(ctx, operator, env.activity.ID, env.day(3), models.DaySettings{IsBlocked: true})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.services.Capacity.BulkSetRange(ctx, models.Principal{}, env.activity.ID, env.day(3), env.day(5), true, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSetDayCannotShrinkBelowConsumed(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	env.create(date, 5)

	total := 4
	_, err := env.services.Capacity.SetDay(context.Background(), admin, env.activity.ID, date, models.DaySettings{TotalCapacity: &total})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, 5, env.consumed(date))
}

func TestBulkSetRangeBlocksReservations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	updated, err := env.services.Capacity.BulkSetRange(ctx, admin, env.activity.ID, env.day(10), env.day(16), true, "maintenance")
	require.NoError(t, err)
	assert.Equal(t, 7, updated)

	_, err = env.services.Bookings.Create(ctx, env.request(env.day(12), 2))
	assert.ErrorIs(t, err, apperrors.ErrDateBlocked)

	updated, err = env.services.Capacity.BulkSetRange(ctx, admin, env.activity.ID, env.day(12), env.day(12), false, "")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	env.create(env.day(12), 2)
}

func TestReserveTimeSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	date := env.day(4)

	_, err := env.services.Capacity.SetDay(ctx, admin, env.activity.ID, date, models.DaySettings{
		TimeSlots: []models.TimeSlotSettings{
			{ID: "morning", Label: "09:00", TotalCapacity: 3},
			{ID: "evening", Label: "18:00", TotalCapacity: 2, IsBlocked: true},
		},
	})
	require.NoError(t, err)

	req := env.request(date, 3)
	req.TimeSlotID = "morning"
	_, err = env.services.Bookings.Create(ctx, req)
	require.NoError(t, err)

	req = env.request(date, 1)
	req.TimeSlotID = "morning"
	_, err = env.services.Bookings.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrCapacityExceeded)

	req.TimeSlotID = "evening"
	_, err = env.services.Bookings.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrDateBlocked)

	req.TimeSlotID = "sunset"
	_, err = env.services.Bookings.Create(ctx, req)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	days, err := env.services.Capacity.GetAvailability(ctx, env.activity.ID, date, date)
	require.NoError(t, err)
	require.Len(t, days[0].TimeSlots, 2)
	assert.False(t, days[0].IsAvailable)
	assert.Equal(t, 0, days[0].TimeSlots[1].RemainingCapacity)
}

func TestReleaseIsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	date := env.day(3)
	resp := env.create(date, 4)
	hold := env.hold(resp.BookingID)

	for i := 0; i < 2; i++ {
		err := env.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
			released, err := env.services.Capacity.Release(ctx, tx, hold, ReleaseReasonCancelled)
			assert.Equal(t, i == 0, released)
			return err
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 0, env.consumed(date))
	assert.Equal(t, models.HoldStateReleased, env.hold(resp.BookingID).State)
}

func TestConfirmAfterReleaseReportsReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := env.create(env.day(3), 2)
	hold := env.hold(resp.BookingID)

	err := env.repos.WithinTx(ctx, func(tx *repository.Repositories) error {
		if _, err := env.services.Capacity.Release(ctx, tx, hold, ReleaseReasonExpired); err != nil {
			return err
		}
		return env.services.Capacity.Confirm(ctx, tx, hold)
	})
	assert.ErrorIs(t, err, errHoldReleased)
	// the failed transaction is rolled back
	assert.Equal(t, models.HoldStateHeld, env.hold(resp.BookingID).State)
	assert.Equal(t, 2, env.consumed(env.day(3)))
}
