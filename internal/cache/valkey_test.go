package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourbook/internal/models"
)

func newMockClient(t *testing.T) (*ValkeyClient, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewWithClient(db, Config{ActivityTTL: 2 * time.Minute}), mock
}

func TestUserAuthCache(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()
	field := authCacheKey("admin@tourbook.test", "abc123")

	mock.ExpectHGet("users:auth", field).RedisNil()
	mock.ExpectHSet("users:auth", field, int64(42)).SetVal(1)
	mock.ExpectHGet("users:auth", field).SetVal("42")

	_, err := c.GetUserIDByAuth(ctx, "admin@tourbook.test", "abc123")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetUserAuth(ctx, "admin@tourbook.test", "abc123", 42))

	id, err := c.GetUserIDByAuth(ctx, "admin@tourbook.test", "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestUserAuthCacheErrors(t *testing.T) {
	c, mock := newMockClient(t)
	field := authCacheKey("a@b.c", "h")

	mock.ExpectHGet("users:auth", field).SetVal("not-a-number")
	mock.ExpectHGet("users:auth", field).SetErr(errors.New("i/o timeout"))

	_, err := c.GetUserIDByAuth(context.Background(), "a@b.c", "h")
	assert.ErrorContains(t, err, "invalid user ID")

	_, err = c.GetUserIDByAuth(context.Background(), "a@b.c", "h")
	assert.ErrorContains(t, err, "cache lookup error")
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestActivityCache(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()
	activity := &models.Activity{
		ID:              "pamukkale-day-trip",
		Name:            "Pamukkale Day Trip",
		Price:           decimal.RequireFromString("2450.50"),
		Currency:        "TRY",
		MaxParticipants: 15,
	}
	raw, err := json.Marshal(activity)
	require.NoError(t, err)

	mock.ExpectGet("activity:pamukkale-day-trip").RedisNil()
	mock.ExpectSet("activity:pamukkale-day-trip", raw, 2*time.Minute).SetVal("OK")
	mock.ExpectGet("activity:pamukkale-day-trip").SetVal(string(raw))

	_, err = c.GetActivity(ctx, activity.ID)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetActivity(ctx, activity))

	cached, err := c.GetActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.Name, cached.Name)
	assert.True(t, activity.Price.Equal(cached.Price))
}
