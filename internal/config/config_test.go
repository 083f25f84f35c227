package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 20, cfg.Booking.DefaultCapacity)
	assert.Equal(t, 45*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, []int{1, 2, 3, 6, 9}, cfg.Payment.EnabledInstallments)
	assert.Equal(t, "activities", cfg.Elasticsearch.Index)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("BOOKING_LEAD_TIME_DAYS", "3")
	t.Setenv("BOOKING_REF_PREFIX", "cap")
	t.Setenv("BOOKING_HOLD_TTL", "10m")
	t.Setenv("PAYMENT_ENABLED_INSTALLMENTS", "1, x, 12")
	t.Setenv("PAYMENT_TIMEOUT_SEC", "5")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 3, cfg.Booking.LeadTimeDays)
	assert.Equal(t, "CAP", cfg.Booking.RefPrefix)
	assert.Equal(t, 10*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, []int{1, 12}, cfg.Payment.EnabledInstallments)
	assert.Equal(t, 5*time.Second, cfg.Payment.Timeout)
}

func TestBookingLocation(t *testing.T) {
	loc, err := BookingConfig{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC.String(), loc.String())

	_, err = BookingConfig{Timezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
