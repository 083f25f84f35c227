package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createUsersTable,
		createCapacityRecordsTable,
		createCouponsTable,
		createBookingsTable,
		createCapacityHoldsTable,
		createBookingsIndexes,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
    user_id SERIAL PRIMARY KEY,
    email VARCHAR(255) UNIQUE NOT NULL,
    password_hash VARCHAR(64) NOT NULL,
    full_name VARCHAR(200) NOT NULL DEFAULT '',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
    last_logged_in TIMESTAMP NOT NULL DEFAULT NOW()
);`

const createCapacityRecordsTable = `
CREATE TABLE IF NOT EXISTS capacity_records (
    activity_id VARCHAR(64) NOT NULL,
    date DATE NOT NULL,
    time_slot_id VARCHAR(64) NOT NULL DEFAULT '',
    label VARCHAR(100) NOT NULL DEFAULT '',
    total_capacity INTEGER NOT NULL,
    consumed_capacity INTEGER NOT NULL DEFAULT 0,
    is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
    block_reason VARCHAR(255) NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    PRIMARY KEY (activity_id, date, time_slot_id),
    CONSTRAINT capacity_consumed_bounds CHECK (consumed_capacity >= 0 AND consumed_capacity <= total_capacity)
);`

const createCouponsTable = `
CREATE TABLE IF NOT EXISTS coupons (
    code VARCHAR(64) PRIMARY KEY,
    discount_type VARCHAR(20) NOT NULL CHECK (discount_type IN ('percentage', 'fixed')),
    discount_value NUMERIC(12,2) NOT NULL CHECK (discount_value >= 0),
    min_purchase_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    max_discount_amount NUMERIC(12,2),
    usage_limit INTEGER,
    used_count INTEGER NOT NULL DEFAULT 0,
    valid_from TIMESTAMP NOT NULL,
    valid_until TIMESTAMP NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    applicable_activity_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    CONSTRAINT coupon_usage_bounds CHECK (usage_limit IS NULL OR used_count <= usage_limit)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_coupons_code_lower ON coupons (LOWER(code));`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id UUID PRIMARY KEY,
    booking_ref VARCHAR(40) UNIQUE NOT NULL,
    activity_id VARCHAR(64) NOT NULL,
    date DATE NOT NULL,
    time_slot_id VARCHAR(64) NOT NULL DEFAULT '',
    guest_count INTEGER NOT NULL CHECK (guest_count > 0),
    customer_name VARCHAR(200) NOT NULL,
    customer_email VARCHAR(255) NOT NULL,
    customer_phone VARCHAR(40) NOT NULL DEFAULT '',
    coupon_code VARCHAR(64),
    discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
    total_price NUMERIC(12,2) NOT NULL,
    currency VARCHAR(3) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'confirmed', 'cancelled', 'completed')),
    payment_status VARCHAR(20) NOT NULL DEFAULT 'pending'
        CHECK (payment_status IN ('pending', 'paid', 'failed', 'refunded')),
    payment_token VARCHAR(255) UNIQUE,
    payment_conversation_id VARCHAR(64),
    payment_transaction_id VARCHAR(255),
    payment_token_expires_at TIMESTAMP,
    payment_initiated_at TIMESTAMP,
    payment_completed_at TIMESTAMP,
    payment_error_code VARCHAR(64),
    payment_error_message TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    CONSTRAINT booking_paid_lockstep CHECK (payment_status <> 'paid' OR status IN ('confirmed', 'completed'))
);`

const createCapacityHoldsTable = `
CREATE TABLE IF NOT EXISTS capacity_holds (
    id UUID PRIMARY KEY,
    booking_id UUID UNIQUE NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
    activity_id VARCHAR(64) NOT NULL,
    date DATE NOT NULL,
    time_slot_id VARCHAR(64) NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    state VARCHAR(20) NOT NULL DEFAULT 'held' CHECK (state IN ('held', 'confirmed', 'released')),
    release_reason VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    finalized_at TIMESTAMP
);`

const createBookingsIndexes = `
CREATE INDEX IF NOT EXISTS idx_bookings_activity_date ON bookings (activity_id, date);
CREATE INDEX IF NOT EXISTS idx_bookings_status_created ON bookings (status, payment_status, created_at);
CREATE INDEX IF NOT EXISTS idx_capacity_holds_state ON capacity_holds (state, created_at);`
