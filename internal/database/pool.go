package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	retryAttempts = 3
	retryBackoff  = 100 * time.Millisecond
	pingTimeout   = 5 * time.Second
)

// PoolStats is the subset of sql.DBStats exposed on /health
type PoolStats struct {
	MaxOpen      int           `json:"max_open"`
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

type HealthCheck struct {
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Pool      PoolStats     `json:"pool"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (hc HealthCheck) Healthy() bool {
	return hc.Status == "healthy"
}

func (db *DB) PoolStats() PoolStats {
	s := db.Stats()
	return PoolStats{
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// HealthCheck pings the database with its own timeout
func (db *DB) HealthCheck(ctx context.Context) HealthCheck {
	start := time.Now()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := db.PingContext(pingCtx)

	hc := HealthCheck{
		Status:    "healthy",
		Latency:   time.Since(start),
		Pool:      db.PoolStats(),
		CheckedAt: start,
	}
	if err != nil {
		hc.Status = "unhealthy"
		hc.Error = err.Error()
		slog.Error("Database health check failed", "error", err, "latency", hc.Latency)
	}
	return hc
}

// ValidateConnectionPool logs warnings about pool pressure
func (db *DB) ValidateConnectionPool() {
	s := db.PoolStats()

	if s.MaxOpen > 0 && s.InUse*10 > s.MaxOpen*9 {
		slog.Warn("Connection pool almost exhausted", "in_use", s.InUse, "max_open", s.MaxOpen)
	}
	if s.WaitCount > 0 && s.WaitDuration > time.Second {
		slog.Warn("Callers are waiting for connections", "wait_count", s.WaitCount, "wait_duration", s.WaitDuration)
	}
}

// QueryWithRetry retries read-only queries on transient connection errors.
// Never use it for statements with side effects.
func (db *DB) QueryWithRetry(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		rows, err := db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if !isRetryableError(err) {
			return nil, fmt.Errorf("non-retryable error on attempt %d: %w", attempt, err)
		}
		lastErr = err

		if attempt == retryAttempts {
			break
		}
		slog.Warn("Read query failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	return nil, fmt.Errorf("query failed after %d attempts: %w", retryAttempts, lastErr)
}

// isRetryableError: dropped connection, network timeout or a postgres connection_exception (class 08)
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
