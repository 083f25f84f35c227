package repository

import (
	"context"
	"database/sql"
	"time"

	"tourbook/internal/database"
	"tourbook/internal/models"
)

// Lookups return (nil, nil) when the row does not exist.

// CapacityStore is the inventory ledger
type CapacityStore interface {
	Get(ctx context.Context, key models.CapacityKey) (*models.CapacityRecord, error)
	GetRange(ctx context.Context, activityID string, from, to time.Time) ([]models.CapacityRecord, error)
	// UpsertDay writes the day record and its slots. Totals below the consumed amount fail with ErrValidation.
	UpsertDay(ctx context.Context, activityID string, date time.Time, defaultCapacity int, settings models.DaySettings) (*models.DayRecordResponse, error)
	BulkSetBlocked(ctx context.Context, activityID string, start, end time.Time, defaultCapacity int, blocked bool, reason string) (int, error)
	// Increment consumes quantity on the key, or fails with ErrDateBlocked / ErrCapacityExceeded.
	Increment(ctx context.Context, key models.CapacityKey, quantity, defaultCapacity int) error
	Decrement(ctx context.Context, key models.CapacityKey, quantity int) error
}

// HoldStore keeps the reservations backing bookings
type HoldStore interface {
	Create(ctx context.Context, hold *models.Hold) error
	GetByBookingID(ctx context.Context, bookingID string) (*models.Hold, error)
	// Transition moves the hold to state "to" if it is currently in one of "from".
	// It reports whether a row changed.
	Transition(ctx context.Context, holdID string, from []string, to, reason string) (bool, error)
}

// CouponStore persists discount codes
type CouponStore interface {
	GetByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementUsage reports false when the usage limit is already reached.
	IncrementUsage(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, coupon *models.Coupon) error
	Update(ctx context.Context, coupon *models.Coupon) error
	List(ctx context.Context, limit, offset int) ([]models.Coupon, error)
}

// BookingStore persists bookings
type BookingStore interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetByRef(ctx context.Context, ref string) (*models.Booking, error)
	GetByToken(ctx context.Context, token string) (*models.Booking, error)
	// GetByIDForUpdate and GetByTokenForUpdate lock the row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*models.Booking, error)
	GetByTokenForUpdate(ctx context.Context, token string) (*models.Booking, error)
	// UpdateState writes status, payment status and the payment outcome fields.
	UpdateState(ctx context.Context, booking *models.Booking) error
	// SaveCheckout stores the checkout correlation only while the payment is pending
	// and the previous token, if any, expired by payment.InitiatedAt.
	SaveCheckout(ctx context.Context, id string, payment models.PaymentCorrelation) (bool, error)
	RecordPaymentError(ctx context.Context, id, code, message string) error
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	// ListExpirable returns pending bookings older than createdBefore whose hold is still held
	// and whose checkout token is absent or expired at now.
	ListExpirable(ctx context.Context, createdBefore, now time.Time, limit int) ([]models.Booking, error)
}

// UserStore resolves staff accounts
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// ActivityStore is the read-only activity content source
type ActivityStore interface {
	GetByID(ctx context.Context, id string) (*models.Activity, error)
}

// Transactor runs fn with repositories bound to one atomic unit of work
type Transactor func(ctx context.Context, fn func(tx *Repositories) error) error

type Repositories struct {
	Capacity   CapacityStore
	Holds      HoldStore
	Coupons    CouponStore
	Bookings   BookingStore
	Users      UserStore
	Activities ActivityStore

	transactor Transactor
}

// NewWithTransactor assembles repositories from arbitrary store implementations
func NewWithTransactor(r Repositories, transactor Transactor) *Repositories {
	r.transactor = transactor
	return &r
}

// WithinTx runs fn atomically. Nested calls reuse the outer transaction.
func (r *Repositories) WithinTx(ctx context.Context, fn func(tx *Repositories) error) error {
	if r.transactor == nil {
		return fn(r)
	}
	return r.transactor(ctx, fn)
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepositories(db *database.DB, activities ActivityStore) *Repositories {
	repos := bind(db.DB, db, activities)
	repos.transactor = func(ctx context.Context, fn func(tx *Repositories) error) error {
		return db.WithTx(ctx, func(tx *sql.Tx) error {
			txRepos := bind(tx, nil, activities)
			// already inside the transaction
			txRepos.transactor = func(_ context.Context, inner func(*Repositories) error) error {
				return inner(txRepos)
			}
			return fn(txRepos)
		})
	}
	return repos
}

func bind(q querier, retryDB *database.DB, activities ActivityStore) *Repositories {
	return &Repositories{
		Capacity:   NewCapacityRepository(q, retryDB),
		Holds:      NewHoldRepository(q),
		Coupons:    NewCouponRepository(q),
		Bookings:   NewBookingRepository(q),
		Users:      NewUserRepository(q),
		Activities: activities,
	}
}
