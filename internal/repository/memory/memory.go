// Package memory is an in-process store with the same atomicity guarantees as the
// Postgres repositories. One mutex serializes every operation; a transaction holds it
// for its whole duration and restores a snapshot on failure.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

type capacityKey struct {
	activityID string
	date       string
	timeSlotID string
}

func keyOf(k models.CapacityKey) capacityKey {
	return capacityKey{activityID: k.ActivityID, date: k.Date.Format(models.DateLayout), timeSlotID: k.TimeSlotID}
}

type state struct {
	capacity map[capacityKey]models.CapacityRecord
	holds    map[string]models.Hold
	coupons  map[string]models.Coupon
	bookings map[string]models.Booking
	users    map[int64]models.User
	nextUser int64
}

func (s *state) clone() *state {
	return &state{
		capacity: maps.Clone(s.capacity),
		holds:    maps.Clone(s.holds),
		coupons:  maps.Clone(s.coupons),
		bookings: maps.Clone(s.bookings),
		users:    maps.Clone(s.users),
		nextUser: s.nextUser,
	}
}

// Store owns the data shared by every repository it hands out
type Store struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		data: &state{
			capacity: map[capacityKey]models.CapacityRecord{},
			holds:    map[string]models.Hold{},
			coupons:  map[string]models.Coupon{},
			bookings: map[string]models.Booking{},
			users:    map[int64]models.User{},
		},
		clock: time.Now,
	}
}

// SetClock overrides the timestamp source used for created/updated fields
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// lock is a no-op inside a transaction, which already holds the mutex
func (s *Store) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// Repositories returns the store wired as repository.Repositories
func (s *Store) Repositories(activities repository.ActivityStore) *repository.Repositories {
	outer := s.bind(false, activities)
	return repository.NewWithTransactor(outer, func(ctx context.Context, fn func(tx *repository.Repositories) error) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		snapshot := s.data.clone()
		inner := s.bind(true, activities)
		var txRepos *repository.Repositories
		txRepos = repository.NewWithTransactor(inner, func(_ context.Context, nested func(*repository.Repositories) error) error {
			return nested(txRepos)
		})

		committed := false
		defer func() {
			if !committed {
				s.data = snapshot
			}
		}()

		if err := fn(txRepos); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		committed = true
		return nil
	})
}

func (s *Store) bind(inTx bool, activities repository.ActivityStore) repository.Repositories {
	return repository.Repositories{
		Capacity:   &capacityRepo{s: s, inTx: inTx},
		Holds:      &holdRepo{s: s, inTx: inTx},
		Coupons:    &couponRepo{s: s, inTx: inTx},
		Bookings:   &bookingRepo{s: s, inTx: inTx},
		Users:      &userRepo{s: s, inTx: inTx},
		Activities: activities,
	}
}

// Activities is a fixed activity catalogue
type Activities struct {
	items map[string]models.Activity
}

func NewActivities(items ...models.Activity) *Activities {
	a := &Activities{items: map[string]models.Activity{}}
	for _, item := range items {
		a.items[item.ID] = item
	}
	return a
}

func (a *Activities) GetByID(_ context.Context, id string) (*models.Activity, error) {
	item, ok := a.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// ---- capacity ----

type capacityRepo struct {
	s    *Store
	inTx bool
}

func (r *capacityRepo) Get(_ context.Context, key models.CapacityKey) (*models.CapacityRecord, error) {
	defer r.s.lock(r.inTx)()
	rec, ok := r.s.data.capacity[keyOf(key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *capacityRepo) GetRange(_ context.Context, activityID string, from, to time.Time) ([]models.CapacityRecord, error) {
	defer r.s.lock(r.inTx)()

	var out []models.CapacityRecord
	for _, rec := range r.s.data.capacity {
		if rec.ActivityID == activityID && !rec.Date.Before(from) && !rec.Date.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TimeSlotID < out[j].TimeSlotID
	})
	return out, nil
}

func (r *capacityRepo) UpsertDay(_ context.Context, activityID string, date time.Time, defaultCapacity int, settings models.DaySettings) (*models.DayRecordResponse, error) {
	defer r.s.lock(r.inTx)()
	data := r.s.data
	now := r.s.clock()

	dayKey := models.CapacityKey{ActivityID: activityID, Date: date}
	day, exists := data.capacity[keyOf(dayKey)]
	if !exists {
		day = models.CapacityRecord{ActivityID: activityID, Date: date, TotalCapacity: defaultCapacity}
	}
	if settings.TotalCapacity != nil {
		if *settings.TotalCapacity < day.ConsumedCapacity {
			return nil, apperrors.Validation("total_capacity", "cannot be lower than consumed capacity")
		}
		day.TotalCapacity = *settings.TotalCapacity
	}

	slots := make([]models.CapacityRecord, 0, len(settings.TimeSlots))
	for _, slot := range settings.TimeSlots {
		slotKey := models.CapacityKey{ActivityID: activityID, Date: date, TimeSlotID: slot.ID}
		rec := data.capacity[keyOf(slotKey)]
		if slot.TotalCapacity < rec.ConsumedCapacity {
			return nil, apperrors.Validation("time_slots", "slot %s total cannot be lower than consumed capacity", slot.ID)
		}
		rec.ActivityID, rec.Date, rec.TimeSlotID = activityID, date, slot.ID
		rec.Label = slot.Label
		rec.TotalCapacity = slot.TotalCapacity
		rec.IsBlocked = slot.IsBlocked
		rec.UpdatedAt = now
		slots = append(slots, rec)
	}

	day.IsBlocked = settings.IsBlocked
	day.BlockReason = settings.BlockReason
	day.UpdatedAt = now
	data.capacity[keyOf(dayKey)] = day
	for _, rec := range slots {
		data.capacity[keyOf(models.CapacityKey{ActivityID: activityID, Date: date, TimeSlotID: rec.TimeSlotID})] = rec
	}

	return &models.DayRecordResponse{Day: day, TimeSlots: slots}, nil
}

func (r *capacityRepo) BulkSetBlocked(_ context.Context, activityID string, start, end time.Time, defaultCapacity int, blocked bool, reason string) (int, error) {
	defer r.s.lock(r.inTx)()
	now := r.s.clock()

	count := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		k := keyOf(models.CapacityKey{ActivityID: activityID, Date: d})
		rec, ok := r.s.data.capacity[k]
		if !ok {
			rec = models.CapacityRecord{ActivityID: activityID, Date: d, TotalCapacity: defaultCapacity}
		}
		rec.IsBlocked = blocked
		rec.BlockReason = reason
		rec.UpdatedAt = now
		r.s.data.capacity[k] = rec
		count++
	}
	return count, nil
}

func (r *capacityRepo) Increment(_ context.Context, key models.CapacityKey, quantity, defaultCapacity int) error {
	defer r.s.lock(r.inTx)()
	data := r.s.data

	dayKey := keyOf(models.CapacityKey{ActivityID: key.ActivityID, Date: key.Date})
	day, dayExists := data.capacity[dayKey]
	if key.TimeSlotID == "" && !dayExists {
		day = models.CapacityRecord{ActivityID: key.ActivityID, Date: key.Date, TotalCapacity: defaultCapacity}
		data.capacity[dayKey] = day
		dayExists = true
	}

	k := keyOf(key)
	rec, ok := data.capacity[k]
	if !ok {
		return apperrors.Validation("time_slot_id", "unknown time slot %q", key.TimeSlotID)
	}
	if rec.IsBlocked || (dayExists && day.IsBlocked) {
		return apperrors.ErrDateBlocked
	}
	if rec.ConsumedCapacity+quantity > rec.TotalCapacity {
		return apperrors.ErrCapacityExceeded
	}

	rec.ConsumedCapacity += quantity
	rec.UpdatedAt = r.s.clock()
	data.capacity[k] = rec
	return nil
}

func (r *capacityRepo) Decrement(_ context.Context, key models.CapacityKey, quantity int) error {
	defer r.s.lock(r.inTx)()

	k := keyOf(key)
	rec, ok := r.s.data.capacity[k]
	if !ok || rec.ConsumedCapacity < quantity {
		return errLedgerOutOfSync
	}
	rec.ConsumedCapacity -= quantity
	rec.UpdatedAt = r.s.clock()
	r.s.data.capacity[k] = rec
	return nil
}

// ---- holds ----

type holdRepo struct {
	s    *Store
	inTx bool
}

func (r *holdRepo) Create(_ context.Context, hold *models.Hold) error {
	defer r.s.lock(r.inTx)()

	if _, ok := r.s.data.bookings[hold.BookingID]; !ok {
		return errMissingBooking
	}
	for _, h := range r.s.data.holds {
		if h.BookingID == hold.BookingID {
			return errDuplicateHold
		}
	}
	hold.CreatedAt = r.s.clock()
	r.s.data.holds[hold.ID] = *hold
	return nil
}

func (r *holdRepo) GetByBookingID(_ context.Context, bookingID string) (*models.Hold, error) {
	defer r.s.lock(r.inTx)()
	for _, h := range r.s.data.holds {
		if h.BookingID == bookingID {
			return &h, nil
		}
	}
	return nil, nil
}

func (r *holdRepo) Transition(_ context.Context, holdID string, from []string, to, reason string) (bool, error) {
	defer r.s.lock(r.inTx)()

	h, ok := r.s.data.holds[holdID]
	if !ok {
		return false, nil
	}
	matched := false
	for _, state := range from {
		if h.State == state {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	h.State = to
	h.ReleaseReason = reason
	if to == models.HoldStateHeld {
		h.FinalizedAt = nil
	} else {
		now := r.s.clock()
		h.FinalizedAt = &now
	}
	r.s.data.holds[holdID] = h
	return true, nil
}

// ---- coupons ----

type couponRepo struct {
	s    *Store
	inTx bool
}

func couponKey(code string) string {
	return strings.ToLower(code)
}

func (r *couponRepo) GetByCode(_ context.Context, code string) (*models.Coupon, error) {
	defer r.s.lock(r.inTx)()
	c, ok := r.s.data.coupons[couponKey(code)]
	if !ok {
		return nil, nil
	}
	c.ApplicableActivityIDs = append([]string(nil), c.ApplicableActivityIDs...)
	return &c, nil
}

func (r *couponRepo) IncrementUsage(_ context.Context, code string) (bool, error) {
	defer r.s.lock(r.inTx)()

	c, ok := r.s.data.coupons[couponKey(code)]
	if !ok {
		return false, nil
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false, nil
	}
	c.UsedCount++
	c.UpdatedAt = r.s.clock()
	r.s.data.coupons[couponKey(code)] = c
	return true, nil
}

func (r *couponRepo) Create(_ context.Context, coupon *models.Coupon) error {
	defer r.s.lock(r.inTx)()

	k := couponKey(coupon.Code)
	if _, exists := r.s.data.coupons[k]; exists {
		return apperrors.ErrDuplicateCoupon
	}
	now := r.s.clock()
	coupon.UsedCount = 0
	coupon.CreatedAt, coupon.UpdatedAt = now, now
	stored := *coupon
	stored.ApplicableActivityIDs = append([]string(nil), coupon.ApplicableActivityIDs...)
	r.s.data.coupons[k] = stored
	return nil
}

func (r *couponRepo) Update(_ context.Context, coupon *models.Coupon) error {
	defer r.s.lock(r.inTx)()

	k := couponKey(coupon.Code)
	existing, ok := r.s.data.coupons[k]
	if !ok {
		return apperrors.ErrCouponNotFound
	}
	coupon.Code = existing.Code
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = r.s.clock()
	stored := *coupon
	stored.ApplicableActivityIDs = append([]string(nil), coupon.ApplicableActivityIDs...)
	r.s.data.coupons[k] = stored
	return nil
}

func (r *couponRepo) List(_ context.Context, limit, offset int) ([]models.Coupon, error) {
	defer r.s.lock(r.inTx)()

	out := make([]models.Coupon, 0, len(r.s.data.coupons))
	for _, c := range r.s.data.coupons {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return page(out, limit, offset), nil
}

// ---- bookings ----

type bookingRepo struct {
	s    *Store
	inTx bool
}

func (r *bookingRepo) Create(_ context.Context, b *models.Booking) error {
	defer r.s.lock(r.inTx)()

	for _, existing := range r.s.data.bookings {
		if existing.BookingRef == b.BookingRef {
			return apperrors.ErrDuplicateBookingRef
		}
	}
	now := r.s.clock()
	b.CreatedAt, b.UpdatedAt = now, now
	r.s.data.bookings[b.ID] = *b
	return nil
}

func (r *bookingRepo) find(match func(models.Booking) bool) *models.Booking {
	for _, b := range r.s.data.bookings {
		if match(b) {
			return &b
		}
	}
	return nil
}

func (r *bookingRepo) GetByID(_ context.Context, id string) (*models.Booking, error) {
	defer r.s.lock(r.inTx)()
	b, ok := r.s.data.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *bookingRepo) GetByRef(_ context.Context, ref string) (*models.Booking, error) {
	defer r.s.lock(r.inTx)()
	ref = strings.ToUpper(ref)
	return r.find(func(b models.Booking) bool { return b.BookingRef == ref }), nil
}

func (r *bookingRepo) GetByIDForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return r.GetByID(ctx, id)
}

func (r *bookingRepo) GetByTokenForUpdate(ctx context.Context, token string) (*models.Booking, error) {
	return r.GetByToken(ctx, token)
}

func (r *bookingRepo) GetByToken(_ context.Context, token string) (*models.Booking, error) {
	defer r.s.lock(r.inTx)()
	return r.find(func(b models.Booking) bool {
		return b.Payment.Token != nil && *b.Payment.Token == token
	}), nil
}

func (r *bookingRepo) UpdateState(_ context.Context, b *models.Booking) error {
	defer r.s.lock(r.inTx)()

	existing, ok := r.s.data.bookings[b.ID]
	if !ok {
		return apperrors.ErrBookingNotFound
	}
	existing.Status = b.Status
	existing.PaymentStatus = b.PaymentStatus
	existing.Payment.TransactionID = b.Payment.TransactionID
	existing.Payment.CompletedAt = b.Payment.CompletedAt
	existing.Payment.ErrorCode = b.Payment.ErrorCode
	existing.Payment.ErrorMessage = b.Payment.ErrorMessage
	existing.UpdatedAt = r.s.clock()
	b.UpdatedAt = existing.UpdatedAt
	r.s.data.bookings[b.ID] = existing
	return nil
}

func (r *bookingRepo) SaveCheckout(_ context.Context, id string, p models.PaymentCorrelation) (bool, error) {
	defer r.s.lock(r.inTx)()

	b, ok := r.s.data.bookings[id]
	if !ok || b.Status != models.BookingStatusPending || b.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	if prev := b.Payment; prev.Token != nil && prev.TokenExpiresAt != nil {
		at := r.s.clock()
		if p.InitiatedAt != nil {
			at = *p.InitiatedAt
		}
		if prev.TokenExpiresAt.After(at) {
			return false, nil
		}
	}
	if p.Token != nil {
		for otherID, other := range r.s.data.bookings {
			if otherID != id && other.Payment.Token != nil && *other.Payment.Token == *p.Token {
				return false, errDuplicateToken
			}
		}
	}
	b.Payment.Token = p.Token
	b.Payment.ConversationID = p.ConversationID
	b.Payment.TokenExpiresAt = p.TokenExpiresAt
	b.Payment.InitiatedAt = p.InitiatedAt
	b.Payment.ErrorCode = nil
	b.Payment.ErrorMessage = nil
	b.UpdatedAt = r.s.clock()
	r.s.data.bookings[id] = b
	return true, nil
}

func (r *bookingRepo) RecordPaymentError(_ context.Context, id, code, message string) error {
	defer r.s.lock(r.inTx)()

	b, ok := r.s.data.bookings[id]
	if !ok {
		return nil
	}
	now := r.s.clock()
	b.Payment.ErrorCode = &code
	b.Payment.ErrorMessage = &message
	b.Payment.InitiatedAt = &now
	b.UpdatedAt = now
	r.s.data.bookings[id] = b
	return nil
}

func (r *bookingRepo) List(_ context.Context, f models.BookingFilter) ([]models.Booking, error) {
	defer r.s.lock(r.inTx)()

	out := []models.Booking{}
	for _, b := range r.s.data.bookings {
		if f.ActivityID != "" && b.ActivityID != f.ActivityID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && b.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.From != nil && b.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && b.Date.After(*f.To) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, f.Offset), nil
}

func (r *bookingRepo) ListExpirable(_ context.Context, createdBefore, now time.Time, limit int) ([]models.Booking, error) {
	defer r.s.lock(r.inTx)()

	held := map[string]bool{}
	for _, h := range r.s.data.holds {
		if h.State == models.HoldStateHeld {
			held[h.BookingID] = true
		}
	}

	out := []models.Booking{}
	for _, b := range r.s.data.bookings {
		if b.Status != models.BookingStatusPending || b.PaymentStatus != models.PaymentStatusPending {
			continue
		}
		if !held[b.ID] || !b.CreatedAt.Before(createdBefore) {
			continue
		}
		if b.Payment.TokenExpiresAt != nil && !b.Payment.TokenExpiresAt.Before(now) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

// ---- users ----

type userRepo struct {
	s    *Store
	inTx bool
}

func (r *userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	defer r.s.lock(r.inTx)()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	defer r.s.lock(r.inTx)()
	for _, u := range r.s.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	defer r.s.lock(r.inTx)()

	for id, u := range r.s.data.users {
		if u.Email == user.Email {
			user.UserID = id
			user.RegisteredAt = u.RegisteredAt
			r.s.data.users[id] = *user
			return nil
		}
	}
	r.s.data.nextUser++
	user.UserID = r.s.data.nextUser
	user.RegisteredAt = r.s.clock()
	r.s.data.users[user.UserID] = *user
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
