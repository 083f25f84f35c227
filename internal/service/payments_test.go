package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

func redirectQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "tourbook.test", u.Host)
	assert.Equal(t, "/booking/result", u.Path)
	return u.Query()
}

func TestInitiatePayment(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(env.day(5), 2)

	session, err := env.services.Bookings.InitiatePayment(context.Background(), resp.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", session.Token)
	assert.NotEmpty(t, session.CheckoutFormContent)
	assert.Equal(t, env.now.Add(30*time.Minute), session.ExpiresAt)

	init := env.provider.lastInit
	assert.Equal(t, "2000.00", init.Price)
	assert.Equal(t, "2000.00", init.PaidPrice)
	assert.Equal(t, "TRY", init.Currency)
	assert.Equal(t, resp.BookingRef, init.BasketID)
	assert.Equal(t, []int{1, 3}, init.EnabledInstallments)
	assert.Equal(t, "Ayse", init.Buyer.Name)
	assert.Equal(t, "Yilmaz", init.Buyer.Surname)
	require.Len(t, init.BasketItems, 1)

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusPending, b.Status)
	require.NotNil(t, b.Payment.Token)
	assert.Equal(t, "tok-1", *b.Payment.Token)
	require.NotNil(t, b.Payment.ConversationID)
	assert.Equal(t, init.ConversationID, *b.Payment.ConversationID)
	assert.Equal(t, 1, env.publisher.count(models.EventPaymentInitiated))
}

func TestInitiatePaymentGatewayError(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(env.day(5), 1)
	env.provider.initErr = &apperrors.GatewayError{Op: "initialize", Code: "1001", Message: "api key not found"}

	_, err := env.services.Bookings.InitiatePayment(context.Background(), resp.BookingID)
	assert.ErrorIs(t, err, apperrors.ErrGateway)

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.PaymentStatusPending, b.PaymentStatus)
	assert.Nil(t, b.Payment.Token)
	require.NotNil(t, b.Payment.ErrorCode)
	assert.Equal(t, "1001", *b.Payment.ErrorCode)

	// retryable once the provider recovers
	env.provider.initErr = nil
	env.checkout(resp.BookingID)
	assert.Nil(t, env.booking(resp.BookingID).Payment.ErrorCode)
}

func TestInitiatePaymentRequiresPendingBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := env.create(env.day(5), 1)

	_, err := env.services.Bookings.AdminTransition(ctx, admin, resp.BookingID, models.BookingStatusCancelled)
	require.NoError(t, err)

	_, err = env.services.Bookings.InitiatePayment(ctx, resp.BookingID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = env.services.Bookings.InitiatePayment(ctx, "6b0c1f8e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)
}

func TestCallbackSuccess(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, true, "")

	result, err := env.callback(token)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.False(t, result.Duplicate)

	q := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "success", q.Get("status"))
	assert.Equal(t, resp.BookingRef, q.Get("bookingRef"))
	assert.Empty(t, q.Get("error"))

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	require.NotNil(t, b.Payment.TransactionID)
	assert.Equal(t, "pay-"+token, *b.Payment.TransactionID)
	assert.Equal(t, models.HoldStateConfirmed, env.hold(resp.BookingID).State)
	assert.Equal(t, 2, env.consumed(date))
}

func TestCallbackIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, true, "")

	first, err := env.callback(token)
	require.NoError(t, err)
	before := env.booking(resp.BookingID)

	second, err := env.callback(token)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Outcome, second.Outcome)
	assert.Equal(t, first.RedirectURL, second.RedirectURL)

	after := env.booking(resp.BookingID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.PaymentStatus, after.PaymentStatus)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, 2, env.consumed(date))
	assert.Equal(t, 1, env.publisher.count(models.EventBookingConfirmed))
}

func TestCallbackFailureReleasesCapacity(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, false, "10051")

	result, err := env.callback(token)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)

	q := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "failed", q.Get("status"))
	assert.Equal(t, "10051", q.Get("error"))

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.PaymentStatusFailed, b.PaymentStatus)
	assert.Equal(t, models.HoldStateReleased, env.hold(resp.BookingID).State)
	assert.Zero(t, env.consumed(date))
	assert.Equal(t, 1, env.publisher.count(models.EventPaymentFailed))

	// a success redelivered after the failure is ignored
	env.provider.settle(token, true, "")
	again, err := env.callback(token)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, models.PaymentStatusFailed, env.booking(resp.BookingID).PaymentStatus)
}

func TestCallbackWithoutBooking(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(env.day(5), 1)

	result, err := env.services.Payments.HandleCallback(context.Background(), "application/x-www-form-urlencoded", []byte("status=success"))
	assert.ErrorIs(t, err, apperrors.ErrReconciliation)
	q := redirectQuery(t, result.RedirectURL)
	assert.Equal(t, "failed", q.Get("status"))
	assert.Equal(t, CallbackErrorMissingToken, q.Get("error"))

	result, err = env.services.Payments.HandleCallback(context.Background(), "application/json", []byte(`{"token":"forged"}`))
	assert.ErrorIs(t, err, apperrors.ErrReconciliation)
	assert.Equal(t, CallbackErrorUnknownToken, redirectQuery(t, result.RedirectURL).Get("error"))

	assert.Zero(t, env.provider.retrieves)
	assert.Equal(t, models.PaymentStatusPending, env.booking(resp.BookingID).PaymentStatus)
}

func TestCallbackGatewayErrorLeavesBookingPending(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 1)
	token := env.checkout(resp.BookingID)
	env.provider.retrieveErr = &apperrors.GatewayError{Op: "retrieve", Code: "TIMEOUT"}

	result, err := env.callback(token)
	assert.ErrorIs(t, err, apperrors.ErrGateway)
	assert.Equal(t, CallbackErrorGateway, redirectQuery(t, result.RedirectURL).Get("error"))

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusPending, b.Status)
	assert.Equal(t, models.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, models.HoldStateHeld, env.hold(resp.BookingID).State)
	assert.Equal(t, 1, env.consumed(date))
}

func TestCallbackBeforeSettlementChangesNothing(t *testing.T) {
	for _, status := range []string{"", "INIT_THREEDS", "CALLBACK_THREEDS"} {
		t.Run("status "+status, func(t *testing.T) {
			env := newTestEnv(t)
			date := env.day(5)
			resp := env.create(date, 2)
			token := env.checkout(resp.BookingID)
			env.provider.inProgress(token, status)

			result, err := env.callback(token)
			assert.ErrorIs(t, err, apperrors.ErrGateway)
			q := redirectQuery(t, result.RedirectURL)
			assert.Equal(t, "failed", q.Get("status"))
			assert.Equal(t, CallbackErrorPending, q.Get("error"))

			b := env.booking(resp.BookingID)
			assert.Equal(t, models.BookingStatusPending, b.Status)
			assert.Equal(t, models.PaymentStatusPending, b.PaymentStatus)
			assert.Equal(t, models.HoldStateHeld, env.hold(resp.BookingID).State)
			assert.Equal(t, 2, env.consumed(date))
			assert.Zero(t, env.publisher.count(models.EventPaymentFailed))

			// the real outcome still lands once the customer finishes
			env.provider.settle(token, true, "")
			result, err = env.callback(token)
			require.NoError(t, err)
			assert.False(t, result.Duplicate)
			assert.Equal(t, models.OutcomeSuccess, result.Outcome)
			assert.Equal(t, models.PaymentStatusPaid, env.booking(resp.BookingID).PaymentStatus)
			assert.Equal(t, 2, env.consumed(date))
		})
	}
}

func TestReinitiateWhileCheckoutInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := env.create(env.day(5), 2)
	token := env.checkout(resp.BookingID)

	_, err := env.services.Bookings.InitiatePayment(ctx, resp.BookingID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, env.provider.issued)

	b := env.booking(resp.BookingID)
	require.NotNil(t, b.Payment.Token)
	assert.Equal(t, token, *b.Payment.Token)

	// customer pays on the first form
	env.provider.settle(token, true, "")
	result, err := env.callback(token)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, env.booking(resp.BookingID).PaymentStatus)
}

func TestReinitiateReconcilesSettledCheckout(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, true, "")

	_, err := env.services.Bookings.InitiatePayment(context.Background(), resp.BookingID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	assert.Equal(t, 1, env.provider.issued)

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, 2, env.consumed(date))
	assert.Equal(t, 1, env.publisher.count(models.EventBookingConfirmed))

	// the delayed callback is now a duplicate
	result, err := env.callback(token)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
}

func TestReinitiateAfterTokenExpiry(t *testing.T) {
	env := newTestEnv(t)
	resp := env.create(env.day(5), 1)
	first := env.checkout(resp.BookingID)

	env.advance(31 * time.Minute)
	second := env.checkout(resp.BookingID)
	assert.NotEqual(t, first, second)

	_, err := env.callback(first)
	assert.ErrorIs(t, err, apperrors.ErrReconciliation)

	env.provider.settle(second, true, "")
	result, err := env.callback(second)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
}

func TestLateSuccessReacquiresCapacity(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, true, "")

	env.advance(2 * time.Hour)
	expired, err := env.services.Bookings.ExpireStaleHolds(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, expired)
	assert.Zero(t, env.consumed(date))

	result, err := env.callback(token)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusConfirmed, b.Status)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, models.HoldStateConfirmed, env.hold(resp.BookingID).State)
	assert.Equal(t, 2, env.consumed(date))
}

func TestLateSuccessWithoutCapacity(t *testing.T) {
	env := newTestEnv(t)
	date := env.day(5)
	env.setCapacity(date, 2)

	resp := env.create(date, 2)
	token := env.checkout(resp.BookingID)
	env.provider.settle(token, true, "")

	env.advance(2 * time.Hour)
	_, err := env.services.Bookings.ExpireStaleHolds(context.Background(), 0)
	require.NoError(t, err)
	env.create(date, 2)

	result, err := env.callback(token)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, result.Outcome)
	assert.Equal(t, ErrorCodeCapacityReleased, result.ErrorCode)

	b := env.booking(resp.BookingID)
	assert.Equal(t, models.BookingStatusCancelled, b.Status)
	assert.Equal(t, models.PaymentStatusFailed, b.PaymentStatus)
	assert.True(t, b.InLockstep())
	assert.Equal(t, 2, env.consumed(date))
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	resp := env.create(env.day(5), 1)

	byID, err := env.services.Payments.GetStatus(ctx, resp.BookingID)
	require.NoError(t, err)
	byRef, err := env.services.Payments.GetStatus(ctx, resp.BookingRef)
	require.NoError(t, err)

	assert.Equal(t, byID, byRef)
	assert.Equal(t, models.PaymentStatusPending, byID.PaymentStatus)

	_, err = env.services.Payments.GetStatus(ctx, "TB-NOPE")
	assert.ErrorIs(t, err, apperrors.ErrBookingNotFound)
}

func TestExtractToken(t *testing.T) {
	assert.Equal(t, "abc", extractToken("application/x-www-form-urlencoded", []byte("token=abc&status=x")))
	assert.Equal(t, "abc", extractToken("application/json; charset=utf-8", []byte(`{"token":" abc "}`)))
	assert.Equal(t, "abc", extractToken("", []byte(`{"token":"abc"}`)))
	assert.Empty(t, extractToken("application/x-www-form-urlencoded", []byte("")))
}
