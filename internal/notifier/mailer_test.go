package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"tourbook/internal/models"
)

type fakeSender struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func confirmedEvent() *models.BookingConfirmedEvent {
	return &models.BookingConfirmedEvent{
		BookingID:     "b-1",
		BookingRef:    "TB-ABC-1234",
		Date:          "2026-11-20",
		GuestCount:    2,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		TotalPrice:    "900",
		Currency:      "TRY",
		Timestamp:     time.Now(),
	}
}

func TestSendBookingConfirmation(t *testing.T) {
	fake := &fakeSender{}
	m := &Mailer{client: fake, from: "noreply@example.com", fromName: "Tours"}

	require.NoError(t, m.SendBookingConfirmation(context.Background(), confirmedEvent()))
	require.Len(t, fake.sent, 1)

	subject := fake.sent[0].GetGenHeader(mail.HeaderSubject)
	require.Len(t, subject, 1)
	assert.Contains(t, subject[0], "TB-ABC-1234")
	to := fake.sent[0].GetToString()
	require.Len(t, to, 1)
	assert.Contains(t, to[0], "ada@example.com")
}

func TestSendBookingConfirmationInvalidRecipient(t *testing.T) {
	fake := &fakeSender{}
	m := &Mailer{client: fake, from: "noreply@example.com"}

	event := confirmedEvent()
	event.CustomerEmail = "not an address"

	err := m.SendBookingConfirmation(context.Background(), event)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Empty(t, fake.sent)
}

func TestSendBookingConfirmationTransportError(t *testing.T) {
	fake := &fakeSender{err: errors.New("dial tcp: connection refused")}
	m := &Mailer{client: fake, from: "noreply@example.com"}

	err := m.SendBookingConfirmation(context.Background(), confirmedEvent())
	assert.ErrorContains(t, err, "TB-ABC-1234")
}
