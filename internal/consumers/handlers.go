package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/stan.go"

	"tourbook/internal/models"
	"tourbook/internal/notifier"
)

const sendTimeout = 20 * time.Second

// errMalformed помечает сообщения, которые не обработаются и при повторной доставке
var errMalformed = errors.New("malformed message")

type confirmationSender interface {
	SendBookingConfirmation(ctx context.Context, event *models.BookingConfirmedEvent) error
}

type Handlers struct {
	mailer confirmationSender
}

// NewHandlers. mailer может быть nil: тогда уведомления только логируются
func NewHandlers(mailer confirmationSender) *Handlers {
	return &Handlers{mailer: mailer}
}

func (h *Handlers) HandleBookingConfirmed(m *stan.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	settle(m, models.EventBookingConfirmed, h.bookingConfirmed(ctx, m.Data))
}

func (h *Handlers) bookingConfirmed(ctx context.Context, data []byte) error {
	var event models.BookingConfirmedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	if h.mailer == nil {
		slog.Info("Notifications disabled, skipping confirmation", "booking_ref", event.BookingRef)
		return nil
	}

	err := h.mailer.SendBookingConfirmation(ctx, &event)
	if errors.Is(err, notifier.ErrInvalidAddress) {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return err
}

func (h *Handlers) HandleBookingCancelled(m *stan.Msg) {
	settle(m, models.EventBookingCancelled, logEvent[models.BookingCancelledEvent](m.Data, "Booking cancelled"))
}

func (h *Handlers) HandleHoldReleased(m *stan.Msg) {
	settle(m, models.EventHoldReleased, logEvent[models.HoldReleasedEvent](m.Data, "Capacity hold released"))
}

func (h *Handlers) HandlePaymentFailed(m *stan.Msg) {
	settle(m, models.EventPaymentFailed, logEvent[models.PaymentFailedEvent](m.Data, "Payment failed"))
}

func logEvent[T any](data []byte, msg string) error {
	var event T
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	slog.Info(msg, "event", event)
	return nil
}

// settle подтверждает сообщение, если повтор ничего не изменит.
// Временные ошибки оставляем без ack, брокер доставит сообщение снова после AckWait.
func settle(m *stan.Msg, subject string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, errMalformed):
		slog.Error("Dropping message", "subject", subject, "sequence", m.Sequence, "error", err)
	default:
		slog.Error("Failed to handle message, awaiting redelivery",
			"subject", subject, "sequence", m.Sequence, "error", err)
		return
	}

	if err := m.Ack(); err != nil {
		slog.Error("Failed to ack message", "subject", subject, "sequence", m.Sequence, "error", err)
	}
}
