package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"

	"tourbook/internal/models"
)

// ErrInvalidAddress marks a message that no retry can deliver
var ErrInvalidAddress = errors.New("invalid address")

type Config struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends booking notifications over SMTP
type Mailer struct {
	client   sender
	from     string
	fromName string
}

func NewMailer(cfg Config) (*Mailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	c, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &Mailer{client: c, from: cfg.From, fromName: cfg.FromName}, nil
}

func (m *Mailer) buildConfirmation(event *models.BookingConfirmedEvent) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return nil, fmt.Errorf("%w: from %q: %v", ErrInvalidAddress, m.from, err)
	}
	if err := msg.AddToFormat(event.CustomerName, event.CustomerEmail); err != nil {
		return nil, fmt.Errorf("%w: recipient %q: %v", ErrInvalidAddress, event.CustomerEmail, err)
	}

	msg.Subject(fmt.Sprintf("Booking %s confirmed", event.BookingRef))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Booking reference: %s\nDate: %s\nGuests: %d\nTotal: %s %s\n",
		event.BookingRef, event.Date, event.GuestCount, event.TotalPrice, event.Currency))

	return msg, nil
}

// SendBookingConfirmation mails the customer once a booking is paid
func (m *Mailer) SendBookingConfirmation(ctx context.Context, event *models.BookingConfirmedEvent) error {
	msg, err := m.buildConfirmation(event)
	if err != nil {
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send confirmation for %s: %w", event.BookingRef, err)
	}

	slog.Info("Booking confirmation sent", "booking_ref", event.BookingRef)
	return nil
}
