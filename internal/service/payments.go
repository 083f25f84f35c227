package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/external"
	"tourbook/internal/logger"
	"tourbook/internal/messaging"
	"tourbook/internal/models"
	"tourbook/internal/repository"
)

// Placeholders for buyer fields the provider requires but bookings do not collect
const (
	defaultIdentityNumber = "11111111111"
	defaultAddress        = "N/A"
	defaultCity           = "Istanbul"
	defaultCountry        = "Turkey"
)

// Redirect error codes for callbacks that never reach a booking
const (
	CallbackErrorMissingToken = "MISSING_TOKEN"
	CallbackErrorUnknownToken = "UNKNOWN_TOKEN"
	CallbackErrorGateway      = "GATEWAY_ERROR"
	CallbackErrorPending      = "PAYMENT_PENDING"
)

// errCheckoutUnsettled means the provider has not reached a final payment status
var errCheckoutUnsettled = errors.New("checkout is not settled yet")

type checkoutProvider interface {
	InitializeCheckout(ctx context.Context, req external.CheckoutInitRequest) (*external.CheckoutInitResponse, error)
	RetrieveCheckout(ctx context.Context, req external.CheckoutRetrieveRequest) (*external.CheckoutResult, error)
}

// paymentReconciler is the only way to move a booking's payment status.
// PaymentService is its sole holder.
type paymentReconciler interface {
	reconcilePayment(ctx context.Context, token string, verdict paymentVerdict) (*models.ReconciliationResult, error)
	lookup(ctx context.Context, idOrRef string) (*models.Booking, error)
}

// PaymentService bridges bookings and the hosted checkout provider
type PaymentService struct {
	repos      *repository.Repositories
	provider   checkoutProvider
	reconciler paymentReconciler
	publisher  messaging.Publisher
	cfg        external.PaymentConfig
	clock      func() time.Time
}

func NewPaymentService(repos *repository.Repositories, provider checkoutProvider, reconciler paymentReconciler, publisher messaging.Publisher, cfg external.PaymentConfig) *PaymentService {
	if cfg.Locale == "" {
		cfg.Locale = "tr"
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 30 * time.Minute
	}
	return &PaymentService{
		repos:      repos,
		provider:   provider,
		reconciler: reconciler,
		publisher:  publisher,
		cfg:        cfg,
		clock:      time.Now,
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func (s *PaymentService) checkoutRequest(conversationID string, b *models.Booking, a *models.Activity) external.CheckoutInitRequest {
	name, surname := splitName(b.Customer.Name)
	price := b.TotalPrice.StringFixed(2)

	return external.CheckoutInitRequest{
		Locale:              s.cfg.Locale,
		ConversationID:      conversationID,
		Price:               price,
		PaidPrice:           price,
		Currency:            b.Currency,
		BasketID:            b.BookingRef,
		PaymentGroup:        "PRODUCT",
		CallbackURL:         s.cfg.CallbackURL,
		EnabledInstallments: s.cfg.EnabledInstallments,
		Buyer: external.Buyer{
			ID:                  b.ID,
			Name:                name,
			Surname:             surname,
			Email:               b.Customer.Email,
			GsmNumber:           b.Customer.Phone,
			IdentityNumber:      defaultIdentityNumber,
			RegistrationAddress: defaultAddress,
			City:                defaultCity,
			Country:             defaultCountry,
		},
		BasketItems: []external.BasketItem{{
			ID:        a.ID,
			Name:      fmt.Sprintf("%s x%d (%s)", a.Name, b.GuestCount, b.Date.Format(models.DateLayout)),
			Category1: "Tour",
			ItemType:  "VIRTUAL",
			Price:     price,
		}},
	}
}

// initiate submits the checkout and stores the correlation on the booking.
// Provider rejections only record the attempt.
func (s *PaymentService) initiate(ctx context.Context, booking *models.Booking, activity *models.Activity) (*models.CheckoutSession, error) {
	log := logger.WithContext(ctx)

	if err := s.resolvePrevious(ctx, booking); err != nil {
		return nil, err
	}

	conversationID := uuid.NewString()

	resp, err := s.provider.InitializeCheckout(ctx, s.checkoutRequest(conversationID, booking, activity))
	if err != nil {
		var gwErr *apperrors.GatewayError
		if errors.As(err, &gwErr) {
			if recErr := s.repos.Bookings.RecordPaymentError(ctx, booking.ID, gwErr.Code, gwErr.Message); recErr != nil {
				log.Error("Failed to record payment error", "booking_id", booking.ID, "error", recErr)
			}
		}
		log.Warn("Checkout initialization failed", "booking_ref", booking.BookingRef, "error", err)
		return nil, err
	}
	if resp.ConversationID != "" && resp.ConversationID != conversationID {
		return nil, &apperrors.GatewayError{Op: "initialize", Message: "conversation id mismatch"}
	}

	now := s.clock()
	ttl := resp.TokenExpireTime
	if ttl <= 0 {
		ttl = s.cfg.TokenTTL
	}
	expiresAt := now.Add(ttl)

	saved, err := s.repos.Bookings.SaveCheckout(ctx, booking.ID, models.PaymentCorrelation{
		Token:          &resp.Token,
		ConversationID: &conversationID,
		TokenExpiresAt: &expiresAt,
		InitiatedAt:    &now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save checkout: %w", err)
	}
	if !saved {
		return nil, fmt.Errorf("%w: booking left pending or another checkout started", apperrors.ErrInvalidTransition)
	}

	log.Info("Checkout initialized",
		"booking_ref", booking.BookingRef,
		"conversation_id", conversationID,
		"expires_at", expiresAt)

	publish(ctx, s.publisher, models.EventPaymentInitiated, models.PaymentInitiatedEvent{
		BookingID:      booking.ID,
		ConversationID: conversationID,
		TotalPrice:     booking.TotalPrice.String(),
		Timestamp:      now,
	})

	return &models.CheckoutSession{
		Token:               resp.Token,
		CheckoutFormContent: resp.CheckoutFormContent,
		PaymentURL:          resp.PaymentPageURL,
		ExpiresAt:           expiresAt,
	}, nil
}

// resolvePrevious keeps a live checkout token from being replaced. A settled
// checkout is reconciled first; one still in progress blocks the new attempt.
func (s *PaymentService) resolvePrevious(ctx context.Context, booking *models.Booking) error {
	p := booking.Payment
	if p.Token == nil || p.TokenExpiresAt == nil || !s.clock().Before(*p.TokenExpiresAt) {
		return nil
	}

	checkout, err := s.retrieve(ctx, *p.Token, p.ConversationID)
	if err != nil {
		return err
	}
	verdict, err := verdictOf(checkout)
	if errors.Is(err, errCheckoutUnsettled) {
		return fmt.Errorf("%w: checkout %s is in progress until %s",
			apperrors.ErrInvalidTransition, booking.BookingRef, p.TokenExpiresAt.Format(time.RFC3339))
	}

	result, err := s.reconciler.reconcilePayment(ctx, *p.Token, verdict)
	if err != nil {
		return err
	}
	logger.WithContext(ctx).Info("Previous checkout settled before a new attempt",
		"booking_ref", booking.BookingRef, "outcome", result.Outcome)
	return fmt.Errorf("%w: previous checkout already %s", apperrors.ErrInvalidTransition, result.Outcome)
}

func (s *PaymentService) retrieve(ctx context.Context, token string, conversationID *string) (*external.CheckoutResult, error) {
	req := external.CheckoutRetrieveRequest{Locale: s.cfg.Locale, Token: token}
	if conversationID != nil {
		req.ConversationID = *conversationID
	}
	checkout, err := s.provider.RetrieveCheckout(ctx, req)
	if err != nil {
		return nil, err
	}
	if checkout.Token != "" && checkout.Token != token {
		return nil, fmt.Errorf("%w: provider returned a different token", apperrors.ErrReconciliation)
	}
	return checkout, nil
}

// verdictOf maps the provider status onto a verdict. Only SUCCESS and FAILURE are final.
func verdictOf(checkout *external.CheckoutResult) (paymentVerdict, error) {
	if !checkout.Succeeded() && !checkout.Failed() {
		return paymentVerdict{}, fmt.Errorf("%w: provider status %q", errCheckoutUnsettled, checkout.PaymentStatus)
	}
	return paymentVerdict{
		Success:        checkout.Succeeded(),
		ConversationID: checkout.ConversationID,
		TransactionID:  checkout.PaymentID,
		ErrorCode:      checkout.ErrorCode,
		ErrorMessage:   checkout.ErrorMessage,
	}, nil
}

// extractToken reads the token from a form-encoded or JSON callback body
func extractToken(contentType string, raw []byte) string {
	if strings.Contains(contentType, "application/json") || gjson.ValidBytes(raw) && gjson.ParseBytes(raw).IsObject() {
		return strings.TrimSpace(gjson.GetBytes(raw, "token").String())
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(values.Get("token"))
}

// HandleCallback resolves a provider callback into a redirect. The result is
// always usable for redirecting, even when an error is returned.
func (s *PaymentService) HandleCallback(ctx context.Context, contentType string, raw []byte) (*models.ReconciliationResult, error) {
	result, err := s.handleCallback(ctx, contentType, raw)
	if result == nil {
		result = &models.ReconciliationResult{Outcome: models.OutcomeFailed, ErrorCode: CallbackErrorGateway}
	}
	result.RedirectURL = s.redirectURL(result)
	return result, err
}

func (s *PaymentService) handleCallback(ctx context.Context, contentType string, raw []byte) (*models.ReconciliationResult, error) {
	log := logger.WithContext(ctx)

	token := extractToken(contentType, raw)
	if token == "" {
		log.Warn("Payment callback without token")
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, ErrorCode: CallbackErrorMissingToken},
			fmt.Errorf("%w: missing token", apperrors.ErrReconciliation)
	}

	booking, err := s.repos.Bookings.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find booking by token: %w", err)
	}
	if booking == nil {
		log.Warn("Payment callback for unknown token")
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, ErrorCode: CallbackErrorUnknownToken},
			fmt.Errorf("%w: unknown token", apperrors.ErrReconciliation)
	}

	checkout, err := s.retrieve(ctx, token, booking.Payment.ConversationID)
	if errors.Is(err, apperrors.ErrReconciliation) {
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, BookingRef: booking.BookingRef, ErrorCode: CallbackErrorUnknownToken}, err
	}
	if err != nil {
		// booking stays pending for a later retry or the expiry sweep
		log.Error("Failed to retrieve checkout result", "booking_ref", booking.BookingRef, "error", err)
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, BookingRef: booking.BookingRef, ErrorCode: CallbackErrorGateway}, err
	}

	verdict, err := verdictOf(checkout)
	if err != nil {
		// early callback: booking and hold stay as they are until the status is final
		log.Info("Payment not settled yet", "booking_ref", booking.BookingRef, "provider_status", checkout.PaymentStatus)
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, BookingRef: booking.BookingRef, ErrorCode: CallbackErrorPending},
			&apperrors.GatewayError{Op: "retrieve", Code: CallbackErrorPending, Message: "payment is not settled yet", Err: err}
	}

	result, err := s.reconciler.reconcilePayment(ctx, token, verdict)
	if err != nil {
		return &models.ReconciliationResult{Outcome: models.OutcomeFailed, BookingRef: booking.BookingRef, ErrorCode: CallbackErrorGateway}, err
	}
	return result, nil
}

func (s *PaymentService) redirectURL(r *models.ReconciliationResult) string {
	q := url.Values{}
	q.Set("status", r.Outcome)
	if r.BookingRef != "" {
		q.Set("bookingRef", r.BookingRef)
	}
	if r.ErrorCode != "" {
		q.Set("error", r.ErrorCode)
	}

	base := s.cfg.ResultURL
	if base == "" {
		base = "/"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// GetStatus returns the client-facing status projection by booking id or reference
func (s *PaymentService) GetStatus(ctx context.Context, idOrRef string) (*models.BookingStatusResponse, error) {
	b, err := s.reconciler.lookup(ctx, strings.TrimSpace(idOrRef))
	if err != nil {
		return nil, err
	}
	return &models.BookingStatusResponse{
		BookingID:     b.ID,
		BookingRef:    b.BookingRef,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		TotalPrice:    b.TotalPrice,
		Currency:      b.Currency,
	}, nil
}
