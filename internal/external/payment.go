package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/metrics"
)

const (
	initializePath = "/payment/iyzipos/checkoutform/initialize/auth/ecom"
	retrievePath   = "/payment/iyzipos/checkoutform/auth/ecom/detail"
)

// Provider payment statuses returned by RetrieveCheckout
const (
	ProviderPaymentSuccess = "SUCCESS"
	ProviderPaymentFailure = "FAILURE"
)

type PaymentClient struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
}

type PaymentConfig struct {
	BaseURL             string
	APIKey              string
	SecretKey           string
	Timeout             time.Duration
	CallbackURL         string
	ResultURL           string
	Locale              string
	EnabledInstallments []int
	TokenTTL            time.Duration
}

type Buyer struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	Email               string `json:"email"`
	GsmNumber           string `json:"gsmNumber,omitempty"`
	IdentityNumber      string `json:"identityNumber"`
	RegistrationAddress string `json:"registrationAddress"`
	City                string `json:"city"`
	Country             string `json:"country"`
	IP                  string `json:"ip,omitempty"`
}

type BasketItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category1 string `json:"category1"`
	ItemType  string `json:"itemType"`
	Price     string `json:"price"`
}

type CheckoutInitRequest struct {
	Locale              string       `json:"locale"`
	ConversationID      string       `json:"conversationId"`
	Price               string       `json:"price"`
	PaidPrice           string       `json:"paidPrice"`
	Currency            string       `json:"currency"`
	BasketID            string       `json:"basketId"`
	PaymentGroup        string       `json:"paymentGroup"`
	CallbackURL         string       `json:"callbackUrl"`
	EnabledInstallments []int        `json:"enabledInstallments,omitempty"`
	Buyer               Buyer        `json:"buyer"`
	BasketItems         []BasketItem `json:"basketItems"`
}

type CheckoutInitResponse struct {
	ConversationID      string
	Token               string
	CheckoutFormContent string
	PaymentPageURL      string
	TokenExpireTime     time.Duration
}

type CheckoutRetrieveRequest struct {
	Locale         string `json:"locale"`
	ConversationID string `json:"conversationId,omitempty"`
	Token          string `json:"token"`
}

type CheckoutResult struct {
	Token          string
	ConversationID string
	BasketID       string
	PaymentStatus  string
	PaymentID      string
	PaidPrice      string
	ErrorCode      string
	ErrorMessage   string
}

// Succeeded reports whether the provider settled the payment
func (r *CheckoutResult) Succeeded() bool {
	return strings.EqualFold(r.PaymentStatus, ProviderPaymentSuccess)
}

// Failed reports a final rejection. Any other status (empty, INIT_THREEDS, ...)
// means the customer has not finished the checkout yet.
func (r *CheckoutResult) Failed() bool {
	return strings.EqualFold(r.PaymentStatus, ProviderPaymentFailure)
}

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &PaymentClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// sign computes the HMAC-SHA256 authorization header for a request body
func (pc *PaymentClient) sign(randomKey, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(pc.secretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(path))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	authString := fmt.Sprintf("apiKey:%s&randomKey:%s&signature:%s", pc.apiKey, randomKey, signature)
	return "IYZWSv2 " + base64.StdEncoding.EncodeToString([]byte(authString))
}

func (pc *PaymentClient) post(ctx context.Context, op, path string, payload any) (gjson.Result, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build request: %w", err)
	}

	randomKey := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-iyzi-rnd", randomKey)
	req.Header.Set("Authorization", pc.sign(randomKey, path, jsonBody))

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return gjson.Result{}, &apperrors.GatewayError{Op: op, Code: "TIMEOUT", Message: "payment provider did not respond in time", Err: err}
		}
		return gjson.Result{}, &apperrors.GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, &apperrors.GatewayError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return gjson.Result{}, &apperrors.GatewayError{Op: op, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: "unexpected status code"}
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &apperrors.GatewayError{Op: op, Message: "provider returned malformed response"}
	}

	result := gjson.ParseBytes(body)
	if result.Get("status").String() != "success" {
		return result, &apperrors.GatewayError{
			Op:      op,
			Code:    result.Get("errorCode").String(),
			Message: result.Get("errorMessage").String(),
		}
	}

	return result, nil
}

// InitializeCheckout creates a hosted checkout form for one basket
func (pc *PaymentClient) InitializeCheckout(ctx context.Context, req CheckoutInitRequest) (resp *CheckoutInitResponse, err error) {
	start := time.Now()
	defer func() { metrics.ObserveGateway("initialize", start, err) }()

	result, err := pc.post(ctx, "initialize", initializePath, req)
	if err != nil {
		return nil, err
	}

	token := result.Get("token").String()
	if token == "" {
		return nil, &apperrors.GatewayError{Op: "initialize", Message: "provider response carries no token"}
	}

	return &CheckoutInitResponse{
		ConversationID:      result.Get("conversationId").String(),
		Token:               token,
		CheckoutFormContent: result.Get("checkoutFormContent").String(),
		PaymentPageURL:      result.Get("paymentPageUrl").String(),
		TokenExpireTime:     time.Duration(result.Get("tokenExpireTime").Int()) * time.Second,
	}, nil
}

// RetrieveCheckout queries the authoritative result of a checkout by token.
// A rejected payment is a valid result, not an error.
func (pc *PaymentClient) RetrieveCheckout(ctx context.Context, req CheckoutRetrieveRequest) (res *CheckoutResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveGateway("retrieve", start, err) }()

	result, err := pc.post(ctx, "retrieve", retrievePath, req)
	if err != nil {
		var gwErr *apperrors.GatewayError
		// failure status with a payment status still describes the checkout
		if errors.As(err, &gwErr) && result.Get("paymentStatus").Exists() {
			return checkoutResult(result), nil
		}
		return nil, err
	}

	return checkoutResult(result), nil
}

func checkoutResult(result gjson.Result) *CheckoutResult {
	return &CheckoutResult{
		Token:          result.Get("token").String(),
		ConversationID: result.Get("conversationId").String(),
		BasketID:       result.Get("basketId").String(),
		PaymentStatus:  result.Get("paymentStatus").String(),
		PaymentID:      result.Get("paymentId").String(),
		PaidPrice:      result.Get("paidPrice").String(),
		ErrorCode:      result.Get("errorCode").String(),
		ErrorMessage:   result.Get("errorMessage").String(),
	}
}
