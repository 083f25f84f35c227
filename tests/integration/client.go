//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"tourbook/internal/models"
)

// TestClient provides methods for testing the API
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client

	adminEmail    string
	adminPassword string
}

// NewTestClient creates a new test client. Redirects are not followed so the
// payment callback can be inspected.
func NewTestClient(baseURL string) *TestClient {
	email, password := AdminCredentials()
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		adminEmail:    email,
		adminPassword: password,
	}
}

// makeRequest makes an HTTP request and returns the response
func (c *TestClient) makeRequest(t *testing.T, method, path string, body any, admin bool) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.SetBasicAuth(c.adminEmail, c.adminPassword)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

func decode[T any](t *testing.T, resp *http.Response, expected int) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

// CreateBooking creates a new booking
func (c *TestClient) CreateBooking(t *testing.T, req models.CreateBookingRequest) *models.CreateBookingResponse {
	resp := c.makeRequest(t, http.MethodPost, "/api/bookings", req, false)
	booking := decode[models.CreateBookingResponse](t, resp, http.StatusCreated)
	return &booking
}

// CreateBookingStatus posts a booking and returns only the status code
func (c *TestClient) CreateBookingStatus(t *testing.T, req models.CreateBookingRequest) int {
	resp := c.makeRequest(t, http.MethodPost, "/api/bookings", req, false)
	resp.Body.Close()
	return resp.StatusCode
}

// GetStatus returns the public booking status
func (c *TestClient) GetStatus(t *testing.T, idOrRef string) models.BookingStatusResponse {
	resp := c.makeRequest(t, http.MethodGet, "/api/bookings/"+url.PathEscape(idOrRef)+"/status", nil, false)
	return decode[models.BookingStatusResponse](t, resp, http.StatusOK)
}

// Availability lists day availability for an activity
func (c *TestClient) Availability(t *testing.T, activityID, from, to string) []models.DayAvailability {
	path := "/api/activities/" + activityID + "/availability?from=" + from + "&to=" + to
	resp := c.makeRequest(t, http.MethodGet, path, nil, false)
	return decode[[]models.DayAvailability](t, resp, http.StatusOK)
}

// PreviewCoupon evaluates a coupon without redeeming it
func (c *TestClient) PreviewCoupon(t *testing.T, req models.CouponPreviewRequest) models.CouponPreviewResponse {
	resp := c.makeRequest(t, http.MethodPost, "/api/coupons/preview", req, false)
	return decode[models.CouponPreviewResponse](t, resp, http.StatusOK)
}

// SetDay updates one day as admin
func (c *TestClient) SetDay(t *testing.T, activityID, date string, req models.SetDayRequest) models.DayRecordResponse {
	resp := c.makeRequest(t, http.MethodPut, "/api/admin/availability/"+activityID+"/"+date, req, true)
	return decode[models.DayRecordResponse](t, resp, http.StatusOK)
}

// UpdateStatus transitions a booking as admin and returns the status code
func (c *TestClient) UpdateStatus(t *testing.T, bookingID, status string) int {
	resp := c.makeRequest(t, http.MethodPut, "/api/admin/bookings/"+bookingID+"/status",
		models.UpdateBookingStatusRequest{Status: status}, true)
	resp.Body.Close()
	return resp.StatusCode
}

// PaymentCallback posts a raw form callback and returns the redirect location
func (c *TestClient) PaymentCallback(t *testing.T, token string) *url.URL {
	t.Helper()

	resp, err := c.HTTPClient.Post(c.BaseURL+"/api/payments/callback",
		"application/x-www-form-urlencoded", strings.NewReader(url.Values{"token": {token}}.Encode()))
	if err != nil {
		t.Fatalf("Failed to post callback: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Invalid redirect: %v", err)
	}
	return location
}

// HealthCheck checks if the API is healthy
func (c *TestClient) HealthCheck(t *testing.T) {
	resp := c.makeRequest(t, http.MethodGet, "/health", nil, false)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Health check failed with status %d", resp.StatusCode)
	}
}
