package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"tourbook/internal/external"
	"tourbook/internal/models"
	"tourbook/internal/repository/memory"
	"tourbook/internal/service"
)

const activityID = "cappadocia-balloon"

// fakeCheckoutServer отвечает как платежный провайдер: initialize выдает токен,
// detail возвращает paymentStatus из outcome
func fakeCheckoutServer(t *testing.T, outcome *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "IYZWSv2 "))
		w.Header().Set("Content-Type", "application/json")

		conversationID := gjson.GetBytes(body, "conversationId").String()
		switch r.URL.Path {
		case "/payment/iyzipos/checkoutform/initialize/auth/ecom":
			json.NewEncoder(w).Encode(map[string]any{
				"status":              "success",
				"conversationId":      conversationID,
				"token":               "tok-" + gjson.GetBytes(body, "basketId").String(),
				"checkoutFormContent": "<div id=\"iyzipay-checkout-form\"></div>",
				"tokenExpireTime":     1800,
			})
		case "/payment/iyzipos/checkoutform/auth/ecom/detail":
			json.NewEncoder(w).Encode(map[string]any{
				"status":         "success",
				"conversationId": conversationID,
				"token":          gjson.GetBytes(body, "token").String(),
				"paymentStatus":  *outcome,
				"paymentId":      "22416035",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func setupRouter(t *testing.T) (*gin.Engine, *string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, RegisterValidators())

	outcome := external.ProviderPaymentSuccess
	provider := fakeCheckoutServer(t, &outcome)
	t.Cleanup(provider.Close)

	paymentCfg := external.PaymentConfig{
		BaseURL:     provider.URL,
		APIKey:      "sandbox-key",
		SecretKey:   "sandbox-secret",
		Timeout:     5 * time.Second,
		CallbackURL: "http://localhost/api/payments/callback",
		ResultURL:   "https://tourbook.test/result",
	}

	store := memory.NewStore()
	activities := memory.NewActivities(models.Activity{
		ID:              activityID,
		Name:            "Cappadocia Balloon Ride",
		Price:           decimal.NewFromInt(2500),
		Currency:        "TRY",
		MaxParticipants: 8,
	})
	services := service.NewServices(store.Repositories(activities), nil, external.NewPaymentClient(paymentCfg), paymentCfg, service.Policy{
		DefaultCapacity:     4,
		LeadTimeDays:        1,
		Location:            time.UTC,
		MaxAvailabilityDays: 366,
		RefPrefix:           "TB",
		HoldTTL:             45 * time.Minute,
	})
	h := NewHandlers(services, time.UTC)

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/bookings", h.CreateBooking)
		api.POST("/bookings/:id/payment", h.InitiatePayment)
		api.GET("/bookings/:id/status", h.GetBookingStatus)
		api.GET("/activities/:activityId/availability", h.GetAvailability)
		api.POST("/coupons/preview", h.PreviewCoupon)
		api.POST("/payments/callback", h.PaymentCallback)
		api.POST("/payments/notifications", h.OnPaymentUpdates)
	}

	// роль задается заголовком вместо BasicAuth
	admin := r.Group("/api/admin", func(c *gin.Context) {
		switch c.GetHeader("X-Test-Role") {
		case "admin":
			c.Set(PrincipalKey, models.Principal{UserID: 1, IsAdmin: true})
		case "staff":
			c.Set(PrincipalKey, models.Principal{UserID: 2})
		}
		c.Next()
	})
	{
		admin.PUT("/availability/:activityId/:date", h.SetDay)
		admin.POST("/availability/:activityId/bulk", h.BulkSetRange)
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/bookings/:id", h.GetBooking)
		admin.PUT("/bookings/:id/status", h.UpdateBookingStatus)
		admin.POST("/coupons", h.CreateCoupon)
		admin.PUT("/coupons/:code", h.UpdateCoupon)
		admin.GET("/coupons", h.ListCoupons)
		admin.GET("/coupons/:code", h.GetCoupon)
	}

	return r, &outcome
}

func doJSON(r *gin.Engine, method, path string, body any, role string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reader = bytes.NewReader(jsonBody)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func futureDate(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format(models.DateLayout)
}

func bookingBody(date string, guests int) gin.H {
	return gin.H{
		"activity_id": activityID,
		"date":        date,
		"guest_count": guests,
		"customer":    gin.H{"name": "Mehmet Demir", "email": "mehmet@example.com"},
	}
}

func createBooking(t *testing.T, r *gin.Engine, date string, guests int) models.CreateBookingResponse {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/bookings", bookingBody(date, guests), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var response models.CreateBookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestCreateBooking(t *testing.T) {
	r, _ := setupRouter(t)

	response := createBooking(t, r, futureDate(10), 2)
	assert.NotEmpty(t, response.BookingID)
	assert.True(t, strings.HasPrefix(response.BookingRef, "TB-"))
	assert.True(t, decimal.NewFromInt(5000).Equal(response.TotalPrice))
	assert.Equal(t, "TRY", response.Currency)
}

func TestCreateBookingErrors(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name string
		body gin.H
		code int
	}{
		{"zero guests", bookingBody(futureDate(10), 0), http.StatusBadRequest},
		{"bad date", bookingBody("10.10.2030", 1), http.StatusBadRequest},
		{"lead time", bookingBody(futureDate(0), 1), http.StatusConflict},
		{"over capacity", bookingBody(futureDate(10), 5), http.StatusConflict},
		{"unknown activity", gin.H{"activity_id": "nope", "date": futureDate(10), "guest_count": 1, "customer": gin.H{"name": "A", "email": "a@example.com"}}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/api/bookings", tt.body, "")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestCreateBookingStrictCoupon(t *testing.T) {
	r, _ := setupRouter(t)

	body := bookingBody(futureDate(10), 1)
	body["coupon_code"] = "NOPE"
	body["strict_coupon"] = "true"
	w := doJSON(r, http.MethodPost, "/api/bookings", body, "")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_found", gjson.Get(w.Body.String(), "reason").String())
}

func TestPaymentFlow(t *testing.T) {
	r, outcome := setupRouter(t)
	booking := createBooking(t, r, futureDate(10), 2)

	w := doJSON(r, http.MethodPost, "/api/bookings/"+booking.BookingID+"/payment", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session models.CheckoutSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, "tok-"+booking.BookingRef, session.Token)
	assert.NotEmpty(t, session.CheckoutFormContent)

	*outcome = external.ProviderPaymentSuccess
	form := url.Values{"token": {session.Token}}
	req, _ := http.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "success", location.Query().Get("status"))
	assert.Equal(t, booking.BookingRef, location.Query().Get("bookingRef"))

	w = doJSON(r, http.MethodGet, "/api/bookings/"+booking.BookingRef+"/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BookingStatusConfirmed, gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, models.PaymentStatusPaid, gjson.Get(w.Body.String(), "payment_status").String())

	// повторная доставка от провайдера
	w = doJSON(r, http.MethodPost, "/api/payments/notifications", gin.H{"token": session.Token}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "duplicate").Bool())
}

func TestPaymentNotificationBeforeSettlement(t *testing.T) {
	r, outcome := setupRouter(t)
	booking := createBooking(t, r, futureDate(10), 1)

	w := doJSON(r, http.MethodPost, "/api/bookings/"+booking.BookingID+"/payment", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := gjson.Get(w.Body.String(), "token").String()

	// 3DS еще не пройден: провайдер должен повторить уведомление
	*outcome = "INIT_THREEDS"
	w = doJSON(r, http.MethodPost, "/api/payments/notifications", gin.H{"token": token}, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doJSON(r, http.MethodGet, "/api/bookings/"+booking.BookingRef+"/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentStatusPending, gjson.Get(w.Body.String(), "payment_status").String())

	*outcome = external.ProviderPaymentSuccess
	w = doJSON(r, http.MethodPost, "/api/payments/notifications", gin.H{"token": token}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "duplicate").Bool())
	assert.Equal(t, models.OutcomeSuccess, gjson.Get(w.Body.String(), "outcome").String())
}

func TestPaymentCallbackWithoutToken(t *testing.T) {
	r, _ := setupRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "failed", location.Query().Get("status"))
	assert.Equal(t, service.CallbackErrorMissingToken, location.Query().Get("error"))

	w = doJSON(r, http.MethodPost, "/api/payments/notifications", gin.H{"token": "unknown"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", gjson.Get(w.Body.String(), "status").String())
}

func TestGetBookingStatusNotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodGet, "/api/bookings/TB-UNKNOWN/status", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvailability(t *testing.T) {
	r, _ := setupRouter(t)
	date := futureDate(12)
	createBooking(t, r, date, 3)

	w := doJSON(r, http.MethodGet, "/api/activities/"+activityID+"/availability?from="+date+"&to="+date, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var days []models.DayAvailability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &days))
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].RemainingCapacity)
	assert.True(t, days[0].IsAvailable)

	w = doJSON(r, http.MethodGet, "/api/activities/"+activityID+"/availability?from=tomorrow", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRequiresPrincipal(t *testing.T) {
	r, _ := setupRouter(t)
	date := futureDate(15)

	w := doJSON(r, http.MethodPut, "/api/admin/availability/"+activityID+"/"+date, gin.H{"is_blocked": true}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(r, http.MethodPut, "/api/admin/availability/"+activityID+"/"+date, gin.H{"is_blocked": true}, "staff")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodPut, "/api/admin/availability/"+activityID+"/"+date, gin.H{"is_blocked": "yes", "block_reason": "weather"}, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, gjson.Get(w.Body.String(), "day.is_blocked").Bool())

	w = doJSON(r, http.MethodPost, "/api/bookings", bookingBody(date, 1), "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminBulkRange(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, http.MethodPost, "/api/admin/availability/"+activityID+"/bulk", gin.H{
		"start_date": futureDate(20),
		"end_date":   futureDate(26),
		"is_blocked": true,
	}, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(7), gjson.Get(w.Body.String(), "updated").Int())

	w = doJSON(r, http.MethodPost, "/api/admin/availability/"+activityID+"/bulk", gin.H{
		"start_date": "2030/01/01",
		"end_date":   futureDate(26),
	}, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminBookingStatus(t *testing.T) {
	r, _ := setupRouter(t)
	booking := createBooking(t, r, futureDate(10), 1)
	path := "/api/admin/bookings/" + booking.BookingID + "/status"

	w := doJSON(r, http.MethodPut, path, gin.H{"status": "completed"}, "admin")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPut, path, gin.H{"status": "refunded"}, "admin")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPut, path, gin.H{"status": "confirmed"}, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.PaymentStatusPaid, gjson.Get(w.Body.String(), "payment_status").String())

	w = doJSON(r, http.MethodGet, "/api/admin/bookings?status=confirmed", nil, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "#").Int())

	w = doJSON(r, http.MethodGet, "/api/admin/bookings/"+booking.BookingID, nil, "staff")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCouponEndpoints(t *testing.T) {
	r, _ := setupRouter(t)

	coupon := gin.H{
		"code":                "SAVE10",
		"discount_type":       "percentage",
		"discount_value":      "10",
		"valid_from":          time.Now().Add(-time.Hour).Format(time.RFC3339),
		"valid_until":         time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"is_active":           true,
		"max_discount_amount": "300",
	}
	w := doJSON(r, http.MethodPost, "/api/admin/coupons", coupon, "admin")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(r, http.MethodPost, "/api/admin/coupons", coupon, "admin")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(r, http.MethodPost, "/api/coupons/preview", gin.H{"code": "save10", "activity_id": activityID, "guest_count": 2}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "valid").Bool())
	assert.Equal(t, "300", gjson.Get(w.Body.String(), "discount_amount").String())

	body := bookingBody(futureDate(10), 1)
	body["coupon_code"] = "SAVE10"
	w = doJSON(r, http.MethodPost, "/api/bookings", body, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2250", gjson.Get(w.Body.String(), "total_price").String())

	w = doJSON(r, http.MethodGet, "/api/admin/coupons/SAVE10", nil, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "used_count").Int())

	coupon["is_active"] = false
	w = doJSON(r, http.MethodPut, "/api/admin/coupons/SAVE10", coupon, "admin")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(r, http.MethodGet, "/api/admin/coupons", nil, "admin")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, gjson.Get(w.Body.String(), "0.is_active").Bool())
}
