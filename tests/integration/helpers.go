//go:build integration

package integration

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"tourbook/internal/models"
)

// DemoActivity is part of the built-in catalogue served when Elasticsearch is disabled
const DemoActivity = "old-city-walking-tour"

var dayOffset atomic.Int32

// APIBaseURL points at a running API, STORE_DRIVER=memory is enough
func APIBaseURL() string {
	if u := os.Getenv("TOURBOOK_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8081"
}

// AdminCredentials match ADMIN_EMAIL / ADMIN_PASSWORD of the server under test
func AdminCredentials() (string, string) {
	email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" {
		email = "admin@localhost"
	}
	if password == "" {
		password = "admin"
	}
	return email, password
}

// FreshDate returns a date far enough ahead that parallel runs do not share capacity
func FreshDate() string {
	n := dayOffset.Add(1)
	base := time.Now().AddDate(0, 0, 30+int(time.Now().UnixNano()%200))
	return base.AddDate(0, 0, int(n)).Format(models.DateLayout)
}

// NewBookingRequest builds a valid request for the demo activity
func NewBookingRequest(date string, guests int) models.CreateBookingRequest {
	return models.CreateBookingRequest{
		ActivityID: DemoActivity,
		Date:       date,
		GuestCount: guests,
		Customer: models.CustomerRequest{
			Name:  "Integration Tester",
			Email: fmt.Sprintf("tester+%d@example.com", time.Now().UnixNano()),
		},
	}
}

// LogTestStep logs a test step for better debugging
func LogTestStep(t *testing.T, step string, args ...any) {
	t.Logf("🔹 "+step, args...)
}

// LogTestResult logs a test result
func LogTestResult(t *testing.T, result string, args ...any) {
	t.Logf("✅ "+result, args...)
}
