// Package seed holds the sample catalogue used for local runs
package seed

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tourbook/internal/models"
)

// Activities returns the demo activity catalogue
func Activities() []models.Activity {
	return []models.Activity{
		{ID: "bosphorus-sunset-cruise", Name: "Bosphorus Sunset Cruise", Price: decimal.NewFromInt(1200), Currency: "TRY", MaxParticipants: 12},
		{ID: "cappadocia-balloon-ride", Name: "Cappadocia Balloon Ride", Price: decimal.NewFromInt(9500), Currency: "TRY", MaxParticipants: 6},
		{ID: "old-city-walking-tour", Name: "Old City Walking Tour", Price: decimal.NewFromInt(750), Currency: "TRY", MaxParticipants: 20},
		{ID: "pamukkale-day-trip", Name: "Pamukkale Day Trip", Price: decimal.RequireFromString("2450.50"), Currency: "TRY", MaxParticipants: 15},
	}
}

// Coupons returns demo coupons valid for a year from now
func Coupons(now time.Time) []models.Coupon {
	maxHalf := decimal.NewFromInt(500)
	limit := 100
	return []models.Coupon{
		{
			Code:          "SAVE10",
			DiscountType:  models.DiscountTypePercentage,
			DiscountValue: decimal.NewFromInt(10),
			ValidFrom:     now,
			ValidUntil:    now.AddDate(1, 0, 0),
			IsActive:      true,
		},
		{
			Code:              "HALFOFF",
			DiscountType:      models.DiscountTypePercentage,
			DiscountValue:     decimal.NewFromInt(50),
			MaxDiscountAmount: &maxHalf,
			UsageLimit:        &limit,
			ValidFrom:         now,
			ValidUntil:        now.AddDate(1, 0, 0),
			IsActive:          true,
		},
		{
			Code:                  "BALLOON250",
			DiscountType:          models.DiscountTypeFixed,
			DiscountValue:         decimal.NewFromInt(250),
			MinPurchaseAmount:     decimal.NewFromInt(5000),
			ValidFrom:             now,
			ValidUntil:            now.AddDate(1, 0, 0),
			IsActive:              true,
			ApplicableActivityIDs: []string{"cappadocia-balloon-ride"},
		},
	}
}

// Admin returns an active administrator with a SHA-256 password hash
func Admin(email, password string) models.User {
	return models.User{
		Email:        email,
		PasswordHash: fmt.Sprintf("%x", sha256.Sum256([]byte(password))),
		FullName:     "Administrator",
		IsAdmin:      true,
		IsActive:     true,
	}
}
