package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlexibleBool - гибкий boolean тип, поддерживающий строки и числа
type FlexibleBool bool

// UnmarshalJSON поддерживает парсинг boolean из строки, числа и boolean
func (fb *FlexibleBool) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)

	switch strings.ToLower(str) {
	case "true", "1", "yes", "on":
		*fb = true
	case "false", "0", "no", "off":
		*fb = false
	default:
		return fmt.Errorf("invalid boolean value: %s", str)
	}
	return nil
}

// Bool возвращает bool значение
func (fb FlexibleBool) Bool() bool {
	return bool(fb)
}

// CustomerRequest - контактные данные клиента
type CustomerRequest struct {
	Name  string `json:"name" binding:"required,max=200"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone,omitempty" binding:"omitempty,max=40"`
}

// CreateBookingRequest - модель для создания бронирования
type CreateBookingRequest struct {
	ActivityID string          `json:"activity_id" binding:"required"`
	Date       string          `json:"date" binding:"required,isodate"`
	TimeSlotID string          `json:"time_slot_id,omitempty"`
	GuestCount int             `json:"guest_count" binding:"required,min=1"`
	Customer   CustomerRequest `json:"customer" binding:"required"`
	CouponCode string          `json:"coupon_code,omitempty"`
	// StrictCoupon: при невалидном купоне отклонить бронирование, а не отбросить купон
	StrictCoupon FlexibleBool `json:"strict_coupon,omitempty"`
}

// CreateBookingResponse - модель ответа при создании бронирования
type CreateBookingResponse struct {
	BookingID      string          `json:"booking_id"`
	BookingRef     string          `json:"booking_ref"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Currency       string          `json:"currency"`
	CouponApplied  bool            `json:"coupon_applied"`
	CouponError    string          `json:"coupon_error,omitempty"`
}

// CheckoutSession - результат инициации платежа
type CheckoutSession struct {
	Token               string    `json:"token"`
	CheckoutFormContent string    `json:"checkout_form_content"`
	PaymentURL          string    `json:"payment_url,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// BookingStatusResponse - проекция статуса бронирования для опроса клиентом
type BookingStatusResponse struct {
	BookingID     string          `json:"booking_id"`
	BookingRef    string          `json:"booking_ref"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Currency      string          `json:"currency"`
}

// UpdateBookingStatusRequest - ручной перевод статуса администратором
type UpdateBookingStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=confirmed cancelled completed"`
}

// TimeSlotRequest - настройка временного слота на день
type TimeSlotRequest struct {
	ID            string       `json:"id" binding:"required,max=64"`
	Label         string       `json:"label,omitempty"`
	TotalCapacity int          `json:"total_capacity" binding:"min=0"`
	IsBlocked     FlexibleBool `json:"is_blocked,omitempty"`
}

// SetDayRequest - upsert записи доступности на дату
type SetDayRequest struct {
	IsBlocked     FlexibleBool      `json:"is_blocked"`
	BlockReason   string            `json:"block_reason,omitempty"`
	TotalCapacity *int              `json:"total_capacity,omitempty" binding:"omitempty,min=0"`
	TimeSlots     []TimeSlotRequest `json:"time_slots,omitempty" binding:"omitempty,dive"`
}

// BulkSetRangeRequest - массовое открытие/закрытие диапазона дат
type BulkSetRangeRequest struct {
	StartDate   string       `json:"start_date" binding:"required,isodate"`
	EndDate     string       `json:"end_date" binding:"required,isodate"`
	IsBlocked   FlexibleBool `json:"is_blocked"`
	BlockReason string       `json:"block_reason,omitempty"`
}

// BulkSetRangeResponse - количество обновленных дат
type BulkSetRangeResponse struct {
	Updated int `json:"updated"`
}

// DaySettings - настройки дня леджера от администратора
type DaySettings struct {
	IsBlocked     bool
	BlockReason   string
	TotalCapacity *int
	TimeSlots     []TimeSlotSettings
}

// TimeSlotSettings - настройки одного временного слота
type TimeSlotSettings struct {
	ID            string
	Label         string
	TotalCapacity int
	IsBlocked     bool
}

// TimeSlotAvailability - доступность слота
type TimeSlotAvailability struct {
	ID                string `json:"id"`
	Label             string `json:"label,omitempty"`
	IsBlocked         bool   `json:"is_blocked"`
	TotalCapacity     int    `json:"total_capacity"`
	RemainingCapacity int    `json:"remaining_capacity"`
}

// DayAvailability - сводка доступности на день
type DayAvailability struct {
	Date              string                 `json:"date"`
	IsAvailable       bool                   `json:"is_available"`
	IsBlocked         bool                   `json:"is_blocked"`
	BlockReason       string                 `json:"block_reason,omitempty"`
	TotalCapacity     int                    `json:"total_capacity"`
	RemainingCapacity int                    `json:"remaining_capacity"`
	TimeSlots         []TimeSlotAvailability `json:"time_slots"`
}

// DayRecordResponse - запись леджера после изменения администратором
type DayRecordResponse struct {
	Day       CapacityRecord   `json:"day"`
	TimeSlots []CapacityRecord `json:"time_slots"`
}

// CouponRequest - создание или изменение купона
type CouponRequest struct {
	Code                  string           `json:"code" binding:"required,max=64"`
	DiscountType          string           `json:"discount_type" binding:"required,oneof=percentage fixed"`
	DiscountValue         decimal.Decimal  `json:"discount_value" binding:"required"`
	MinPurchaseAmount     decimal.Decimal  `json:"min_purchase_amount"`
	MaxDiscountAmount     *decimal.Decimal `json:"max_discount_amount,omitempty"`
	UsageLimit            *int             `json:"usage_limit,omitempty" binding:"omitempty,min=0"`
	ValidFrom             time.Time        `json:"valid_from" binding:"required"`
	ValidUntil            time.Time        `json:"valid_until" binding:"required"`
	IsActive              FlexibleBool     `json:"is_active"`
	ApplicableActivityIDs []string         `json:"applicable_activity_ids,omitempty"`
}

// CouponPreviewRequest - предварительный расчет скидки
type CouponPreviewRequest struct {
	Code       string `json:"code" binding:"required"`
	ActivityID string `json:"activity_id" binding:"required"`
	GuestCount int    `json:"guest_count" binding:"required,min=1"`
}

// CouponPreviewResponse - результат проверки купона
type CouponPreviewResponse struct {
	Code           string          `json:"code"`
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Currency       string          `json:"currency"`
}

// ReconciliationResult - итог обработки колбэка провайдера
type ReconciliationResult struct {
	Outcome     string `json:"outcome"`
	BookingRef  string `json:"booking_ref,omitempty"`
	Duplicate   bool   `json:"duplicate"`
	ErrorCode   string `json:"error_code,omitempty"`
	RedirectURL string `json:"-"`
}

// Исходы сверки платежа
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)
