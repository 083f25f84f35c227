package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/models"
)

// Bookings handlers

// CreateBooking - POST /api/bookings
// Создать бронирование
func (h *Handlers) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	response, err := h.services.Bookings.Create(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Failed to create booking")
		return
	}

	c.JSON(http.StatusCreated, response)
}

// InitiatePayment - POST /api/bookings/:id/payment
// Инициировать платеж для бронирования
func (h *Handlers) InitiatePayment(c *gin.Context) {
	session, err := h.services.Bookings.InitiatePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to initiate payment")
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetBookingStatus - GET /api/bookings/:id/status
// Статус бронирования по id или booking_ref
func (h *Handlers) GetBookingStatus(c *gin.Context) {
	status, err := h.services.Payments.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to get booking status")
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListBookings - GET /api/admin/bookings
// Получить список бронирований
func (h *Handlers) ListBookings(c *gin.Context) {
	filter := models.BookingFilter{
		ActivityID:    c.Query("activity_id"),
		Status:        c.Query("status"),
		PaymentStatus: c.Query("payment_status"),
	}

	if raw := c.Query("from"); raw != "" {
		from, err := models.ParseDate(raw)
		if err != nil {
			writeError(c, apperrors.Validation("from", "must be formatted as YYYY-MM-DD"), "")
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := models.ParseDate(raw)
		if err != nil {
			writeError(c, apperrors.Validation("to", "must be formatted as YYYY-MM-DD"), "")
			return
		}
		filter.To = &to
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if filter.Offset < 0 {
		writeError(c, apperrors.Validation("offset", "must be >= 0"), "")
		return
	}

	bookings, err := h.services.Bookings.List(c.Request.Context(), principal(c), filter)
	if err != nil {
		writeError(c, err, "Failed to list bookings")
		return
	}

	c.JSON(http.StatusOK, bookings)
}

// GetBooking - GET /api/admin/bookings/:id
func (h *Handlers) GetBooking(c *gin.Context) {
	booking, err := h.services.Bookings.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "Failed to get booking")
		return
	}

	c.JSON(http.StatusOK, booking)
}

// UpdateBookingStatus - PUT /api/admin/bookings/:id/status
// Ручной перевод статуса (оплата наличными, отмена, завершение)
func (h *Handlers) UpdateBookingStatus(c *gin.Context) {
	var req models.UpdateBookingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	booking, err := h.services.Bookings.AdminTransition(c.Request.Context(), principal(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err, "Failed to update booking status")
		return
	}

	logger.WithContext(c.Request.Context()).Debug("Booking status updated", "booking_id", booking.ID, "status", booking.Status)
	c.JSON(http.StatusOK, booking)
}
