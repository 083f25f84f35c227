package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
)

const maxCallbackBody = 64 << 10

// Payments handlers

// PaymentCallback - POST /api/payments/callback
// Браузер возвращается с платежной страницы; всегда отвечаем редиректом
func (h *Handlers) PaymentCallback(c *gin.Context) {
	log := logger.WithContext(c.Request.Context())

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		log.Warn("Failed to read payment callback body", "error", err)
	}

	result, err := h.services.Payments.HandleCallback(c.Request.Context(), c.ContentType(), raw)
	if err != nil {
		log.Warn("Payment callback not reconciled", "error", err, "booking_ref", result.BookingRef)
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

// OnPaymentUpdates - POST /api/payments/notifications
// Принимать уведомления от платежного шлюза
func (h *Handlers) OnPaymentUpdates(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.services.Payments.HandleCallback(c.Request.Context(), c.ContentType(), raw)
	switch {
	case errors.Is(err, apperrors.ErrReconciliation):
		// неизвестный токен: повторная доставка ничего не изменит
		logger.WithContext(c.Request.Context()).Warn("Ignoring payment notification", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	case err != nil:
		writeError(c, err, "Failed to handle notification")
		return
	}

	c.JSON(http.StatusOK, result)
}
