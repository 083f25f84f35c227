package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/models"
	"tourbook/internal/service"
)

// PrincipalKey - ключ gin-контекста с аутентифицированным пользователем
const PrincipalKey = "principal"

type Handlers struct {
	services *service.Services
	location *time.Location
}

func NewHandlers(services *service.Services, location *time.Location) *Handlers {
	if location == nil {
		location = time.UTC
	}
	return &Handlers{
		services: services,
		location: location,
	}
}

// RegisterValidators регистрирует кастомные правила binding (isodate)
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := models.ParseDate(fl.Field().String())
		return err == nil
	})
}

// principal возвращает пользователя из BasicAuth или пустой Principal
func principal(c *gin.Context) models.Principal {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(models.Principal); ok {
			return p
		}
	}
	return models.Principal{}
}

// statusFor сопоставляет доменные ошибки HTTP-статусам
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrBookingNotFound),
		errors.Is(err, apperrors.ErrActivityNotFound),
		errors.Is(err, apperrors.ErrCouponNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrCapacityExceeded),
		errors.Is(err, apperrors.ErrDateBlocked),
		errors.Is(err, apperrors.ErrInvalidTransition),
		errors.Is(err, apperrors.ErrDuplicateCoupon):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrCouponInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError отвечает JSON-ошибкой; внутренние ошибки логируются и скрываются
func writeError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request.Context()).Error(msg, "error", err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	body := gin.H{"error": err.Error()}
	var invalid *apperrors.CouponInvalidError
	if errors.As(err, &invalid) {
		body["reason"] = invalid.Reason
	}
	var gwErr *apperrors.GatewayError
	if errors.As(err, &gwErr) {
		logger.WithContext(c.Request.Context()).Warn(msg, "error", err)
		body = gin.H{"error": msg, "code": gwErr.Code}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

