package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "tourbook/internal/errors"
	"tourbook/internal/models"
)

const defaultAvailabilityDays = 30

// GetAvailability - GET /api/activities/:activityId/availability?from=&to=
// Доступность по дням; по умолчанию 30 дней начиная с сегодняшнего
func (h *Handlers) GetAvailability(c *gin.Context) {
	from := models.DateOf(time.Now(), h.location)
	if raw := c.Query("from"); raw != "" {
		parsed, err := models.ParseDate(raw)
		if err != nil {
			writeError(c, apperrors.Validation("from", "must be formatted as YYYY-MM-DD"), "")
			return
		}
		from = parsed
	}

	to := from.AddDate(0, 0, defaultAvailabilityDays-1)
	if raw := c.Query("to"); raw != "" {
		parsed, err := models.ParseDate(raw)
		if err != nil {
			writeError(c, apperrors.Validation("to", "must be formatted as YYYY-MM-DD"), "")
			return
		}
		to = parsed
	}

	days, err := h.services.Capacity.GetAvailability(c.Request.Context(), c.Param("activityId"), from, to)
	if err != nil {
		writeError(c, err, "Failed to get availability")
		return
	}

	c.JSON(http.StatusOK, days)
}

// SetDay - PUT /api/admin/availability/:activityId/:date
// Закрыть/открыть дату, изменить вместимость и слоты
func (h *Handlers) SetDay(c *gin.Context) {
	date, err := models.ParseDate(c.Param("date"))
	if err != nil {
		writeError(c, apperrors.Validation("date", "must be formatted as YYYY-MM-DD"), "")
		return
	}

	var req models.SetDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	settings := models.DaySettings{
		IsBlocked:     req.IsBlocked.Bool(),
		BlockReason:   req.BlockReason,
		TotalCapacity: req.TotalCapacity,
	}
	for _, slot := range req.TimeSlots {
		settings.TimeSlots = append(settings.TimeSlots, models.TimeSlotSettings{
			ID:            slot.ID,
			Label:         slot.Label,
			TotalCapacity: slot.TotalCapacity,
			IsBlocked:     slot.IsBlocked.Bool(),
		})
	}

	record, err := h.services.Capacity.SetDay(c.Request.Context(), principal(c), c.Param("activityId"), date, settings)
	if err != nil {
		writeError(c, err, "Failed to update availability")
		return
	}

	c.JSON(http.StatusOK, record)
}

// BulkSetRange - POST /api/admin/availability/:activityId/bulk
func (h *Handlers) BulkSetRange(c *gin.Context) {
	var req models.BulkSetRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	// формат уже проверен правилом isodate
	start, _ := models.ParseDate(req.StartDate)
	end, _ := models.ParseDate(req.EndDate)

	updated, err := h.services.Capacity.BulkSetRange(c.Request.Context(), principal(c), c.Param("activityId"), start, end, req.IsBlocked.Bool(), req.BlockReason)
	if err != nil {
		writeError(c, err, "Failed to update availability range")
		return
	}

	c.JSON(http.StatusOK, models.BulkSetRangeResponse{Updated: updated})
}
