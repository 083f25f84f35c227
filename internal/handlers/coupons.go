package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tourbook/internal/models"
)

func couponFromRequest(req *models.CouponRequest) *models.Coupon {
	return &models.Coupon{
		Code:                  req.Code,
		DiscountType:          req.DiscountType,
		DiscountValue:         req.DiscountValue,
		MinPurchaseAmount:     req.MinPurchaseAmount,
		MaxDiscountAmount:     req.MaxDiscountAmount,
		UsageLimit:            req.UsageLimit,
		ValidFrom:             req.ValidFrom,
		ValidUntil:            req.ValidUntil,
		IsActive:              req.IsActive.Bool(),
		ApplicableActivityIDs: req.ApplicableActivityIDs,
	}
}

// PreviewCoupon - POST /api/coupons/preview
// Проверить купон и рассчитать скидку без списания
func (h *Handlers) PreviewCoupon(c *gin.Context) {
	var req models.CouponPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	response, err := h.services.Coupons.Preview(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Failed to preview coupon")
		return
	}

	c.JSON(http.StatusOK, response)
}

// CreateCoupon - POST /api/admin/coupons
func (h *Handlers) CreateCoupon(c *gin.Context) {
	var req models.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	coupon := couponFromRequest(&req)
	if err := h.services.Coupons.Create(c.Request.Context(), principal(c), coupon); err != nil {
		writeError(c, err, "Failed to create coupon")
		return
	}

	c.JSON(http.StatusCreated, coupon)
}

// UpdateCoupon - PUT /api/admin/coupons/:code
func (h *Handlers) UpdateCoupon(c *gin.Context) {
	var req models.CouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	coupon := couponFromRequest(&req)
	coupon.Code = c.Param("code")
	if err := h.services.Coupons.Update(c.Request.Context(), principal(c), coupon); err != nil {
		writeError(c, err, "Failed to update coupon")
		return
	}

	c.JSON(http.StatusOK, coupon)
}

// GetCoupon - GET /api/admin/coupons/:code
func (h *Handlers) GetCoupon(c *gin.Context) {
	coupon, err := h.services.Coupons.Get(c.Request.Context(), principal(c), c.Param("code"))
	if err != nil {
		writeError(c, err, "Failed to get coupon")
		return
	}

	c.JSON(http.StatusOK, coupon)
}

// ListCoupons - GET /api/admin/coupons
func (h *Handlers) ListCoupons(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	coupons, err := h.services.Coupons.List(c.Request.Context(), principal(c), limit, offset)
	if err != nil {
		writeError(c, err, "Failed to list coupons")
		return
	}

	c.JSON(http.StatusOK, coupons)
}
