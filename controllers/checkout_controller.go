package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/course-access-service/catalog"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/models"
	"github.com/yashrajoria/course-access-service/services"
)

// CheckoutController handles checkout and catalog requests.
type CheckoutController struct {
	checkoutService services.CheckoutService
	catalog         *catalog.Catalog
}

// NewCheckoutController creates a new CheckoutController.
func NewCheckoutController(svc services.CheckoutService, cat *catalog.Catalog) *CheckoutController {
	return &CheckoutController{checkoutService: svc, catalog: cat}
}

// CreateCheckoutSession handles POST /api/create-checkout-session
func (cc *CheckoutController) CreateCheckoutSession(ctx *gin.Context) {
	var req models.CheckoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		_ = ctx.Error(apperrors.Detail(apperrors.ErrValidation, "Invalid request body"))
		return
	}

	sess, err := cc.checkoutService.CreateCheckout(ctx, req)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, models.CheckoutResponse{URL: sess.URL})
}

// ListCourses handles GET /api/courses
func (cc *CheckoutController) ListCourses(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"courses": cc.catalog.List()})
}
