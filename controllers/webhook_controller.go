package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/services"
)

// MaxWebhookBodyBytes caps the size of an inbound webhook payload.
const MaxWebhookBodyBytes = 1 << 20

// WebhookController receives payment provider events.
type WebhookController struct {
	webhookService services.WebhookService
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(svc services.WebhookService) *WebhookController {
	return &WebhookController{webhookService: svc}
}

// StripeWebhook handles POST /api/webhook. The body is read raw and passed
// unmodified to signature verification.
func (wc *WebhookController) StripeWebhook(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, MaxWebhookBodyBytes)
	payload, err := ctx.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = ctx.Error(apperrors.New(http.StatusRequestEntityTooLarge, "Payload too large", err))
			return
		}
		_ = ctx.Error(apperrors.Wrap(apperrors.ErrBadRequest, err))
		return
	}

	if _, err := wc.webhookService.HandleCompletionEvent(ctx, payload, ctx.GetHeader("Stripe-Signature")); err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"received": true})
}
