package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/course-access-service/models"
	"github.com/yashrajoria/course-access-service/services"
)

// VerifyController checks access codes.
type VerifyController struct {
	verifyService services.VerifyService
}

// NewVerifyController creates a new VerifyController.
func NewVerifyController(svc services.VerifyService) *VerifyController {
	return &VerifyController{verifyService: svc}
}

// VerifyCode handles POST /api/verify-code. Unknown, empty and malformed
// input all answer 200 {"valid": false}.
func (vc *VerifyController) VerifyCode(ctx *gin.Context) {
	var req models.VerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, models.VerifyResponse{Valid: false})
		return
	}

	res, err := vc.verifyService.Verify(ctx, req.Code, req.CourseID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, models.VerifyResponse{Valid: res.Valid, CourseID: res.CourseID})
}
