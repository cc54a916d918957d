package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/models"
	"github.com/yashrajoria/course-access-service/repository"
)

const (
	defaultReconciliationLimit = 50
	maxReconciliationLimit     = 500
)

// AdminController exposes support lookups to operators.
type AdminController struct {
	codes  repository.AccessCodeRepository
	ledger repository.ReconciliationRepository
}

// NewAdminController creates a new AdminController.
func NewAdminController(codes repository.AccessCodeRepository, ledger repository.ReconciliationRepository) *AdminController {
	return &AdminController{codes: codes, ledger: ledger}
}

// ListAccessCodes handles GET /api/admin/access-codes?email=
func (ac *AdminController) ListAccessCodes(ctx *gin.Context) {
	email := strings.ToLower(strings.TrimSpace(ctx.Query("email")))
	if email == "" {
		_ = ctx.Error(apperrors.Detail(apperrors.ErrValidation, "email query parameter is required"))
		return
	}

	recs, err := ac.codes.FindByEmail(ctx, email)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	if recs == nil {
		recs = []models.AccessCode{}
	}
	ctx.JSON(http.StatusOK, gin.H{"access_codes": recs})
}

// ListUnreconciled handles GET /api/admin/reconciliation?limit=
func (ac *AdminController) ListUnreconciled(ctx *gin.Context) {
	limit := defaultReconciliationLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = ctx.Error(apperrors.Detail(apperrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxReconciliationLimit)
	}

	evs, err := ac.ledger.List(ctx, limit)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	if evs == nil {
		evs = []models.UnreconciledEvent{}
	}
	ctx.JSON(http.StatusOK, gin.H{"events": evs})
}
