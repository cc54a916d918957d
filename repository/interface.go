package repository

import (
	"context"
	"errors"

	apperrors "github.com/yashrajoria/course-access-service/common/errors"
	"github.com/yashrajoria/course-access-service/models"
)

var (
	// ErrNotFound is returned by lookups for codes that were never issued.
	ErrNotFound = errors.New("access code not found")
	// ErrDuplicateCode means the generated code collided with an existing record.
	ErrDuplicateCode = apperrors.Detail(apperrors.ErrDuplicateKey, "access code already exists")
	// ErrEventAlreadyProcessed means a record was already issued for the event.
	ErrEventAlreadyProcessed = apperrors.Detail(apperrors.ErrDuplicateKey, "payment event already processed")
)

// AccessCodeRepository is the durable, append-only access code store.
type AccessCodeRepository interface {
	// Append stores rec atomically. It never overwrites: an existing code
	// yields ErrDuplicateCode and a reused SourceEventID yields
	// ErrEventAlreadyProcessed.
	Append(ctx context.Context, rec *models.AccessCode) error
	FindByCode(ctx context.Context, code string) (*models.AccessCode, error)
	FindByEmail(ctx context.Context, email string) ([]models.AccessCode, error)
}

// ReconciliationRepository holds paid events that need manual follow-up.
type ReconciliationRepository interface {
	// Record is idempotent on EventID.
	Record(ctx context.Context, ev *models.UnreconciledEvent) error
	// List returns the newest events first.
	List(ctx context.Context, limit int) ([]models.UnreconciledEvent, error)
}
