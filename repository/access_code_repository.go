package repository

import (
	"context"
	"errors"

	"github.com/yashrajoria/course-access-service/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAccessCodeRepository implements AccessCodeRepository and
// ReconciliationRepository on Postgres. The database must be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
type GormAccessCodeRepository struct {
	db *gorm.DB
}

// NewGormAccessCodeRepository creates a new GormAccessCodeRepository.
func NewGormAccessCodeRepository(db *gorm.DB) *GormAccessCodeRepository {
	return &GormAccessCodeRepository{db: db}
}

// Append inserts rec inside a transaction after checking the event ledger.
// The unique indexes on code and source_event_id settle races between
// concurrent deliveries.
func (r *GormAccessCodeRepository) Append(ctx context.Context, rec *models.AccessCode) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := eventSeen(tx, rec.SourceEventID)
		if err != nil {
			return err
		}
		if seen {
			return ErrEventAlreadyProcessed
		}
		return tx.Create(rec).Error
	})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return err
	}

	// The failed transaction is gone; look again outside it to tell which
	// unique index fired.
	seen, lookupErr := eventSeen(r.db.WithContext(ctx), rec.SourceEventID)
	if lookupErr == nil && seen {
		return ErrEventAlreadyProcessed
	}
	return ErrDuplicateCode
}

func eventSeen(db *gorm.DB, eventID string) (bool, error) {
	var count int64
	if err := db.Model(&models.AccessCode{}).
		Where("source_event_id = ?", eventID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormAccessCodeRepository) FindByCode(ctx context.Context, code string) (*models.AccessCode, error) {
	var rec models.AccessCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByEmail lists codes issued to email, newest first.
func (r *GormAccessCodeRepository) FindByEmail(ctx context.Context, email string) ([]models.AccessCode, error) {
	var recs []models.AccessCode
	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Record stores ev unless an entry for the same event already exists.
func (r *GormAccessCodeRepository) Record(ctx context.Context, ev *models.UnreconciledEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(ev).Error
}

func (r *GormAccessCodeRepository) List(ctx context.Context, limit int) ([]models.UnreconciledEvent, error) {
	var evs []models.UnreconciledEvent
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&evs).Error; err != nil {
		return nil, err
	}
	return evs, nil
}
