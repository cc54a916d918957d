package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/course-access-service/models"
	"github.com/yashrajoria/course-access-service/repository"
)

type flakyStore struct {
	repository.AccessCodeRepository
	failCode string
}

func (s flakyStore) Append(ctx context.Context, rec *models.AccessCode) error {
	if rec.Code == s.failCode {
		return errors.New("throttled")
	}
	return s.AccessCodeRepository.Append(ctx, rec)
}

func TestImportCodes(t *testing.T) {
	dst, err := repository.NewFileAccessCodeRepository(filepath.Join(t.TempDir(), "target.json"))
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now()

	recs := []models.AccessCode{
		{Code: "c1", Email: "a@x.com", CourseID: "ai-agents", CreatedAt: now, SourceSessionID: "cs_1"},
		{Code: "c2", Email: "b@x.com", CourseID: "steering-ai", CreatedAt: now, SourceEventID: "evt_2"},
		{Code: "c3", Email: "c@x.com", CreatedAt: now},
		{Code: "c4", Email: "d@x.com", CourseID: "ai-agents", CreatedAt: now},
	}

	stats := importCodes(ctx, recs, flakyStore{AccessCodeRepository: dst, failCode: "c4"})
	assert.Equal(t, importStats{imported: 2, skipped: 1, failed: 1}, stats)

	rec, err := dst.FindByCode(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "legacy:c1", rec.SourceEventID)
	assert.Equal(t, "cs_1", rec.SourceSessionID)

	again := importCodes(ctx, recs[:2], dst)
	assert.Equal(t, importStats{existing: 2}, again)
}
