package services

import (
	"context"
	"errors"
	"strings"

	"github.com/yashrajoria/course-access-service/common/logger"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"github.com/yashrajoria/course-access-service/repository"
	"go.uber.org/zap"
)

// VerifyResult is the answer to a code check. CourseID is set only for valid
// codes.
type VerifyResult struct {
	Valid    bool
	CourseID string
}

// VerifyService answers whether an access code unlocks a course.
type VerifyService interface {
	Verify(ctx context.Context, code, expectedCourseID string) (*VerifyResult, error)
}

type verifyServiceImpl struct {
	codes   repository.AccessCodeRepository
	cache   AccessCodeCache
	metrics aws_pkg.MetricsRecorder
	logger  *zap.Logger
}

// NewVerifyService creates a new VerifyService. cache may be nil.
func NewVerifyService(codes repository.AccessCodeRepository, cache AccessCodeCache, metrics aws_pkg.MetricsRecorder, logger *zap.Logger) VerifyService {
	return &verifyServiceImpl{codes: codes, cache: cache, metrics: metrics, logger: logger}
}

// Verify never reports an unknown or mismatched code as an error. Only store
// failures are returned.
func (s *verifyServiceImpl) Verify(ctx context.Context, code, expectedCourseID string) (*VerifyResult, error) {
	code = strings.TrimSpace(code)
	expectedCourseID = strings.TrimSpace(expectedCourseID)
	if code == "" {
		return &VerifyResult{Valid: false}, nil
	}

	rec, err := s.lookup(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		s.record(ctx, "invalid")
		return &VerifyResult{Valid: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if expectedCourseID != "" && rec.CourseID != expectedCourseID {
		s.record(ctx, "course_mismatch")
		return &VerifyResult{Valid: false}, nil
	}

	s.record(ctx, "valid")
	return &VerifyResult{Valid: true, CourseID: rec.CourseID}, nil
}

func (s *verifyServiceImpl) lookup(ctx context.Context, code string) (*models.AccessCode, error) {
	if s.cache != nil {
		rec, err := s.cache.Get(ctx, code)
		if err != nil {
			logger.For(ctx, s.logger).Warn("Access code cache read failed", zap.Error(err))
		} else if rec != nil {
			return rec, nil
		}
	}

	rec, err := s.codes.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, rec); err != nil {
			logger.For(ctx, s.logger).Warn("Access code cache write failed", zap.Error(err))
		}
	}
	return rec, nil
}

func (s *verifyServiceImpl) record(ctx context.Context, result string) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.RecordCount(ctx, aws_pkg.MetricAccessCodeVerified, map[string]string{"Result": result})
}
