package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/gradedesk/internal/cache"
	"github.com/pavelanni/gradedesk/internal/model"
)

// Repository is the set of backend operations the portal uses for
// exams and grades.
type Repository interface {
	ListExams(ctx context.Context) ([]model.Exam, error)
	GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error)
	SaveGrades(ctx context.Context, req model.GradeSubmission) error
}

// CachedRepository keeps short-lived copies of exam lists and submission
// snapshots in Redis. Saving grades drops the cached snapshot of the exam.
// Cache failures fall through to the wrapped repository.
type CachedRepository struct {
	next  Repository
	cache *cache.Helper
	ttl   time.Duration
}

// NewCachedRepository wraps next with a cache.
func NewCachedRepository(next Repository, c *cache.Helper, ttl time.Duration) *CachedRepository {
	return &CachedRepository{next: next, cache: c, ttl: ttl}
}

// scope separates cache entries of different instructors.
func scope(ctx context.Context) string {
	if s := model.SessionFromContext(ctx); s != nil {
		return fmt.Sprintf("p%d", s.Professor.ID)
	}
	return "local"
}

func examsKey(ctx context.Context) string {
	return scope(ctx) + ":exams"
}

func submissionsKey(ctx context.Context, examID int64) string {
	return fmt.Sprintf("%s:exam:%d:submissions", scope(ctx), examID)
}

// ListExams implements Repository.
func (r *CachedRepository) ListExams(ctx context.Context) ([]model.Exam, error) {
	key := examsKey(ctx)
	var exams []model.Exam
	if r.lookup(ctx, key, &exams) {
		return exams, nil
	}
	exams, err := r.next.ListExams(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, exams)
	return exams, nil
}

// GetSubmissions implements Repository.
func (r *CachedRepository) GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error) {
	key := submissionsKey(ctx, examID)
	var es model.ExamSubmissions
	if r.lookup(ctx, key, &es) {
		return &es, nil
	}
	got, err := r.next.GetSubmissions(ctx, examID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, got)
	return got, nil
}

// SaveGrades implements Repository.
func (r *CachedRepository) SaveGrades(ctx context.Context, req model.GradeSubmission) error {
	if err := r.next.SaveGrades(ctx, req); err != nil {
		return err
	}
	if err := r.cache.Delete(ctx, submissionsKey(ctx, req.ExamID), examsKey(ctx)); err != nil {
		slog.Warn("cache invalidation failed", "exam_id", req.ExamID, "error", err)
	}
	return nil
}

func (r *CachedRepository) lookup(ctx context.Context, key string, dest any) bool {
	err := r.cache.Get(ctx, key, dest)
	switch {
	case err == nil:
		slog.Debug("cache hit", "key", key)
		return true
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrNotAvailable):
	default:
		slog.Warn("cache read failed", "key", key, "error", err)
	}
	return false
}

func (r *CachedRepository) store(ctx context.Context, key string, value any) {
	if err := r.cache.Set(ctx, key, value, r.ttl); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}
