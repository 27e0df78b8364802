package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/gradedesk/internal/cache"
	"github.com/pavelanni/gradedesk/internal/model"
)

type countingRepo struct {
	lists, gets, saves int
}

func (r *countingRepo) ListExams(context.Context) ([]model.Exam, error) {
	r.lists++
	return []model.Exam{{ID: 7, Name: "Midterm"}}, nil
}

func (r *countingRepo) GetSubmissions(_ context.Context, examID int64) (*model.ExamSubmissions, error) {
	r.gets++
	return &model.ExamSubmissions{
		Exam: model.Exam{ID: examID, Name: "Midterm"},
		Submissions: []model.StudentSubmission{
			{StudentID: 1, StudentName: "Alice", IsSubmitted: true},
		},
	}, nil
}

func (r *countingRepo) SaveGrades(context.Context, model.GradeSubmission) error {
	r.saves++
	return nil
}

func newCached(t *testing.T, client *redis.Client) (*CachedRepository, *countingRepo) {
	t.Helper()
	next := &countingRepo{}
	return NewCachedRepository(next, cache.New(client, "gradedesk:"), time.Minute), next
}

func TestCachedRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	repo, next := newCached(t, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		es, err := repo.GetSubmissions(ctx, 7)
		if err != nil {
			t.Fatalf("GetSubmissions: %v", err)
		}
		if es.Submissions[0].StudentName != "Alice" {
			t.Errorf("cached snapshot = %+v", es)
		}
	}
	if next.gets != 1 {
		t.Errorf("backend fetched %d times, want 1", next.gets)
	}

	if err := repo.SaveGrades(ctx, model.GradeSubmission{ExamID: 7}); err != nil {
		t.Fatalf("SaveGrades: %v", err)
	}
	if _, err := repo.GetSubmissions(ctx, 7); err != nil {
		t.Fatalf("GetSubmissions: %v", err)
	}
	if next.gets != 2 {
		t.Errorf("backend fetched %d times after save, want 2", next.gets)
	}
}

func TestCachedRepositoryScopesBySession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	repo, next := newCached(t, client)

	a := model.ContextWithSession(context.Background(), &model.Session{Professor: model.Professor{ID: 1}})
	b := model.ContextWithSession(context.Background(), &model.Session{Professor: model.Professor{ID: 2}})
	_, _ = repo.ListExams(a)
	_, _ = repo.ListExams(b)
	_, _ = repo.ListExams(a)
	if next.lists != 2 {
		t.Errorf("backend listed %d times, want 2", next.lists)
	}
}

func TestCachedRepositoryWithoutRedis(t *testing.T) {
	repo, next := newCached(t, nil)
	ctx := context.Background()
	_, _ = repo.ListExams(ctx)
	_, _ = repo.ListExams(ctx)
	if next.lists != 2 {
		t.Errorf("backend listed %d times, want 2 without a cache", next.lists)
	}
}
