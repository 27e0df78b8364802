package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot() *model.ExamSubmissions {
	submitted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exam := model.Exam{ID: 7, Name: "Midterm", CourseID: 3, CourseName: "CS101", Rubric: "be fair"}
	exam.Questions = []model.Question{
		{ID: 1, Key: model.KeyForID(1), Text: "Define a goroutine.", Weight: 10, MinWords: 20},
		{ID: 2, Key: model.KeyForID(2), Text: "Explain channels.", Weight: 5},
	}
	answers := func(scores ...*float64) []model.Answer {
		var out []model.Answer
		for i, q := range exam.Questions {
			out = append(out, model.Answer{
				QuestionID: q.ID, Key: q.Key, QuestionText: q.Text,
				QuestionWeight: q.Weight, AnswerText: "text", ReceivedWeight: scores[i],
			})
		}
		return out
	}
	return &model.ExamSubmissions{
		Exam: exam,
		Submissions: []model.StudentSubmission{
			{StudentID: 42, StudentName: "Alice", IsSubmitted: true, SubmittedAt: &submitted,
				IsGraded: true, Answers: answers(model.Float(8), model.Float(5)), OverallFeedback: "good"},
			{StudentID: 43, StudentName: "Bob", IsSubmitted: true, SubmittedAt: &submitted,
				Answers: answers(model.Float(2), nil)},
			{StudentID: 44, StudentName: "Carol"},
		},
	}
}

func TestImportAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.ImportSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	exams, err := s.ListExams(ctx)
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 1 {
		t.Fatalf("expected 1 exam, got %d", len(exams))
	}
	if exams[0].OverallScore() != 15 || exams[0].SubmissionCount != 3 {
		t.Errorf("exam = %+v, want overall 15 and 3 submissions", exams[0])
	}

	es, err := s.GetSubmissions(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubmissions: %v", err)
	}
	if len(es.Submissions) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(es.Submissions))
	}
	alice := es.Submissions[0]
	if alice.StudentName != "Alice" || !alice.IsGraded || alice.OverallFeedback != "good" {
		t.Errorf("alice = %+v", alice)
	}
	if alice.SubmittedAt == nil || !alice.SubmittedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("SubmittedAt = %v", alice.SubmittedAt)
	}
	if *alice.Answers[0].ReceivedWeight != 8 || alice.Answers[0].Key != model.KeyForID(1) {
		t.Errorf("answer 0 = %+v", alice.Answers[0])
	}
	bob := es.Submissions[1]
	if bob.IsGraded || bob.Answers[1].ReceivedWeight != nil {
		t.Errorf("bob = %+v, want ungraded second answer", bob)
	}
	if es.Submissions[2].IsSubmitted || es.Submissions[2].SubmittedAt != nil {
		t.Errorf("carol = %+v, want not submitted", es.Submissions[2])
	}
}

func TestReimportReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := testSnapshot()
	if err := s.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	snap.Submissions = snap.Submissions[:1]
	if err := s.ImportSnapshot(ctx, snap); err != nil {
		t.Fatalf("second ImportSnapshot: %v", err)
	}
	es, err := s.GetSubmissions(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubmissions: %v", err)
	}
	if len(es.Submissions) != 1 {
		t.Errorf("expected 1 submission after re-import, got %d", len(es.Submissions))
	}
}

func TestGetSubmissionsUnknownExam(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSubmissions(context.Background(), 99)
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSaveGrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.ImportSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	req := model.GradeSubmission{
		CourseID: 3, ExamID: 7, StudentID: 43,
		Answers: []model.GradedAnswer{
			{QuestionID: 1, Key: model.KeyForID(1), Score: 6, Feedback: "ok"},
			{QuestionID: 2, Key: model.KeyForID(2), Score: 4, Feedback: "fine"},
		},
		OverallFeedback: "keep going",
	}
	if err := s.SaveGrades(ctx, req); err != nil {
		t.Fatalf("SaveGrades: %v", err)
	}
	es, _ := s.GetSubmissions(ctx, 7)
	bob, _ := es.Submission(43)
	if !bob.IsGraded {
		t.Error("expected bob graded after save")
	}
	if *bob.Answers[1].ReceivedWeight != 4 || bob.Answers[1].Feedback != "fine" {
		t.Errorf("answer 1 = %+v", bob.Answers[1])
	}
	if bob.OverallFeedback != "keep going" {
		t.Errorf("OverallFeedback = %q", bob.OverallFeedback)
	}
}

func TestSaveGradesErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.ImportSnapshot(ctx, testSnapshot()); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	err := s.SaveGrades(ctx, model.GradeSubmission{ExamID: 7, StudentID: 99})
	var nf *model.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("unknown student: expected NotFoundError, got %v", err)
	}

	err = s.SaveGrades(ctx, model.GradeSubmission{
		ExamID: 7, StudentID: 43,
		Answers: []model.GradedAnswer{
			{Key: model.KeyForID(1), Score: 1},
			{Key: "q99", Score: 1},
		},
	})
	if !errors.Is(err, model.ErrUnknownQuestion) {
		t.Errorf("unknown question: expected ErrUnknownQuestion, got %v", err)
	}
	es, _ := s.GetSubmissions(ctx, 7)
	bob, _ := es.Submission(43)
	if *bob.Answers[0].ReceivedWeight != 2 {
		t.Errorf("failed save changed answer 0 to %v", *bob.Answers[0].ReceivedWeight)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("GetMetadata(missing) = %q, %v", v, err)
	}
	if err := s.SetMetadata(ctx, "k", "one"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata(ctx, "k", "two"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if v, _ := s.GetMetadata(ctx, "k"); v != "two" {
		t.Errorf("expected 'two', got %q", v)
	}

	ok, _ := s.IsImported(ctx, "abc")
	if ok {
		t.Error("expected file not imported")
	}
	_ = s.MarkImported(ctx, "abc", "midterm.json")
	if ok, _ := s.IsImported(ctx, "abc"); !ok {
		t.Error("expected file imported")
	}

	now := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	_ = s.SetLastSync(ctx, now)
	got, err := s.LastSync(ctx)
	if err != nil || !got.Equal(now) {
		t.Errorf("LastSync() = %v, %v; want %v", got, err, now)
	}
}

func TestCommitLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, total := range []float64{10, 12} {
		_, err := s.RecordCommit(ctx, model.GradeCommit{
			CourseID: 3, ExamID: 7, StudentID: int64(42 + i), StudentName: "s",
			Total: total, MaxScore: 15, Percentage: 100 * total / 15,
		})
		if err != nil {
			t.Fatalf("RecordCommit: %v", err)
		}
	}
	_, _ = s.RecordCommit(ctx, model.GradeCommit{ExamID: 8, StudentID: 1})

	commits, err := s.ListCommits(ctx, 7)
	if err != nil {
		t.Fatalf("ListCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].StudentID != 42 || commits[1].Total != 12 {
		t.Errorf("commits = %+v", commits)
	}
	if commits[0].CommittedAt.IsZero() {
		t.Error("expected CommittedAt set")
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &model.Session{
		Token:     "backend-token",
		Professor: model.Professor{ID: 5, Name: "Dr. Who", Email: "who@example.com"},
	}
	id, err := s.CreateAuthSession(ctx, sess)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(id) != 64 || sess.ID != id {
		t.Errorf("session id = %q", id)
	}

	got, err := s.GetAuthSession(ctx, id)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if got == nil || got.Token != "backend-token" || got.Professor.Name != "Dr. Who" {
		t.Fatalf("GetAuthSession() = %+v", got)
	}

	p, err := s.GetProfessor(ctx, 5)
	if err != nil || p == nil || p.Email != "who@example.com" {
		t.Errorf("GetProfessor() = %+v, %v", p, err)
	}

	if err := s.DeleteAuthSession(ctx, id); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	got, err = s.GetAuthSession(ctx, id)
	if err != nil || got != nil {
		t.Errorf("expected nil session after delete, got %+v, %v", got, err)
	}
}

func TestExpiredAuthSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertProfessor(ctx, model.Professor{ID: 5}); err != nil {
		t.Fatalf("UpsertProfessor: %v", err)
	}
	past := time.Now().Add(-time.Hour).UTC()
	_, err := s.db.Exec(
		`INSERT INTO auth_sessions (id, token, professor_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		"old", "t", 5, past.Add(-time.Hour), past,
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.GetAuthSession(ctx, "old")
	if err != nil || got != nil {
		t.Errorf("expected expired session to be nil, got %+v, %v", got, err)
	}
}
