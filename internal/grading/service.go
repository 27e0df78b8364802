package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/score"
)

// Source fetches exams and their submissions.
type Source interface {
	ListExams(ctx context.Context) ([]model.Exam, error)
	GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error)
}

// Saver persists the grades of one submission.
type Saver interface {
	SaveGrades(ctx context.Context, req model.GradeSubmission) error
}

// Committed describes grades that were saved and applied to a submission.
type Committed struct {
	Exam       model.Exam
	Submission model.StudentSubmission
	Total      float64
	Percentage float64
	At         time.Time
}

// CommitHook is called after every successful save.
type CommitHook func(ctx context.Context, c Committed)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAutoGrader enables auto-grading through the given adapter.
func WithAutoGrader(ag *AutoGrader) ServiceOption {
	return func(s *Service) { s.autograder = ag }
}

// WithEditorOptions applies options to every editor the service opens.
func WithEditorOptions(opts ...EditorOption) ServiceOption {
	return func(s *Service) { s.editorOpts = append(s.editorOpts, opts...) }
}

// WithCommitHook registers a hook that runs after each successful save.
func WithCommitHook(h CommitHook) ServiceOption {
	return func(s *Service) { s.hooks = append(s.hooks, h) }
}

// Service opens grading sessions on top of a submission source and a saver.
type Service struct {
	source     Source
	saver      Saver
	autograder *AutoGrader
	editorOpts []EditorOption
	hooks      []CommitHook
	now        func() time.Time
}

// NewService creates a grading service.
func NewService(source Source, saver Saver, opts ...ServiceOption) *Service {
	s := &Service{source: source, saver: saver, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Session is one open grading session. Its editor is guarded by a mutex,
// so handlers may call it from different requests.
type Session struct {
	ID       string
	Exam     model.Exam
	OpenedAt time.Time

	mu     sync.Mutex
	editor *Editor
}

// Do runs fn with exclusive access to the session's editor.
func (s *Session) Do(fn func(e *Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.editor)
}

// View is a read-only snapshot of a session.
type View struct {
	ID              string                                `json:"id"`
	ExamID          int64                                 `json:"exam_id"`
	CourseID        int64                                 `json:"course_id"`
	StudentID       int64                                 `json:"student_id"`
	StudentName     string                                `json:"student_name"`
	State           State                                 `json:"state"`
	Edits           map[model.QuestionKey]model.GradeEdit `json:"edits"`
	OverallFeedback string                                `json:"overall_feedback"`
	Missing         []model.QuestionKey                   `json:"missing"`
	OverMax         []model.QuestionKey                   `json:"over_max"`
	PendingTotal    float64                               `json:"pending_total"`
	OverallScore    float64                               `json:"overall_score"`
	CanSave         bool                                  `json:"can_save"`
	Submission      model.StudentSubmission               `json:"submission"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.editor
	return View{
		ID:              s.ID,
		ExamID:          e.ExamID(),
		CourseID:        e.CourseID(),
		StudentID:       e.StudentID(),
		StudentName:     e.Submission().StudentName,
		State:           e.State(),
		Edits:           e.Edits(),
		OverallFeedback: e.OverallFeedback(),
		Missing:         e.Missing(),
		OverMax:         e.OverMax(),
		PendingTotal:    e.PendingTotal(),
		OverallScore:    s.Exam.OverallScore(),
		CanSave:         e.CanSave(),
		Submission:      e.Submission(),
	}
}

// Open fetches a fresh snapshot of the exam and opens the student's
// submission for grading.
func (svc *Service) Open(ctx context.Context, examID, studentID int64) (*Session, error) {
	es, err := svc.source.GetSubmissions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	sub, ok := es.Submission(studentID)
	if !ok {
		return nil, &model.NotFoundError{Resource: "student", ID: studentID}
	}
	return svc.newSession(es.Exam, *sub), nil
}

func (svc *Service) newSession(exam model.Exam, sub model.StudentSubmission) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Exam:     exam,
		OpenedAt: svc.now(),
		editor:   NewEditor(exam.CourseID, exam.ID, sub, svc.editorOpts...),
	}
}

// Abandon discards the session's pending edits. Auto-grade or save results
// that arrive later are dropped.
func (svc *Service) Abandon(sess *Session) {
	_ = sess.Do(func(e *Editor) error {
		e.Abandon()
		return nil
	})
	slog.Debug("grading session abandoned", "session", sess.ID)
}

// AutoGrade asks the oracle for scores and applies them to the session.
// The oracle call runs without holding the session lock.
func (svc *Service) AutoGrade(ctx context.Context, sess *Session) (*model.OracleResponse, error) {
	if svc.autograder == nil {
		return nil, &model.OracleError{Reason: "auto-grading is not configured"}
	}
	var courseID, examID, studentID int64
	err := sess.Do(func(e *Editor) error {
		courseID, examID, studentID = e.CourseID(), e.ExamID(), e.StudentID()
		return e.writable()
	})
	if err != nil {
		return nil, err
	}

	resp, err := svc.autograder.Suggest(ctx, courseID, examID, studentID)
	if err != nil {
		return nil, err
	}
	err = sess.Do(func(e *Editor) error { return Apply(e, resp) })
	if errors.Is(err, model.ErrSessionAbandoned) {
		slog.Info("dropped auto-grade result for abandoned session", "session", sess.ID)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Save sends the pending grades to the saver and, on success, commits them
// into the session. A failed save leaves the edit buffer as it was.
func (svc *Service) Save(ctx context.Context, sess *Session) (model.StudentSubmission, error) {
	var (
		req model.GradeSubmission
		rev int
	)
	err := sess.Do(func(e *Editor) error {
		var err error
		req, err = e.SaveRequest()
		rev = e.Revision()
		return err
	})
	if err != nil {
		return model.StudentSubmission{}, err
	}

	if err := svc.saver.SaveGrades(ctx, req); err != nil {
		return model.StudentSubmission{}, fmt.Errorf("save grades: %w", err)
	}

	var sub model.StudentSubmission
	err = sess.Do(func(e *Editor) error {
		if e.Abandoned() {
			return model.ErrSessionAbandoned
		}
		if e.Revision() == rev {
			var err error
			sub, err = e.Commit()
			return err
		}
		sub = e.ApplySaved(req)
		return nil
	})
	if errors.Is(err, model.ErrSessionAbandoned) {
		slog.Info("dropped save result for abandoned session",
			"session", sess.ID, "exam_id", req.ExamID, "student_id", req.StudentID)
	}
	if err != nil {
		return model.StudentSubmission{}, err
	}

	c := Committed{
		Exam:       sess.Exam,
		Submission: sub,
		Total:      score.Total(sub),
		At:         svc.now(),
	}
	c.Percentage = score.Percentage(c.Total, sess.Exam.OverallScore())
	slog.Info("grades committed",
		"exam_id", req.ExamID, "student_id", req.StudentID,
		"total", score.Round2(c.Total), "percentage", score.Round2(c.Percentage))
	for _, h := range svc.hooks {
		h(ctx, c)
	}
	return sub, nil
}

// BatchOptions controls BatchAutoGrade.
type BatchOptions struct {
	Concurrency int           // parallel oracle calls, default 1
	Limiter     *rate.Limiter // optional limit on oracle calls
	Save        bool          // save submissions that end up fully scored
}

// BatchItem is the outcome for one submission of a batch.
type BatchItem struct {
	StudentID   int64  `json:"student_id"`
	StudentName string `json:"student_name"`
	Applied     bool   `json:"applied"`
	Saved       bool   `json:"saved"`
	Missing     int    `json:"missing"`
	Err         error  `json:"-"`
}

// BatchAutoGrade auto-grades every submitted, ungraded submission of an exam.
// Failures of single submissions are reported in the result and do not stop
// the batch.
func (svc *Service) BatchAutoGrade(ctx context.Context, examID int64, opts BatchOptions) ([]BatchItem, error) {
	if svc.autograder == nil {
		return nil, &model.OracleError{Reason: "auto-grading is not configured"}
	}
	es, err := svc.source.GetSubmissions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("batch auto-grade: %w", err)
	}

	var pending []model.StudentSubmission
	for _, sub := range es.Submissions {
		if sub.IsSubmitted && !sub.IsGraded {
			pending = append(pending, sub)
		}
	}
	items := make([]BatchItem, len(pending))

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, sub := range pending {
		g.Go(func() error {
			if opts.Limiter != nil {
				if err := opts.Limiter.Wait(gctx); err != nil {
					return err
				}
			}
			items[i] = svc.gradeOne(gctx, es.Exam, sub, opts.Save)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, fmt.Errorf("batch auto-grade: %w", err)
	}
	return items, nil
}

func (svc *Service) gradeOne(ctx context.Context, exam model.Exam, sub model.StudentSubmission, save bool) BatchItem {
	item := BatchItem{StudentID: sub.StudentID, StudentName: sub.StudentName}
	sess := svc.newSession(exam, sub)
	if _, err := svc.AutoGrade(ctx, sess); err != nil {
		slog.Warn("auto-grade failed", "exam_id", exam.ID, "student_id", sub.StudentID, "error", err)
		item.Err = err
		return item
	}
	item.Applied = true
	_ = sess.Do(func(e *Editor) error {
		item.Missing = len(e.Missing())
		return nil
	})
	if !save || item.Missing > 0 {
		return item
	}
	if _, err := svc.Save(ctx, sess); err != nil {
		slog.Warn("saving auto-graded submission failed",
			"exam_id", exam.ID, "student_id", sub.StudentID, "error", err)
		item.Err = err
		return item
	}
	item.Saved = true
	return item
}
