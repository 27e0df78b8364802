// Package grading holds the per-submission grading workflow: the edit
// buffer with its state machine, the auto-grade adapter and the session
// service that ties them to a repository and a grade saver.
package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/gradedesk/internal/model"
)

// State is the grading state of one submission.
type State string

const (
	StateUnsubmitted     State = "unsubmitted"
	StateSubmitted       State = "submitted"
	StatePartiallyGraded State = "partially_graded"
	StateReadyToSave     State = "ready_to_save"
	StateSaved           State = "saved"
)

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithCapOverMax caps scores above the question weight at save time
// instead of rejecting the save.
func WithCapOverMax() EditorOption {
	return func(e *Editor) { e.capOverMax = true }
}

// Editor buffers score and feedback edits for one submission until they are
// committed. It is not safe for concurrent use.
type Editor struct {
	courseID int64
	examID   int64
	sub      model.StudentSubmission

	edits           map[model.QuestionKey]*model.GradeEdit
	overallFeedback string

	capOverMax bool
	saved      bool
	dirty      bool
	abandoned  bool
	rev        int
}

// NewEditor opens a submission for grading. A submission that is already
// graded starts with its existing scores loaded.
func NewEditor(courseID, examID int64, sub model.StudentSubmission, opts ...EditorOption) *Editor {
	e := &Editor{
		courseID:        courseID,
		examID:          examID,
		sub:             sub,
		edits:           make(map[model.QuestionKey]*model.GradeEdit),
		overallFeedback: sub.OverallFeedback,
	}
	for _, o := range opts {
		o(e)
	}
	if sub.IsSubmitted && sub.IsGraded {
		for _, a := range sub.Answers {
			if a.ReceivedWeight == nil {
				continue
			}
			e.edits[a.Key] = &model.GradeEdit{
				ReceivedWeight: model.Float(*a.ReceivedWeight),
				Feedback:       a.Feedback,
			}
		}
		e.saved = true
	}
	return e
}

// Submission returns the submission as last loaded or committed.
func (e *Editor) Submission() model.StudentSubmission { return e.sub }

// CourseID returns the course of the exam being graded.
func (e *Editor) CourseID() int64 { return e.courseID }

// ExamID returns the exam being graded.
func (e *Editor) ExamID() int64 { return e.examID }

// StudentID returns the student whose submission is being graded.
func (e *Editor) StudentID() int64 { return e.sub.StudentID }

// State reports the current grading state.
func (e *Editor) State() State {
	switch {
	case !e.sub.IsSubmitted:
		return StateUnsubmitted
	case e.saved && !e.dirty:
		return StateSaved
	case e.CanSave():
		return StateReadyToSave
	case len(e.edits) == 0:
		return StateSubmitted
	default:
		return StatePartiallyGraded
	}
}

// Abandoned reports whether the grading session was abandoned.
func (e *Editor) Abandoned() bool { return e.abandoned }

// Abandon discards the edit buffer. Results that arrive afterwards are dropped.
func (e *Editor) Abandon() {
	e.abandoned = true
	e.edits = make(map[model.QuestionKey]*model.GradeEdit)
	e.overallFeedback = ""
}

func (e *Editor) answer(key model.QuestionKey) (model.Answer, error) {
	for _, a := range e.sub.Answers {
		if a.Key == key {
			return a, nil
		}
	}
	return model.Answer{}, fmt.Errorf("%w: %s", model.ErrUnknownQuestion, key)
}

func (e *Editor) writable() error {
	if e.abandoned {
		return model.ErrSessionAbandoned
	}
	if !e.sub.IsSubmitted {
		return model.ErrNotSubmitted
	}
	return nil
}

func (e *Editor) touch() {
	e.dirty = true
	e.rev++
}

// Revision increases with every change to the buffer.
func (e *Editor) Revision() int { return e.rev }

func (e *Editor) edit(key model.QuestionKey) *model.GradeEdit {
	ge, ok := e.edits[key]
	if !ok {
		ge = &model.GradeEdit{}
		e.edits[key] = ge
	}
	return ge
}

// SetScore stores a score for a question. Negative and non-finite values are
// rejected with a RangeError. Values above the question weight are stored
// and reported by OverMax.
func (e *Editor) SetScore(key model.QuestionKey, value float64) error {
	if err := e.writable(); err != nil {
		return err
	}
	a, err := e.answer(key)
	if err != nil {
		return err
	}
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return &model.RangeError{Key: key, Value: value, Max: a.QuestionWeight}
	}
	e.edit(key).ReceivedWeight = model.Float(value)
	e.touch()
	return nil
}

// SetScoreText stores a score typed into a form. Input that is not a number
// becomes 0 and negative input is clamped to 0.
func (e *Editor) SetScoreText(key model.QuestionKey, raw string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	if v < 0 {
		v = 0
	}
	return e.SetScore(key, v)
}

// SetFeedback stores feedback text for a question.
func (e *Editor) SetFeedback(key model.QuestionKey, text string) error {
	if err := e.writable(); err != nil {
		return err
	}
	if _, err := e.answer(key); err != nil {
		return err
	}
	e.edit(key).Feedback = text
	e.touch()
	return nil
}

// SetOverallFeedback stores feedback that is not tied to a single question.
func (e *Editor) SetOverallFeedback(text string) error {
	if err := e.writable(); err != nil {
		return err
	}
	e.overallFeedback = text
	e.touch()
	return nil
}

// OverallFeedback returns the pending overall feedback.
func (e *Editor) OverallFeedback() string { return e.overallFeedback }

// Edit returns a copy of the pending edit for a question.
func (e *Editor) Edit(key model.QuestionKey) (model.GradeEdit, bool) {
	ge, ok := e.edits[key]
	if !ok {
		return model.GradeEdit{}, false
	}
	out := model.GradeEdit{Feedback: ge.Feedback}
	if ge.ReceivedWeight != nil {
		out.ReceivedWeight = model.Float(*ge.ReceivedWeight)
	}
	return out, true
}

// Edits returns a copy of the whole edit buffer.
func (e *Editor) Edits() map[model.QuestionKey]model.GradeEdit {
	out := make(map[model.QuestionKey]model.GradeEdit, len(e.edits))
	for k := range e.edits {
		out[k], _ = e.Edit(k)
	}
	return out
}

// Missing lists, in answer order, the questions without a pending score.
func (e *Editor) Missing() []model.QuestionKey {
	var missing []model.QuestionKey
	for _, a := range e.sub.Answers {
		ge, ok := e.edits[a.Key]
		if !ok || ge.ReceivedWeight == nil {
			missing = append(missing, a.Key)
		}
	}
	return missing
}

// CanSave reports whether every answer has a pending score.
func (e *Editor) CanSave() bool {
	return len(e.Missing()) == 0
}

// OverMax lists the questions whose pending score exceeds the question weight.
func (e *Editor) OverMax() []model.QuestionKey {
	var over []model.QuestionKey
	for _, a := range e.sub.Answers {
		ge, ok := e.edits[a.Key]
		if ok && ge.ReceivedWeight != nil && *ge.ReceivedWeight > a.QuestionWeight {
			over = append(over, a.Key)
		}
	}
	return over
}

// PendingTotal is the sum of the pending scores.
func (e *Editor) PendingTotal() float64 {
	var total float64
	for _, ge := range e.edits {
		if ge.ReceivedWeight != nil {
			total += *ge.ReceivedWeight
		}
	}
	return total
}

// validate checks the buffer and returns the final score of every answer.
func (e *Editor) validate() ([]float64, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	if missing := e.Missing(); len(missing) > 0 {
		return nil, &model.IncompleteGradingError{Missing: missing}
	}
	scores := make([]float64, len(e.sub.Answers))
	for i, a := range e.sub.Answers {
		v := *e.edits[a.Key].ReceivedWeight
		if v > a.QuestionWeight {
			if !e.capOverMax {
				return nil, &model.RangeError{Key: a.Key, Value: v, Max: a.QuestionWeight}
			}
			v = a.QuestionWeight
		}
		scores[i] = v
	}
	return scores, nil
}

// SaveRequest builds the backend payload for the pending grades without
// changing any state.
func (e *Editor) SaveRequest() (model.GradeSubmission, error) {
	scores, err := e.validate()
	if err != nil {
		return model.GradeSubmission{}, err
	}
	req := model.GradeSubmission{
		CourseID:        e.courseID,
		ExamID:          e.examID,
		StudentID:       e.sub.StudentID,
		OverallFeedback: e.overallFeedback,
	}
	for i, a := range e.sub.Answers {
		req.Answers = append(req.Answers, model.GradedAnswer{
			QuestionID: a.QuestionID,
			Key:        a.Key,
			Score:      scores[i],
			Feedback:   e.edits[a.Key].Feedback,
		})
	}
	return req, nil
}

// Commit applies the pending grades to the submission and clears the
// buffer. It fails without changing anything when some answer has no score.
func (e *Editor) Commit() (model.StudentSubmission, error) {
	scores, err := e.validate()
	if err != nil {
		return model.StudentSubmission{}, err
	}
	sub := e.sub
	sub.Answers = make([]model.Answer, len(e.sub.Answers))
	for i, a := range e.sub.Answers {
		a.ReceivedWeight = model.Float(scores[i])
		a.Feedback = e.edits[a.Key].Feedback
		sub.Answers[i] = a
	}
	sub.IsGraded = true
	sub.OverallFeedback = e.overallFeedback

	e.sub = sub
	e.edits = make(map[model.QuestionKey]*model.GradeEdit)
	e.saved = true
	e.dirty = false
	return sub, nil
}

// ApplySaved records a save that succeeded while the buffer kept changing.
// The submission takes the saved scores; the newer edits stay pending.
func (e *Editor) ApplySaved(req model.GradeSubmission) model.StudentSubmission {
	saved := make(map[model.QuestionKey]model.GradedAnswer, len(req.Answers))
	for _, ga := range req.Answers {
		saved[ga.Key] = ga
	}
	sub := e.sub
	sub.Answers = make([]model.Answer, len(e.sub.Answers))
	for i, a := range e.sub.Answers {
		if ga, ok := saved[a.Key]; ok {
			a.ReceivedWeight = model.Float(ga.Score)
			a.Feedback = ga.Feedback
		}
		sub.Answers[i] = a
	}
	sub.OverallFeedback = req.OverallFeedback
	sub.Normalize()
	e.sub = sub
	e.saved = true
	return sub
}
