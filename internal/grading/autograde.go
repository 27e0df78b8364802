package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// Oracle suggests scores for one student's submission.
type Oracle interface {
	AutoGrade(ctx context.Context, courseID, examID, studentID int64) (*model.OracleResponse, error)
}

// OracleObserver is notified about every oracle call.
type OracleObserver func(outcome string, d time.Duration)

// AutoGrader maps oracle responses into an Editor.
type AutoGrader struct {
	oracle  Oracle
	observe OracleObserver
}

// NewAutoGrader creates an AutoGrader. observe may be nil.
func NewAutoGrader(o Oracle, observe OracleObserver) *AutoGrader {
	return &AutoGrader{oracle: o, observe: observe}
}

// AutoGrade asks the oracle for scores and overwrites the edits of every
// question named in the response. Either all entries are applied or none.
func (ag *AutoGrader) AutoGrade(ctx context.Context, e *Editor) (*model.OracleResponse, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	resp, err := ag.Suggest(ctx, e.CourseID(), e.ExamID(), e.StudentID())
	if err != nil {
		return nil, err
	}
	if err := Apply(e, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Suggest calls the oracle without touching any editor.
func (ag *AutoGrader) Suggest(ctx context.Context, courseID, examID, studentID int64) (*model.OracleResponse, error) {
	start := time.Now()
	resp, err := ag.oracle.AutoGrade(ctx, courseID, examID, studentID)
	if err != nil {
		ag.record("error", start)
		var oe *model.OracleError
		if errors.As(err, &oe) {
			return nil, err
		}
		return nil, &model.OracleError{Reason: "oracle call", Err: err}
	}
	if resp == nil {
		ag.record("error", start)
		return nil, &model.OracleError{Reason: "empty response"}
	}
	ag.record("ok", start)
	slog.Debug("oracle responded",
		"course_id", courseID, "exam_id", examID, "student_id", studentID, "answers", len(resp.Answers))
	return resp, nil
}

func (ag *AutoGrader) record(outcome string, start time.Time) {
	if ag.observe != nil {
		ag.observe(outcome, time.Since(start))
	}
}

// Apply validates an oracle response against the editor's submission and
// then writes it into the buffer. A response for an abandoned editor is
// dropped.
func Apply(e *Editor, resp *model.OracleResponse) error {
	if e.Abandoned() {
		return model.ErrSessionAbandoned
	}
	if resp == nil {
		return &model.OracleError{Reason: "empty response"}
	}

	known := make(map[model.QuestionKey]bool, len(e.sub.Answers))
	for _, a := range e.sub.Answers {
		known[a.Key] = true
	}
	matcher := e.sub.KeyMatcher(e.examID)
	keys := make([]model.QuestionKey, len(resp.Answers))
	for i, oa := range resp.Answers {
		key := oa.Key
		if key == "" && (oa.QuestionID > 0 || oa.QuestionText != "") {
			key = matcher.Key(oa.QuestionID, oa.QuestionText)
		}
		keys[i] = key
		switch {
		case key == "":
			return &model.OracleError{Reason: fmt.Sprintf("answer %d has no question id", i)}
		case !known[key]:
			return &model.OracleError{Reason: fmt.Sprintf("answer %d names unknown question %s", i, key)}
		case oa.Score == nil:
			return &model.OracleError{Reason: fmt.Sprintf("answer %d has no score", i)}
		case *oa.Score < 0 || math.IsNaN(*oa.Score) || math.IsInf(*oa.Score, 0):
			return &model.OracleError{Reason: fmt.Sprintf("answer %d has invalid score %v", i, *oa.Score)}
		}
	}

	for i, oa := range resp.Answers {
		ge := e.edit(keys[i])
		ge.ReceivedWeight = model.Float(*oa.Score)
		ge.Feedback = oa.Feedback
	}
	e.overallFeedback = resp.OverallFeedback
	e.touch()
	return nil
}
