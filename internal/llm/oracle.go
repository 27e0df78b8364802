package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradedesk/internal/llm/prompts"
	"github.com/pavelanni/gradedesk/internal/model"
)

// SubmissionSource fetches the submissions the oracle grades.
type SubmissionSource interface {
	GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error)
}

// Oracle grades every answer of a submission with the LLM.
type Oracle struct {
	client  *Client
	source  SubmissionSource
	variant prompts.PromptVariant
}

// NewOracle creates an Oracle using the given prompt variant.
func NewOracle(c *Client, source SubmissionSource, variant prompts.PromptVariant) *Oracle {
	return &Oracle{client: c, source: source, variant: variant}
}

// AutoGrade scores one student's submission answer by answer and then asks
// for overall feedback. Any failed call fails the whole response.
func (o *Oracle) AutoGrade(ctx context.Context, courseID, examID, studentID int64) (*model.OracleResponse, error) {
	es, err := o.source.GetSubmissions(ctx, examID)
	if err != nil {
		return nil, &model.OracleError{Reason: "load submission", Err: err}
	}
	sub, ok := es.Submission(studentID)
	if !ok {
		return nil, &model.OracleError{Reason: "load submission", Err: &model.NotFoundError{Resource: "student", ID: studentID}}
	}
	if !sub.IsSubmitted {
		return nil, &model.OracleError{Reason: "load submission", Err: model.ErrNotSubmitted}
	}

	resp := &model.OracleResponse{}
	results := make([]GradeResult, len(sub.Answers))
	for i, a := range sub.Answers {
		res, err := o.client.GradeAnswer(ctx, o.variant, es.Exam, a)
		if err != nil {
			return nil, &model.OracleError{Reason: fmt.Sprintf("grade answer %s", a.Key), Err: err}
		}
		results[i] = *res
		resp.Answers = append(resp.Answers, model.OracleAnswer{
			QuestionID: a.QuestionID,
			Key:        a.Key,
			Score:      model.Float(res.Score),
			Feedback:   res.Feedback,
		})
	}

	overall, err := o.client.OverallFeedback(ctx, es.Exam, sub.Answers, results)
	if err != nil {
		return nil, &model.OracleError{Reason: "overall feedback", Err: err}
	}
	resp.OverallFeedback = overall

	slog.Info("LLM graded submission",
		"course_id", courseID, "exam_id", examID, "student_id", studentID, "answers", len(resp.Answers))
	return resp, nil
}
