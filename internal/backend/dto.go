package backend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/gradedesk/internal/model"
)

// Wire formats of the grading backend. Every response is decoded into one of
// these types and validated before it is mapped into the model.

type questionDTO struct {
	ID       int64   `json:"id" validate:"gte=0"`
	Question string  `json:"question" validate:"required"`
	Weight   float64 `json:"question_weight" validate:"gt=0"`
	MinWords int     `json:"min_words" validate:"gte=0"`
}

type examDTO struct {
	ID              int64         `json:"id" validate:"gt=0"`
	ExamName        string        `json:"exam_name" validate:"required"`
	CourseID        int64         `json:"course_id" validate:"gte=0"`
	CourseName      string        `json:"course_name"`
	Rubrics         string        `json:"rubrics"`
	Questions       []questionDTO `json:"assessment_questions" validate:"dive"`
	SubmissionCount int           `json:"submission_count" validate:"gte=0"`
}

type answerDTO struct {
	QuestionID     int64    `json:"question_id" validate:"required_without=Question,gte=0"`
	Question       string   `json:"question"`
	QuestionWeight float64  `json:"question_weight" validate:"gt=0"`
	AnswerText     string   `json:"answer_text"`
	ReceivedWeight *float64 `json:"received_weight" validate:"omitempty,gte=0"`
	Feedback       *string  `json:"feedback"`
}

type submissionDTO struct {
	StudentID           int64       `json:"student_id" validate:"gt=0"`
	StudentName         string      `json:"student_name" validate:"required"`
	IsSubmitted         bool        `json:"is_submitted"`
	SubmissionTimestamp *time.Time  `json:"submission_timestamp"`
	IsGraded            bool        `json:"is_graded"`
	OverallFeedback     *string     `json:"overall_feedback"`
	Answers             []answerDTO `json:"answers" validate:"dive"`
}

type examSubmissionsDTO struct {
	examDTO
	StudentSubmissions []submissionDTO `json:"student_submissions" validate:"dive"`
}

type scoreDTO struct {
	Result string `json:"result" validate:"required"`
}

type answerFeedbackDTO struct {
	TotalScore      scoreDTO `json:"total_score"`
	OverallFeedback string   `json:"overall_feedback"`
}

type autogradeAnswerDTO struct {
	QuestionID int64             `json:"question_id" validate:"required_without=Question,gte=0"`
	Question   string            `json:"question"`
	Feedback   answerFeedbackDTO `json:"feedback"`
}

type autogradeDTO struct {
	Answers         []autogradeAnswerDTO `json:"answers" validate:"dive"`
	OverallFeedback string               `json:"overall_feedback"`
}

type gradeAnswerDTO struct {
	QuestionID     int64   `json:"question_id,omitempty"`
	Key            string  `json:"key"`
	ReceivedWeight float64 `json:"received_weight"`
	Feedback       string  `json:"feedback"`
}

type saveGradesDTO struct {
	Answers         []gradeAnswerDTO `json:"answers"`
	OverallFeedback string           `json:"overall_feedback"`
}

type loginRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type professorDTO struct {
	ID    int64  `json:"id" validate:"gt=0"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type loginResponseDTO struct {
	Token     string       `json:"token" validate:"required"`
	Professor professorDTO `json:"professor"`
}

func (d examDTO) toModel() model.Exam {
	exam := model.Exam{
		ID:              d.ID,
		Name:            d.ExamName,
		CourseID:        d.CourseID,
		CourseName:      d.CourseName,
		Rubric:          d.Rubrics,
		SubmissionCount: d.SubmissionCount,
	}
	for _, q := range d.Questions {
		exam.Questions = append(exam.Questions, model.Question{
			ID:       q.ID,
			Text:     q.Question,
			Weight:   q.Weight,
			MinWords: q.MinWords,
		})
	}
	exam.AssignKeys()
	return exam
}

// toModel keys each answer through keys, which resolves answers that only
// carry the question text to the exam's question.
func (d submissionDTO) toModel(keys *model.KeyMatcher) model.StudentSubmission {
	sub := model.StudentSubmission{
		StudentID:   d.StudentID,
		StudentName: d.StudentName,
		IsSubmitted: d.IsSubmitted,
		SubmittedAt: d.SubmissionTimestamp,
		IsGraded:    d.IsGraded,
	}
	if d.OverallFeedback != nil {
		sub.OverallFeedback = *d.OverallFeedback
	}
	for _, a := range d.Answers {
		ans := model.Answer{
			QuestionID:     a.QuestionID,
			Key:            keys.Key(a.QuestionID, a.Question),
			QuestionText:   a.Question,
			QuestionWeight: a.QuestionWeight,
			AnswerText:     a.AnswerText,
		}
		if a.ReceivedWeight != nil {
			ans.ReceivedWeight = model.Float(*a.ReceivedWeight)
		}
		if a.Feedback != nil {
			ans.Feedback = *a.Feedback
		}
		sub.Answers = append(sub.Answers, ans)
	}
	return sub
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)`)

// parseScore reads the number at the start of a score string such as "8",
// "7.5" or "8/10".
func parseScore(s string) (float64, error) {
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, fmt.Errorf("score %q is not a number", s)
	}
	return strconv.ParseFloat(m, 64)
}

// toModel leaves answer keys empty; answers are matched against the
// submission by id or question text when the response is applied.
func (d autogradeDTO) toModel() (*model.OracleResponse, error) {
	resp := &model.OracleResponse{OverallFeedback: d.OverallFeedback}
	for i, a := range d.Answers {
		v, err := parseScore(a.Feedback.TotalScore.Result)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		resp.Answers = append(resp.Answers, model.OracleAnswer{
			QuestionID:   a.QuestionID,
			QuestionText: a.Question,
			Score:        model.Float(v),
			Feedback:     a.Feedback.OverallFeedback,
		})
	}
	return resp, nil
}

func saveGradesFrom(req model.GradeSubmission) saveGradesDTO {
	out := saveGradesDTO{OverallFeedback: req.OverallFeedback}
	for _, a := range req.Answers {
		out.Answers = append(out.Answers, gradeAnswerDTO{
			QuestionID:     a.QuestionID,
			Key:            string(a.Key),
			ReceivedWeight: a.Score,
			Feedback:       a.Feedback,
		})
	}
	return out
}
