package model

import (
	"time"
)

// Difficulty classifies how well a class did on a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Question is one weighted question of an exam.
type Question struct {
	ID       int64       `json:"id,omitempty"`
	Key      QuestionKey `json:"key"`
	Text     string      `json:"text"`
	Weight   float64     `json:"weight"`
	MinWords int         `json:"min_words"`
}

// Exam is a named assessment within a course.
type Exam struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	CourseID        int64      `json:"course_id"`
	CourseName      string     `json:"course_name"`
	Rubric          string     `json:"rubric,omitempty"`
	Questions       []Question `json:"questions"`
	SubmissionCount int        `json:"submission_count"`
}

// OverallScore is the sum of the current question weights.
func (e Exam) OverallScore() float64 {
	var sum float64
	for _, q := range e.Questions {
		sum += q.Weight
	}
	return sum
}

// Question returns the question with the given key.
func (e Exam) Question(key QuestionKey) (Question, bool) {
	for _, q := range e.Questions {
		if q.Key == key {
			return q, true
		}
	}
	return Question{}, false
}

// Answer is a student's response to one question.
type Answer struct {
	QuestionID     int64       `json:"question_id,omitempty"`
	Key            QuestionKey `json:"key"`
	QuestionText   string      `json:"question_text"`
	QuestionWeight float64     `json:"question_weight"`
	AnswerText     string      `json:"answer_text"`
	ReceivedWeight *float64    `json:"received_weight,omitempty"`
	Feedback       string      `json:"feedback,omitempty"`
}

// Graded reports whether the answer has a score.
func (a Answer) Graded() bool {
	return a.ReceivedWeight != nil
}

// StudentSubmission is one student's set of answers to an exam.
type StudentSubmission struct {
	StudentID       int64      `json:"student_id"`
	StudentName     string     `json:"student_name"`
	IsSubmitted     bool       `json:"is_submitted"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	IsGraded        bool       `json:"is_graded"`
	Answers         []Answer   `json:"answers"`
	OverallFeedback string     `json:"overall_feedback,omitempty"`
}

// AllAnswersGraded reports whether every answer carries a score.
func (s StudentSubmission) AllAnswersGraded() bool {
	for _, a := range s.Answers {
		if !a.Graded() {
			return false
		}
	}
	return true
}

// Normalize re-derives IsGraded from the answers. It returns true when the
// upstream flag disagreed.
func (s *StudentSubmission) Normalize() bool {
	graded := s.AllAnswersGraded()
	changed := s.IsGraded != graded
	s.IsGraded = graded
	return changed
}

// ExamSubmissions is a snapshot of one exam with all its submissions.
type ExamSubmissions struct {
	Exam        Exam                `json:"exam"`
	Submissions []StudentSubmission `json:"submissions"`
}

// Submission returns the submission of the given student.
func (es *ExamSubmissions) Submission(studentID int64) (*StudentSubmission, bool) {
	for i := range es.Submissions {
		if es.Submissions[i].StudentID == studentID {
			return &es.Submissions[i], true
		}
	}
	return nil, false
}

// GradeEdit is a pending, uncommitted score and feedback for one question.
type GradeEdit struct {
	ReceivedWeight *float64 `json:"received_weight,omitempty"`
	Feedback       string   `json:"feedback"`
}

// GradedAnswer is one entry of a save request.
type GradedAnswer struct {
	QuestionID int64       `json:"question_id,omitempty"`
	Key        QuestionKey `json:"key"`
	Score      float64     `json:"score"`
	Feedback   string      `json:"feedback"`
}

// GradeSubmission is the payload committed to the backend for one student.
type GradeSubmission struct {
	CourseID        int64          `json:"course_id"`
	ExamID          int64          `json:"exam_id"`
	StudentID       int64          `json:"student_id"`
	Answers         []GradedAnswer `json:"answers"`
	OverallFeedback string         `json:"overall_feedback"`
}

// OracleAnswer is one suggested score from the scoring oracle.
type OracleAnswer struct {
	QuestionID   int64       `json:"question_id,omitempty"`
	Key          QuestionKey `json:"key"`
	QuestionText string      `json:"question_text,omitempty"`
	Score        *float64    `json:"score"`
	Feedback     string      `json:"feedback"`
}

// OracleResponse is the normalized result of one auto-grade call.
type OracleResponse struct {
	Answers         []OracleAnswer `json:"answers"`
	OverallFeedback string         `json:"overall_feedback"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// GradeCommit records one successful save of a submission's grades.
type GradeCommit struct {
	ID          int64     `json:"id,omitempty"`
	CourseID    int64     `json:"course_id"`
	ExamID      int64     `json:"exam_id"`
	StudentID   int64     `json:"student_id"`
	StudentName string    `json:"student_name"`
	Total       float64   `json:"total"`
	MaxScore    float64   `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	CommittedAt time.Time `json:"committed_at"`
}
