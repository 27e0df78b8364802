package backend

import (
	"context"
	"net/http"
	"testing"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
)

// Questions carry ids, answers only repeat the question text.
const textOnlySubmissionsJSON = `{
  "id": 7,
  "exam_name": "Midterm",
  "course_id": 3,
  "course_name": "CS101",
  "assessment_questions": [
    {"id": 1, "question": "Define a goroutine.", "question_weight": 10},
    {"id": 2, "question": "Explain channels.", "question_weight": 10}
  ],
  "student_submissions": [
    {
      "student_id": 42, "student_name": "Alice", "is_submitted": true, "is_graded": true,
      "answers": [
        {"question": "Define a goroutine.", "question_weight": 10, "answer_text": "a", "received_weight": 8},
        {"question": "Explain channels.", "question_weight": 10, "answer_text": "b", "received_weight": 3}
      ]
    },
    {
      "student_id": 43, "student_name": "Bob", "is_submitted": true, "is_graded": false,
      "answers": [
        {"question": "Define a goroutine.", "question_weight": 10, "answer_text": "c"},
        {"question": "Explain channels.", "question_weight": 10, "answer_text": "d"}
      ]
    }
  ]
}`

func textOnlyServer(t *testing.T) *Client {
	return newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/exams/7/submissions/":
			w.Write([]byte(textOnlySubmissionsJSON))
		case "/api/courses/3/exams/7/students/43/autograde/":
			w.Write([]byte(`{
			  "answers": [
			    {"question": "Explain channels.", "feedback": {"total_score": {"result": "4"}, "overall_feedback": "ok"}},
			    {"question": "Define a goroutine.", "feedback": {"total_score": {"result": "9/10"}}}
			  ]
			}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func TestTextOnlyAnswersJoinQuestions(t *testing.T) {
	c := textOnlyServer(t)
	es, err := c.GetSubmissions(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetSubmissions: %v", err)
	}
	alice, _ := es.Submission(42)
	for i, a := range alice.Answers {
		if want := es.Exam.Questions[i].Key; a.Key != want {
			t.Errorf("answer %d key = %q, want %q", i, a.Key, want)
		}
	}

	report, err := analytics.Compute(es.Exam, es.Submissions)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := len(report.Difficulty); got != 2 {
		t.Fatalf("difficulty entries = %d, want 2", got)
	}
	if got := report.Difficulty[0].Key; got != model.KeyForID(2) {
		t.Errorf("hardest question = %q, want q2", got)
	}
}

func TestAutoGradeByQuestionText(t *testing.T) {
	c := textOnlyServer(t)
	ctx := context.Background()
	es, err := c.GetSubmissions(ctx, 7)
	if err != nil {
		t.Fatalf("GetSubmissions: %v", err)
	}
	bob, _ := es.Submission(43)

	resp, err := c.AutoGrade(ctx, 3, 7, 43)
	if err != nil {
		t.Fatalf("AutoGrade: %v", err)
	}
	if resp.Answers[0].QuestionText != "Explain channels." {
		t.Errorf("answer 0 text = %q", resp.Answers[0].QuestionText)
	}

	e := grading.NewEditor(3, 7, *bob)
	if err := grading.Apply(e, resp); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !e.CanSave() {
		t.Fatalf("CanSave() = false, missing %v", e.Missing())
	}
	tests := []struct {
		key  model.QuestionKey
		want float64
	}{
		{model.KeyForID(1), 9},
		{model.KeyForID(2), 4},
	}
	for _, tt := range tests {
		ge, ok := e.Edit(tt.key)
		if !ok || ge.ReceivedWeight == nil || *ge.ReceivedWeight != tt.want {
			t.Errorf("Edit(%s) = %+v, want score %v", tt.key, ge, tt.want)
		}
	}
}
