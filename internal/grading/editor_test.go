package grading

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pavelanni/gradedesk/internal/model"
)

// testSubmission builds a submitted, ungraded submission with one answer per weight.
func testSubmission(weights ...float64) model.StudentSubmission {
	sub := model.StudentSubmission{StudentID: 42, StudentName: "Alice", IsSubmitted: true}
	for i, w := range weights {
		id := int64(i + 1)
		sub.Answers = append(sub.Answers, model.Answer{
			QuestionID:     id,
			Key:            model.KeyForID(id),
			QuestionText:   "Question",
			QuestionWeight: w,
			AnswerText:     "answer",
		})
	}
	return sub
}

func q(id int64) model.QuestionKey { return model.KeyForID(id) }

func TestEditorStates(t *testing.T) {
	e := NewEditor(1, 7, testSubmission(10, 10))
	if got := e.State(); got != StateSubmitted {
		t.Fatalf("initial State() = %s, want %s", got, StateSubmitted)
	}
	if err := e.SetScore(q(1), 5); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if got := e.State(); got != StatePartiallyGraded {
		t.Errorf("State() = %s, want %s", got, StatePartiallyGraded)
	}
	if err := e.SetScore(q(2), 10); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if got := e.State(); got != StateReadyToSave {
		t.Errorf("State() = %s, want %s", got, StateReadyToSave)
	}
	if _, err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := e.State(); got != StateSaved {
		t.Errorf("State() = %s, want %s", got, StateSaved)
	}
}

func TestEditorUnsubmitted(t *testing.T) {
	sub := testSubmission(10)
	sub.IsSubmitted = false
	e := NewEditor(1, 7, sub)
	if got := e.State(); got != StateUnsubmitted {
		t.Errorf("State() = %s, want %s", got, StateUnsubmitted)
	}
	if err := e.SetScore(q(1), 1); !errors.Is(err, model.ErrNotSubmitted) {
		t.Errorf("SetScore() error = %v, want ErrNotSubmitted", err)
	}
}

func TestSetScoreRange(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr bool
	}{
		{"zero", 0, false},
		{"max", 10, false},
		{"fraction", 7.5, false},
		{"over max stored", 12, false},
		{"negative", -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEditor(1, 7, testSubmission(10))
			err := e.SetScore(q(1), tt.value)
			var re *model.RangeError
			if got := errors.As(err, &re); got != tt.wantErr {
				t.Fatalf("SetScore(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if tt.wantErr {
				if _, ok := e.Edit(q(1)); ok {
					t.Error("rejected score left an edit behind")
				}
				return
			}
			ge, _ := e.Edit(q(1))
			if ge.ReceivedWeight == nil || *ge.ReceivedWeight != tt.value {
				t.Errorf("stored score = %v, want %v", ge.ReceivedWeight, tt.value)
			}
		})
	}
}

func TestSetScoreUnknownQuestion(t *testing.T) {
	e := NewEditor(1, 7, testSubmission(10))
	if err := e.SetScore(q(9), 1); !errors.Is(err, model.ErrUnknownQuestion) {
		t.Errorf("SetScore() error = %v, want ErrUnknownQuestion", err)
	}
}

func TestSetScoreText(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"7.5", 7.5},
		{" 3 ", 3},
		{"", 0},
		{"abc", 0},
		{"-4", 0},
		{"NaN", 0},
	}
	for _, tt := range tests {
		e := NewEditor(1, 7, testSubmission(10))
		if err := e.SetScoreText(q(1), tt.raw); err != nil {
			t.Fatalf("SetScoreText(%q): %v", tt.raw, err)
		}
		ge, _ := e.Edit(q(1))
		if *ge.ReceivedWeight != tt.want {
			t.Errorf("SetScoreText(%q) stored %v, want %v", tt.raw, *ge.ReceivedWeight, tt.want)
		}
	}
}

func TestCommitIncompleteChangesNothing(t *testing.T) {
	e := NewEditor(1, 7, testSubmission(10, 10, 10))
	_ = e.SetScore(q(1), 4)
	_ = e.SetFeedback(q(1), "ok")
	before := e.Edits()
	stateBefore := e.State()

	_, err := e.Commit()
	var ie *model.IncompleteGradingError
	if !errors.As(err, &ie) {
		t.Fatalf("Commit() error = %v, want IncompleteGradingError", err)
	}
	if want := []model.QuestionKey{q(2), q(3)}; !reflect.DeepEqual(ie.Missing, want) {
		t.Errorf("Missing = %v, want %v", ie.Missing, want)
	}
	if !reflect.DeepEqual(e.Edits(), before) {
		t.Errorf("edits changed after failed commit: %v, want %v", e.Edits(), before)
	}
	if e.State() != stateBefore {
		t.Errorf("State() = %s, want %s", e.State(), stateBefore)
	}
	if e.Submission().IsGraded {
		t.Error("submission marked graded after failed commit")
	}
	if _, err := e.SaveRequest(); !errors.As(err, &ie) {
		t.Errorf("SaveRequest() error = %v, want IncompleteGradingError", err)
	}
}

func TestOverMaxPolicy(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		e := NewEditor(1, 7, testSubmission(10))
		_ = e.SetScore(q(1), 12)
		if got := e.OverMax(); len(got) != 1 || got[0] != q(1) {
			t.Errorf("OverMax() = %v, want [q1]", got)
		}
		var re *model.RangeError
		if _, err := e.SaveRequest(); !errors.As(err, &re) {
			t.Fatalf("SaveRequest() error = %v, want RangeError", err)
		}
		if _, err := e.Commit(); !errors.As(err, &re) {
			t.Fatalf("Commit() error = %v, want RangeError", err)
		}
	})
	t.Run("cap", func(t *testing.T) {
		e := NewEditor(1, 7, testSubmission(10), WithCapOverMax())
		_ = e.SetScore(q(1), 12)
		req, err := e.SaveRequest()
		if err != nil {
			t.Fatalf("SaveRequest: %v", err)
		}
		if req.Answers[0].Score != 10 {
			t.Errorf("capped score = %v, want 10", req.Answers[0].Score)
		}
		sub, err := e.Commit()
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if *sub.Answers[0].ReceivedWeight != 10 {
			t.Errorf("committed score = %v, want 10", *sub.Answers[0].ReceivedWeight)
		}
	})
}

func TestSaveRequest(t *testing.T) {
	e := NewEditor(3, 7, testSubmission(10, 5))
	_ = e.SetScore(q(1), 8)
	_ = e.SetFeedback(q(1), "good")
	_ = e.SetScore(q(2), 5)
	_ = e.SetOverallFeedback("well done")

	req, err := e.SaveRequest()
	if err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}
	want := model.GradeSubmission{
		CourseID:  3,
		ExamID:    7,
		StudentID: 42,
		Answers: []model.GradedAnswer{
			{QuestionID: 1, Key: q(1), Score: 8, Feedback: "good"},
			{QuestionID: 2, Key: q(2), Score: 5},
		},
		OverallFeedback: "well done",
	}
	if !reflect.DeepEqual(req, want) {
		t.Errorf("SaveRequest() = %+v, want %+v", req, want)
	}
	if e.State() != StateReadyToSave {
		t.Errorf("SaveRequest changed state to %s", e.State())
	}
}

func TestCommit(t *testing.T) {
	e := NewEditor(3, 7, testSubmission(10, 5))
	_ = e.SetScore(q(1), 8)
	_ = e.SetScore(q(2), 5)
	_ = e.SetOverallFeedback("fine")

	sub, err := e.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !sub.IsGraded || !sub.AllAnswersGraded() {
		t.Errorf("committed submission not graded: %+v", sub)
	}
	if sub.OverallFeedback != "fine" {
		t.Errorf("OverallFeedback = %q, want %q", sub.OverallFeedback, "fine")
	}
	if len(e.Edits()) != 0 {
		t.Errorf("buffer not cleared: %v", e.Edits())
	}
}

func TestGradedSubmissionPreloads(t *testing.T) {
	sub := testSubmission(10, 10)
	sub.Answers[0].ReceivedWeight = model.Float(6)
	sub.Answers[0].Feedback = "partial"
	sub.Answers[1].ReceivedWeight = model.Float(9)
	sub.Normalize()

	e := NewEditor(1, 7, sub)
	if e.State() != StateSaved {
		t.Fatalf("State() = %s, want %s", e.State(), StateSaved)
	}
	ge, ok := e.Edit(q(1))
	if !ok || *ge.ReceivedWeight != 6 || ge.Feedback != "partial" {
		t.Errorf("Edit(q1) = %+v, %v; want preloaded 6/partial", ge, ok)
	}
	_ = e.SetScore(q(2), 10)
	if e.State() != StateReadyToSave {
		t.Errorf("State() after revision = %s, want %s", e.State(), StateReadyToSave)
	}
}

func TestAbandon(t *testing.T) {
	e := NewEditor(1, 7, testSubmission(10))
	_ = e.SetScore(q(1), 3)
	e.Abandon()
	if len(e.Edits()) != 0 {
		t.Errorf("edits after Abandon = %v, want none", e.Edits())
	}
	if err := e.SetScore(q(1), 3); !errors.Is(err, model.ErrSessionAbandoned) {
		t.Errorf("SetScore() after Abandon error = %v, want ErrSessionAbandoned", err)
	}
	if _, err := e.Commit(); !errors.Is(err, model.ErrSessionAbandoned) {
		t.Errorf("Commit() after Abandon error = %v, want ErrSessionAbandoned", err)
	}
}

func TestApplySavedKeepsNewerEdits(t *testing.T) {
	e := NewEditor(1, 7, testSubmission(10, 10))
	_ = e.SetScore(q(1), 5)
	_ = e.SetScore(q(2), 5)
	req, err := e.SaveRequest()
	if err != nil {
		t.Fatalf("SaveRequest: %v", err)
	}
	_ = e.SetScore(q(2), 7)

	sub := e.ApplySaved(req)
	if *sub.Answers[1].ReceivedWeight != 5 {
		t.Errorf("saved score = %v, want 5", *sub.Answers[1].ReceivedWeight)
	}
	if !sub.IsGraded {
		t.Error("submission not graded after ApplySaved")
	}
	ge, _ := e.Edit(q(2))
	if *ge.ReceivedWeight != 7 {
		t.Errorf("pending score = %v, want 7", *ge.ReceivedWeight)
	}
	if e.State() != StateReadyToSave {
		t.Errorf("State() = %s, want %s", e.State(), StateReadyToSave)
	}
}
