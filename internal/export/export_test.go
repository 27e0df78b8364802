package export

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/model"
)

func testExam() *model.ExamSubmissions {
	exam := model.Exam{ID: 7, Name: "Midterm, Part 1", CourseName: `CS "101"`}
	exam.Questions = []model.Question{
		{ID: 1, Key: model.KeyForID(1), Text: "Q1", Weight: 10},
		{ID: 2, Key: model.KeyForID(2), Text: "Q2", Weight: 10},
	}
	answers := func(scores ...*float64) []model.Answer {
		var out []model.Answer
		for i, q := range exam.Questions {
			out = append(out, model.Answer{QuestionID: q.ID, Key: q.Key, QuestionText: q.Text, QuestionWeight: q.Weight, ReceivedWeight: scores[i]})
		}
		return out
	}
	return &model.ExamSubmissions{
		Exam: exam,
		Submissions: []model.StudentSubmission{
			{StudentID: 1, StudentName: "Zoe", IsSubmitted: true, IsGraded: true, Answers: answers(model.Float(9), model.Float(9))},
			{StudentID: 2, StudentName: "Carol", IsSubmitted: false, Answers: answers(nil, nil)},
			{StudentID: 3, StudentName: "Adam", IsSubmitted: true, Answers: answers(model.Float(5), nil)},
		},
	}
}

func TestToTable(t *testing.T) {
	es := testExam()
	rows := ToTable(es.Exam, es.Submissions)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := []Row{
		{StudentName: "Zoe", ExamName: es.Exam.Name, CourseName: es.Exam.CourseName, Total: 18, MaxScore: 20, Percentage: 90, Status: StatusGraded},
		{StudentName: "Adam", ExamName: es.Exam.Name, CourseName: es.Exam.CourseName, Total: 5, MaxScore: 20, Percentage: 25, Status: StatusPending},
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestWriteCSV(t *testing.T) {
	es := testExam()
	var buf bytes.Buffer
	if err := WriteCSV(&buf, ToTable(es.Exam, es.Submissions)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "Student Name,Exam Name,Course Name,Total Score,Max Score,Percentage,Status\n" +
		`Zoe,"Midterm, Part 1","CS ""101""",18.00,20.00,90.00%,Graded` + "\n" +
		`Adam,"Midterm, Part 1","CS ""101""",5.00,20.00,25.00%,Pending` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Errorf("expected header only, got %d lines", got)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name, ext, want string
	}{
		{"Midterm 1", "csv", "Midterm_1_results.csv"},
		{"Final: Part/2", "xlsx", "Final_Part_2_results.xlsx"},
		{"  ", "csv", "exam_results.csv"},
		{"../etc", "csv", "etc_results.csv"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name, tt.ext); got != tt.want {
			t.Errorf("Filename(%q, %q) = %q, want %q", tt.name, tt.ext, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("XLSX"); err != nil || f != FormatXLSX {
		t.Errorf("ParseFormat(XLSX) = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("expected error for pdf")
	}
}

func TestWriteXLSX(t *testing.T) {
	es := testExam()
	var buf bytes.Buffer
	name, err := Write(&buf, FormatXLSX, es)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if name != "Midterm_Part_1_results.xlsx" {
		t.Errorf("filename = %q", name)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultsSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "Student Name" || rows[1][0] != "Zoe" || rows[2][6] != StatusPending {
		t.Errorf("rows = %v", rows)
	}
	if v, _ := f.GetCellValue(analyticsSheet, "B1"); v != "1" {
		t.Errorf("graded count cell = %q, want 1", v)
	}
}

func TestWriteXLSXWithoutGraded(t *testing.T) {
	es := testExam()
	es.Submissions = es.Submissions[1:]
	var buf bytes.Buffer
	if _, err := Write(&buf, FormatXLSX, es); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex(analyticsSheet); idx != -1 {
		t.Error("expected no analytics sheet without graded submissions")
	}
}

func TestRenderReport(t *testing.T) {
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))

	es := testExam()
	es.Submissions[2].Answers[1].ReceivedWeight = model.Float(1)
	es.Submissions[2].IsGraded = true
	rep, err := analytics.Compute(es.Exam, es.Submissions)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderReport(ctx, &buf, rep); err != nil {
		t.Fatalf("RenderReport: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Summary", "Ranking", "Zoe", "90.00%", "Question difficulty", "Hard"} {
		if !strings.Contains(out, want) {
			t.Errorf("report should contain %q:\n%s", want, out)
		}
	}
	if !strings.Contains(strings.ToLower(out), "2 graded submissions") {
		t.Error("report footer should count graded submissions")
	}
	if strings.Index(out, "Zoe") > strings.Index(out, "Adam") {
		t.Error("ranking should list Zoe before Adam")
	}
}
