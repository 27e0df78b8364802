// Package export turns aggregated scores into downloadable reports.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/score"
)

// Header is the header row of every results table.
var Header = []string{"Student Name", "Exam Name", "Course Name", "Total Score", "Max Score", "Percentage", "Status"}

const (
	StatusGraded  = "Graded"
	StatusPending = "Pending"
)

// Row is one line of the results table.
type Row struct {
	StudentName string  `json:"student_name"`
	ExamName    string  `json:"exam_name"`
	CourseName  string  `json:"course_name"`
	Total       float64 `json:"total"`
	MaxScore    float64 `json:"max_score"`
	Percentage  float64 `json:"percentage"`
	Status      string  `json:"status"`
}

// Strings formats the row for a text table.
func (r Row) Strings() []string {
	return []string{
		r.StudentName,
		r.ExamName,
		r.CourseName,
		score.FormatScore(r.Total),
		score.FormatScore(r.MaxScore),
		score.FormatPercent(r.Percentage),
		r.Status,
	}
}

// ToTable returns one row per submitted submission, graded or not, in the
// order given.
func ToTable(exam model.Exam, subs []model.StudentSubmission) []Row {
	overall := exam.OverallScore()
	var rows []Row
	for _, sc := range score.Aggregate(exam, subs) {
		if !sc.Submission.IsSubmitted {
			continue
		}
		status := StatusPending
		if sc.Submission.IsGraded {
			status = StatusGraded
		}
		rows = append(rows, Row{
			StudentName: sc.Submission.StudentName,
			ExamName:    exam.Name,
			CourseName:  exam.CourseName,
			Total:       sc.Total,
			MaxScore:    overall,
			Percentage:  sc.Percentage,
			Status:      status,
		})
	}
	return rows
}

// WriteCSV writes the header and rows as comma-separated values.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Strings()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename derives a report filename from the exam name, such as
// "Midterm_1_results.csv". ext is "csv" or "xlsx".
func Filename(examName, ext string) string {
	base := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(examName), "_")
	base = strings.Trim(base, "_.")
	if base == "" {
		base = "exam"
	}
	return base + "_results." + ext
}

// Format is a report file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return ContentTypeXLSX
	}
	return ContentTypeCSV
}

// Write renders the results of es in the given format and returns the
// report filename. The XLSX workbook includes analytics when any
// submission is graded.
func Write(w io.Writer, f Format, es *model.ExamSubmissions) (string, error) {
	rows := ToTable(es.Exam, es.Submissions)
	switch f {
	case FormatCSV:
		return Filename(es.Exam.Name, string(f)), WriteCSV(w, rows)
	case FormatXLSX:
		rep, err := analytics.Compute(es.Exam, es.Submissions)
		if err != nil && !errors.Is(err, analytics.ErrNoGradedSubmissions) {
			return "", err
		}
		return Filename(es.Exam.Name, string(f)), WriteXLSX(w, rows, rep)
	}
	return "", fmt.Errorf("unknown export format %q", f)
}
