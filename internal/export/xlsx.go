package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/score"
)

const (
	resultsSheet   = "Results"
	analyticsSheet = "Analytics"
)

// WriteXLSX writes a workbook with a results sheet and, when report is not
// nil, an analytics sheet.
func WriteXLSX(w io.Writer, rows []Row, report *analytics.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeResults(f, rows); err != nil {
		return err
	}
	if report != nil {
		if err := writeAnalytics(f, report); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeResults(f *excelize.File, rows []Row) error {
	if err := setRow(f, resultsSheet, 1, toAny(Header)); err != nil {
		return err
	}
	for i, r := range rows {
		values := []any{
			r.StudentName, r.ExamName, r.CourseName,
			score.Round2(r.Total), score.Round2(r.MaxScore),
			score.FormatPercent(r.Percentage), r.Status,
		}
		if err := setRow(f, resultsSheet, i+2, values); err != nil {
			return err
		}
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	return f.SetRowStyle(resultsSheet, 1, 1, style)
}

func writeAnalytics(f *excelize.File, rep *analytics.Report) error {
	if _, err := f.NewSheet(analyticsSheet); err != nil {
		return fmt.Errorf("create analytics sheet: %w", err)
	}
	s := rep.Summary
	lines := [][]any{
		{"Graded submissions", s.Count},
		{"Max score", score.Round2(s.OverallScore)},
		{"Average score", score.Round2(s.Average)},
		{"Average percentage", score.FormatPercent(s.AveragePercent)},
		{"Highest score", score.Round2(s.Max)},
		{"Lowest score", score.Round2(s.Min)},
		{},
		{"Range", "Count"},
	}
	for _, b := range rep.Distribution {
		lines = append(lines, []any{b.Label, b.Count})
	}
	lines = append(lines, []any{}, []any{"Question", "Weight", "Average score", "Average percentage", "Level"})
	for _, d := range rep.Difficulty {
		lines = append(lines, []any{d.Text, d.Weight, score.Round2(d.AverageScore), score.FormatPercent(d.AveragePercent), string(d.Level)})
	}
	for i, l := range lines {
		if len(l) == 0 {
			continue
		}
		if err := setRow(f, analyticsSheet, i+1, l); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
