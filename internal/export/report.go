package export

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/score"
)

var difficultyLabels = map[model.Difficulty]string{
	model.DifficultyEasy:   "DifficultyEasy",
	model.DifficultyMedium: "DifficultyMedium",
	model.DifficultyHard:   "DifficultyHard",
}

// RenderReport prints the analytics report as terminal tables, with labels
// in the language of the localizer stored in ctx.
func RenderReport(ctx context.Context, w io.Writer, rep *analytics.Report) error {
	fmt.Fprintln(w, i18n.Td(ctx, "ReportTitle", map[string]any{"Exam": rep.ExamName, "Course": rep.CourseName}))
	fmt.Fprintln(w)

	s := rep.Summary
	summary := [][]any{
		{i18n.T(ctx, "MetricOverall"), score.FormatScore(s.OverallScore)},
		{i18n.T(ctx, "MetricAverage"), score.FormatScore(s.Average)},
		{i18n.T(ctx, "MetricAveragePercent"), score.FormatPercent(s.AveragePercent)},
		{i18n.T(ctx, "MetricMax"), score.FormatScore(s.Max)},
		{i18n.T(ctx, "MetricMin"), score.FormatScore(s.Min)},
	}
	if err := section(w, i18n.T(ctx, "ReportSummary"),
		[]any{i18n.T(ctx, "ColMetric"), i18n.T(ctx, "ColValue")}, summary,
		[]tw.Align{tw.AlignLeft, tw.AlignRight}, nil); err != nil {
		return err
	}

	p := rep.Progress
	progress := [][]any{
		{i18n.T(ctx, "ProgressSubmitted"), strconv.Itoa(p.Submitted)},
		{i18n.T(ctx, "ProgressGraded"), strconv.Itoa(p.Graded)},
		{i18n.T(ctx, "ProgressPending"), strconv.Itoa(p.Pending)},
	}
	if err := section(w, i18n.T(ctx, "ReportProgress"),
		[]any{i18n.T(ctx, "ColMetric"), i18n.T(ctx, "ColCount")}, progress,
		[]tw.Align{tw.AlignLeft, tw.AlignRight}, nil); err != nil {
		return err
	}

	var ranking [][]any
	for i, sc := range rep.Ranking {
		ranking = append(ranking, []any{
			strconv.Itoa(i + 1), sc.Submission.StudentName,
			score.FormatScore(sc.Total), score.FormatPercent(sc.Percentage),
		})
	}
	if err := section(w, i18n.T(ctx, "ReportRanking"),
		[]any{i18n.T(ctx, "ColRank"), i18n.T(ctx, "ColStudent"), i18n.T(ctx, "ColTotal"), i18n.T(ctx, "ColPercentage")},
		ranking,
		[]tw.Align{tw.AlignRight, tw.AlignLeft, tw.AlignRight, tw.AlignRight},
		[]any{"", i18n.Tp(ctx, "GradedCount", s.Count), "", ""}); err != nil {
		return err
	}

	var dist [][]any
	for _, b := range rep.Distribution {
		dist = append(dist, []any{b.Label, strconv.Itoa(b.Count)})
	}
	if err := section(w, i18n.T(ctx, "ReportDistribution"),
		[]any{i18n.T(ctx, "ColRange"), i18n.T(ctx, "ColCount")}, dist,
		[]tw.Align{tw.AlignLeft, tw.AlignRight}, nil); err != nil {
		return err
	}

	var diff [][]any
	for _, d := range rep.Difficulty {
		diff = append(diff, []any{
			d.Text, score.FormatScore(d.AverageScore) + " / " + score.FormatScore(d.Weight),
			score.FormatPercent(d.AveragePercent), i18n.T(ctx, difficultyLabels[d.Level]),
		})
	}
	return section(w, i18n.T(ctx, "ReportDifficulty"),
		[]any{i18n.T(ctx, "ColQuestion"), i18n.T(ctx, "ColAverage"), i18n.T(ctx, "ColPercentage"), i18n.T(ctx, "ColLevel")},
		diff,
		[]tw.Align{tw.AlignLeft, tw.AlignRight, tw.AlignRight, tw.AlignLeft}, nil)
}

func section(w io.Writer, title string, header []any, rows [][]any, align []tw.Align, footer []any) error {
	fmt.Fprintln(w, title)
	table := tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{PerColumn: align},
		},
	}))
	table.Header(header...)
	for _, r := range rows {
		if err := table.Append(r...); err != nil {
			return fmt.Errorf("render %s: %w", title, err)
		}
	}
	if footer != nil {
		table.Footer(footer...)
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render %s: %w", title, err)
	}
	fmt.Fprintln(w)
	return nil
}
