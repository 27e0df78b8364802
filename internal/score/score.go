// Package score computes received totals and percentages of submissions.
// All arithmetic is done at full precision; rounding is applied only for
// presentation.
package score

import (
	"fmt"
	"math"

	"github.com/pavelanni/gradedesk/internal/model"
)

// Total is the sum of received weights across the answers of a submission.
// Ungraded answers count as zero.
func Total(sub model.StudentSubmission) float64 {
	var total float64
	for _, a := range sub.Answers {
		if a.ReceivedWeight != nil {
			total += *a.ReceivedWeight
		}
	}
	return total
}

// MaxTotal is the sum of the question weights copied into the answers.
func MaxTotal(sub model.StudentSubmission) float64 {
	var sum float64
	for _, a := range sub.Answers {
		sum += a.QuestionWeight
	}
	return sum
}

// Percentage returns 100*total/overall, or 0 when overall is zero.
func Percentage(total, overall float64) float64 {
	if overall == 0 {
		return 0
	}
	return 100 * total / overall
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatScore formats a score with two decimals.
func FormatScore(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// FormatPercent formats a percentage with two decimals and a % suffix.
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}

// Scored pairs a submission with its aggregate score.
type Scored struct {
	Submission model.StudentSubmission `json:"submission"`
	Total      float64                 `json:"total"`
	Percentage float64                 `json:"percentage"`
}

// Aggregate scores every submission against the exam's overall score,
// preserving order.
func Aggregate(exam model.Exam, subs []model.StudentSubmission) []Scored {
	overall := exam.OverallScore()
	out := make([]Scored, 0, len(subs))
	for _, s := range subs {
		t := Total(s)
		out = append(out, Scored{
			Submission: s,
			Total:      t,
			Percentage: Percentage(t, overall),
		})
	}
	return out
}
