// Package analytics computes class-wide statistics over the graded
// submissions of one exam. Every function is pure and can be recomputed
// freely from already fetched data.
package analytics

import (
	"errors"
	"sort"

	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/score"
)

// ErrNoGradedSubmissions means there is nothing to compute analytics over.
// Callers should skip rendering analytics in that case.
var ErrNoGradedSubmissions = errors.New("no graded submissions")

// Difficulty thresholds, in percent of the question weight.
const (
	easyThreshold   = 80
	mediumThreshold = 60
)

// Summary holds aggregate statistics over the graded set.
type Summary struct {
	Count          int     `json:"count"`
	OverallScore   float64 `json:"overall_score"`
	Average        float64 `json:"average"`
	AveragePercent float64 `json:"average_percent"`
	Max            float64 `json:"max"`
	Min            float64 `json:"min"`
}

// Bucket is one histogram range of percentages, (Lower, Upper].
// The first bucket also includes its lower bound.
type Bucket struct {
	Label string  `json:"label"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// QuestionDifficulty is the class performance on one question.
type QuestionDifficulty struct {
	Key            model.QuestionKey `json:"key"`
	Text           string            `json:"text"`
	Weight         float64           `json:"weight"`
	Answers        int               `json:"answers"`
	AverageScore   float64           `json:"average_score"`
	AveragePercent float64           `json:"average_percent"`
	Level          model.Difficulty  `json:"level"`
}

// Progress counts submissions by grading state.
type Progress struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Graded    int `json:"graded"`
	Pending   int `json:"pending"`
}

// Report is the full analytics result for one exam.
type Report struct {
	ExamName     string               `json:"exam_name"`
	CourseName   string               `json:"course_name"`
	Summary      Summary              `json:"summary"`
	Progress     Progress             `json:"progress"`
	Ranking      []score.Scored       `json:"ranking"`
	Distribution []Bucket             `json:"distribution"`
	Difficulty   []QuestionDifficulty `json:"difficulty"`
}

var bucketBounds = []struct {
	label        string
	lower, upper float64
}{
	{"[0,20]", 0, 20},
	{"(20,40]", 20, 40},
	{"(40,60]", 40, 60},
	{"(60,80]", 60, 80},
	{"(80,100]", 80, 100},
}

// GradedOnly returns the submissions that are both submitted and graded.
func GradedOnly(subs []model.StudentSubmission) []model.StudentSubmission {
	var out []model.StudentSubmission
	for _, s := range subs {
		if s.IsSubmitted && s.IsGraded {
			out = append(out, s)
		}
	}
	return out
}

// Compute builds the analytics report for an exam. It returns
// ErrNoGradedSubmissions when no submission is both submitted and graded.
func Compute(exam model.Exam, subs []model.StudentSubmission) (*Report, error) {
	graded := GradedOnly(subs)
	if len(graded) == 0 {
		return nil, ErrNoGradedSubmissions
	}
	scored := score.Aggregate(exam, graded)

	return &Report{
		ExamName:     exam.Name,
		CourseName:   exam.CourseName,
		Summary:      Summarize(exam.OverallScore(), scored),
		Progress:     CountProgress(subs),
		Ranking:      Rank(scored),
		Distribution: Distribute(scored),
		Difficulty:   QuestionDifficulties(exam, graded),
	}, nil
}

// Summarize computes average, maximum and minimum totals.
func Summarize(overall float64, scored []score.Scored) Summary {
	s := Summary{Count: len(scored), OverallScore: overall}
	if len(scored) == 0 {
		return s
	}
	var sum float64
	s.Max = scored[0].Total
	s.Min = scored[0].Total
	for _, sc := range scored {
		sum += sc.Total
		if sc.Total > s.Max {
			s.Max = sc.Total
		}
		if sc.Total < s.Min {
			s.Min = sc.Total
		}
	}
	s.Average = sum / float64(len(scored))
	s.AveragePercent = score.Percentage(s.Average, overall)
	return s
}

// Rank sorts by total descending. Ties keep their original order.
func Rank(scored []score.Scored) []score.Scored {
	out := make([]score.Scored, len(scored))
	copy(out, scored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Total > out[j].Total
	})
	return out
}

// BucketIndex returns the distribution bucket of a percentage.
// Values below 0 fall in the first bucket and values above 100 in the last.
func BucketIndex(pct float64) int {
	for i, b := range bucketBounds {
		if pct <= b.upper {
			return i
		}
	}
	return len(bucketBounds) - 1
}

// Distribute assigns every percentage to exactly one bucket. Buckets with
// no submissions are left out of the result.
func Distribute(scored []score.Scored) []Bucket {
	counts := make([]int, len(bucketBounds))
	for _, sc := range scored {
		counts[BucketIndex(sc.Percentage)]++
	}
	var out []Bucket
	for i, b := range bucketBounds {
		if counts[i] == 0 {
			continue
		}
		out = append(out, Bucket{Label: b.label, Lower: b.lower, Upper: b.upper, Count: counts[i]})
	}
	return out
}

// Classify maps an average percentage to a difficulty level.
func Classify(pct float64) model.Difficulty {
	switch {
	case pct >= easyThreshold:
		return model.DifficultyEasy
	case pct >= mediumThreshold:
		return model.DifficultyMedium
	default:
		return model.DifficultyHard
	}
}

// QuestionDifficulties averages the received weight of every question across
// the graded submissions, hardest first. Questions without any graded answer
// are left out.
func QuestionDifficulties(exam model.Exam, graded []model.StudentSubmission) []QuestionDifficulty {
	type acc struct {
		received, weight float64
		n                int
	}
	byKey := make(map[model.QuestionKey]*acc, len(exam.Questions))
	for _, sub := range graded {
		for _, a := range sub.Answers {
			if a.ReceivedWeight == nil {
				continue
			}
			ac, ok := byKey[a.Key]
			if !ok {
				ac = &acc{}
				byKey[a.Key] = ac
			}
			ac.received += *a.ReceivedWeight
			ac.weight += a.QuestionWeight
			ac.n++
		}
	}

	var out []QuestionDifficulty
	for _, q := range exam.Questions {
		ac, ok := byKey[q.Key]
		if !ok || ac.n == 0 || ac.weight == 0 {
			continue
		}
		pct := 100 * ac.received / ac.weight
		out = append(out, QuestionDifficulty{
			Key:            q.Key,
			Text:           q.Text,
			Weight:         q.Weight,
			Answers:        ac.n,
			AverageScore:   ac.received / float64(ac.n),
			AveragePercent: pct,
			Level:          Classify(pct),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AveragePercent < out[j].AveragePercent
	})
	return out
}

// CountProgress counts submitted, graded and pending submissions.
func CountProgress(subs []model.StudentSubmission) Progress {
	p := Progress{Total: len(subs)}
	for _, s := range subs {
		if !s.IsSubmitted {
			continue
		}
		p.Submitted++
		if s.IsGraded {
			p.Graded++
		} else {
			p.Pending++
		}
	}
	return p
}
