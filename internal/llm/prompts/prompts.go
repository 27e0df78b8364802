package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed *.txt
var embedded embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for majors.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// GradeData holds template data for grading one answer.
type GradeData struct {
	ExamName     string
	QuestionText string
	MaxPoints    float64
	MinWords     int
	WordCount    int
	Rubric       string
	Answer       string
}

// OverallItem is one graded answer in an overall feedback prompt.
type OverallItem struct {
	QuestionText string
	Score        float64
	MaxPoints    float64
	Feedback     string
}

// OverallData holds template data for the overall feedback prompt.
type OverallData struct {
	ExamName string
	Total    float64
	MaxTotal float64
	Items    []OverallItem
}

// Set is a parsed set of prompt templates.
type Set struct {
	grade   map[PromptVariant]*template.Template
	overall *template.Template
}

// Default returns the templates built into the binary.
func Default() (*Set, error) {
	return Load(embedded)
}

// Load parses grade_<variant>.txt for every variant and overall.txt from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{grade: make(map[PromptVariant]*template.Template)}
	for _, v := range variants {
		name := "grade_" + string(v) + ".txt"
		tmpl, err := parse(fsys, name)
		if err != nil {
			return nil, err
		}
		s.grade[v] = tmpl
	}
	tmpl, err := parse(fsys, "overall.txt")
	if err != nil {
		return nil, err
	}
	s.overall = tmpl
	return s, nil
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildGradePrompt builds the prompt that grades one answer.
func (s *Set) BuildGradePrompt(variant PromptVariant, data GradeData) (string, error) {
	tmpl, ok := s.grade[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data.WordCount = len(strings.Fields(data.Answer))
	data.Answer = SanitizeAnswer(data.Answer)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildOverallPrompt builds the prompt that summarizes a graded submission.
func (s *Set) BuildOverallPrompt(data OverallData) (string, error) {
	var buf bytes.Buffer
	if err := s.overall.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeAnswer strips prompt delimiter tags from a student answer and
// truncates very long answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
