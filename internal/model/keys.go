package model

import (
	"fmt"

	"github.com/google/uuid"
)

// QuestionKey is the stable identity of a question within one exam.
type QuestionKey string

// questionNamespace seeds name-based keys for questions that arrive without an upstream id.
var questionNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9c55-2e4f0d7b91a3")

// KeyForID returns the key of a question with a known upstream id.
func KeyForID(id int64) QuestionKey {
	return QuestionKey(fmt.Sprintf("q%d", id))
}

// KeyFor returns the key for a question. When the upstream id is missing the
// key is derived from the exam and the question text, so it does not depend
// on the position of the answer in the list.
func KeyFor(examID, questionID int64, text string) QuestionKey {
	return keyAt(examID, questionID, text, 0)
}

// keyAt is KeyFor for the n-th id-less question carrying the same text.
func keyAt(examID, questionID int64, text string, n int) QuestionKey {
	if questionID > 0 {
		return KeyForID(questionID)
	}
	name := fmt.Sprintf("%d\x00%s", examID, text)
	if n > 0 {
		name = fmt.Sprintf("%s\x00%d", name, n)
	}
	return QuestionKey(uuid.NewSHA1(questionNamespace, []byte(name)).String())
}

// AssignKeys sets the key of every question that has none. Questions without
// an upstream id that repeat the same text are told apart by their order.
func (e *Exam) AssignKeys() {
	seen := make(map[string]int)
	for i := range e.Questions {
		q := &e.Questions[i]
		if q.ID > 0 {
			if q.Key == "" {
				q.Key = KeyForID(q.ID)
			}
			continue
		}
		n := seen[q.Text]
		seen[q.Text]++
		if q.Key == "" {
			q.Key = keyAt(e.ID, 0, q.Text, n)
		}
	}
}

// KeyMatcher resolves the question references of one answer list to keys.
// A matcher is stateful: the n-th text-only reference to a repeated question
// text resolves to the n-th question with that text.
type KeyMatcher struct {
	examID int64
	byID   map[int64]QuestionKey
	byText map[string][]QuestionKey
	seen   map[string]int
}

func newKeyMatcher(examID int64) *KeyMatcher {
	return &KeyMatcher{
		examID: examID,
		byID:   make(map[int64]QuestionKey),
		byText: make(map[string][]QuestionKey),
		seen:   make(map[string]int),
	}
}

func (m *KeyMatcher) add(id int64, text string, key QuestionKey) {
	if key == "" {
		return
	}
	if id > 0 {
		m.byID[id] = key
	}
	if text != "" {
		m.byText[text] = append(m.byText[text], key)
	}
}

// KeyMatcher returns a matcher over the exam's keyed questions.
func (e Exam) KeyMatcher() *KeyMatcher {
	m := newKeyMatcher(e.ID)
	for _, q := range e.Questions {
		m.add(q.ID, q.Text, q.Key)
	}
	return m
}

// KeyMatcher returns a matcher over the submission's keyed answers.
func (s StudentSubmission) KeyMatcher(examID int64) *KeyMatcher {
	m := newKeyMatcher(examID)
	for _, a := range s.Answers {
		m.add(a.QuestionID, a.QuestionText, a.Key)
	}
	return m
}

// Key returns the key of the referenced question. A known id wins over text.
// A reference that matches nothing gets the key the question would have been
// assigned on its own.
func (m *KeyMatcher) Key(questionID int64, text string) QuestionKey {
	if questionID > 0 {
		if k, ok := m.byID[questionID]; ok {
			return k
		}
	}
	n := m.seen[text]
	m.seen[text]++
	if keys := m.byText[text]; text != "" && n < len(keys) {
		return keys[n]
	}
	return keyAt(m.examID, questionID, text, n)
}
