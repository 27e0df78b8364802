package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionAbandoned is returned when a result arrives for a grading
	// session that was already abandoned.
	ErrSessionAbandoned = errors.New("grading session abandoned")
	// ErrNotSubmitted is returned when grading a submission that was never submitted.
	ErrNotSubmitted = errors.New("submission not submitted")
	// ErrUnknownQuestion is returned for a question key that is not part of the submission.
	ErrUnknownQuestion = errors.New("unknown question")
)

// NetworkError reports an unreachable backend or a non-success status.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: backend returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError reports an unknown exam, student or other resource.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// IncompleteGradingError blocks a save while some answers have no score.
type IncompleteGradingError struct {
	Missing []QuestionKey
}

func (e *IncompleteGradingError) Error() string {
	keys := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		keys[i] = string(k)
	}
	return "grading incomplete, missing scores for: " + strings.Join(keys, ", ")
}

// OracleError reports a failed or malformed auto-grade call.
type OracleError struct {
	Reason string
	Err    error
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auto-grade failed: %s: %v", e.Reason, e.Err)
	}
	return "auto-grade failed: " + e.Reason
}

func (e *OracleError) Unwrap() error { return e.Err }

// RangeError reports a score outside the allowed bounds.
type RangeError struct {
	Key   QuestionKey
	Value float64
	Max   float64
}

func (e *RangeError) Error() string {
	if e.Value < 0 {
		return fmt.Sprintf("score %v for %s must not be negative", e.Value, e.Key)
	}
	if e.Max > 0 && e.Value > e.Max {
		return fmt.Sprintf("score %v for %s exceeds maximum %v", e.Value, e.Key, e.Max)
	}
	return fmt.Sprintf("score %v for %s is not a valid number", e.Value, e.Key)
}
