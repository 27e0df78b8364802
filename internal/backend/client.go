// Package backend is the REST client of the remote grading backend. It
// implements the submission repository, the auto-grade oracle and the grade
// saver, and validates every response before handing it to the engine.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/gradedesk/internal/model"
)

// SchemaError reports a backend response that does not match its expected shape.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Observer is notified about every backend request.
type Observer func(op string, status int, d time.Duration)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets a token used when the context carries no session,
// as in command line runs.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithObserver registers a request observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// Client talks to the grading backend.
type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	observe  Observer
	validate *validator.Validate
}

// New creates a backend client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 60 * time.Second},
		validate: validator.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login exchanges instructor credentials for a backend token.
func (c *Client) Login(ctx context.Context, email, password string) (*model.Session, error) {
	var out loginResponseDTO
	body := loginRequestDTO{Email: email, Password: password}
	if err := c.do(ctx, "login", http.MethodPost, "/api/login/", body, &out); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(out); err != nil {
		return nil, &model.NetworkError{Op: "login", Err: &SchemaError{Op: "login", Err: err}}
	}
	return &model.Session{
		Token: out.Token,
		Professor: model.Professor{
			ID:    out.Professor.ID,
			Name:  out.Professor.Name,
			Email: out.Professor.Email,
		},
		StartedAt: time.Now(),
	}, nil
}

// ListExams returns the exams visible to the current instructor.
func (c *Client) ListExams(ctx context.Context) ([]model.Exam, error) {
	const op = "list exams"
	var out []examDTO
	if err := c.do(ctx, op, http.MethodGet, "/api/exams/", nil, &out); err != nil {
		return nil, err
	}
	exams := make([]model.Exam, 0, len(out))
	for i := range out {
		if err := c.validate.Struct(out[i]); err != nil {
			return nil, &model.NetworkError{Op: op, Err: &SchemaError{Op: op, Err: err}}
		}
		exams = append(exams, out[i].toModel())
	}
	return exams, nil
}

// GetSubmissions returns a fresh snapshot of an exam and all its submissions.
func (c *Client) GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error) {
	const op = "get submissions"
	var out examSubmissionsDTO
	path := fmt.Sprintf("/api/exams/%d/submissions/", examID)
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		if isNotFound(err) {
			return nil, &model.NotFoundError{Resource: "exam", ID: examID}
		}
		return nil, err
	}
	if out.ID == 0 {
		out.ID = examID
	}
	if err := c.validate.Struct(out); err != nil {
		return nil, &model.NetworkError{Op: op, Err: &SchemaError{Op: op, Err: err}}
	}

	es := &model.ExamSubmissions{Exam: out.toModel()}
	es.Exam.SubmissionCount = len(out.StudentSubmissions)
	for _, d := range out.StudentSubmissions {
		sub := d.toModel(es.Exam.KeyMatcher())
		if sub.Normalize() {
			slog.Warn("graded flag disagrees with answers",
				"exam_id", examID, "student_id", sub.StudentID, "upstream", d.IsGraded)
		}
		es.Submissions = append(es.Submissions, sub)
	}
	return es, nil
}

// AutoGrade asks the backend to score one submission.
func (c *Client) AutoGrade(ctx context.Context, courseID, examID, studentID int64) (*model.OracleResponse, error) {
	const op = "auto-grade"
	var out autogradeDTO
	path := fmt.Sprintf("/api/courses/%d/exams/%d/students/%d/autograde/", courseID, examID, studentID)
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, &model.OracleError{Reason: "backend call", Err: err}
	}
	if err := c.validate.Struct(out); err != nil {
		return nil, &model.OracleError{Reason: "invalid response", Err: &SchemaError{Op: op, Err: err}}
	}
	resp, err := out.toModel()
	if err != nil {
		return nil, &model.OracleError{Reason: "invalid response", Err: &SchemaError{Op: op, Err: err}}
	}
	return resp, nil
}

// SaveGrades commits the grades of one submission.
func (c *Client) SaveGrades(ctx context.Context, req model.GradeSubmission) error {
	path := fmt.Sprintf("/api/courses/%d/exams/%d/students/%d/grades/", req.CourseID, req.ExamID, req.StudentID)
	err := c.do(ctx, "save grades", http.MethodPost, path, saveGradesFrom(req), nil)
	if isNotFound(err) {
		return &model.NotFoundError{Resource: "student", ID: req.StudentID}
	}
	return err
}

func (c *Client) authToken(ctx context.Context) string {
	if s := model.SessionFromContext(ctx); s != nil && s.Token != "" {
		return s.Token
	}
	return c.token
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.authToken(ctx); tok != "" {
		req.Header.Set("Authorization", "Token "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(op, 0, start)
		return &model.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.record(op, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		slog.Debug("backend request failed", "op", op, "path", path, "status", resp.StatusCode)
		return &model.NetworkError{Op: op, StatusCode: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.NetworkError{Op: op, Err: &SchemaError{Op: op, Err: err}}
	}
	return nil
}

func (c *Client) record(op string, status int, start time.Time) {
	if c.observe != nil {
		c.observe(op, status, time.Since(start))
	}
}

func isNotFound(err error) bool {
	var ne *model.NetworkError
	return errors.As(err, &ne) && ne.StatusCode == http.StatusNotFound
}
