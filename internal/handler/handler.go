package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/pavelanni/gradedesk/internal/analytics"
	"github.com/pavelanni/gradedesk/internal/export"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
)

// Repository is the submission source the API reads from.
type Repository interface {
	ListExams(ctx context.Context) ([]model.Exam, error)
	GetSubmissions(ctx context.Context, examID int64) (*model.ExamSubmissions, error)
}

// Authenticator exchanges instructor credentials for a backend session.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateAuthSession(ctx context.Context, sess *model.Session) (string, error)
	GetAuthSession(ctx context.Context, id string) (*model.Session, error)
	DeleteAuthSession(ctx context.Context, id string) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuth enables login through the backend. Without it the API serves
// without authentication.
func WithAuth(a Authenticator, s SessionStore) Option {
	return func(h *Handler) {
		h.auth = a
		h.sessions = s
	}
}

// WithBatchLimiter limits oracle calls made by batch auto-grading.
func WithBatchLimiter(l *rate.Limiter, concurrency int) Option {
	return func(h *Handler) {
		h.limiter = l
		h.concurrency = concurrency
	}
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	repo        Repository
	grading     *grading.Service
	auth        Authenticator
	sessions    SessionStore
	config      model.Config
	validate    *validator.Validate
	limiter     *rate.Limiter
	concurrency int

	mu   sync.Mutex
	open map[string]openSession
}

// New creates a new Handler.
func New(repo Repository, svc *grading.Service, cfg model.Config, opts ...Option) *Handler {
	h := &Handler{
		repo:     repo,
		grading:  svc,
		config:   cfg,
		validate: validator.New(),
		open:     make(map[string]openSession),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/exams", h.handleListExams)
		r.Get("/api/exams/{examID}/submissions", h.handleSubmissions)
		r.Get("/api/exams/{examID}/analytics", h.handleAnalytics)
		r.Get("/api/exams/{examID}/export.csv", h.handleExport(export.FormatCSV))
		r.Get("/api/exams/{examID}/export.xlsx", h.handleExport(export.FormatXLSX))
		r.Post("/api/exams/{examID}/autograde", h.handleBatchAutoGrade)
		r.Post("/api/exams/{examID}/students/{studentID}/sessions", h.handleOpenSession)

		r.Get("/api/sessions/{sessionID}", h.handleGetSession)
		r.Put("/api/sessions/{sessionID}/answers/{key}", h.handleUpdateAnswer)
		r.Put("/api/sessions/{sessionID}/feedback", h.handleOverallFeedback)
		r.Post("/api/sessions/{sessionID}/autograde", h.handleAutoGrade)
		r.Post("/api/sessions/{sessionID}/save", h.handleSave)
		r.Delete("/api/sessions/{sessionID}", h.handleAbandon)
	})
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.repo.ListExams(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	es, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, es)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	es, ok := h.loadExam(w, r)
	if !ok {
		return
	}
	rep, err := analytics.Compute(es.Exam, es.Submissions)
	if errors.Is(err, analytics.ErrNoGradedSubmissions) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleExport(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		es, ok := h.loadExam(w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		name, err := export.Write(&buf, f, es)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Error("write export", "error", err)
		}
	}
}

type batchResult struct {
	grading.BatchItem
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleBatchAutoGrade(w http.ResponseWriter, r *http.Request) {
	examID, err := int64Param(r, "examID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := h.grading.BatchAutoGrade(r.Context(), examID, grading.BatchOptions{
		Concurrency: h.concurrency,
		Limiter:     h.limiter,
		Save:        r.URL.Query().Get("save") == "true",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]batchResult, len(items))
	for i, it := range items {
		out[i] = batchResult{BatchItem: it}
		if it.Err != nil {
			out[i].Error = it.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) loadExam(w http.ResponseWriter, r *http.Request) (*model.ExamSubmissions, bool) {
	examID, err := int64Param(r, "examID")
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	es, err := h.repo.GetSubmissions(r.Context(), examID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return es, true
}

var errBadRequest = errors.New("bad request")

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
