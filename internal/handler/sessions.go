package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/model"
)

var errUnknownSession = errors.New("grading session not found")

// openSession is a grading session held for the login session that opened it.
type openSession struct {
	*grading.Session
	owner string
}

// ownerOf names the login session of the request, or "" when login is disabled.
func ownerOf(r *http.Request) string {
	if s := model.SessionFromContext(r.Context()); s != nil {
		return s.ID
	}
	return ""
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	examID, err := int64Param(r, "examID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	studentID, err := int64Param(r, "studentID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.grading.Open(r.Context(), examID, studentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.mu.Lock()
	h.open[sess.ID] = openSession{Session: sess, owner: ownerOf(r)}
	h.mu.Unlock()
	writeJSON(w, http.StatusCreated, sess.View())
}

func (h *Handler) session(r *http.Request) (*grading.Session, error) {
	id := chi.URLParam(r, "sessionID")
	h.mu.Lock()
	defer h.mu.Unlock()
	open, ok := h.open[id]
	if !ok || open.owner != ownerOf(r) {
		return nil, errUnknownSession
	}
	return open.Session, nil
}

func (h *Handler) forget(id string) {
	h.mu.Lock()
	delete(h.open, id)
	h.mu.Unlock()
}

// SweepSessions abandons and drops the grading sessions opened before
// cutoff. It returns how many were dropped.
func (h *Handler) SweepSessions(cutoff time.Time) int {
	h.mu.Lock()
	var stale []*grading.Session
	for id, open := range h.open {
		if open.OpenedAt.Before(cutoff) {
			stale = append(stale, open.Session)
			delete(h.open, id)
		}
	}
	h.mu.Unlock()
	for _, sess := range stale {
		h.grading.Abandon(sess)
	}
	return len(stale)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// answerUpdate is the body of an answer edit. A JSON number is a strict
// score; a JSON string is raw form input, parsed leniently.
type answerUpdate struct {
	Score    json.RawMessage `json:"score,omitempty"`
	Feedback *string         `json:"feedback,omitempty"`
}

func (u answerUpdate) apply(e *grading.Editor, key model.QuestionKey) error {
	if len(u.Score) > 0 && string(u.Score) != "null" {
		var raw string
		if err := json.Unmarshal(u.Score, &raw); err == nil {
			if err := e.SetScoreText(key, raw); err != nil {
				return err
			}
		} else {
			v, err := strconv.ParseFloat(string(u.Score), 64)
			if err != nil {
				return fmt.Errorf("%w: score must be a number or a string", errBadRequest)
			}
			if err := e.SetScore(key, v); err != nil {
				return err
			}
		}
	}
	if u.Feedback != nil {
		return e.SetFeedback(key, *u.Feedback)
	}
	return nil
}

func (h *Handler) handleUpdateAnswer(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body answerUpdate
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	key := model.QuestionKey(chi.URLParam(r, "key"))
	if err := sess.Do(func(e *grading.Editor) error { return body.apply(e, key) }); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type feedbackUpdate struct {
	OverallFeedback string `json:"overall_feedback" validate:"max=10000"`
}

func (h *Handler) handleOverallFeedback(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body feedbackUpdate
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	err = sess.Do(func(e *grading.Editor) error { return e.SetOverallFeedback(body.OverallFeedback) })
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleAutoGrade(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.grading.AutoGrade(r.Context(), sess); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.grading.Save(r.Context(), sess); err != nil {
		writeError(w, r, err)
		return
	}
	h.forget(sess.ID)
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.grading.Abandon(sess)
	h.forget(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}
