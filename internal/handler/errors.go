package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/model"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Detail  string              `json:"detail,omitempty"`
	Missing []model.QuestionKey `json:"missing,omitempty"`
}

// writeError maps an error to a status code and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	resp := errorResponse{Detail: err.Error()}
	var status int

	var (
		oe  *model.OracleError
		nf  *model.NotFoundError
		ne  *model.NetworkError
		ie  *model.IncompleteGradingError
		rge *model.RangeError
	)
	switch {
	case errors.Is(err, errUnauthorized):
		status = http.StatusUnauthorized
		resp.Error = i18n.T(ctx, "ErrUnauthorized")
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
		resp.Error = i18n.T(ctx, "ErrBadRequest")
	case errors.Is(err, errUnknownSession):
		status = http.StatusNotFound
		resp.Error = i18n.Td(ctx, "ErrNotFound", map[string]any{"Resource": "grading session"})
	case errors.As(err, &oe):
		status = http.StatusBadGateway
		resp.Error = i18n.T(ctx, "ErrOracle")
	case errors.As(err, &nf):
		status = http.StatusNotFound
		resp.Error = i18n.Td(ctx, "ErrNotFound", map[string]any{"Resource": nf.Resource})
	case errors.As(err, &ne):
		status = http.StatusBadGateway
		resp.Error = i18n.T(ctx, "ErrBackend")
	case errors.As(err, &ie):
		status = http.StatusUnprocessableEntity
		keys := make([]string, len(ie.Missing))
		for i, k := range ie.Missing {
			keys[i] = string(k)
		}
		resp.Error = i18n.Td(ctx, "ErrIncomplete", map[string]any{"Missing": strings.Join(keys, ", ")})
		resp.Missing = ie.Missing
	case errors.As(err, &rge):
		status = http.StatusBadRequest
		resp.Error = i18n.Td(ctx, "ErrRange", map[string]any{"Detail": rge.Error()})
	case errors.Is(err, model.ErrUnknownQuestion):
		status = http.StatusBadRequest
		resp.Error = i18n.T(ctx, "ErrUnknownQuestion")
	case errors.Is(err, model.ErrNotSubmitted):
		status = http.StatusConflict
		resp.Error = i18n.T(ctx, "ErrNotSubmitted")
	case errors.Is(err, model.ErrSessionAbandoned):
		status = http.StatusConflict
		resp.Error = i18n.T(ctx, "ErrAbandoned")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		status = http.StatusInternalServerError
		resp = errorResponse{Error: i18n.T(ctx, "ErrInternal")}
	}
	writeJSON(w, status, resp)
}
