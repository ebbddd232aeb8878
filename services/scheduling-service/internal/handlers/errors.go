package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
)

type errorResponse struct {
	Error                  string            `json:"error"`
	Kind                   string            `json:"kind,omitempty"`
	Reason                 string            `json:"reason,omitempty"`
	Resource               string            `json:"resource,omitempty"`
	ResourceCode           string            `json:"resource_code,omitempty"`
	ConflictingAppointment string            `json:"conflicting_appointment,omitempty"`
	Fields                 validation.Errors `json:"fields,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPrecondition:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders engine errors. Internal failures are logged and hidden
// from the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: apperr.KindInternal.String()})
		return
	}
	if e.Kind == apperr.KindIntegrity {
		logger.Error("integrity mismatch", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
	}
	httpx.WriteJSON(w, statusFor(e.Kind), errorResponse{
		Error:                  e.Message,
		Kind:                   e.Kind.String(),
		Reason:                 e.Reason,
		Resource:               e.Resource,
		ResourceCode:           e.ResourceCode,
		ConflictingAppointment: e.ConflictingAppointment,
	})
}

// writeInvalid reports a malformed request with per-field messages when the
// validator produced them.
func writeInvalid(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: "invalid request", Kind: "invalid_request"}
	var fields validation.Errors
	if errors.As(err, &fields) {
		resp.Fields = fields
	} else {
		resp.Error = err.Error()
	}
	httpx.WriteJSON(w, http.StatusBadRequest, resp)
}
