package v1

import (
	"errors"
	"net/http"

	"github.com/blocbill/blocbill/internal/errs"
)

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "") }
func notFound(w http.ResponseWriter)               { writeErr(w, http.StatusNotFound, "not_found", "not_found") }

// writeDomainErr maps service sentinels to HTTP status codes.
func writeDomainErr(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrInvalid):
		writeErr(w, http.StatusBadRequest, msg, "invalid")
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, msg, "conflict")
	case errors.Is(err, errs.ErrImmutable):
		writeErr(w, http.StatusConflict, msg, "immutable")
	case errors.Is(err, errs.ErrScopeLocked):
		writeErr(w, http.StatusConflict, msg, "scope_locked")
	case errors.Is(err, errs.ErrIndexBelowOld):
		writeErr(w, http.StatusUnprocessableEntity, msg, "index_below_old")
	case errors.Is(err, errs.ErrExceedsMaximum):
		writeErr(w, http.StatusUnprocessableEntity, msg, "exceeds_maximum")
	case errors.Is(err, errs.ErrArrearsFirst):
		writeErr(w, http.StatusUnprocessableEntity, msg, "arrears_first")
	case errors.Is(err, errs.ErrMissingSurface):
		writeErr(w, http.StatusUnprocessableEntity, msg, "missing_surface")
	case errors.Is(err, errs.ErrEmptyParticipants):
		writeErr(w, http.StatusUnprocessableEntity, msg, "empty_participants")
	case errors.Is(err, errs.ErrUnprocessable):
		writeErr(w, http.StatusUnprocessableEntity, msg, "validation_error")
	default:
		writeErr(w, http.StatusInternalServerError, "internal error", "")
	}
}
