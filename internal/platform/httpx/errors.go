// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/loanbook/internal/loan"
)

// Sentinel errors for handler level failures that have no domain equivalent.
var (
	ErrDuplicate = errors.New("duplicate entry")
	ErrBadInput  = errors.New("malformed request")
)

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, loan.ErrOfflineWrite):
		return http.StatusServiceUnavailable
	case errors.Is(err, loan.ErrValidation), errors.Is(err, ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, loan.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, loan.ErrState), errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, loan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, http.StatusText(status), detail)
}
