// Package httpx provides HTTP response utilities following RFC7807
// problem details.
package httpx

import (
	"errors"
	"net/http"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/shared"
)

// Error classes the ledger surfaces over HTTP. Domain packages keep their own
// sentinels; handlers translate them into one of these before responding.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrValidation  = errors.New("validation failed")
	ErrConsistency = errors.New("operation would violate a ledger invariant")
	ErrConflict    = errors.New("conflicting concurrent request")
)

// RespondError maps error classes to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrConsistency):
		Problem(w, http.StatusConflict, "Consistency Violation", err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrLockNotObtained):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
