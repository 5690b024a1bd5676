package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// StatusFor maps a ledger error kind to an HTTP status.
func StatusFor(kind ledger.Kind) (int, string) {
	switch kind {
	case ledger.KindValidation, ledger.KindInvalidCode:
		return http.StatusBadRequest, "Validation Failed"
	case ledger.KindNotFound:
		return http.StatusNotFound, "Not Found"
	case ledger.KindConflict:
		return http.StatusConflict, "Conflict"
	case ledger.KindCurrencyMismatch,
		ledger.KindInsufficientBalance,
		ledger.KindInactive,
		ledger.KindHasActiveChildren,
		ledger.KindNonZeroBalance,
		ledger.KindHierarchy:
		return http.StatusUnprocessableEntity, "Rule Violation"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps ledger errors to RFC7807 responses by kind. Errors without a
// kind are reported as 500 without detail.
func RespondError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
		return
	}
	kind := ledger.KindOf(err)
	status, title := StatusFor(kind)
	if status == http.StatusInternalServerError {
		Problem(w, status, title, "")
		return
	}
	JSON(w, status, ProblemDetail{
		Type:   "urn:odyssey-ledger:error:" + string(kind),
		Title:  title,
		Status: status,
		Detail: err.Error(),
		Kind:   string(kind),
	})
}
