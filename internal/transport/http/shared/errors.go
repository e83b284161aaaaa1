package shared

import (
	"errors"
	"log/slog"
	"net/http"

	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/domain/reports"
	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/transport/http/api"
)

// FailDomain maps domain errors onto HTTP responses. Anything unrecognised
// is logged and reported as a 500 with fallbackCode.
func FailDomain(w http.ResponseWriter, requestID string, err error, fallbackCode string) {
	var validationErr *payroll.ValidationError
	var conflictErr *payroll.ConcurrentCommitError
	switch {
	case errors.As(err, &validationErr):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "validation_failed", err.Error(),
			map[string]any{"findings": validationErr.Findings}, requestID)
	case errors.As(err, &conflictErr):
		api.FailWithDetails(w, http.StatusConflict, "concurrent_commit", err.Error(),
			map[string]any{"runId": conflictErr.RunID}, requestID)
	case errors.Is(err, taxtable.ErrNotConfigured):
		api.Fail(w, http.StatusUnprocessableEntity, "tax_table_not_configured", err.Error(), requestID)
	case errors.Is(err, taxtable.ErrTableIntegrity):
		slog.Error("tax table integrity violation", "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, "tax_table_integrity", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRunNotFound), errors.Is(err, payroll.ErrAuditLogNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, reports.ErrNoCommittedData):
		api.Fail(w, http.StatusNotFound, "no_committed_data", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRunCommitted):
		api.Fail(w, http.StatusConflict, "run_committed", err.Error(), requestID)
	case errors.Is(err, payroll.ErrCommitInvalidState), errors.Is(err, payroll.ErrRunStateStale):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), requestID)
	case errors.Is(err, payroll.ErrCommitNoLines):
		api.Fail(w, http.StatusUnprocessableEntity, "no_lines", err.Error(), requestID)
	case errors.Is(err, payroll.ErrInvalidPeriod), errors.Is(err, reports.ErrInvalidPeriod),
		errors.Is(err, reports.ErrInvalidScope), errors.Is(err, taxtable.ErrInvalidTaxYear):
		api.Fail(w, http.StatusBadRequest, "invalid_request", err.Error(), requestID)
	default:
		slog.Error("request failed", "code", fallbackCode, "err", err, "requestId", requestID)
		api.Fail(w, http.StatusInternalServerError, fallbackCode, "internal error", requestID)
	}
}
