package payrollhandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sapayroll/internal/auth"
	"sapayroll/internal/domain/audit"
	"sapayroll/internal/domain/payroll"
	"sapayroll/internal/transport/http/api"
	"sapayroll/internal/transport/http/middleware"
	"sapayroll/internal/transport/http/shared"
)

const commitEndpoint = "payroll.commit"

// Service is satisfied by *payroll.Service.
type Service interface {
	GenerateRun(ctx context.Context, practiceID string, month, year int) (payroll.RunSummary, error)
	ValidateRun(ctx context.Context, runID string) (payroll.ValidationReport, error)
	CommitRun(ctx context.Context, runID string) (payroll.CommitResult, error)
	DiscardRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (payroll.RunSummary, error)
	ListRuns(ctx context.Context, practiceID string, limit, offset int) ([]payroll.Run, int, error)
	ListAuditLogs(ctx context.Context, runID string) ([]payroll.AuditLog, error)
	VerifyAuditLog(ctx context.Context, auditLogID string) (payroll.VerifyResult, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type IdempotencyStore interface {
	Check(ctx context.Context, practiceID, userID, endpoint, key, requestHash string) (json.RawMessage, bool, error)
	Save(ctx context.Context, practiceID, userID, endpoint, key, requestHash string, response json.RawMessage) error
}

type Handler struct {
	Service     Service
	Audit       AuditRecorder
	Idempotency IdempotencyStore
}

func NewHandler(service Service, audit AuditRecorder, idempotency IdempotencyStore) *Handler {
	return &Handler{Service: service, Audit: audit, Idempotency: idempotency}
}

type generatePayload struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type validateResponse struct {
	RunID    string            `json:"runId"`
	Status   string            `json:"status"`
	Valid    bool              `json:"valid"`
	Errors   []payroll.Finding `json:"errors"`
	Warnings []payroll.Finding `json:"warnings"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/practices/{practiceID}/payroll/runs", func(r chi.Router) {
		r.Use(middleware.RequirePractice("practiceID"))
		r.With(middleware.RequirePermission(auth.PermPayrollRead)).Get("/", h.handleListRuns)
		r.With(middleware.RequirePermission(auth.PermPayrollRun)).Post("/", h.handleGenerateRun)
	})
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRead)).Get("/runs/{runID}", h.handleGetRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRun)).Post("/runs/{runID}/validate", h.handleValidateRun)
		r.With(middleware.RequirePermission(auth.PermPayrollCommit)).Post("/runs/{runID}/commit", h.handleCommitRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRun)).Delete("/runs/{runID}", h.handleDiscardRun)
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/runs/{runID}/audit-logs", h.handleListAuditLogs)
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/audit-logs/{auditLogID}/verify", h.handleVerifyAuditLog)
	})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, shared.DefaultPageLimit, shared.MaxPageLimit)
	runs, total, err := h.Service.ListRuns(r.Context(), chi.URLParam(r, "practiceID"), page.Limit, page.Offset)
	if err != nil {
		shared.FailDomain(w, middleware.GetRequestID(r.Context()), err, "payroll_runs_failed")
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, page.Page(runs, total), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGenerateRun(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())
	practiceID := chi.URLParam(r, "practiceID")

	var payload generatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", requestID)
		return
	}
	v := shared.NewValidator()
	v.Period(payload.Month, payload.Year)
	if v.Reject(w, requestID) {
		return
	}

	summary, err := h.Service.GenerateRun(r.Context(), practiceID, payload.Month, payload.Year)
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_generate_failed")
		return
	}
	h.record(r, user, practiceID, audit.ActionRunGenerated, summary.Run.ID, nil, summary.Run)
	api.Created(w, summary, requestID)
}

// loadRun fetches a run and enforces the caller's practice scope. It writes
// the failure response itself and reports whether the caller may proceed.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (middleware.User, payroll.RunSummary, bool) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	summary, err := h.Service.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_run_failed")
		return user, payroll.RunSummary{}, false
	}
	if !middleware.CanAccessPractice(user, summary.Run.PracticeID) {
		// other practices' runs are indistinguishable from missing ones
		api.Fail(w, http.StatusNotFound, "not_found", payroll.ErrRunNotFound.Error(), requestID)
		return user, payroll.RunSummary{}, false
	}
	return user, summary, true
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	_, summary, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleValidateRun(w http.ResponseWriter, r *http.Request) {
	user, summary, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	report, err := h.Service.ValidateRun(r.Context(), summary.Run.ID)
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_validate_failed")
		return
	}
	current, err := h.Service.GetRun(r.Context(), summary.Run.ID)
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_validate_failed")
		return
	}
	resp := validateResponse{
		RunID:    summary.Run.ID,
		Status:   current.Run.Status,
		Valid:    !report.HasErrors(),
		Errors:   report.Errors,
		Warnings: report.Warnings,
	}
	h.record(r, user, summary.Run.PracticeID, audit.ActionRunValidated, summary.Run.ID, map[string]string{"status": summary.Run.Status}, resp)
	api.Success(w, resp, requestID)
}

func (h *Handler) handleCommitRun(w http.ResponseWriter, r *http.Request) {
	user, summary, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	runID := summary.Run.ID

	idempotencyKey := r.Header.Get("Idempotency-Key")
	requestHash := middleware.RequestHash([]byte(runID))
	if idempotencyKey != "" && h.Idempotency != nil {
		stored, found, err := h.Idempotency.Check(r.Context(), summary.Run.PracticeID, user.UserID, commitEndpoint, idempotencyKey, requestHash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", err.Error(), requestID)
			return
		}
		if err != nil {
			slog.Warn("idempotency check failed", "err", err, "runId", runID)
		}
		if found {
			api.Success(w, stored, requestID)
			return
		}
	}

	result, err := h.Service.CommitRun(r.Context(), runID)
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_commit_failed")
		return
	}

	if idempotencyKey != "" && h.Idempotency != nil {
		payload, marshalErr := json.Marshal(result)
		if marshalErr == nil {
			marshalErr = h.Idempotency.Save(r.Context(), summary.Run.PracticeID, user.UserID, commitEndpoint, idempotencyKey, requestHash, payload)
		}
		if marshalErr != nil {
			slog.Warn("idempotency save failed", "err", marshalErr, "runId", runID)
		}
	}
	h.record(r, user, summary.Run.PracticeID, audit.ActionRunCommitted, runID,
		map[string]string{"status": summary.Run.Status},
		map[string]any{"status": result.Run.Status, "auditLogs": len(result.AuditLogs), "totals": result.Run.Totals})
	api.Success(w, result, requestID)
}

func (h *Handler) handleDiscardRun(w http.ResponseWriter, r *http.Request) {
	user, summary, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	requestID := middleware.GetRequestID(r.Context())
	if err := h.Service.DiscardRun(r.Context(), summary.Run.ID); err != nil {
		shared.FailDomain(w, requestID, err, "payroll_discard_failed")
		return
	}
	h.record(r, user, summary.Run.PracticeID, audit.ActionRunDiscarded, summary.Run.ID, summary.Run, nil)
	api.Success(w, map[string]string{"id": summary.Run.ID, "status": "discarded"}, requestID)
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	_, summary, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	logs, err := h.Service.ListAuditLogs(r.Context(), summary.Run.ID)
	if err != nil {
		shared.FailDomain(w, middleware.GetRequestID(r.Context()), err, "payroll_audit_logs_failed")
		return
	}
	api.Success(w, logs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleVerifyAuditLog(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	result, err := h.Service.VerifyAuditLog(r.Context(), chi.URLParam(r, "auditLogID"))
	if err != nil {
		shared.FailDomain(w, requestID, err, "payroll_verify_failed")
		return
	}
	if !middleware.CanAccessPractice(user, result.PracticeID) {
		api.Fail(w, http.StatusNotFound, "not_found", payroll.ErrAuditLogNotFound.Error(), requestID)
		return
	}
	api.Success(w, result, requestID)
}

func (h *Handler) record(r *http.Request, user middleware.User, practiceID, action, runID string, before, after any) {
	if h.Audit == nil {
		return
	}
	err := h.Audit.Record(r.Context(), audit.Entry{
		PracticeID: practiceID,
		ActorID:    user.UserID,
		Action:     action,
		EntityType: audit.EntityPayrollRun,
		EntityID:   runID,
		RequestID:  middleware.GetRequestID(r.Context()),
		IP:         middleware.ClientIP(r),
		Before:     before,
		After:      after,
	})
	if err != nil {
		slog.Warn("audit record failed", "action", action, "runId", runID, "err", err)
	}
}
