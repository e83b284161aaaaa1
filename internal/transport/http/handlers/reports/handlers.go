package reportshandler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sapayroll/internal/auth"
	"sapayroll/internal/domain/audit"
	"sapayroll/internal/domain/reports"
	"sapayroll/internal/transport/http/api"
	"sapayroll/internal/transport/http/middleware"
	"sapayroll/internal/transport/http/shared"
)

// Service is satisfied by *reports.Service.
type Service interface {
	MonthlyDeclaration(ctx context.Context, practiceID string, period reports.Period) (reports.Declaration, error)
	Reconciliation(ctx context.Context, practiceID, taxYear string, scope reports.Scope) (reports.Reconciliation, error)
	AnnualCertificate(ctx context.Context, employeeID, taxYear string) (reports.Certificate, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type Handler struct {
	Service Service
	Audit   AuditRecorder
}

func NewHandler(service Service, audit AuditRecorder) *Handler {
	return &Handler{Service: service, Audit: audit}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/practices/{practiceID}/reports", func(r chi.Router) {
		r.Use(middleware.RequirePractice("practiceID"))
		r.With(middleware.RequirePermission(auth.PermReportsRead)).Get("/emp201", h.handleEMP201)
		r.With(middleware.RequirePermission(auth.PermReportsRead)).Get("/emp501", h.handleEMP501)
	})
	r.With(middleware.RequirePermission(auth.PermReportsRead)).Get("/employees/{employeeID}/reports/irp5", h.handleIRP5)
}

func (h *Handler) handleEMP201(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	practiceID := chi.URLParam(r, "practiceID")
	v := shared.NewValidator()
	month, _ := v.IntRange("month", r.URL.Query().Get("month"), 1, 12)
	year, _ := v.IntRange("year", r.URL.Query().Get("year"), 1900, 9999)
	if v.Reject(w, requestID) {
		return
	}

	declaration, err := h.Service.MonthlyDeclaration(r.Context(), practiceID, reports.Period{Month: month, Year: year})
	if err != nil {
		shared.FailDomain(w, requestID, err, "emp201_failed")
		return
	}
	body, err := reports.DeclarationCSV(declaration)
	if err != nil {
		shared.FailDomain(w, requestID, err, "emp201_render_failed")
		return
	}
	h.issued(r, practiceID, declaration.Filename())
	api.Attachment(w, reports.ContentTypeCSV, declaration.Filename(), body)
}

func (h *Handler) handleEMP501(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	practiceID := chi.URLParam(r, "practiceID")
	v := shared.NewValidator()
	taxYear, _ := v.TaxYear("taxYear", r.URL.Query().Get("taxYear"))
	v.Enum("period", r.URL.Query().Get("period"), []string{string(reports.ScopeInterim), string(reports.ScopeAnnual)}, "must be interim or annual")
	if v.Reject(w, requestID) {
		return
	}
	scope, err := reports.ParseScope(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("period"))))
	if err != nil {
		shared.FailDomain(w, requestID, err, "emp501_failed")
		return
	}

	reconciliation, err := h.Service.Reconciliation(r.Context(), practiceID, taxYear, scope)
	if err != nil {
		shared.FailDomain(w, requestID, err, "emp501_failed")
		return
	}
	body, err := reports.ReconciliationCSV(reconciliation)
	if err != nil {
		shared.FailDomain(w, requestID, err, "emp501_render_failed")
		return
	}
	if !reconciliation.Balanced {
		slog.Warn("emp501 reconciliation unbalanced", "practiceId", practiceID, "taxYear", taxYear, "mismatches", len(reconciliation.Mismatches))
	}
	h.issued(r, practiceID, reconciliation.Filename())
	api.Attachment(w, reports.ContentTypeCSV, reconciliation.Filename(), body)
}

func (h *Handler) handleIRP5(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	v := shared.NewValidator()
	taxYear, _ := v.TaxYear("taxYear", r.URL.Query().Get("taxYear"))
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "txt"
	}
	v.Enum("format", format, []string{"txt", "pdf"}, "must be txt or pdf")
	if v.Reject(w, requestID) {
		return
	}

	certificate, err := h.Service.AnnualCertificate(r.Context(), chi.URLParam(r, "employeeID"), taxYear)
	if err != nil {
		shared.FailDomain(w, requestID, err, "irp5_failed")
		return
	}
	if !middleware.CanAccessPractice(user, certificate.PracticeID) {
		api.Fail(w, http.StatusNotFound, "no_committed_data", reports.ErrNoCommittedData.Error(), requestID)
		return
	}

	filename := certificate.Filename(format)
	if format == "pdf" {
		body, err := reports.CertificatePDF(certificate)
		if err != nil {
			shared.FailDomain(w, requestID, err, "irp5_render_failed")
			return
		}
		h.issued(r, certificate.PracticeID, filename)
		api.Attachment(w, reports.ContentTypePDF, filename, body)
		return
	}
	h.issued(r, certificate.PracticeID, filename)
	api.Attachment(w, reports.ContentTypeText, filename, reports.CertificateText(certificate))
}

func (h *Handler) issued(r *http.Request, practiceID, filename string) {
	if h.Audit == nil {
		return
	}
	user, _ := middleware.GetUser(r.Context())
	err := h.Audit.Record(r.Context(), audit.Entry{
		PracticeID: practiceID,
		ActorID:    user.UserID,
		Action:     audit.ActionReportIssued,
		EntityType: audit.EntityReport,
		EntityID:   filename,
		RequestID:  middleware.GetRequestID(r.Context()),
		IP:         middleware.ClientIP(r),
	})
	if err != nil {
		slog.Warn("audit record failed", "action", audit.ActionReportIssued, "report", filename, "err", err)
	}
}
