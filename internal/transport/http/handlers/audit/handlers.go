package audithandler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gocarina/gocsv"

	"sapayroll/internal/auth"
	"sapayroll/internal/domain/audit"
	"sapayroll/internal/transport/http/api"
	"sapayroll/internal/transport/http/middleware"
	"sapayroll/internal/transport/http/shared"
)

const exportLimit = 10000

// Service is satisfied by *audit.Service.
type Service interface {
	Count(ctx context.Context, practiceID string, filter audit.Filter) (int, error)
	List(ctx context.Context, practiceID string, filter audit.Filter, includeDetails bool, limit, offset int) ([]audit.Event, error)
}

type Handler struct {
	Service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{Service: service}
}

type exportRow struct {
	ID         string `csv:"id"`
	ActorID    string `csv:"actor_user_id"`
	Action     string `csv:"action"`
	EntityType string `csv:"entity_type"`
	EntityID   string `csv:"entity_id"`
	RequestID  string `csv:"request_id"`
	IP         string `csv:"ip"`
	CreatedAt  string `csv:"created_at"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/practices/{practiceID}/audit-events", func(r chi.Router) {
		r.Use(middleware.RequirePractice("practiceID"))
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/", h.handleListEvents)
		r.With(middleware.RequirePermission(auth.PermAuditRead)).Get("/export", h.handleExportEvents)
	})
}

func filterFrom(r *http.Request) audit.Filter {
	q := r.URL.Query()
	return audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		ActorUser:  q.Get("actorUserId"),
	}
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	page := shared.ParsePagination(r, 100, 500)
	includeDetails := r.URL.Query().Get("includeDetails") == "true"
	filter := filterFrom(r)
	total, err := h.Service.Count(r.Context(), practiceID, filter)
	if err != nil {
		slog.Warn("audit count failed", "err", err)
	}

	events, err := h.Service.List(r.Context(), practiceID, filter, includeDetails, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to list audit events", middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, page.Page(events, total), middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	events, err := h.Service.List(r.Context(), practiceID, filterFrom(r), false, exportLimit, 0)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to export audit events", middleware.GetRequestID(r.Context()))
		return
	}

	rows := make([]exportRow, 0, len(events))
	for _, evt := range events {
		rows = append(rows, exportRow{
			ID:         evt.ID,
			ActorID:    evt.ActorID,
			Action:     evt.Action,
			EntityType: evt.EntityType,
			EntityID:   evt.EntityID,
			RequestID:  evt.RequestID,
			IP:         evt.IP,
			CreatedAt:  evt.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	body, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_export_failed", "failed to export audit events", middleware.GetRequestID(r.Context()))
		return
	}
	api.Attachment(w, "text/csv", "audit-events.csv", body)
}
