package audithandler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapayroll/internal/auth"
	"sapayroll/internal/domain/audit"
	"sapayroll/internal/transport/http/middleware"
)

type fakeService struct {
	filters []audit.Filter
	events  []audit.Event
}

func (f *fakeService) Count(_ context.Context, _ string, filter audit.Filter) (int, error) {
	f.filters = append(f.filters, filter)
	return len(f.events), nil
}

func (f *fakeService) List(_ context.Context, practiceID string, filter audit.Filter, _ bool, _, _ int) ([]audit.Event, error) {
	var out []audit.Event
	for _, evt := range f.events {
		if evt.PracticeID == practiceID && (filter.Action == "" || evt.Action == filter.Action) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func newRouter(svc *fakeService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", NewHandler(svc).RegisterRoutes)
	return r
}

var admin = middleware.User{UserID: "admin-1", PracticeID: "practice-1", Role: auth.RolePayrollAdmin}

func sampleEvents() []audit.Event {
	at := time.Date(2024, 8, 1, 8, 0, 0, 0, time.UTC)
	return []audit.Event{
		{ID: "e1", PracticeID: "practice-1", ActorID: "admin-1", Action: audit.ActionRunCommitted, EntityType: audit.EntityPayrollRun, EntityID: "run-1", CreatedAt: at},
		{ID: "e2", PracticeID: "practice-1", ActorID: "admin-1", Action: audit.ActionReportIssued, EntityType: audit.EntityReport, EntityID: "EMP201_2024-07.csv", CreatedAt: at},
	}
}

func TestListEventsPassesFilter(t *testing.T) {
	svc := &fakeService{events: sampleEvents()}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/practice-1/audit-events?action=payroll.run.committed&entityId=run-1", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), admin))
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.filters, 1)
	assert.Equal(t, audit.Filter{Action: audit.ActionRunCommitted, EntityID: "run-1"}, svc.filters[0])
	assert.Equal(t, "2", rec.Header().Get("X-Total-Count"))
}

func TestExportEventsCSV(t *testing.T) {
	svc := &fakeService{events: sampleEvents()}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/practice-1/audit-events/export", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), admin))
	rec := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,actor_user_id,action,entity_type,entity_id,request_id,ip,created_at", lines[0])
	assert.Contains(t, lines[1], "2024-08-01T08:00:00Z")
}

func TestAuditEventsRequireAuditPermission(t *testing.T) {
	viewer := middleware.User{UserID: "viewer-1", PracticeID: "practice-1", Role: auth.RolePayrollViewer}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/practices/practice-1/audit-events", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), viewer))
	rec := httptest.NewRecorder()
	newRouter(&fakeService{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
