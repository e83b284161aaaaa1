package taxtableshandler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sapayroll/internal/auth"
	"sapayroll/internal/domain/taxtable"
	"sapayroll/internal/transport/http/api"
	"sapayroll/internal/transport/http/middleware"
	"sapayroll/internal/transport/http/shared"
)

type Lister interface {
	ListTaxYears(ctx context.Context) ([]taxtable.TaxYearSummary, error)
}

// Tables is satisfied by *taxtable.Provider.
type Tables interface {
	Table(ctx context.Context, taxYear string) (taxtable.Table, error)
}

type Handler struct {
	Store  Lister
	Tables Tables
}

func NewHandler(store Lister, tables Tables) *Handler {
	return &Handler{Store: store, Tables: tables}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tax-tables", func(r chi.Router) {
		r.Use(middleware.RequirePermission(auth.PermTaxTablesRead))
		r.Get("/", h.handleList)
		r.Get("/{taxYear}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	years, err := h.Store.ListTaxYears(r.Context())
	if err != nil {
		shared.FailDomain(w, middleware.GetRequestID(r.Context()), err, "tax_tables_failed")
		return
	}
	if years == nil {
		years = []taxtable.TaxYearSummary{}
	}
	api.Success(w, years, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	v := shared.NewValidator()
	taxYear, _ := v.TaxYear("taxYear", chi.URLParam(r, "taxYear"))
	if v.Reject(w, requestID) {
		return
	}
	table, err := h.Tables.Table(r.Context(), taxYear)
	if err != nil {
		shared.FailDomain(w, requestID, err, "tax_table_failed")
		return
	}
	api.Success(w, table, requestID)
}
