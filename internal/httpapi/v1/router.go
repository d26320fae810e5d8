// Package v1 wires the HTTP surface of the billing service.
// It keeps handlers thin, delegating business rules to the service layer.
package v1

import (
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/blocbill/blocbill/internal/service/expense"
	"github.com/blocbill/blocbill/internal/service/payment"
	"github.com/blocbill/blocbill/internal/service/sheet"
)

// Server wires handlers and middleware using Chi.
// It composes read (repo) and write (writer) dependencies through services.
type Server struct {
	sheetSvc  sheet.Service
	paySvc    payment.Service
	cfgSvc    expense.Service
	sheetRepo sheet.Repo
	log       *slog.Logger
	rt        *chi.Mux
}

// New constructs the HTTP server with routes and middleware.
// The receipt generator may be nil; payments then commit without receipts.
func New(srepo sheet.Repo, swriter sheet.Writer, prepo payment.Repo, erepo expense.Repo, ewriter expense.Writer, receipts payment.ReceiptGenerator, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	sheetSvc := sheet.New(srepo, swriter)
	s := &Server{
		sheetSvc:  sheetSvc,
		paySvc:    payment.New(prepo, swriter, receipts, logger),
		cfgSvc:    expense.New(erepo, ewriter, sheetSvc),
		sheetRepo: srepo,
		rt:        r,
		log:       logger,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Sheets (v1)
	s.rt.With(s.validateEnsureSheet()).Post("/v1/sheets", s.ensureSheet)
	s.rt.With(s.validateAssociation()).Get("/v1/sheets/current", s.getCurrentSheet)
	s.rt.With(s.validateAssociation()).Get("/v1/sheets/published", s.getPublishedSheet)
	s.rt.With(s.validateAssociation()).Get("/v1/sheets/published/stats", s.getPublishedStats)
	s.rt.With(s.validateAssociation()).Post("/v1/sheets/publish", s.publishSheet)
	s.rt.With(s.validateAssociation()).Post("/v1/sheets/unpublish", s.unpublishSheet)
	// Expenses (v1)
	s.rt.With(s.validatePostExpense()).Post("/v1/expenses", s.postExpense)
	s.rt.With(s.validateAssociation()).Post("/v1/expenses/{id}/distribute", s.distributeExpense)
	// Payments (v1)
	s.rt.With(s.validatePostPayment()).Post("/v1/payments", s.postPayment)
	// Readings (v1)
	s.rt.With(s.validatePostReading()).Post("/v1/readings", s.postReading)
	// Expense configuration (v1)
	s.rt.With(s.validateAssociation()).Get("/v1/expense-configs", s.listExpenseConfigs)
	s.rt.With(s.validatePutExpenseConfig()).Put("/v1/expense-configs/{type}", s.putExpenseConfig)
	s.rt.With(s.validatePutParticipation()).Put("/v1/participation", s.putParticipation)
	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}
