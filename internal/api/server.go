// Package api wires the HTTP surface of the operations portal. Handlers
// decode, resolve the acting session, delegate to an engine, and write the
// response envelope; no business rule lives here.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"fieldops-portal/internal/auth"
	"fieldops-portal/internal/billing"
	"fieldops-portal/internal/bulk"
	"fieldops-portal/internal/checklist"
	"fieldops-portal/internal/config"
	"fieldops-portal/internal/evidence"
	"fieldops-portal/internal/payout"
	"fieldops-portal/internal/statemachine"
	"fieldops-portal/internal/store"
	"fieldops-portal/internal/telemetry"
)

// Server wires HTTP handlers over the engines.
type Server struct {
	cfg       config.Config
	db        store.DB
	sm        *statemachine.Engine
	checklist *checklist.Engine
	actions   *bulk.Actions
	bulk      *bulk.Engine
	billing   *billing.Service
	payout    *payout.Service
	evidence  *evidence.Service
	resolver  auth.Resolver
	log       zerolog.Logger
}

// Deps carries everything the server delegates to.
type Deps struct {
	DB        store.DB
	Machine   *statemachine.Engine
	Checklist *checklist.Engine
	Actions   *bulk.Actions
	Bulk      *bulk.Engine
	Billing   *billing.Service
	Payout    *payout.Service
	Evidence  *evidence.Service
	Resolver  auth.Resolver
}

func New(cfg config.Config, deps Deps, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		db:        deps.DB,
		sm:        deps.Machine,
		checklist: deps.Checklist,
		actions:   deps.Actions,
		bulk:      deps.Bulk,
		billing:   deps.Billing,
		payout:    deps.Payout,
		evidence:  deps.Evidence,
		resolver:  deps.Resolver,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.resolver, writeAuthErr))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/approve", s.handleApproveJob)
			r.Post("/{id}/reject", s.handleRejectJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
			r.Post("/{id}/missed", s.handleMarkMissed)
			r.Get("/{id}/audit", s.handleJobAudit)

			r.Post("/{id}/checklist-run", s.handleCreateOrGetRun)
			r.Post("/{id}/evidence", s.handleUploadEvidence)
			r.Get("/{id}/evidence", s.handleListEvidence)
		})

		r.Route("/checklist-runs", func(r chi.Router) {
			r.Put("/{id}/items/{itemID}", s.handleSaveRunItem)
			r.Post("/{id}/submit", s.handleSubmitRun)
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/preview", s.handleBulkPreview)
			r.Post("/execute", s.handleBulkExecute)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", s.handleCreateInvoice)
			r.Get("/{id}", s.handleGetInvoice)
			r.Post("/{id}/job-lines", s.handleAddJobLine)
			r.Post("/{id}/contract-lines", s.handleAddContractLines)
			r.Post("/{id}/adjustments", s.handleAddAdjustment)
			r.Post("/{id}/send", s.handleSendInvoice)
			r.Post("/{id}/pay", s.handlePayInvoice)
			r.Post("/{id}/void", s.handleVoidInvoice)
		})

		r.Route("/payout-batches", func(r chi.Router) {
			r.Post("/", s.handleCreatePayoutBatch)
			r.Get("/{id}", s.handleGetPayoutBatch)
			r.Post("/{id}/approve", s.handleApprovePayoutBatch)
			r.Post("/{id}/release", s.handleReleasePayoutBatch)
			r.Post("/{id}/pay", s.handlePayPayoutBatch)
		})

		r.Route("/work-orders", func(r chi.Router) {
			r.Post("/", s.handleCreateWorkOrder)
			r.Get("/", s.handleListWorkOrders)
			r.Get("/{id}", s.handleGetWorkOrder)
			r.Post("/{id}/assign", s.handleAssignWorkOrder)
			r.Post("/{id}/transition", s.handleTransitionWorkOrder)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", s.handleCreateIncident)
			r.Get("/", s.handleListIncidents)
			r.Post("/{id}/resolve", s.handleResolveIncident)
		})

		r.Get("/audit/{entityType}/{entityID}", s.handleAudit)
	})

	return r
}
