package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"route-ledger/internal/audit"
	"route-ledger/internal/auth"
	"route-ledger/internal/eventing"
	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
)

const timeLayout = time.RFC3339

// Services groups the application services served over HTTP.
// Reconciler is optional.
type Services struct {
	Cycles     *application.CycleService
	Summaries  *application.SummaryService
	Ledger     *application.DebtLedger
	Finalizer  *application.Finalizer
	Reports    *application.ReportService
	Dashboard  *application.Dashboard
	Reconciler *application.Reconciler
}

// Handler serves the ledger API.
type Handler struct {
	svc         Services
	auditLogger audit.Logger
	validate    *validator.Validate
	logger      logrus.FieldLogger
}

// NewHandler constructs a Handler.
func NewHandler(svc Services, auditLogger audit.Logger, logger logrus.FieldLogger) (*Handler, error) {
	if svc.Cycles == nil || svc.Summaries == nil || svc.Ledger == nil || svc.Finalizer == nil ||
		svc.Reports == nil || svc.Dashboard == nil {
		return nil, errors.New("ledger handler: nil service")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		svc:         svc,
		auditLogger: auditLogger,
		validate:    validator.New(),
		logger:      logger,
	}, nil
}

// RegisterRoutes mounts the API under /api/v1.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/routes/{routeID}", func(r chi.Router) {
			r.Post("/cycles", h.openCycle)
			r.Get("/cycles", h.listCycles)
			r.Get("/cycles/open", h.getOpenCycle)
			r.Get("/cycles/metrics", h.cycleMetrics)
			r.Post("/cycles/close", h.closeCycle)
			r.Post("/cycles/cancel", h.cancelCycle)
			r.Get("/pendencies", h.routePendencies)
			r.Get("/audit", h.routeAudit)
		})
		r.Get("/cycles", h.listCyclesByPeriod)
		r.Route("/cycles/{cycleID}", func(r chi.Router) {
			r.Get("/", h.getCycle)
			r.Get("/summary", h.cycleSummary)
			r.Get("/commissions", h.commissions)
			r.Get("/closing", h.closing)
			r.Get("/settlements", h.cycleSettlements)
			r.Get("/export.pdf", h.exportPDF)
			r.Get("/export.xlsx", h.exportXLSX)
		})
		r.Post("/settlements", h.recordSettlement)
		r.Post("/settlements/{settlementID}/corrections", h.recordCorrection)
		r.Post("/expenses", h.recordExpense)
		r.Route("/clients/{clientID}", func(r chi.Router) {
			r.Get("/debt", h.clientDebt)
			r.Get("/pending", h.clientPending)
			r.Post("/carry-over", h.carryOver)
		})
		r.Post("/reconcile", h.reconcile)
	})
}

// requestContext carries the caller's identity into the services and the
// events they emit.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if subject := auth.SubjectFromContext(ctx); subject != "" {
		ctx = application.WithActor(ctx, subject)
	}
	if tenantID := auth.TenantIDFromContext(ctx); tenantID != "" {
		ctx = eventing.WithTenantID(ctx, tenantID)
	}
	return ctx
}

func (h *Handler) openCycle(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	var req openCycleRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	cycleID, err := h.svc.Cycles.OpenCycle(requestContext(r), routeID, req.Year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"cycle_id": cycleID})
	h.logAudit(r, routeID, "cycle.open", "cycle", cycleID, map[string]any{"year": req.Year})
}

func (h *Handler) listCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.svc.Cycles.ListCycles(r.Context(), chi.URLParam(r, "routeID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]cycleResponse, 0, len(cycles))
	for i := range cycles {
		if !auth.CanAccessRoute(r.Context(), cycles[i].RouteID) {
			continue
		}
		resp = append(resp, newCycleResponse(&cycles[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listCyclesByPeriod(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cycles, err := h.svc.Cycles.ListCyclesByPeriod(r.Context(), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]cycleResponse, 0, len(cycles))
	for i := range cycles {
		if !auth.CanAccessRoute(r.Context(), cycles[i].RouteID) {
			continue
		}
		resp = append(resp, newCycleResponse(&cycles[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getOpenCycle(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	cycle, err := h.svc.Cycles.GetOpenCycle(r.Context(), routeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if cycle == nil {
		writeError(w, http.StatusNotFound, "no open cycle for route "+routeID)
		return
	}
	writeJSON(w, http.StatusOK, newCycleResponse(cycle))
}

func (h *Handler) cycleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Dashboard.RouteOverview(r.Context(), chi.URLParam(r, "routeID")))
}

func (h *Handler) closeCycle(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	closed, err := h.svc.Finalizer.CloseCycle(requestContext(r), routeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"closed": closed})
	if closed {
		h.logAudit(r, routeID, "cycle.close", "route", routeID, nil)
	}
}

func (h *Handler) cancelCycle(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	cycleID, err := h.svc.Cycles.CancelCycle(requestContext(r), routeID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cycle_id": cycleID})
	h.logAudit(r, routeID, "cycle.cancel", "cycle", cycleID, nil)
}

func (h *Handler) routePendencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Dashboard.RoutePendenciesOverview(r.Context(), chi.URLParam(r, "routeID")))
}

func (h *Handler) routeAudit(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.auditLogger.(audit.Reader)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "audit trail not available")
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := reader.List(r.Context(), audit.Query{
		TenantID: auth.TenantIDFromContext(r.Context()),
		RouteID:  chi.URLParam(r, "routeID"),
		Limit:    limit,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newAuditResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCycle(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.svc.Cycles.GetCycle(r.Context(), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCycleResponse(cycle))
}

func (h *Handler) cycleSummary(w http.ResponseWriter, r *http.Request) {
	cycleID := chi.URLParam(r, "cycleID")
	var (
		summary application.CycleSummary
		err     error
	)
	if r.URL.Query().Get("live") == "true" {
		summary, err = h.svc.Summaries.ComputeSummary(r.Context(), cycleID)
	} else {
		summary, err = h.svc.Summaries.SummaryForCycle(r.Context(), cycleID)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) commissions(w http.ResponseWriter, r *http.Request) {
	commission, err := h.svc.Reports.Commissions(r.Context(), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, commission)
}

func (h *Handler) closing(w http.ResponseWriter, r *http.Request) {
	stmt, err := h.svc.Reports.ClosingStatement(r.Context(), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

func (h *Handler) cycleSettlements(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Reports.Settlements(r.Context(), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]settlementResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newSettlementResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	st, err := h.svc.Ledger.RecordSettlement(requestContext(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSettlementResponse(st))
	h.logAudit(r, st.RouteID, "settlement.record", "settlement", st.ID, map[string]any{
		"client_id": st.ClientID,
		"cycle_id":  st.CycleID,
		"total":     st.Total.String(),
		"received":  st.AmountReceived.String(),
	})
}

func (h *Handler) recordCorrection(w http.ResponseWriter, r *http.Request) {
	settlementID := chi.URLParam(r, "settlementID")
	var req correctionRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	st, err := h.svc.Ledger.RecordCorrection(requestContext(r), settlementID, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSettlementResponse(st))
	h.logAudit(r, st.RouteID, "settlement.correct", "settlement", st.ID, map[string]any{
		"corrects_id": settlementID,
		"total_delta": req.TotalDelta.String(),
	})
}

func (h *Handler) recordExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	expense, err := h.svc.Ledger.RecordExpense(requestContext(r), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newExpenseResponse(expense))
	h.logAudit(r, expense.RouteID, "expense.record", "expense", expense.ID, map[string]any{
		"cycle_id": expense.CycleID,
		"category": expense.Category,
		"amount":   expense.Amount.String(),
	})
}

func (h *Handler) clientDebt(w http.ResponseWriter, r *http.Request) {
	verify := r.URL.Query().Get("verify") == "true"
	writeJSON(w, http.StatusOK, h.svc.Dashboard.ClientDebtOverview(r.Context(), chi.URLParam(r, "clientID"), verify))
}

func (h *Handler) clientPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Dashboard.ClientPendencyOverview(r.Context(), chi.URLParam(r, "clientID")))
}

func (h *Handler) carryOver(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	client, err := h.svc.Ledger.CarryOver(requestContext(r), clientID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, debtResponse{
		ClientID:     client.ID,
		CurrentDebt:  client.CurrentDebt,
		PreviousDebt: &client.PreviousDebt,
		CarryOverAt:  &client.CarryOverAt,
	})
	h.logAudit(r, client.RouteID, "client.carry_over", "client", client.ID, map[string]any{
		"previous_debt": client.PreviousDebt.String(),
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	if h.svc.Reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	var req reconcileRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}
	routes, err := scopeRoutes(r.Context(), req.Routes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	req.Routes = routes
	report, err := h.svc.Reconciler.Run(r.Context(), req.Routes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
	h.logAudit(r, strings.Join(req.Routes, ","), "debt.reconcile", "reconcile_run", report.RunID, map[string]any{
		"mismatches": len(report.Mismatches),
		"healed":     report.Healed,
	})
}

// scopeRoutes narrows a route list to the caller's token scope. An empty
// list from a scoped caller means every route in scope.
func scopeRoutes(ctx context.Context, requested []string) ([]string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok || !id.Scoped() {
		return requested, nil
	}
	if len(requested) == 0 {
		return id.Routes, nil
	}
	for _, routeID := range requested {
		if !id.CanAccessRoute(routeID) {
			return nil, fmt.Errorf("%w: %s", auth.ErrRouteForbidden, routeID)
		}
	}
	return requested, nil
}

func (h *Handler) logAudit(r *http.Request, routeID, action, resourceType, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return
	}
	var payload []byte
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	entry := audit.FromRequest(r).Stamp(audit.Entry{
		TenantID:      tenantID,
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		RouteID:       routeID,
		Metadata:      payload,
		PayloadDigest: audit.DigestJSON(payload),
	})
	err := h.auditLogger.Log(r.Context(), entry)
	if err != nil {
		h.logger.WithField("action", action).WithError(err).Warn("audit log failed")
	}
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return t.UTC(), nil
}

func parseIntQuery(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func fileName(cycle *settlement.Cycle, ext string) string {
	return fmt.Sprintf("%s-cycle-%d-%d.%s", cycle.RouteID, cycle.Year, cycle.Number, ext)
}
