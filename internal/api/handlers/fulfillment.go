package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/api/middleware"
	"github.com/mutuellesante/go-officine/internal/domain/fulfillment"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/export"
	"github.com/mutuellesante/go-officine/internal/observability/metrics"
	"github.com/mutuellesante/go-officine/internal/service"
)

// FulfillmentHandler exposes the record state machine over HTTP.
type FulfillmentHandler struct {
	svc     *service.FulfillmentService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewFulfillmentHandler creates the handler.
func NewFulfillmentHandler(svc *service.FulfillmentService, m *metrics.Metrics, logger *zap.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{svc: svc, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *FulfillmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/pending", h.ListPending)
	r.Get("/records", h.ListRecords)
	r.Get("/records/{id}", h.Detail)
	r.Get("/history", h.History)
	r.Get("/history/export", h.ExportHistory)
	r.Get("/dashboard", h.Dashboard)
	r.Post("/prescriptions/{id}/validate", h.Validate)
	r.Post("/prescriptions/{id}/refuse", h.Refuse)
	r.Post("/prescriptions/{id}/prepare", h.Prepare)
	r.Post("/prescriptions/{id}/dispense", h.Dispense)
	r.Post("/prescriptions/{id}/cancel", h.Cancel)
	return r
}

func (h *FulfillmentHandler) actor(r *http.Request) service.Actor {
	info, _ := middleware.GetActor(r.Context())
	return service.Actor{ID: info.ID, Name: info.Name, PharmacyID: info.PharmacyID}
}

// ListPending handles GET /pending.
func (h *FulfillmentHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListPending(r.Context(), h.actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": items,
		"count":   len(items),
	})
}

// ListRecords handles GET /records.
func (h *FulfillmentHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListRecords(r.Context(), h.actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// Detail handles GET /records/{id}.
func (h *FulfillmentHandler) Detail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Detail(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type reasonRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *FulfillmentHandler) finishTransition(w http.ResponseWriter, action string, start time.Time, result *service.TransitionResult, err error) {
	h.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.TransitionsRejected.WithLabelValues(rejectionReason(err)).Inc()
		var insufficient *stock.InsufficientStockError
		if errors.As(err, &insufficient) {
			h.metrics.DispensationsBlocked.Inc()
		}
		writeError(w, err)
		return
	}
	if result.Applied {
		h.metrics.TransitionsApplied.WithLabelValues(action).Inc()
	} else {
		h.metrics.TransitionsNoop.Inc()
	}
	writeJSON(w, http.StatusOK, result)
}

// Validate handles POST /prescriptions/{id}/validate.
func (h *FulfillmentHandler) Validate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req reasonRequest
	decodeOptional(r, &req)
	result, err := h.svc.Validate(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Notes)
	h.finishTransition(w, "validate", start, result, err)
}

// Refuse handles POST /prescriptions/{id}/refuse.
func (h *FulfillmentHandler) Refuse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req reasonRequest
	decodeOptional(r, &req)
	result, err := h.svc.Refuse(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Reason)
	h.finishTransition(w, "refuse", start, result, err)
}

// Prepare handles POST /prescriptions/{id}/prepare.
func (h *FulfillmentHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result, err := h.svc.Prepare(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	h.finishTransition(w, "prepare", start, result, err)
}

type dispenseRequest struct {
	Quantity          int              `json:"quantity"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	Observations      string           `json:"observations"`
	ReimbursementRate *decimal.Decimal `json:"reimbursement_rate,omitempty"`
}

// Dispense handles POST /prescriptions/{id}/dispense.
func (h *FulfillmentHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	result, err := h.svc.Dispense(r.Context(), h.actor(r), chi.URLParam(r, "id"), service.DispenseInput{
		Quantity:          req.Quantity,
		UnitPrice:         req.UnitPrice,
		Observations:      req.Observations,
		ReimbursementRate: req.ReimbursementRate,
	})
	h.finishTransition(w, "dispense", start, result, err)
}

// Cancel handles POST /prescriptions/{id}/cancel.
func (h *FulfillmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req reasonRequest
	decodeOptional(r, &req)
	result, err := h.svc.Cancel(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Reason)
	h.finishTransition(w, "cancel", start, result, err)
}

// History handles GET /history.
func (h *FulfillmentHandler) History(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.History(r.Context(), h.actor(r), historyFilterFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ExportHistory handles GET /history/export, streaming CSV.
func (h *FulfillmentHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.HistoryForExport(r.Context(), h.actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="historique.csv"`)
	if err := export.WriteHistoryCSV(w, rows); err != nil {
		h.logger.Error("history export failed", zap.Error(err))
	}
}

// Dashboard handles GET /dashboard.
func (h *FulfillmentHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Dashboard(r.Context(), h.actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func historyFilterFromQuery(r *http.Request) fulfillment.HistoryFilter {
	q := r.URL.Query()
	filter := fulfillment.HistoryFilter{
		RecordID:     q.Get("record_id"),
		PharmacistID: q.Get("pharmacist_id"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filter.PageSize = size
	}
	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filter.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filter.To = to
	}
	return filter
}

// decodeOptional decodes a body that may legitimately be empty.
func decodeOptional(r *http.Request, dest any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(dest)
}
