package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mutuellesante/go-officine/internal/api/middleware"
	"github.com/mutuellesante/go-officine/internal/domain/stock"
	"github.com/mutuellesante/go-officine/internal/export"
	"github.com/mutuellesante/go-officine/internal/observability/metrics"
	"github.com/mutuellesante/go-officine/internal/service"
)

// StockHandler exposes the inventory ledger over HTTP.
type StockHandler struct {
	svc     *service.StockService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewStockHandler creates the handler.
func NewStockHandler(svc *service.StockService, m *metrics.Metrics, logger *zap.Logger) *StockHandler {
	return &StockHandler{svc: svc, metrics: m, logger: logger}
}

// Routes returns the handler routes.
func (h *StockHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Register)
	r.Get("/", h.Overview)
	r.Get("/export", h.Export)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Post("/{id}/restock", h.Restock)
	r.Post("/{id}/increase", h.Increase)
	r.Post("/{id}/decrease", h.Decrease)
	r.Post("/{id}/deactivate", h.Deactivate)
	r.Post("/{id}/reactivate", h.Reactivate)
	return r
}

func (h *StockHandler) actor(r *http.Request) service.Actor {
	info, _ := middleware.GetActor(r.Context())
	return service.Actor{ID: info.ID, Name: info.Name, PharmacyID: info.PharmacyID}
}

type registerItemRequest struct {
	DrugName         string          `json:"drug_name"`
	DrugCode         string          `json:"drug_code"`
	Category         stock.Category  `json:"category"`
	Quantity         int             `json:"quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
}

// Register handles POST /stock.
func (h *StockHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	item, err := h.svc.Register(r.Context(), h.actor(r), service.RegisterItemInput{
		DrugName:         req.DrugName,
		DrugCode:         req.DrugCode,
		Category:         req.Category,
		Quantity:         req.Quantity,
		ReorderThreshold: req.ReorderThreshold,
		PurchasePrice:    req.PurchasePrice,
		SalePrice:        req.SalePrice,
		ExpiresAt:        req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// Overview handles GET /stock.
func (h *StockHandler) Overview(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	overview, err := h.svc.Overview(r.Context(), h.actor(r), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// Export handles GET /stock/export, streaming CSV.
func (h *StockHandler) Export(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	overview, err := h.svc.Overview(r.Context(), h.actor(r), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]*stock.Item, 0, len(overview.Items))
	for _, view := range overview.Items {
		items = append(items, view.Item)
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="stock.csv"`)
	if err := export.WriteStockCSV(w, items); err != nil {
		h.logger.Error("stock export failed", zap.Error(err))
	}
}

// Get handles GET /stock/{id}.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type updateItemRequest struct {
	DrugName         *string          `json:"drug_name,omitempty"`
	DrugCode         *string          `json:"drug_code,omitempty"`
	Category         *stock.Category  `json:"category,omitempty"`
	ReorderThreshold *int             `json:"reorder_threshold,omitempty"`
	PurchasePrice    *decimal.Decimal `json:"purchase_price,omitempty"`
	SalePrice        *decimal.Decimal `json:"sale_price,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

// Update handles PUT /stock/{id}.
func (h *StockHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	item, err := h.svc.Update(r.Context(), h.actor(r), chi.URLParam(r, "id"), service.UpdateItemInput{
		DrugName:         req.DrugName,
		DrugCode:         req.DrugCode,
		Category:         req.Category,
		ReorderThreshold: req.ReorderThreshold,
		PurchasePrice:    req.PurchasePrice,
		SalePrice:        req.SalePrice,
		ExpiresAt:        req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type restockRequest struct {
	Quantity      int              `json:"quantity"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	SalePrice     *decimal.Decimal `json:"sale_price,omitempty"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
}

// Restock handles POST /stock/{id}/restock.
func (h *StockHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	item, err := h.svc.Restock(r.Context(), h.actor(r), chi.URLParam(r, "id"), service.RestockInput{
		Quantity:      req.Quantity,
		PurchasePrice: req.PurchasePrice,
		SalePrice:     req.SalePrice,
		ExpiresAt:     req.ExpiresAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.metrics.StockAdjustments.WithLabelValues("restock").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"item":   item,
		"status": item.Status(),
	})
}

type adjustRequest struct {
	Amount int `json:"amount"`
}

// Increase handles POST /stock/{id}/increase.
func (h *StockHandler) Increase(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "increase")
}

// Decrease handles POST /stock/{id}/decrease.
func (h *StockHandler) Decrease(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, "decrease")
}

func (h *StockHandler) adjust(w http.ResponseWriter, r *http.Request, direction string) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	var (
		item *stock.Item
		err  error
	)
	if direction == "increase" {
		item, err = h.svc.Increase(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Amount)
	} else {
		item, err = h.svc.Decrease(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Amount)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	h.metrics.StockAdjustments.WithLabelValues(direction).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"item":   item,
		"status": item.Status(),
	})
}

// Deactivate handles POST /stock/{id}/deactivate.
func (h *StockHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Deactivate(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Reactivate handles POST /stock/{id}/reactivate.
func (h *StockHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Reactivate(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
