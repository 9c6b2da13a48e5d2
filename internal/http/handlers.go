package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/excel"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/metrics"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/service"
)

const maxImportBytes = 32 << 20

type Handler struct {
	svc       *service.Service
	tokens    *auth.Tokens
	hub       *events.Hub
	metrics   *metrics.Metrics
	log       *zap.Logger
	keepAlive time.Duration
}

func NewHandler(svc *service.Service, tokens *auth.Tokens, hub *events.Hub, m *metrics.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:       svc,
		tokens:    tokens,
		hub:       hub,
		metrics:   m,
		log:       log,
		keepAlive: 30 * time.Second,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createStockRequest struct {
	ProductID       string     `json:"productId"`
	LocationID      string     `json:"locationId"`
	InitialQuantity int        `json:"initialQuantity"`
	MinStock        *int       `json:"minStock"`
	NotifyAt        *int       `json:"notifyAt"`
	ExpiryDate      *time.Time `json:"expiryDate"`
}

func (h *Handler) CreateStockRow(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	row, err := h.svc.CreateStockRow(r.Context(), principalFrom(r.Context()), service.CreateStockInput{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		Quantity:   req.InitialQuantity,
		MinStock:   req.MinStock,
		NotifyAt:   req.NotifyAt,
		ExpiryDate: req.ExpiryDate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *Handler) stockQuery(r *http.Request) (service.StockQuery, error) {
	query := r.URL.Query()
	page, err := parsePage(r)
	if err != nil {
		return service.StockQuery{}, err
	}
	lowStock, err := parseOptionalBool(query.Get("lowStock"), "lowStock")
	if err != nil {
		return service.StockQuery{}, err
	}
	return service.StockQuery{
		ProductID:  query.Get("productId"),
		LocationID: query.Get("locationId"),
		Search:     query.Get("search"),
		LowStock:   lowStock,
		Page:       page,
	}, nil
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request, tweak func(*service.StockQuery)) {
	q, err := h.stockQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tweak != nil {
		tweak(&q)
	}
	rows, total, err := h.svc.ListStock(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(rows, total, q.Page))
}

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, nil)
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, func(q *service.StockQuery) { q.LowStock = true })
}

func (h *Handler) OutOfStock(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, func(q *service.StockQuery) { q.OutOfStock = true })
}

func (h *Handler) Expired(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, func(q *service.StockQuery) { q.Expired = true })
}

func (h *Handler) GetStockRow(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.GetStockRow(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.svc.StockHistory(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsBody(list))
}

type adjustStockRequest struct {
	Adjustment *int   `json:"adjustment"`
	Note       string `json:"note"`
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Adjustment == nil {
		h.writeError(w, r, badRequest("adjustment is required").WithField("adjustment"))
		return
	}
	row, err := h.svc.AdjustStock(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), *req.Adjustment, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *Handler) ImportStock(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("locationId")
	if err := requireNonEmpty(locationID, "locationId"); err != nil {
		h.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		h.writeError(w, r, badRequest("failed to parse multipart form").WithField("file"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, badRequest("file field is required").WithField("file"))
		return
	}
	defer file.Close()

	lines, err := excel.ParseInitialStock(file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.ImportInitialStock(r.Context(), principalFrom(r.Context()), locationID, lines)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListLocations(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsBody(list))
}

func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	list, total, err := h.svc.ListActivity(r.Context(), principalFrom(r.Context()), service.ActivityQuery{
		EntityType: query.Get("entityType"),
		EntityID:   query.Get("entityId"),
		Urgency:    domain.Urgency(query.Get("urgency")),
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Alerts(r.Context(), principalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
