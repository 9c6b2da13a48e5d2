package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/service"
)

type saleItemRequest struct {
	ProductID       string          `json:"productId"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	ItemDiscountPct decimal.Decimal `json:"itemDiscountPct"`
	// Client-computed totals are accepted and ignored.
	LineTotal *decimal.Decimal `json:"lineTotal"`
}

type createSaleRequest struct {
	LocationID    string            `json:"locationId"`
	Items         []saleItemRequest `json:"items"`
	Tax           decimal.Decimal   `json:"tax"`
	Discount      decimal.Decimal   `json:"discount"`
	PaymentMethod string            `json:"paymentMethod"`
	Customer      *string           `json:"customer"`
	Status        domain.SaleStatus `json:"status"`
	Subtotal      *decimal.Decimal  `json:"subtotal"`
	Total         *decimal.Decimal  `json:"total"`
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := domain.SaleDraft{
		LocationID:    req.LocationID,
		Items:         make([]domain.SaleItem, len(req.Items)),
		Tax:           req.Tax,
		Discount:      req.Discount,
		PaymentMethod: req.PaymentMethod,
		Customer:      req.Customer,
		Status:        req.Status,
	}
	for i, item := range req.Items {
		draft.Items[i] = domain.SaleItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			ItemDiscountPct: item.ItemDiscountPct,
		}
	}
	sale, err := h.svc.RecordSale(r.Context(), principalFrom(r.Context()), draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, total, err := h.svc.ListSales(r.Context(), principalFrom(r.Context()), service.SaleQuery{
		LocationID: r.URL.Query().Get("locationId"),
		From:       from,
		To:         to,
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.svc.GetSale(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteSale(r.Context(), principalFrom(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (h *Handler) ListIncomes(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, total, err := h.svc.ListIncomes(r.Context(), principalFrom(r.Context()), service.IncomeQuery{
		From: from,
		To:   to,
		Page: page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func dateRange(r *http.Request) (*time.Time, *time.Time, error) {
	query := r.URL.Query()
	from, err := parseOptionalTime(query.Get("startDate"), "startDate", false)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseOptionalTime(query.Get("endDate"), "endDate", true)
	if err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, badRequest("endDate is before startDate").WithField("endDate")
	}
	return from, to, nil
}

type purchaseItemRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unitCost"`
}

type createPurchaseRequest struct {
	PurchaseNumber string                `json:"purchaseNumber"`
	SupplierID     string                `json:"supplierId"`
	WarehouseID    string                `json:"warehouseId"`
	Items          []purchaseItemRequest `json:"items"`
	OrderTax       decimal.Decimal       `json:"orderTax"`
	Discount       decimal.Decimal       `json:"discount"`
	Shipping       decimal.Decimal       `json:"shipping"`
	AmountPaid     decimal.Decimal       `json:"amountPaid"`
	Status         domain.PurchaseStatus `json:"status"`
	PurchaseDate   *time.Time            `json:"purchaseDate"`
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in := service.CreatePurchaseInput{
		PurchaseNumber: req.PurchaseNumber,
		SupplierID:     req.SupplierID,
		WarehouseID:    req.WarehouseID,
		Items:          make([]domain.PurchaseItem, len(req.Items)),
		OrderTax:       req.OrderTax,
		Discount:       req.Discount,
		Shipping:       req.Shipping,
		AmountPaid:     req.AmountPaid,
		Status:         req.Status,
		PurchaseDate:   req.PurchaseDate,
	}
	for i, item := range req.Items {
		in.Items[i] = domain.PurchaseItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitCost: item.UnitCost}
	}
	purchase, err := h.svc.CreatePurchase(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	list, total, err := h.svc.ListPurchases(r.Context(), principalFrom(r.Context()), service.PurchaseQuery{
		WarehouseID: query.Get("warehouseId"),
		Status:      domain.PurchaseStatus(query.Get("status")),
		Page:        page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.svc.GetPurchase(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (h *Handler) ReceivePurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.svc.ReceivePurchase(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

type requestTransferRequest struct {
	ProductID      string `json:"productId"`
	Quantity       int    `json:"quantity"`
	FromLocationID string `json:"fromLocationId"`
	ToLocationID   string `json:"toLocationId"`
	Notes          string `json:"notes"`
}

func (h *Handler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req requestTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	transfer, err := h.svc.RequestTransfer(r.Context(), principalFrom(r.Context()), service.TransferRequest{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	list, total, err := h.svc.ListTransfers(r.Context(), principalFrom(r.Context()), service.TransferQuery{
		LocationID: query.Get("locationId"),
		Status:     domain.TransferStatus(query.Get("status")),
		Page:       page,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.GetTransfer(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) ShipTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.ShipTransfer(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (h *Handler) ReceiveTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.ReceiveTransfer(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

type cancelTransferRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req cancelTransferRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	transfer, err := h.svc.CancelTransfer(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
