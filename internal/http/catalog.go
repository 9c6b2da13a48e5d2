package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/service"
)

type createProductRequest struct {
	Name       string          `json:"name"`
	SKU        string          `json:"sku"`
	Barcode    *string         `json:"barcode"`
	CategoryID string          `json:"categoryId"`
	BrandID    *string         `json:"brandId"`
	Price      decimal.Decimal `json:"price"`
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.svc.CreateProduct(r.Context(), principalFrom(r.Context()), service.CreateProductInput(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	q := service.ProductQuery{Search: query.Get("search"), Page: page}
	if raw := strings.TrimSpace(query.Get("active")); raw != "" {
		active, err := parseOptionalBool(raw, "active")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		q.Active = &active
	}
	list, total, err := h.svc.ListProducts(r.Context(), principalFrom(r.Context()), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paged(list, total, page))
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.svc.GetProduct(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

type patchProductRequest struct {
	Name       *string          `json:"name"`
	Barcode    *string          `json:"barcode"`
	CategoryID *string          `json:"categoryId"`
	BrandID    *string          `json:"brandId"`
	Price      *decimal.Decimal `json:"price"`
	IsActive   *bool            `json:"isActive"`
}

func (h *Handler) PatchProduct(w http.ResponseWriter, r *http.Request) {
	var req patchProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	product, err := h.svc.UpdateProduct(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), service.ProductPatch(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProduct(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ProductHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ProductHistory(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsBody(list))
}
