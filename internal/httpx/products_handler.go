package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/products"
)

type ProductsHandler struct {
	Store    *products.Store
	Adjuster *products.Adjuster
	Log      *zap.Logger
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Post("/products", h.create)
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.Put("/products/{id}", h.update)
	r.Patch("/products/{id}/stock", h.adjustStock)
	r.Delete("/products/{id}", h.softDelete)
}

type productPayload struct {
	SKU           string `json:"sku"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
	IsActive      *bool  `json:"is_active"`
}

type productView struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         string    `json:"price"`
	StockQuantity int       `json:"stock_quantity"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toProductView(p *products.Product) productView {
	return productView{
		ID:            p.ID,
		SKU:           p.SKU,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (p productPayload) toProduct() (*products.Product, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, err
	}
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &products.Product{
		SKU:           p.SKU,
		Name:          p.Name,
		Description:   p.Description,
		Price:         price,
		StockQuantity: p.StockQuantity,
		IsActive:      active,
	}, nil
}

func (h *ProductsHandler) create(w http.ResponseWriter, r *http.Request) {
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}
	if payload.SKU == "" || payload.Name == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "sku and name are required")
		return
	}
	product, err := payload.toProduct()
	if err != nil || product.Price.IsNegative() || product.StockQuantity < 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid price or stock quantity")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	created, err := h.Store.Create(ctx, product)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductView(created))
}

func (h *ProductsHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	product, err := h.Store.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (h *ProductsHandler) update(w http.ResponseWriter, r *http.Request) {
	var payload productPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}
	product, err := payload.toProduct()
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid price")
		return
	}
	product.ID = chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	updated, err := h.Store.Update(ctx, product)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(updated))
}

// adjustStock applies a signed quantity delta through the stock ledger's
// lock protocol, so manual corrections serialize with order reservations.
func (h *ProductsHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	product, err := h.Adjuster.AdjustStock(ctx, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (h *ProductsHandler) softDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.SoftDelete(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := products.ListFilter{
		SKU:  q.Get("sku"),
		Name: q.Get("name"),
	}
	if v := q.Get("is_active"); v != "" {
		active := v == "true"
		filter.IsActive = &active
	}
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, total, err := h.Store.List(ctx, filter, page, pageSize)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	views := make([]productView, 0, len(list))
	for i := range list {
		views = append(views, toProductView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": views, "count": total})
}
