package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/orders"
	"github.com/vendalog/order-engine/internal/redisx"
)

type OrdersHandler struct {
	Service *orders.Service
	Store   *orders.Store
	Redis   *redis.Client
	Log     *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.create)
	r.Get("/orders", h.list)
	r.Get("/orders/{id}", h.get)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.changeStatus)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Delete("/orders/{id}", h.softDelete)
}

type orderItemView struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductSKU  string `json:"product_sku"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type orderView struct {
	ID          string                `json:"id"`
	OrderNumber string                `json:"order_number"`
	CustomerID  string                `json:"customer_id"`
	Status      string                `json:"status"`
	Items       []orderItemView       `json:"items"`
	Notes       string                `json:"notes,omitempty"`
	Total       string                `json:"total"`
	TotalItems  int                   `json:"total_items"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	History     []orders.HistoryEntry `json:"history,omitempty"`
}

func toOrderView(o *orders.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductSKU:  it.ProductSKU,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Subtotal:    it.Subtotal().StringFixed(2),
		})
	}
	return orderView{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		CustomerID:  o.CustomerID,
		Status:      string(o.Status),
		Items:       items,
		Notes:       o.Notes,
		Total:       o.Total().StringFixed(2),
		TotalItems:  o.TotalItems(),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.CreateOrder(ctx, in)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, order.ID, string(order.Status))
	writeJSON(w, http.StatusCreated, toOrderView(order))
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	view := toOrderView(order)
	if history, err := h.Store.History(ctx, order.ID); err == nil {
		view.History = history
	}
	writeJSON(w, http.StatusOK, view)
}

// getStatus serves the Redis read cache first and falls back to the store,
// refilling the cache on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	order, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, orderID, string(order.Status))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(order.Status)})
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status    string `json:"status"`
		Notes     string `json:"notes"`
		ChangedBy string `json:"changed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.ChangeStatus(ctx, chi.URLParam(r, "id"), orders.Status(req.Status), req.Notes, req.ChangedBy)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, order.ID, string(order.Status))
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason    string `json:"reason"`
		ChangedBy string `json:"changed_by"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Service.CancelOrder(ctx, chi.URLParam(r, "id"), req.Reason, req.ChangedBy)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, order.ID, string(order.Status))
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (h *OrdersHandler) softDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.SoftDelete(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := orders.ListFilter{
		Status:     orders.Status(q.Get("status")),
		CustomerID: q.Get("customer_id"),
	}
	if v := q.Get("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateFrom = &t
		}
	}
	if v := q.Get("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateTo = &t
		}
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
	views := make([]orderView, 0, len(list))
	for i := range list {
		views = append(views, toOrderView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": views,
		"count":   total,
	})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, orderID, status string) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	b, _ := json.Marshal(map[string]string{"status": status})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
