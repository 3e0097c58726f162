package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vendalog/order-engine/internal/customers"
)

type CustomersHandler struct {
	Store *customers.Store
	Log   *zap.Logger
}

func (h *CustomersHandler) Register(r chi.Router) {
	r.Post("/customers", h.create)
	r.Get("/customers", h.list)
	r.Get("/customers/{id}", h.get)
	r.Put("/customers/{id}", h.update)
	r.Delete("/customers/{id}", h.softDelete)
}

type customerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	CpfCnpj  string `json:"cpf_cnpj"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	IsActive *bool  `json:"is_active"`
}

func (p customerPayload) toCustomer() *customers.Customer {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &customers.Customer{
		Name:     p.Name,
		Email:    p.Email,
		CpfCnpj:  p.CpfCnpj,
		Phone:    p.Phone,
		Address:  p.Address,
		IsActive: active,
	}
}

func (h *CustomersHandler) create(w http.ResponseWriter, r *http.Request) {
	var payload customerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}
	if payload.Name == "" || payload.Email == "" || payload.CpfCnpj == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "name, email and cpf_cnpj are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	created, err := h.Store.Create(ctx, payload.toCustomer())
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *CustomersHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	customer, err := h.Store.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *CustomersHandler) update(w http.ResponseWriter, r *http.Request) {
	var payload customerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_payload", "invalid json body")
		return
	}
	customer := payload.toCustomer()
	customer.ID = chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	updated, err := h.Store.Update(ctx, customer)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *CustomersHandler) softDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Store.SoftDelete(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomersHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, total, err := h.Store.List(ctx, page, pageSize)
	if err != nil {
		writeDomainError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": list, "count": total})
}
