package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"tillbase.io/internal/audit"
	"tillbase.io/internal/orders"
	"tillbase.io/internal/tenant"
)

type orderStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var draft orders.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.orders.Create(r.Context(), draft)
	if err != nil {
		handleOrdersError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "orders.create", map[string]any{
		"order_id": o.ID,
		"number":   o.Number,
		"total":    o.Total.String(),
	})
	w.Header().Set("Location", "/v1/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	res, err := a.orders.List(r.Context(), limit)
	if err != nil {
		handleOrdersError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": res})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleOrdersError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := mux.Vars(r)["id"]
	o, err := a.orders.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		handleOrdersError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "orders.status", map[string]any{
		"order_id": id,
		"status":   o.Status,
	})
	writeJSON(w, http.StatusOK, o)
}

func handleOrdersError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidDraft), errors.Is(err, orders.ErrInvalidCurrency):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrContextMissing):
		writeError(w, r, http.StatusForbidden, "tenant context missing")
	default:
		writeError(w, r, http.StatusInternalServerError, "orders operation failed")
	}
}
