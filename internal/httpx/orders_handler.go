package httpx

import (
	"context"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"net/http"
	"time"
)

type OrderItemReq struct {
	VariantID int64 `json:"variantId" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0"`
}

type PlaceOrderReq struct {
	CustomerName string         `json:"customerName" validate:"required"`
	OrderItems   []OrderItemReq `json:"orderItems" validate:"required,min=1,dive"`
}

type OrderItemView struct {
	ID           int64           `json:"id"`
	VariantColor string          `json:"variantColor"`
	VariantSize  string          `json:"variantSize"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
}

// OrderView adalah representasi order ke client; tanpa version dan tanpa
// back-reference item -> order.
type OrderView struct {
	ID           int64           `json:"id"`
	CustomerName string          `json:"customerName"`
	Status       orders.Status   `json:"status"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	OrderItems   []OrderItemView `json:"orderItems"`
}

func toOrderView(o *orders.Order) OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{
			ID:           it.ID,
			VariantColor: it.Color,
			VariantSize:  it.Size,
			Price:        it.UnitPrice,
			Quantity:     it.Quantity,
		})
	}
	return OrderView{
		ID:           o.ID,
		CustomerName: o.CustomerName,
		Status:       o.Status,
		TotalAmount:  o.TotalAmount,
		OrderItems:   items,
	}
}

type OrdersHandler struct {
	Saga *orders.Saga
	Log  zerolog.Logger
	// Batas waktu placeOrder; cukup untuk beberapa panggilan stock + retry.
	PlaceTimeout time.Duration
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/complete", h.completeOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	timeout := h.PlaceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	items := make([]orders.ItemRequest, 0, len(req.OrderItems))
	for _, it := range req.OrderItems {
		items = append(items, orders.ItemRequest{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	o, err := h.Saga.PlaceOrder(ctx, req.CustomerName, items)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	created(w, "Order created", toOrderView(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Saga.ListOrders(ctx)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	out := make([]OrderView, 0, len(list))
	for i := range list {
		out = append(out, toOrderView(&list[i]))
	}
	ok(w, "Success get all orders", out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Saga.GetOrder(ctx, id)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, "Success get order", toOrderView(o))
}

func (h *OrdersHandler) completeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Saga.CompleteOrder(ctx, id)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, "Order completed", toOrderView(o))
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Saga.DeleteOrder(ctx, id); err != nil {
		fail(w, h.Log, err)
		return
	}
	deleted(w, "Order deleted")
}
