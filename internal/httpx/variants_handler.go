package httpx

import (
	"context"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"net/http"
	"strconv"
	"time"
)

type VariantReq struct {
	Color      string          `json:"color" validate:"required"`
	Size       string          `json:"size" validate:"required"`
	UnitPrice  decimal.Decimal `json:"price"`
	StockCount int             `json:"stock" validate:"gte=0"`
}

func (v VariantReq) input() stock.VariantInput {
	return stock.VariantInput{Color: v.Color, Size: v.Size, UnitPrice: v.UnitPrice, StockCount: v.StockCount}
}

// VariantsHandler melayani HTTP stock service.
type VariantsHandler struct {
	Service *stock.Service
	Log     zerolog.Logger
}

func (h *VariantsHandler) Register(r *chi.Mux) {
	r.Get("/variants", h.list)
	r.Post("/variants", h.create)
	r.Get("/variants/{id}", h.get)
	r.Put("/variants/{id}", h.update)
	r.Delete("/variants/{id}", h.delete)
	r.Put("/variants/{id}/reduce-stock", h.reduceStock)
	r.Put("/variants/{id}/increase-stock", h.increaseStock)
}

func (h *VariantsHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vs, err := h.Service.List(ctx)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, "Success get all variants", vs)
}

func (h *VariantsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Service.Get(ctx, id)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, "Success get variant", v)
}

func (h *VariantsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req VariantReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.Create(ctx, req.input())
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	created(w, "Variant created", v)
}

func (h *VariantsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req VariantReq
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.Service.Update(ctx, id, req.input())
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, "Variant updated", v)
}

func (h *VariantsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Service.Delete(ctx, id); err != nil {
		fail(w, h.Log, err)
		return
	}
	deleted(w, "Variant deleted")
}

type stockOp func(ctx context.Context, id int64, qty int) (stock.Variant, error)

// mutate dipakai reduce-stock dan increase-stock; quantity wajib via query.
func (h *VariantsHandler) mutate(w http.ResponseWriter, r *http.Request, op stockOp, message string) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty <= 0 {
		badRequest(w, "Quantity must be greater than zero")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := op(ctx, id, qty)
	if err != nil {
		fail(w, h.Log, err)
		return
	}
	ok(w, message, v)
}

func (h *VariantsHandler) reduceStock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Service.Reserve, "Stock reduced")
}

func (h *VariantsHandler) increaseStock(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.Service.Release, "Stock increased")
}
