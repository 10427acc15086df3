package stock

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/rs/zerolog"
)

type Service struct {
	Store Store
	Log   zerolog.Logger
}

func notFound(id int64) error { return apperr.NotFound("Variant not found with id: %d", id) }

func (s *Service) Get(ctx context.Context, id int64) (Variant, error) {
	v, err := s.Store.Get(ctx, id)
	if errors.Is(err, ErrVariantNotFound) {
		return Variant{}, notFound(id)
	}
	return v, err
}

func (s *Service) List(ctx context.Context) ([]Variant, error) {
	return s.Store.List(ctx)
}

func validateInput(in VariantInput) error {
	if in.StockCount < 0 {
		return apperr.Invalid("Stock must not be negative")
	}
	if in.UnitPrice.IsNegative() {
		return apperr.Invalid("Price must not be negative")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in VariantInput) (Variant, error) {
	if err := validateInput(in); err != nil {
		return Variant{}, err
	}
	v, err := s.Store.Create(ctx, in)
	if err != nil {
		return Variant{}, err
	}
	s.Log.Info().Int64("variant_id", v.ID).Int("stock", v.StockCount).Msg("variant created")
	return v, nil
}

func (s *Service) Update(ctx context.Context, id int64, in VariantInput) (Variant, error) {
	if err := validateInput(in); err != nil {
		return Variant{}, err
	}
	v, err := s.Store.Update(ctx, id, in)
	if errors.Is(err, ErrVariantNotFound) {
		return Variant{}, notFound(id)
	}
	return v, err
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.Store.Delete(ctx, id)
	if errors.Is(err, ErrVariantNotFound) {
		return notFound(id)
	}
	return err
}

// Reserve mengurangi stok secara atomik. Read setelah gagal hanya untuk
// menentukan pesan error, bukan untuk memutuskan mutasi.
func (s *Service) Reserve(ctx context.Context, id int64, qty int) (Variant, error) {
	if qty <= 0 {
		return Variant{}, apperr.Invalid("Quantity must be greater than zero")
	}

	v, err := s.Store.Reserve(ctx, id, qty)
	if errors.Is(err, ErrNotApplied) {
		cur, gerr := s.Store.Get(ctx, id)
		switch {
		case errors.Is(gerr, ErrVariantNotFound):
			metrics.StockMutations.WithLabelValues("reserve", "not_found").Inc()
			return Variant{}, notFound(id)
		case gerr != nil:
			return Variant{}, gerr
		}
		metrics.StockMutations.WithLabelValues("reserve", "insufficient").Inc()
		s.Log.Warn().Int64("variant_id", id).Int("requested", qty).Int("available", cur.StockCount).Msg("insufficient stock")
		return Variant{}, apperr.InsufficientStock("Insufficient stock for variant id: %d", id)
	}
	if err != nil {
		metrics.StockMutations.WithLabelValues("reserve", "error").Inc()
		return Variant{}, err
	}

	metrics.StockMutations.WithLabelValues("reserve", "ok").Inc()
	s.Log.Info().Int64("variant_id", id).Int("quantity", qty).Int("new_stock", v.StockCount).Msg("reduced stock")
	return v, nil
}

func (s *Service) Release(ctx context.Context, id int64, qty int) (Variant, error) {
	if qty <= 0 {
		return Variant{}, apperr.Invalid("Quantity must be greater than zero")
	}

	v, err := s.Store.Release(ctx, id, qty)
	if errors.Is(err, ErrNotApplied) {
		metrics.StockMutations.WithLabelValues("release", "not_found").Inc()
		return Variant{}, notFound(id)
	}
	if err != nil {
		metrics.StockMutations.WithLabelValues("release", "error").Inc()
		return Variant{}, err
	}

	metrics.StockMutations.WithLabelValues("release", "ok").Inc()
	s.Log.Info().Int64("variant_id", id).Int("quantity", qty).Int("new_stock", v.StockCount).Msg("increased stock")
	return v, nil
}
