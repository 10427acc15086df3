package stock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore keeps variants in memory. The mutex plays the role of the
// row lock, so Reserve stays a single check-and-decrement step.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Variant
	now    func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[int64]Variant), now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemStore) Get(_ context.Context, id int64) (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

func (s *MemStore) List(_ context.Context) ([]Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Variant, 0, len(s.rows))
	for _, v := range s.rows {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) Create(_ context.Context, in VariantInput) (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now()
	v := Variant{
		ID:         s.nextID,
		Color:      in.Color,
		Size:       in.Size,
		UnitPrice:  in.UnitPrice,
		StockCount: in.StockCount,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  SystemUser,
	}
	s.rows[v.ID] = v
	return v, nil
}

func (s *MemStore) Update(_ context.Context, id int64, in VariantInput) (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[id]
	if !ok {
		return Variant{}, ErrVariantNotFound
	}
	v.Color, v.Size, v.UnitPrice, v.StockCount = in.Color, in.Size, in.UnitPrice, in.StockCount
	v.UpdatedAt, v.UpdatedBy = s.now(), SystemUser
	s.rows[id] = v
	return v, nil
}

func (s *MemStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return ErrVariantNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *MemStore) Reserve(_ context.Context, id int64, qty int) (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[id]
	if !ok || v.StockCount < qty {
		return Variant{}, ErrNotApplied
	}
	v.StockCount -= qty
	v.UpdatedAt, v.UpdatedBy = s.now(), SystemUser
	s.rows[id] = v
	return v, nil
}

func (s *MemStore) Release(_ context.Context, id int64, qty int) (Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[id]
	if !ok {
		return Variant{}, ErrNotApplied
	}
	v.StockCount += qty
	v.UpdatedAt, v.UpdatedBy = s.now(), SystemUser
	s.rows[id] = v
	return v, nil
}
