package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemRepo is a Repository kept in process memory. Stored orders are copied
// on the way in and out so callers never share slices with the store.
type MemRepo struct {
	mu         sync.Mutex
	orders     map[int64]*Order
	nextOrder  int64
	nextItem   int64
	itemOrders map[int64]int64
}

func NewMemRepo() *MemRepo {
	return &MemRepo{orders: make(map[int64]*Order), itemOrders: make(map[int64]int64)}
}

func (r *MemRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextOrder++
	now := time.Now().UTC()
	o.ID, o.Version, o.CreatedAt, o.UpdatedAt = r.nextOrder, 1, now, now
	for i := range o.Items {
		r.nextItem++
		o.Items[i].ID = r.nextItem
		o.Items[i].OrderID = o.ID
		o.Items[i].Position = i
		r.itemOrders[r.nextItem] = o.ID
	}
	r.orders[o.ID] = o.clone()
	return nil
}

func (r *MemRepo) Get(_ context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, orderNotFound(id)
	}
	return o.clone(), nil
}

func (r *MemRepo) List(_ context.Context) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemRepo) Update(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return orderNotFound(o.ID)
	}
	if cur.Version != o.Version {
		return versionConflict(o.ID, o.Version)
	}
	cur.Status = o.Status
	cur.TotalAmount = o.TotalAmount
	cur.Version++
	cur.UpdatedAt = time.Now().UTC()
	o.Version, o.UpdatedAt = cur.Version, cur.UpdatedAt
	return nil
}

func (r *MemRepo) Delete(_ context.Context, id, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[id]
	if !ok {
		return orderNotFound(id)
	}
	if cur.Version != version {
		return versionConflict(id, version)
	}
	for _, it := range cur.Items {
		delete(r.itemOrders, it.ID)
	}
	delete(r.orders, id)
	return nil
}

func (r *MemRepo) setReleased(itemID int64, from, to bool) bool {
	o, ok := r.orders[r.itemOrders[itemID]]
	if !ok {
		return false
	}
	for i := range o.Items {
		if o.Items[i].ID == itemID && o.Items[i].Released == from {
			o.Items[i].Released = to
			return true
		}
	}
	return false
}

func (r *MemRepo) ClaimRelease(_ context.Context, itemID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setReleased(itemID, false, true), nil
}

func (r *MemRepo) UnclaimRelease(_ context.Context, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setReleased(itemID, true, false)
	return nil
}
