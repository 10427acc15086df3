package stock

import (
	"context"
	"errors"
)

// ErrNotApplied: conditional update tidak menyentuh row manapun
// (variant tidak ada, atau stok kurang untuk Reserve).
var ErrNotApplied = errors.New("stock: no rows affected")

var ErrVariantNotFound = errors.New("stock: variant not found")

// Store is the persistence boundary for variants. Reserve and Release must be
// single atomic operations in the backing engine; callers never read-then-write.
type Store interface {
	Get(ctx context.Context, id int64) (Variant, error)
	List(ctx context.Context) ([]Variant, error)
	Create(ctx context.Context, in VariantInput) (Variant, error)
	Update(ctx context.Context, id int64, in VariantInput) (Variant, error)
	Delete(ctx context.Context, id int64) error

	// Reserve decrements stock only if stock >= qty, returning the new row.
	Reserve(ctx context.Context, id int64, qty int) (Variant, error)
	// Release increments stock unconditionally, returning the new row.
	Release(ctx context.Context, id int64, qty int) (Variant, error)
}
