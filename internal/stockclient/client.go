// Package stockclient is the order service's view of the remote stock service.
package stockclient

import (
	"context"
	"github.com/ariefcatur/go-order-saga/internal/stock"
)

// Nama operasi, dipakai juga sebagai nama breaker dan label metric.
const (
	OpGetVariant = "getVariant"
	OpReserve    = "reserve"
	OpRelease    = "release"
)

// Client is implemented by the raw HTTP client and by every decorator
// around it, so they compose freely.
type Client interface {
	GetVariant(ctx context.Context, id int64) (stock.Variant, error)
	Reserve(ctx context.Context, id int64, qty int) (stock.Variant, error)
	Release(ctx context.Context, id int64, qty int) (stock.Variant, error)
}
