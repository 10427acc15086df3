package stock

import (
	"github.com/shopspring/decimal"
	"time"
)

const SystemUser = "SYSTEM"

// Variant adalah unit stok (kombinasi warna + ukuran) milik stock service.
type Variant struct {
	ID         int64           `json:"id"`
	Color      string          `json:"color"`
	Size       string          `json:"size"`
	UnitPrice  decimal.Decimal `json:"price"`
	StockCount int             `json:"stock"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	CreatedBy  string          `json:"createdBy"`
	UpdatedBy  string          `json:"updatedBy,omitempty"`
}

// VariantInput dipakai untuk create/update dari HTTP.
type VariantInput struct {
	Color      string          `json:"color"`
	Size       string          `json:"size"`
	UnitPrice  decimal.Decimal `json:"price"`
	StockCount int             `json:"stock"`
}
