package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

type Order struct {
	ID           int64           `json:"id"`
	CustomerName string          `json:"customer_name"`
	Status       Status          `json:"status"` // lihat status.go
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Version      int64           `json:"version"`
	Items        []OrderItem     `json:"items"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// OrderItem menyimpan snapshot warna/ukuran/harga saat reservasi.
// Perubahan variant setelahnya tidak mempengaruhi item ini.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Position  int             `json:"position"`
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Color     string          `json:"color"`
	Size      string          `json:"size"`
	Released  bool            `json:"released"`
}

// ItemRequest adalah satu baris permintaan placeOrder.
type ItemRequest struct {
	VariantID int64
	Quantity  int
}

// Subtotal = unit price x quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp
}

func (o *Order) pendingRelease() []int {
	idx := make([]int, 0, len(o.Items))
	for i, it := range o.Items {
		if !it.Released {
			idx = append(idx, i)
		}
	}
	return idx
}
