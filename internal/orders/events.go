package orders

import (
	"encoding/json"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderCompleted     = "OrderCompleted"
	EventOrderDeleted       = "OrderDeleted"
	EventCompensationFailed = "CompensationFailed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemQty struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type OrderPlacedPayload struct {
	OrderID      int64           `json:"order_id"`
	CustomerName string          `json:"customer_name"`
	Items        []ItemQty       `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

type OrderCompletedPayload struct {
	OrderID int64 `json:"order_id"`
}

type OrderDeletedPayload struct {
	OrderID  int64     `json:"order_id"`
	Released []ItemQty `json:"released"`
}

type CompensationFailedPayload struct {
	OrderID int64     `json:"order_id"`
	Pending []ItemQty `json:"pending"` // item yang stoknya belum dikembalikan
	Reason  string    `json:"reason"`
}

func itemQtys(items []OrderItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}
