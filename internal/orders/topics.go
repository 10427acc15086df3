package orders

import "strconv"

const (
	// OrderPlaced, OrderCompleted, OrderDeleted
	TopicOrderLifecycle = "order.lifecycle"
	// Dikonsumsi worker rekonsiliasi (internal/reconcile).
	TopicCompensationFailed = "order.compensation.failed"
)

// Partition key = order id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
