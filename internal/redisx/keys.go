package redisx

import "time"

const (
	// Cache order: order:{order_id} -> hash {v: version, d: JSON order}
	KeyOrder = "order:%d"

	// Dedup event di worker rekonsiliasi: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	// tombstone order yang dihapus, cukup untuk menutup read yang telat
	TTLOrderTombstone = 30 * time.Second
	TTLDedup      = 48 * time.Hour
)
