package redisx

import "time"

const (
	// Submit idempotency: idem:order:submit:{idempotency_key} -> order_id
	KeyIdemOrderSubmit = "idem:order:submit:%s"

	// Cache order document: order:{order_id} -> serialized order
	KeyOrder = "order:%s"

	// Cache product view: product:{product_id} -> serialized product
	KeyProduct = "product:%s"

	// Dedup message processing: dedup:{worker}:{idempotency_key}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLOrderCache   = 5 * time.Minute
	TTLProductCache = 1 * time.Minute
	TTLDedup        = 48 * time.Hour
)
