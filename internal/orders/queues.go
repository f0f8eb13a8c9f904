package orders

const (
	QueueOrderNotifications = "order-notifications"
	QueueStockUpdates       = "stock-updates"
)

// Partition key = product_id so adjustments for one product land on one
// partition. Ordering is still best effort: redelivered messages re-enter at
// the tail, which is why the stock worker never trusts arrival order.
func PartitionKey(productID string) []byte { return []byte(productID) }
