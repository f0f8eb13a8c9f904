package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog row. ETag is the opaque concurrency token returned on
// every read; writes must present the token they read or they fail with
// ErrConflict.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	StockAvailable int             `json:"stock_available"`
	ETag           string          `json:"etag"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Order is written exactly once by the ingestion worker. Status is the only
// field mutated afterwards, and only through UpdateOrderStatus.
type Order struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"-"`
	CustomerID     string          `json:"customer_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Status         Status          `json:"status"`
	OrderDate      time.Time       `json:"order_date"`
}
