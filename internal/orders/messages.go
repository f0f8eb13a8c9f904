package orders

import (
	"errors"

	"github.com/shopspring/decimal"
)

const (
	// TypeCreateOrder is the only discriminator the ingestion worker acts on.
	// Anything else is acknowledged as a no-op so new notification kinds can
	// be introduced without breaking old workers.
	TypeCreateOrder = "CreateOrder"
)

// OrderNotificationMessage transits the order-notifications queue.
// ProductETag is the token the storefront observed at submission time; it is
// carried for diagnostics only, workers always re-read the live row.
type OrderNotificationMessage struct {
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CustomerID     string          `json:"customerId"`
	CustomerName   string          `json:"customerName,omitempty"`
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	StockAvailable int             `json:"stockAvailable,omitempty"`
	ProductETag    string          `json:"productETag,omitempty"`
}

// StockUpdateMessage transits the stock-updates queue. QuantityChange is
// signed; a sale carries a negative delta.
type StockUpdateMessage struct {
	ProductID      string `json:"productId"`
	QuantityChange int    `json:"quantityChange"`
	ProductETag    string `json:"productETag,omitempty"`
}

var (
	ErrMissingField = errors.New("missing required field")
	ErrBadQuantity  = errors.New("quantity must be positive")
)

func (m OrderNotificationMessage) Validate() error {
	if m.Type == "" || m.IdempotencyKey == "" || m.CustomerID == "" || m.ProductID == "" {
		return ErrMissingField
	}
	if m.Quantity <= 0 {
		return ErrBadQuantity
	}
	return nil
}

func (m StockUpdateMessage) Validate() error {
	if m.ProductID == "" {
		return ErrMissingField
	}
	return nil
}
