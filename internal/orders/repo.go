package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means the row changed since the presented ETag was read.
	// Callers resolve it by re-reading, never by retrying the same write.
	ErrConflict = errors.New("etag mismatch")
)

type Repo struct{ DB *pgxpool.Pool }

func newETag() string { return uuid.NewString() }

// GetProduct returns the row together with its live ETag.
func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	var price string
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, unit_price::text, stock_available, etag, created_at, updated_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &price, &p.StockAvailable, &p.ETag, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	p.UnitPrice, err = decimal.NewFromString(price)
	if err != nil {
		return Product{}, fmt.Errorf("decode unit_price: %w", err)
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, unit_price::text, stock_available, etag, created_at, updated_at
		FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var price string
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.StockAvailable, &p.ETag, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode unit_price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.ETag = newETag()
	err := r.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, unit_price, stock_available, etag)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.UnitPrice.String(), p.StockAvailable, p.ETag).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// UpdateProduct writes the row back conditionally on expectedETag. Every
// writer goes through here, so the stock worker and the admin edit path obey
// the same contract. Returns the rotated ETag on success.
func (r *Repo) UpdateProduct(ctx context.Context, p Product, expectedETag string) (string, error) {
	etag := newETag()
	ct, err := r.DB.Exec(ctx, `
		UPDATE products
		SET name=$2, unit_price=$3, stock_available=$4, etag=$5, updated_at=now()
		WHERE id=$1 AND etag=$6`,
		p.ID, p.Name, p.UnitPrice.String(), p.StockAvailable, etag, expectedETag)
	if err != nil {
		return "", err
	}
	if ct.RowsAffected() == 1 {
		return etag, nil
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, p.ID).Scan(&exists); err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNotFound
	}
	return "", ErrConflict
}

func (r *Repo) DeleteProduct(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOrder inserts conditionally on the idempotency key. A redelivered
// notification finds the key taken and gets the original order id back with
// existed=true, so no duplicate row and no second stock adjustment.
func (r *Repo) CreateOrder(ctx context.Context, o Order) (orderID string, existed bool, err error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO orders(id, idempotency_key, customer_id, product_id, product_name, quantity, unit_price, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		o.ID, o.IdempotencyKey, o.CustomerID, o.ProductID, o.ProductName, o.Quantity, o.UnitPrice.String(), o.Status)
	if err != nil {
		return "", false, err
	}
	if ct.RowsAffected() == 1 {
		return o.ID, false, nil
	}
	err = r.DB.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key=$1`, o.IdempotencyKey).Scan(&orderID)
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	var o Order
	var price string
	err := r.DB.QueryRow(ctx, `
		SELECT id, idempotency_key, customer_id, product_id, product_name, quantity, unit_price::text, status, order_date
		FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.IdempotencyKey, &o.CustomerID, &o.ProductID, &o.ProductName, &o.Quantity, &price, &o.Status, &o.OrderDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if o.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Order{}, fmt.Errorf("decode unit_price: %w", err)
	}
	return o, nil
}

func (r *Repo) ListOrdersByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, idempotency_key, customer_id, product_id, product_name, quantity, unit_price::text, status, order_date
		FROM orders WHERE customer_id=$1 ORDER BY order_date DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var price string
		if err := rows.Scan(&o.ID, &o.IdempotencyKey, &o.CustomerID, &o.ProductID, &o.ProductName, &o.Quantity, &price, &o.Status, &o.OrderDate); err != nil {
			return nil, err
		}
		if o.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode unit_price: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus applies an externally requested transition. Core fields
// stay immutable; only the status column moves, and only along valid edges.
func (r *Repo) UpdateOrderStatus(ctx context.Context, id string, to Status) error {
	var cur Status
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, id).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !CanTransition(cur, to) {
		return fmt.Errorf("invalid status transition %s -> %s", cur, to)
	}
	ct, err := r.DB.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1 AND status=$3`, id, to, cur)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
