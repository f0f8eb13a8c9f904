package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/abcretail/stock-pipeline/internal/kafkax"
	"github.com/abcretail/stock-pipeline/internal/orders"
	"github.com/abcretail/stock-pipeline/internal/redisx"
)

// Store is the slice of the repository the edge needs.
type Store interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
	CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error)
	UpdateProduct(ctx context.Context, p orders.Product, expectedETag string) (string, error)
	DeleteProduct(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (orders.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, to orders.Status) error
}

// Notifier publishes order notifications, fire-and-forget.
type Notifier interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type StorefrontHandler struct {
	Store    Store
	Notifier Notifier
	Redis    *redis.Client
	Log      zerolog.Logger
}

type SubmitOrderReq struct {
	CustomerID     string `json:"customer_id"`
	CustomerName   string `json:"customer_name"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SubmitOrderResp struct {
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
}

func (h *StorefrontHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.submitOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{id}/status", h.updateOrderStatus)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Post("/products", h.createProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Delete("/products/{id}", h.deleteProduct)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// submitOrder denormalizes the product into a notification and enqueues it.
// The durable order row is the ingestion worker's job; the edge only
// acknowledges receipt.
func (h *StorefrontHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CustomerID == "" || req.ProductID == "" {
		writeErr(w, http.StatusBadRequest, "missing fields")
		return
	}
	if req.Quantity <= 0 {
		writeErr(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Claim the idempotency key first. A client retry that lost the original
	// response gets the same 202 back without a second notification. If redis
	// is down we publish anyway; the worker's conditional insert still holds.
	if h.Redis != nil {
		claimed, err := h.Redis.SetNX(ctx, fmt.Sprintf(redisx.KeyIdemOrderSubmit, req.IdempotencyKey),
			"1", redisx.TTLIdempotency).Result()
		if err == nil && !claimed {
			h.Log.Info().Str("idempotency_key", req.IdempotencyKey).Msg("duplicate submit acknowledged")
			writeJSON(w, http.StatusAccepted, SubmitOrderResp{
				Status:         "Accepted",
				IdempotencyKey: req.IdempotencyKey,
				ProductID:      req.ProductID,
				Quantity:       req.Quantity,
			})
			return
		}
	}

	p, err := h.Store.GetProduct(ctx, req.ProductID)
	if errors.Is(err, orders.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p.StockAvailable < req.Quantity {
		writeErr(w, http.StatusConflict, fmt.Sprintf("insufficient stock: %d available", p.StockAvailable))
		return
	}

	msg := orders.OrderNotificationMessage{
		Type:           orders.TypeCreateOrder,
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		ProductID:      p.ID,
		ProductName:    p.Name,
		Quantity:       req.Quantity,
		UnitPrice:      p.UnitPrice,
		StockAvailable: p.StockAvailable,
		ProductETag:    p.ETag,
	}
	h.Notifier.Publish(orders.PartitionKey(p.ID), kafkax.MustMarshal(msg))

	h.Log.Info().Str("product_id", p.ID).Int("quantity", req.Quantity).
		Str("idempotency_key", req.IdempotencyKey).Msg("order notification queued")
	writeJSON(w, http.StatusAccepted, SubmitOrderResp{
		Status:         "Accepted",
		IdempotencyKey: req.IdempotencyKey,
		ProductID:      p.ID,
		Quantity:       req.Quantity,
	})
}

func (h *StorefrontHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrder, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(s))
			return
		}
	}

	o, err := h.Store.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	b, _ := json.Marshal(o)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (h *StorefrontHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeErr(w, http.StatusBadRequest, "customer_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Store.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// updateOrderStatus is the hook for external collaborators that move an order
// past Submitted. The core never calls it.
func (h *StorefrontHandler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Status orders.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeErr(w, http.StatusBadRequest, "status is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	err := h.Store.UpdateOrderStatus(ctx, id, body.Status)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrConflict):
		writeErr(w, http.StatusConflict, "order changed concurrently")
	case err != nil:
		writeErr(w, http.StatusConflict, err.Error())
	default:
		if h.Redis != nil {
			_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrder, id)).Err()
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": body.Status})
	}
}

func (h *StorefrontHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *StorefrontHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyProduct, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(s))
			return
		}
	}

	p, err := h.Store.GetProduct(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	b, _ := json.Marshal(p)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLProductCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

type ProductReq struct {
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	StockAvailable int             `json:"stock_available"`
}

func (h *StorefrontHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.StockAvailable < 0 || req.UnitPrice.IsNegative() {
		writeErr(w, http.StatusBadRequest, "invalid product")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.CreateProduct(ctx, orders.Product{
		Name:           req.Name,
		UnitPrice:      req.UnitPrice,
		StockAvailable: req.StockAvailable,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("ETag", p.ETag)
	writeJSON(w, http.StatusCreated, p)
}

// updateProduct is the admin edit path. It carries the same ETag precondition
// as the stock worker: no If-Match, no write.
func (h *StorefrontHandler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	etag := r.Header.Get("If-Match")
	if etag == "" {
		writeErr(w, http.StatusPreconditionRequired, "If-Match header is required")
		return
	}
	var req ProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.StockAvailable < 0 || req.UnitPrice.IsNegative() {
		writeErr(w, http.StatusBadRequest, "invalid product")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	newETag, err := h.Store.UpdateProduct(ctx, orders.Product{
		ID:             id,
		Name:           req.Name,
		UnitPrice:      req.UnitPrice,
		StockAvailable: req.StockAvailable,
	}, etag)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrConflict):
		writeErr(w, http.StatusPreconditionFailed, "etag mismatch")
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		if h.Redis != nil {
			_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyProduct, id)).Err()
		}
		w.Header().Set("ETag", newETag)
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "etag": newETag})
	}
}

func (h *StorefrontHandler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	err := h.Store.DeleteProduct(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.Redis != nil {
		_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyProduct, id)).Err()
	}
	w.WriteHeader(http.StatusNoContent)
}
