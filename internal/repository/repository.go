package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects a write
// (order code, transaction code, cart line, order line).
var ErrDuplicate = errors.New("duplicate key")

// ProductFilter scopes product listings.
type ProductFilter struct {
	Status  *models.ProductStatus
	OwnerID string
	Limit   int
	Offset  int
}

// Queries is every persistence operation the services need. The same set
// runs against the connection pool or inside a transaction.
//
// Methods taking forUpdate lock the row for the rest of the transaction;
// outside a transaction the flag has no effect. Transition* methods are
// compare-and-swap on the status column and report whether a row moved.
type Queries interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	ListProducts(ctx context.Context, filter ProductFilter) ([]*models.Product, error)

	// EnsureCart returns the user's cart, creating an empty one if absent.
	EnsureCart(ctx context.Context, userID string) (*models.Cart, error)
	GetCartByUser(ctx context.Context, userID string, forUpdate bool) (*models.Cart, error)
	ListCartItems(ctx context.Context, cartID string) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, itemID string) (*models.CartItem, error)
	GetCartItemByProduct(ctx context.Context, cartID, productID string) (*models.CartItem, error)
	InsertCartItem(ctx context.Context, item *models.CartItem) error
	UpdateCartItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID string) error
	ClearCart(ctx context.Context, cartID string) (int64, error)

	// CreateOrder inserts the order row and all of its item rows.
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string, forUpdate bool) (*models.Order, error)
	ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, error)
	TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id string, forUpdate bool) (*models.Payment, error)
	GetPaymentByTransactionCode(ctx context.Context, code string, forUpdate bool) (*models.Payment, error)
	ListPayments(ctx context.Context, filter models.PaymentListFilter) ([]*models.Payment, error)
	TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, receipt, reason *string) (bool, error)
	FailPendingPayments(ctx context.Context, orderID, reason string) (int64, error)
	ExpirePendingPayments(ctx context.Context, createdBefore time.Time, reason string) (int64, error)

	Stats(ctx context.Context) (*models.Stats, error)
}

// Store is a Queries bound to the pool plus a transaction runner.
type Store interface {
	Queries
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
}

// NoopOrderCache is used when caching is disabled.
type NoopOrderCache struct{}

func (NoopOrderCache) Get(ctx context.Context, id string) (*models.Order, error) { return nil, nil }
func (NoopOrderCache) Set(ctx context.Context, order *models.Order) error        { return nil }
func (NoopOrderCache) Delete(ctx context.Context, id string) error              { return nil }

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
