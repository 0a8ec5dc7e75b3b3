package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

func seedOrder(t *testing.T, s *MemoryStore, id, code string) *models.Order {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Order{
		ID:          id,
		Code:        code,
		CustomerID:  "buyer_1",
		TotalAmount: decimal.RequireFromString("25.00"),
		Currency:    "KES",
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{
			{ID: id + "_item", ProductID: "prod_1", ProductName: "Lamp", Quantity: 2, Price: decimal.RequireFromString("12.50")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateOrder(context.Background(), o))
	return o
}

func TestMemoryStore_InTxRollsBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, "ord_1", "ORD-00000001")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q Queries) error {
		moved, err := q.TransitionOrder(ctx, "ord_1", models.OrderStatusPending, models.OrderStatusPaid)
		require.NoError(t, err)
		require.True(t, moved)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	o, err := s.GetOrder(ctx, "ord_1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
}

func TestMemoryStore_InTxRollsBackOnPanic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, "ord_1", "ORD-00000001")

	assert.Panics(t, func() {
		_ = s.InTx(ctx, func(q Queries) error {
			_, err := q.TransitionOrder(ctx, "ord_1", models.OrderStatusPending, models.OrderStatusPaid)
			require.NoError(t, err)
			panic("boom")
		})
	})

	o, err := s.GetOrder(ctx, "ord_1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
}

func TestMemoryStore_TransitionIsCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, "ord_1", "ORD-00000001")

	moved, err := s.TransitionOrder(ctx, "ord_1", models.OrderStatusPending, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.TransitionOrder(ctx, "ord_1", models.OrderStatusPending, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestMemoryStore_UniqueCodes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedOrder(t, s, "ord_1", "ORD-00000001")

	err := s.CreateOrder(ctx, &models.Order{ID: "ord_2", Code: "ORD-00000001"})
	assert.ErrorIs(t, err, ErrDuplicate)

	pay := &models.Payment{ID: "pay_1", TransactionCode: "TXN-000000000001", OrderID: "ord_1", Status: models.PaymentStatusPending}
	require.NoError(t, s.CreatePayment(ctx, pay))
	dup := *pay
	dup.ID = "pay_2"
	assert.ErrorIs(t, s.CreatePayment(ctx, &dup), ErrDuplicate)
}

func TestMemoryStore_CartLines(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateProduct(ctx, &models.Product{ID: "prod_1", Price: decimal.RequireFromString("5.00")}))

	cart, err := s.EnsureCart(ctx, "buyer_1")
	require.NoError(t, err)
	again, err := s.EnsureCart(ctx, "buyer_1")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)

	item := &models.CartItem{ID: "ci_1", CartID: cart.ID, ProductID: "prod_1", Quantity: 1, CreatedAt: time.Now()}
	require.NoError(t, s.InsertCartItem(ctx, item))
	dup := *item
	dup.ID = "ci_2"
	assert.ErrorIs(t, s.InsertCartItem(ctx, &dup), ErrDuplicate)

	items, err := s.ListCartItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Product)
	assert.True(t, items[0].Subtotal().Equal(decimal.RequireFromString("5.00")))

	_, err = s.GetCartItem(ctx, "other-cart", "ci_1")
	assert.True(t, apperrors.IsNotFound(err))

	n, err := s.ClearCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStore_ExpirePendingPayments(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, s.CreatePayment(ctx, &models.Payment{ID: "p_old", TransactionCode: "T1", Status: models.PaymentStatusPending, CreatedAt: old}))
	require.NoError(t, s.CreatePayment(ctx, &models.Payment{ID: "p_new", TransactionCode: "T2", Status: models.PaymentStatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.CreatePayment(ctx, &models.Payment{ID: "p_done", TransactionCode: "T3", Status: models.PaymentStatusCompleted, CreatedAt: old}))

	n, err := s.ExpirePendingPayments(ctx, time.Now().Add(-time.Minute), "expired")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	p, err := s.GetPayment(ctx, "p_old", false)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "expired", *p.FailureReason)

	p, err = s.GetPayment(ctx, "p_done", false)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}
