package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

var (
	admin    = auth.Identity{UserID: "admin-1", Email: "admin@example.com", Role: auth.RoleAdmin}
	seller   = auth.Identity{UserID: "seller-1", Email: "seller@example.com", Role: auth.RoleCustomer}
	customer = auth.Identity{UserID: "customer-1", Email: "customer@example.com", Role: auth.RoleCustomer}
	other    = auth.Identity{UserID: "customer-2", Email: "other@example.com", Role: auth.RoleCustomer}
)

type sentMessage struct {
	To      string
	Subject string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: to, Subject: subject})
	return nil
}

func (n *recordingNotifier) countTo(to string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.To == to {
			c++
		}
	}
	return c
}

// stubSettler answers every call with the configured result.
type stubSettler struct {
	mu      sync.Mutex
	success bool
	receipt string
	err     error
	calls   int
	onCall  func(req *clients.SettlementRequest)
}

func (s *stubSettler) Settle(ctx context.Context, req *clients.SettlementRequest) (*clients.SettlementResult, error) {
	s.mu.Lock()
	s.calls++
	onCall := s.onCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(req)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &clients.SettlementResult{Success: s.success, Receipt: s.receipt}, nil
}

type testEnv struct {
	store     *repository.MemoryStore
	publisher *events.MockPublisher
	notifier  *recordingNotifier
	mailer    *Mailer
	settler   *stubSettler

	catalog  *CatalogService
	cart     *CartService
	checkout *CheckoutService
	orders   *OrderService
	payments *PaymentService
	admin    *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.FromZap(zaptest.NewLogger(t))
	store := repository.NewMemoryStore()
	publisher := events.NewMockPublisher()
	notifier := &recordingNotifier{}
	mailer := NewMailer(notifier, logger)
	settler := &stubSettler{success: true, receipt: "RCP123456"}
	v := NewValidator()

	env := &testEnv{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		mailer:    mailer,
		settler:   settler,
		catalog:   NewCatalogService(store, mailer, v, logger),
		cart:      NewCartService(store, v, logger),
		checkout:  NewCheckoutService(store, publisher, mailer, v, "KES", logger),
		orders:    NewOrderService(store, nil, publisher, mailer, logger),
		payments: NewPaymentService(store, nil, settler, publisher, mailer, v, PaymentOptions{
			SettleTimeout:  time.Second,
			PendingTTL:     15 * time.Minute,
			CallbackSecret: "",
		}, logger),
		admin: NewAdminService(store),
	}
	t.Cleanup(mailer.Wait)
	return env
}

// approvedProduct submits and approves a listing at the given price.
func (e *testEnv) approvedProduct(t *testing.T, name, price string) *models.Product {
	t.Helper()
	ctx := context.Background()

	p, err := e.catalog.SubmitProduct(ctx, seller, &models.SubmitProductRequest{
		Name:        name,
		Description: name + " description",
		Price:       decimal.RequireFromString(price),
	})
	require.NoError(t, err)

	p, err = e.catalog.ModerateProduct(ctx, admin, p.ID, &models.ModerateProductRequest{Action: models.ModerationApprove})
	require.NoError(t, err)
	return p
}

// reprice changes an approved listing's price the only way it can change:
// rejected by an admin, edited by its owner, approved again.
func (e *testEnv) reprice(t *testing.T, productID, price string) {
	t.Helper()
	ctx := context.Background()

	_, err := e.catalog.ModerateProduct(ctx, admin, productID, &models.ModerateProductRequest{Action: models.ModerationReject, Reason: "price update"})
	require.NoError(t, err)
	p := dec(price)
	_, err = e.catalog.EditOwnProduct(ctx, seller, productID, &models.EditProductRequest{Price: &p})
	require.NoError(t, err)
	_, err = e.catalog.ModerateProduct(ctx, admin, productID, &models.ModerateProductRequest{Action: models.ModerationApprove})
	require.NoError(t, err)
}

func (e *testEnv) add(t *testing.T, id auth.Identity, productID string, qty int) *models.Cart {
	t.Helper()
	cart, err := e.cart.AddItem(context.Background(), id, &models.AddCartItemRequest{ProductID: productID, Quantity: qty})
	require.NoError(t, err)
	return cart
}

// placedOrder builds the two-line cart (10.00 x2, 5.00 x1) and checks out.
func (e *testEnv) placedOrder(t *testing.T, id auth.Identity) *models.Order {
	t.Helper()
	a := e.approvedProduct(t, "Product A", "10.00")
	b := e.approvedProduct(t, "Product B", "5.00")
	e.add(t, id, a.ID, 2)
	e.add(t, id, b.ID, 1)

	res, err := e.checkout.Checkout(context.Background(), id, &models.CheckoutRequest{PhoneNumber: "254712345678"})
	require.NoError(t, err)
	return res.Order
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var errGateway = errors.New("gateway unreachable")
