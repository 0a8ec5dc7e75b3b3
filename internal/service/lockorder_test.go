package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

// lockRecordingStore logs, per transaction, every statement that takes a
// row lock on an order or a payment.
type lockRecordingStore struct {
	*repository.MemoryStore

	mu  sync.Mutex
	txs [][]string
}

func (s *lockRecordingStore) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	return s.MemoryStore.InTx(ctx, func(q repository.Queries) error {
		rq := &lockRecordingQueries{Queries: q}
		err := fn(rq)
		s.mu.Lock()
		s.txs = append(s.txs, rq.locks)
		s.mu.Unlock()
		return err
	})
}

func (s *lockRecordingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = nil
}

// firstLocks returns the first row kind locked by each transaction that
// touched payments.
func (s *lockRecordingStore) firstLocks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, locks := range s.txs {
		touchesPayments := false
		for _, l := range locks {
			if l == "payment" {
				touchesPayments = true
			}
		}
		if touchesPayments {
			out = append(out, locks[0])
		}
	}
	return out
}

type lockRecordingQueries struct {
	repository.Queries
	locks []string
}

func (q *lockRecordingQueries) GetOrder(ctx context.Context, id string, forUpdate bool) (*models.Order, error) {
	if forUpdate {
		q.locks = append(q.locks, "order")
	}
	return q.Queries.GetOrder(ctx, id, forUpdate)
}

func (q *lockRecordingQueries) TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus) (bool, error) {
	q.locks = append(q.locks, "order")
	return q.Queries.TransitionOrder(ctx, id, from, to)
}

func (q *lockRecordingQueries) GetPayment(ctx context.Context, id string, forUpdate bool) (*models.Payment, error) {
	if forUpdate {
		q.locks = append(q.locks, "payment")
	}
	return q.Queries.GetPayment(ctx, id, forUpdate)
}

func (q *lockRecordingQueries) GetPaymentByTransactionCode(ctx context.Context, code string, forUpdate bool) (*models.Payment, error) {
	if forUpdate {
		q.locks = append(q.locks, "payment")
	}
	return q.Queries.GetPaymentByTransactionCode(ctx, code, forUpdate)
}

func (q *lockRecordingQueries) TransitionPayment(ctx context.Context, id string, from, to models.PaymentStatus, receipt, reason *string) (bool, error) {
	q.locks = append(q.locks, "payment")
	return q.Queries.TransitionPayment(ctx, id, from, to, receipt, reason)
}

func (q *lockRecordingQueries) FailPendingPayments(ctx context.Context, orderID, reason string) (int64, error) {
	q.locks = append(q.locks, "payment")
	return q.Queries.FailPendingPayments(ctx, orderID, reason)
}

func TestPaymentService_OrderRowLockedBeforePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := &lockRecordingStore{MemoryStore: env.store}
	logger := logging.FromZap(zaptest.NewLogger(t))

	payments := NewPaymentService(rec, nil, env.settler, env.publisher, env.mailer, NewValidator(), PaymentOptions{
		SettleTimeout: time.Second,
	}, logger)
	orders := NewOrderService(rec, nil, env.publisher, env.mailer, logger)

	req := func(orderID string) *models.InitiatePaymentRequest {
		return &models.InitiatePaymentRequest{OrderID: orderID, PhoneNumber: "254712345678", Amount: dec("25")}
	}

	t.Run("sync settlement", func(t *testing.T) {
		order := env.placedOrder(t, customer)
		rec.reset()

		_, err := payments.Initiate(ctx, customer, req(order.ID))
		require.NoError(t, err)
		assert.Equal(t, []string{"order", "order"}, rec.firstLocks())
	})

	t.Run("callback", func(t *testing.T) {
		order := env.placedOrder(t, customer)
		env.settler.success = false
		defer func() { env.settler.success = true }()

		res, err := payments.Initiate(ctx, customer, req(order.ID))
		require.NoError(t, err)
		rec.reset()

		ack := payments.HandleSettlementCallback(ctx, "", successCallback(res.Payment.TransactionCode, "MPESA1"))
		require.True(t, ack.Accepted)
		assert.Equal(t, []string{"order"}, rec.firstLocks())
	})

	t.Run("cancel", func(t *testing.T) {
		order := env.placedOrder(t, customer)
		env.settler.success = false
		defer func() { env.settler.success = true }()

		_, err := payments.Initiate(ctx, customer, req(order.ID))
		require.NoError(t, err)
		rec.reset()

		_, err = orders.CancelOrder(ctx, customer, order.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"order"}, rec.firstLocks())
	})
}
