package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/circuitbreaker"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

func initiate(env *testEnv, orderID, amount string) (*models.InitiatePaymentResult, error) {
	return env.payments.Initiate(context.Background(), customer, &models.InitiatePaymentRequest{
		OrderID:     orderID,
		PhoneNumber: "254712345678",
		Amount:      dec(amount),
	})
}

func successCallback(code, receipt string) *models.SettlementCallback {
	zero := 0
	return &models.SettlementCallback{ResultCode: &zero, CheckoutRequestID: code, ReceiptNumber: receipt}
}

func TestPaymentService_InitiateSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)

	res, err := initiate(env, order.ID, "25.00")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentOutcomeSuccess, res.Outcome)
	assert.Equal(t, models.PaymentStatusCompleted, res.Payment.Status)
	assert.Regexp(t, `^TXN-[0-9A-F]{12}$`, res.Payment.TransactionCode)
	require.NotNil(t, res.Payment.ReceiptRef)
	assert.Equal(t, "RCP123456", *res.Payment.ReceiptRef)

	got, err := env.orders.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	env.mailer.Wait()
	assert.Equal(t, 1, env.publisher.Count(events.EventTypePaymentInitiated))
	assert.Equal(t, 1, env.publisher.Count(events.EventTypePaymentCompleted))
	assert.Equal(t, 1, env.publisher.Count(events.EventTypeOrderPaid))
	assert.Equal(t, 2, env.notifier.countTo(customer.Email), "order placed and payment received")
}

func TestPaymentService_InitiatePendingOnGatewayFailure(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		err     error
	}{
		{name: "declined", success: false},
		{name: "unreachable", err: errGateway},
		{name: "breaker open", err: circuitbreaker.ErrCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			order := env.placedOrder(t, customer)
			env.settler.success = tt.success
			env.settler.err = tt.err

			res, err := initiate(env, order.ID, "25.00")
			require.NoError(t, err)

			assert.Equal(t, models.PaymentOutcomePending, res.Outcome)
			assert.Equal(t, models.PaymentStatusPending, res.Payment.Status)
			assert.Nil(t, res.Payment.ReceiptRef)

			got, err := env.orders.GetOrder(context.Background(), customer, order.ID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusPending, got.Status)
		})
	}
}

func TestPaymentService_InitiateAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	order := env.placedOrder(t, customer)

	for _, amount := range []string{"25.001", "24.99", "100"} {
		_, err := initiate(env, order.ID, amount)
		ve, ok := apperrors.AsValidation(err)
		require.True(t, ok, "amount %s", amount)
		assert.Equal(t, "amount", ve.Field)
	}
	assert.Equal(t, 0, env.settler.calls)

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err, "25 equals 25.00 as a decimal")
	assert.Equal(t, models.PaymentOutcomeSuccess, res.Outcome)
}

func TestPaymentService_InitiatePreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)

	_, err := env.payments.Initiate(ctx, other, &models.InitiatePaymentRequest{
		OrderID: order.ID, PhoneNumber: "254712345678", Amount: dec("25"),
	})
	assert.True(t, apperrors.IsNotFound(err), "another customer's order is not found")

	_, err = initiate(env, "missing", "25")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = initiate(env, "missing", "-1")
	assert.True(t, apperrors.IsNotFound(err), "existence is checked before the amount")

	_, err = initiate(env, order.ID, "0")
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok, "zero amount")

	_, err = initiate(env, order.ID, "-25")
	_, ok = apperrors.AsValidation(err)
	assert.True(t, ok, "negative amount")

	_, err = env.orders.CancelOrder(ctx, customer, order.ID)
	require.NoError(t, err)

	_, err = initiate(env, order.ID, "25")
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "order", ve.Field)
}

func TestPaymentService_InitiateOnPaidOrderFails(t *testing.T) {
	env := newTestEnv(t)
	order := env.placedOrder(t, customer)

	_, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	_, err = initiate(env, order.ID, "25")
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
}

func TestPaymentService_NewAttemptSupersedesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	first, err := initiate(env, order.ID, "25")
	require.NoError(t, err)
	second, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	old, err := env.payments.GetPayment(ctx, customer, first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, old.Status)
	assert.Equal(t, models.PaymentStatusPending, second.Payment.Status)

	ack := env.payments.HandleSettlementCallback(ctx, "", successCallback(first.Payment.TransactionCode, "RCP000001"))
	assert.False(t, ack.Accepted, "a superseded attempt cannot settle the order")
}

func TestPaymentService_CallbackCompletesPendingPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)
	code := res.Payment.TransactionCode

	ack := env.payments.HandleSettlementCallback(ctx, "", successCallback(code, "MPESA42"))
	assert.True(t, ack.Accepted)

	dup := env.payments.HandleSettlementCallback(ctx, "", successCallback(code, "MPESA-OTHER"))
	assert.True(t, dup.Accepted)
	assert.Equal(t, "payment already processed", dup.Message)

	p, err := env.payments.GetPayment(ctx, customer, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.ReceiptRef)
	assert.Equal(t, "MPESA42", *p.ReceiptRef, "redelivery keeps the first receipt")

	got, err := env.orders.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	env.mailer.Wait()
	assert.Equal(t, 1, env.publisher.Count(events.EventTypeOrderPaid))
	assert.Equal(t, 2, env.notifier.countTo(customer.Email))
}

func TestPaymentService_CallbackRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)
	code := res.Payment.TransactionCode

	failed := 1032
	tests := []struct {
		name string
		cb   *models.SettlementCallback
	}{
		{"nil payload", nil},
		{"missing id", &models.SettlementCallback{}},
		{"unknown payment", successCallback("TXN-000000000000", "R")},
		{"declined", &models.SettlementCallback{ResultCode: &failed, CheckoutRequestID: code, ResultDesc: "cancelled by user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := env.payments.HandleSettlementCallback(ctx, "", tt.cb)
			assert.False(t, ack.Accepted)
		})
	}

	p, err := env.payments.GetPayment(ctx, customer, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status, "rejected callbacks do not mutate")
	assert.Equal(t, 1, env.publisher.Count(events.EventTypePaymentFailed))
}

func TestPaymentService_CallbackToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.payments.opts.CallbackSecret = "s3cret"
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	ack := env.payments.HandleSettlementCallback(ctx, "wrong", successCallback(res.Payment.TransactionCode, "R1"))
	assert.False(t, ack.Accepted)

	ack = env.payments.HandleSettlementCallback(ctx, "s3cret", successCallback(res.Payment.TransactionCode, "R1"))
	assert.True(t, ack.Accepted)
}

func TestPaymentService_CallbackDuringGatewayCall(t *testing.T) {
	env := newTestEnv(t)
	order := env.placedOrder(t, customer)

	env.settler.onCall = func(req *clients.SettlementRequest) {
		ack := env.payments.HandleSettlementCallback(context.Background(), "", successCallback(req.TransactionCode, "FROM-CALLBACK"))
		assert.True(t, ack.Accepted)
	}

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Payment.ReceiptRef)
	assert.Equal(t, "FROM-CALLBACK", *res.Payment.ReceiptRef)

	env.mailer.Wait()
	assert.Equal(t, 1, env.publisher.Count(events.EventTypeOrderPaid), "only one path applies the transition")
}

func TestPaymentService_ConcurrentCallbacksApplyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.payments.HandleSettlementCallback(ctx, "", successCallback(res.Payment.TransactionCode, "RCP777777"))
		}()
	}
	wg.Wait()

	env.mailer.Wait()
	assert.Equal(t, 1, env.publisher.Count(events.EventTypeOrderPaid))
	assert.Equal(t, 1, env.publisher.Count(events.EventTypePaymentCompleted))
}

func TestPaymentService_CancelFailsPendingPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	_, err = env.orders.CancelOrder(ctx, customer, order.ID)
	require.NoError(t, err)

	p, err := env.payments.GetPayment(ctx, customer, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)

	ack := env.payments.HandleSettlementCallback(ctx, "", successCallback(res.Payment.TransactionCode, "LATE"))
	assert.False(t, ack.Accepted)

	_, err = env.orders.CancelOrder(ctx, customer, order.ID)
	ve, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "only pending orders can be cancelled", ve.Message)
}

func TestPaymentService_Refund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	_, err = env.payments.Refund(ctx, customer, res.Payment.ID)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	refunded, err := env.payments.Refund(ctx, admin, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)

	_, err = env.payments.Refund(ctx, admin, res.Payment.ID)
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
}

func TestPaymentService_ExpirePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	env.settler.success = false

	res, err := initiate(env, order.ID, "25")
	require.NoError(t, err)

	n, err := env.payments.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "fresh payments are kept")

	env.payments.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	n, err = env.payments.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	p, err := env.payments.GetPayment(ctx, customer, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
}

func TestPaymentService_Listings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.placedOrder(t, customer)
	theirs := env.placedOrder(t, other)

	_, err := initiate(env, order.ID, "25")
	require.NoError(t, err)
	_, err = env.payments.Initiate(ctx, other, &models.InitiatePaymentRequest{
		OrderID: theirs.ID, PhoneNumber: "254700000000", Amount: dec("25"),
	})
	require.NoError(t, err)

	mine, err := env.payments.ListPayments(ctx, customer, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := env.payments.ListPayments(ctx, admin, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	for _, p := range all {
		if p.UserID == other.UserID {
			_, err = env.payments.GetPayment(ctx, customer, p.ID)
			assert.True(t, apperrors.IsNotFound(err))
		}
	}

	stats, err := env.admin.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrdersByStatus[models.OrderStatusPaid])
	assert.Equal(t, 2, stats.PaymentsByStatus[models.PaymentStatusCompleted])

	_, err = env.admin.Stats(ctx, customer)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestPaymentService_ZeroTotalOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	free := env.approvedProduct(t, "Sample", "0.00")
	env.add(t, customer, free.ID, 1)

	placed, err := env.checkout.Checkout(ctx, customer, &models.CheckoutRequest{PhoneNumber: "254712345678"})
	require.NoError(t, err)
	require.True(t, placed.Order.TotalAmount.IsZero())

	res, err := initiate(env, placed.Order.ID, "0")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeSuccess, res.Outcome)

	order, err := env.orders.GetOrder(ctx, customer, placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}
