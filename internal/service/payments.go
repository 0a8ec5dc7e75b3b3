package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

const (
	reasonSuperseded = "superseded by a new payment attempt"
	reasonExpired    = "payment confirmation timed out"
)

// PaymentOptions tunes the settlement engine.
type PaymentOptions struct {
	SettleTimeout  time.Duration
	PendingTTL     time.Duration
	CallbackSecret string
}

// PaymentService drives payments from initiation to settlement. Both the
// synchronous gateway answer and the asynchronous callback converge on
// applySettlement, which only moves a payment that is still Pending.
type PaymentService struct {
	store     repository.Store
	cache     repository.OrderCache
	settler   clients.Settler
	publisher events.Publisher
	mailer    *Mailer
	validator *validator.Validate
	opts      PaymentOptions
	logger    *logging.Logger
	now       func() time.Time
}

func NewPaymentService(
	store repository.Store,
	cache repository.OrderCache,
	settler clients.Settler,
	publisher events.Publisher,
	mailer *Mailer,
	v *validator.Validate,
	opts PaymentOptions,
	logger *logging.Logger,
) *PaymentService {
	if cache == nil {
		cache = repository.NoopOrderCache{}
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	return &PaymentService{
		store:     store,
		cache:     cache,
		settler:   settler,
		publisher: publisher,
		mailer:    mailer,
		validator: v,
		opts:      opts,
		logger:    logger.Named("payments"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Initiate records a Pending payment against the caller's Pending order,
// then asks the gateway to settle it. A gateway failure or timeout is a
// pending outcome, not an error: the callback may still confirm it.
func (s *PaymentService) Initiate(ctx context.Context, id auth.Identity, req *models.InitiatePaymentRequest) (result *models.InitiatePaymentResult, err error) {
	ctx, span := tracer.Start(ctx, "PaymentService.Initiate")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	var order *models.Order
	var payment *models.Payment
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		order, payment, err = s.createPayment(ctx, id, req)
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
		s.logger.Warn("Transaction code collision, retrying", logging.Fields{"attempt": attempt})
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("order.code", order.Code),
		attribute.String("payment.transaction_code", payment.TransactionCode),
	)
	s.logger.Info("Payment initiated", logging.Fields{
		"payment_id":       payment.ID,
		"transaction_code": payment.TransactionCode,
		"order_id":         order.ID,
		"amount":           payment.Amount.StringFixed(2),
	})
	s.publishPayment(ctx, events.EventTypePaymentInitiated, payment)

	res, serr := s.settle(ctx, order, payment)
	if serr != nil || !res.Success {
		fields := logging.Fields{"payment_id": payment.ID}
		if serr != nil {
			fields["error"] = serr.Error()
		}
		s.logger.Warn("Settlement not confirmed, awaiting callback", fields)
		return s.currentOutcome(ctx, payment)
	}

	receipt := res.Receipt
	if receipt == "" {
		receipt = newReceipt()
	}

	var applied bool
	var paidOrder *models.Order
	err = s.store.InTx(ctx, func(q repository.Queries) (err error) {
		applied, paidOrder, err = applySettlement(ctx, q, payment.ID, receipt)
		return err
	})
	if err != nil && !errors.Is(err, apperrors.ErrConflict) {
		s.logger.Error("Failed to record settlement", logging.Fields{"payment_id": payment.ID, "error": err.Error()})
		return nil, err
	}
	if applied {
		s.afterSettlement(ctx, paidOrder, payment.ID)
	}
	return s.currentOutcome(ctx, payment)
}

func (s *PaymentService) createPayment(ctx context.Context, id auth.Identity, req *models.InitiatePaymentRequest) (*models.Order, *models.Payment, error) {
	var order *models.Order
	var payment *models.Payment
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		o, err := q.GetOrder(ctx, req.OrderID, true)
		if err != nil {
			return err
		}
		if o.CustomerID != id.UserID {
			return apperrors.NotFound("order")
		}
		if !o.IsPending() {
			return apperrors.NewValidationError("order", "order not pending")
		}
		if !req.Amount.Equal(o.TotalAmount) {
			return apperrors.NewValidationError("amount",
				fmt.Sprintf("amount mismatch: order total is %s", o.TotalAmount.StringFixed(2)))
		}

		superseded, err := q.FailPendingPayments(ctx, o.ID, reasonSuperseded)
		if err != nil {
			return err
		}
		if superseded > 0 {
			s.logger.Info("Superseded earlier pending payments", logging.Fields{"order_id": o.ID, "count": superseded})
		}

		now := s.now()
		p := &models.Payment{
			ID:              uuid.NewString(),
			TransactionCode: newTransactionCode(),
			OrderID:         o.ID,
			UserID:          id.UserID,
			Amount:          o.TotalAmount,
			PhoneNumber:     req.PhoneNumber,
			Status:          models.PaymentStatusPending,
			Method:          models.PaymentMethodMpesa,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := q.CreatePayment(ctx, p); err != nil {
			return err
		}
		order, payment = o, p
		return nil
	})
	return order, payment, err
}

func (s *PaymentService) settle(ctx context.Context, order *models.Order, payment *models.Payment) (*clients.SettlementResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SettleTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.settler.Settle(ctx, &clients.SettlementRequest{
		TransactionCode: payment.TransactionCode,
		OrderCode:       order.Code,
		PhoneNumber:     payment.PhoneNumber,
		Amount:          payment.Amount,
		Currency:        order.Currency,
	})
	metrics.ObserveSettlement(time.Since(start))
	if err != nil {
		return nil, apperrors.External("settlement", err)
	}
	return res, nil
}

// currentOutcome reports the payment as it stands in the store, so a
// callback that landed during the gateway call is reflected.
func (s *PaymentService) currentOutcome(ctx context.Context, payment *models.Payment) (*models.InitiatePaymentResult, error) {
	current, err := s.store.GetPayment(ctx, payment.ID, false)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case models.PaymentStatusCompleted:
		metrics.RecordPaymentOutcome(string(models.PaymentOutcomeSuccess))
		return &models.InitiatePaymentResult{
			Outcome: models.PaymentOutcomeSuccess,
			Message: "payment successful",
			Payment: current,
		}, nil
	case models.PaymentStatusPending:
		metrics.RecordPaymentOutcome(string(models.PaymentOutcomePending))
		return &models.InitiatePaymentResult{
			Outcome: models.PaymentOutcomePending,
			Message: "payment initiated, pending confirmation",
			Payment: current,
		}, nil
	default:
		metrics.RecordPaymentOutcome(string(current.Status))
		return nil, apperrors.NewValidationError("status", "payment is no longer pending")
	}
}

// applySettlement completes a Pending payment and marks its order Paid.
// It reports applied=false without error when the payment was already
// completed. A payment in any other state, or an order that is no longer
// Pending, yields ErrConflict so the caller rolls back.
//
// The order row is locked before the payment row, matching CancelOrder and
// createPayment.
func applySettlement(ctx context.Context, q repository.Queries, paymentID, receipt string) (bool, *models.Order, error) {
	p, err := q.GetPayment(ctx, paymentID, false)
	if err != nil {
		return false, nil, err
	}
	order, err := q.GetOrder(ctx, p.OrderID, true)
	if err != nil {
		return false, nil, err
	}
	if p, err = q.GetPayment(ctx, paymentID, true); err != nil {
		return false, nil, err
	}

	if p.Status == models.PaymentStatusCompleted {
		return false, nil, nil
	}
	if p.Status != models.PaymentStatusPending {
		return false, nil, apperrors.ErrConflict
	}

	moved, err := q.TransitionPayment(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusCompleted, &receipt, nil)
	if err != nil {
		return false, nil, err
	}
	if !moved {
		return false, nil, apperrors.ErrConflict
	}

	moved, err = q.TransitionOrder(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		return false, nil, err
	}
	if !moved {
		return false, nil, apperrors.ErrConflict
	}

	order.Status = models.OrderStatusPaid
	return true, order, nil
}

func (s *PaymentService) afterSettlement(ctx context.Context, order *models.Order, paymentID string) {
	if err := s.cache.Delete(ctx, order.ID); err != nil {
		s.logger.Warn("Order cache delete failed", logging.Fields{"order_id": order.ID, "error": err.Error()})
	}

	s.logger.Info("Payment completed", logging.Fields{
		"payment_id": paymentID,
		"order_id":   order.ID,
		"order_code": order.Code,
	})

	if p, err := s.store.GetPayment(ctx, paymentID, false); err == nil {
		s.publishPayment(ctx, events.EventTypePaymentCompleted, p)
	}
	if err := s.publisher.PublishOrderEvent(ctx, events.EventTypeOrderPaid, order); err != nil {
		s.logger.Warn("Failed to publish order event", logging.Fields{"order_id": order.ID, "error": err.Error()})
	}
	s.mailer.Send(order.CustomerEmail, "Payment received for "+order.Code,
		fmt.Sprintf("We received %s %s for order %s.", order.Currency, order.TotalAmount.StringFixed(2), order.Code))
}

// HandleSettlementCallback applies a gateway confirmation. Redelivery of
// a confirmation that was already applied is acknowledged without any
// change. Internal failures never leak to the caller.
func (s *PaymentService) HandleSettlementCallback(ctx context.Context, token string, cb *models.SettlementCallback) (ack *models.CallbackAck) {
	ctx, span := tracer.Start(ctx, "PaymentService.HandleSettlementCallback")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while handling settlement callback", logging.Fields{"panic": fmt.Sprint(r)})
			metrics.RecordCallback("error")
			ack = &models.CallbackAck{Accepted: false, Message: "callback could not be processed"}
		}
	}()

	if s.opts.CallbackSecret != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CallbackSecret)) != 1 {
		metrics.RecordCallback("rejected")
		s.logger.Warn("Settlement callback with invalid token")
		return &models.CallbackAck{Accepted: false, Message: "invalid callback token"}
	}
	if cb == nil || cb.CheckoutRequestID == "" {
		metrics.RecordCallback("invalid")
		return &models.CallbackAck{Accepted: false, Message: "invalid callback payload"}
	}

	span.SetAttributes(attribute.String("payment.transaction_code", cb.CheckoutRequestID))

	if !cb.Succeeded() {
		metrics.RecordCallback("declined")
		s.logger.Info("Settlement callback reported failure", logging.Fields{
			"transaction_code": cb.CheckoutRequestID,
			"result_desc":      cb.ResultDesc,
		})
		// The payment stays Pending until a retry supersedes it or it expires.
		if p, err := s.store.GetPaymentByTransactionCode(ctx, cb.CheckoutRequestID, false); err == nil {
			s.publishPayment(ctx, events.EventTypePaymentFailed, p)
		}
		return &models.CallbackAck{Accepted: false, Message: "payment failed"}
	}

	receipt := cb.ReceiptNumber
	if receipt == "" {
		receipt = newReceipt()
	}

	var applied, duplicate bool
	var paidOrder *models.Order
	var paymentID string
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		p, err := q.GetPaymentByTransactionCode(ctx, cb.CheckoutRequestID, false)
		if err != nil {
			return err
		}
		paymentID = p.ID
		applied, paidOrder, err = applySettlement(ctx, q, p.ID, receipt)
		duplicate = err == nil && !applied
		return err
	})

	switch {
	case err == nil && duplicate:
		metrics.RecordCallback("duplicate")
		s.logger.Info("Settlement callback already applied", logging.Fields{"transaction_code": cb.CheckoutRequestID})
		return &models.CallbackAck{Accepted: true, Message: "payment already processed"}
	case err == nil:
		metrics.RecordCallback("applied")
		s.afterSettlement(ctx, paidOrder, paymentID)
		return &models.CallbackAck{Accepted: true, Message: "payment confirmed"}
	case apperrors.IsNotFound(err):
		metrics.RecordCallback("unknown")
		s.logger.Warn("Settlement callback for unknown payment", logging.Fields{"transaction_code": cb.CheckoutRequestID})
		return &models.CallbackAck{Accepted: false, Message: "payment not found"}
	case errors.Is(err, apperrors.ErrConflict):
		metrics.RecordCallback("conflict")
		s.logger.Warn("Settlement callback for payment that is no longer pending", logging.Fields{
			"transaction_code": cb.CheckoutRequestID,
		})
		return &models.CallbackAck{Accepted: false, Message: "payment is no longer pending"}
	default:
		metrics.RecordCallback("error")
		span.RecordError(err)
		s.logger.Error("Failed to apply settlement callback", logging.Fields{
			"transaction_code": cb.CheckoutRequestID,
			"error":            err.Error(),
		})
		return &models.CallbackAck{Accepted: false, Message: "callback could not be processed"}
	}
}

// Refund moves a Completed payment to Refunded. Admin only.
func (s *PaymentService) Refund(ctx context.Context, id auth.Identity, paymentID string) (*models.Payment, error) {
	if !id.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}

	var refunded *models.Payment
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		p, err := q.GetPayment(ctx, paymentID, true)
		if err != nil {
			return err
		}
		if !p.Status.CanTransition(models.PaymentStatusRefunded) {
			return apperrors.NewValidationError("status", "only completed payments can be refunded")
		}
		moved, err := q.TransitionPayment(ctx, p.ID, models.PaymentStatusCompleted, models.PaymentStatusRefunded, nil, nil)
		if err != nil {
			return err
		}
		if !moved {
			return apperrors.NewValidationError("status", "only completed payments can be refunded")
		}
		refunded, err = q.GetPayment(ctx, p.ID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment refunded", logging.Fields{"payment_id": refunded.ID, "admin_id": id.UserID})
	s.publishPayment(ctx, events.EventTypePaymentRefunded, refunded)
	return refunded, nil
}

// GetPayment returns the payment if the caller made it or is an admin.
func (s *PaymentService) GetPayment(ctx context.Context, id auth.Identity, paymentID string) (*models.Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID, false)
	if err != nil {
		return nil, err
	}
	if p.UserID != id.UserID && !id.IsAdmin() {
		return nil, apperrors.NotFound("payment")
	}
	return p, nil
}

// ListPayments lists the caller's payments, or all payments for admins.
func (s *PaymentService) ListPayments(ctx context.Context, id auth.Identity, limit, offset int) ([]*models.Payment, error) {
	limit, offset = normalizePage(limit, offset)
	filter := models.PaymentListFilter{Limit: limit, Offset: offset}
	if !id.IsAdmin() {
		filter.UserID = id.UserID
	}
	return s.store.ListPayments(ctx, filter)
}

// ExpirePending fails payments that stayed Pending longer than the TTL.
func (s *PaymentService) ExpirePending(ctx context.Context) (int64, error) {
	if s.opts.PendingTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.opts.PendingTTL)
	n, err := s.store.ExpirePendingPayments(ctx, cutoff, reasonExpired)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddExpiredPayments(n)
		s.logger.Info("Expired pending payments", logging.Fields{"count": n, "cutoff": cutoff})
	}
	return n, nil
}

// RunExpirySweeper calls ExpirePending every interval until ctx is done.
func (s *PaymentService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Payment expiry sweeper started", logging.Fields{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Payment expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx); err != nil {
				s.logger.Error("Payment expiry sweep failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

func (s *PaymentService) publishPayment(ctx context.Context, eventType events.EventType, p *models.Payment) {
	if err := s.publisher.PublishPaymentEvent(ctx, eventType, p); err != nil {
		s.logger.Warn("Failed to publish payment event", logging.Fields{
			"payment_id": p.ID,
			"event_type": string(eventType),
			"error":      err.Error(),
		})
	}
}
