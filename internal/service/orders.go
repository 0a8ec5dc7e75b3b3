package service

import (
	"context"
	"errors"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

// OrderService serves order reads and cancellation.
type OrderService struct {
	store     repository.Store
	cache     repository.OrderCache
	publisher events.Publisher
	mailer    *Mailer
	logger    *logging.Logger
}

func NewOrderService(
	store repository.Store,
	cache repository.OrderCache,
	publisher events.Publisher,
	mailer *Mailer,
	logger *logging.Logger,
) *OrderService {
	if cache == nil {
		cache = repository.NoopOrderCache{}
	}
	return &OrderService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		mailer:    mailer,
		logger:    logger.Named("orders"),
	}
}

// GetOrder returns the order if the caller owns it or is an admin. Orders
// belonging to someone else are reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, id auth.Identity, orderID string) (*models.Order, error) {
	order, err := s.cache.Get(ctx, orderID)
	if err != nil {
		s.logger.Warn("Order cache read failed", logging.Fields{"order_id": orderID, "error": err.Error()})
	}
	if order == nil {
		order, err = s.store.GetOrder(ctx, orderID, false)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, order); err != nil {
			s.logger.Warn("Order cache write failed", logging.Fields{"order_id": orderID, "error": err.Error()})
		}
	}

	if order.CustomerID != id.UserID && !id.IsAdmin() {
		return nil, apperrors.NotFound("order")
	}
	return order, nil
}

// ListOrders lists the caller's orders, or every order for admins.
func (s *OrderService) ListOrders(ctx context.Context, id auth.Identity, status *models.OrderStatus, limit, offset int) ([]*models.Order, error) {
	limit, offset = normalizePage(limit, offset)
	filter := models.OrderListFilter{Status: status, Limit: limit, Offset: offset}
	if !id.IsAdmin() {
		filter.CustomerID = id.UserID
	}
	return s.store.ListOrders(ctx, filter)
}

// CancelOrder moves a Pending order to Cancelled and fails any payment
// still awaiting confirmation.
func (s *OrderService) CancelOrder(ctx context.Context, id auth.Identity, orderID string) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.CancelOrder")
	defer func() { endSpan(span, err) }()

	var failed int64
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		o, err := q.GetOrder(ctx, orderID, true)
		if err != nil {
			return err
		}
		if o.CustomerID != id.UserID && !id.IsAdmin() {
			return apperrors.NotFound("order")
		}
		if !o.IsPending() {
			return apperrors.NewValidationError("status", "only pending orders can be cancelled")
		}

		moved, err := q.TransitionOrder(ctx, o.ID, models.OrderStatusPending, models.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if !moved {
			return apperrors.ErrConflict
		}

		failed, err = q.FailPendingPayments(ctx, o.ID, "order cancelled")
		if err != nil {
			return err
		}

		o.Status = models.OrderStatusCancelled
		order = o
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			err = apperrors.NewValidationError("status", "only pending orders can be cancelled")
		}
		return nil, err
	}

	s.invalidate(ctx, order.ID)
	s.logger.Info("Order cancelled", logging.Fields{
		"order_id":        order.ID,
		"order_code":      order.Code,
		"failed_payments": failed,
	})

	if perr := s.publisher.PublishOrderEvent(ctx, events.EventTypeOrderCancelled, order); perr != nil {
		s.logger.Warn("Failed to publish order event", logging.Fields{"order_id": order.ID, "error": perr.Error()})
	}
	s.mailer.Send(order.CustomerEmail, "Order "+order.Code+" cancelled", "Your order "+order.Code+" has been cancelled.")

	return order, nil
}

func (s *OrderService) invalidate(ctx context.Context, orderID string) {
	if err := s.cache.Delete(ctx, orderID); err != nil {
		s.logger.Warn("Order cache delete failed", logging.Fields{"order_id": orderID, "error": err.Error()})
	}
}
