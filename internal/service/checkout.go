package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

// CheckoutService turns the caller's cart into an order.
type CheckoutService struct {
	store     repository.Store
	publisher events.Publisher
	mailer    *Mailer
	validator *validator.Validate
	currency  string
	logger    *logging.Logger
}

func NewCheckoutService(
	store repository.Store,
	publisher events.Publisher,
	mailer *Mailer,
	v *validator.Validate,
	currency string,
	logger *logging.Logger,
) *CheckoutService {
	return &CheckoutService{
		store:     store,
		publisher: publisher,
		mailer:    mailer,
		validator: v,
		currency:  currency,
		logger:    logger.Named("checkout"),
	}
}

// Checkout freezes the cart total and line prices into a Pending order and
// empties the cart, all in one transaction. The phone number is echoed for
// the payment step and not stored.
func (s *CheckoutService) Checkout(ctx context.Context, id auth.Identity, req *models.CheckoutRequest) (result *models.CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.Checkout")
	defer func() { endSpan(span, err) }()

	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	var order *models.Order
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		order, err = s.placeOrder(ctx, id)
		if !errors.Is(err, repository.ErrDuplicate) {
			break
		}
		s.logger.Warn("Order code collision, retrying", logging.Fields{"attempt": attempt})
	}
	if err != nil {
		if ve, ok := apperrors.AsValidation(err); ok && ve.Field == "cart" {
			metrics.RecordCheckout("empty")
		} else {
			metrics.RecordCheckout("error")
		}
		s.logger.Error("Checkout failed", logging.Fields{"user_id": id.UserID, "error": err.Error()})
		return nil, err
	}

	span.SetAttributes(attribute.String("order.code", order.Code))
	metrics.RecordCheckout("success")
	s.logger.Info("Order created", logging.Fields{
		"order_id":   order.ID,
		"order_code": order.Code,
		"user_id":    id.UserID,
		"total":      order.TotalAmount.StringFixed(2),
		"items":      len(order.Items),
	})

	if perr := s.publisher.PublishOrderEvent(ctx, events.EventTypeOrderCreated, order); perr != nil {
		s.logger.Warn("Failed to publish order event", logging.Fields{"order_id": order.ID, "error": perr.Error()})
	}
	s.mailer.Send(order.CustomerEmail, "Order "+order.Code+" received",
		fmt.Sprintf("Your order %s totalling %s %s has been placed.", order.Code, order.Currency, order.TotalAmount.StringFixed(2)))

	return &models.CheckoutResult{Order: order, PhoneNumber: req.PhoneNumber}, nil
}

func (s *CheckoutService) placeOrder(ctx context.Context, id auth.Identity) (*models.Order, error) {
	var order *models.Order
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		cart, err := q.GetCartByUser(ctx, id.UserID, true)
		if err != nil {
			return err
		}
		items, err := q.ListCartItems(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperrors.NewValidationError("cart", "cart is empty")
		}

		now := time.Now().UTC()
		o := &models.Order{
			ID:            uuid.NewString(),
			Code:          newOrderCode(),
			CustomerID:    id.UserID,
			CustomerEmail: id.Email,
			Currency:      s.currency,
			Status:        models.OrderStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		total := decimal.Zero
		for _, line := range items {
			if line.Product == nil || !line.Product.IsApproved() {
				return apperrors.NewValidationError("items", fmt.Sprintf("product %s is no longer available", line.ProductID))
			}
			total = total.Add(line.Subtotal())
			o.Items = append(o.Items, models.OrderItem{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				ProductID:   line.ProductID,
				ProductName: line.Product.Name,
				Quantity:    line.Quantity,
				Price:       line.Product.Price,
			})
		}
		o.TotalAmount = total

		if err := q.CreateOrder(ctx, o); err != nil {
			return err
		}
		if _, err := q.ClearCart(ctx, cart.ID); err != nil {
			return err
		}
		order = o
		return nil
	})
	return order, err
}
