package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

// CartService manages the caller's single cart. Every lookup is scoped to
// the caller so carts are never shared.
type CartService struct {
	store     repository.Store
	validator *validator.Validate
	logger    *logging.Logger
}

func NewCartService(store repository.Store, v *validator.Validate, logger *logging.Logger) *CartService {
	return &CartService{store: store, validator: v, logger: logger.Named("cart")}
}

// GetCart returns the caller's cart, creating it on first access.
func (s *CartService) GetCart(ctx context.Context, id auth.Identity) (*models.Cart, error) {
	var cart *models.Cart
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		c, err := q.EnsureCart(ctx, id.UserID)
		if err != nil {
			return err
		}
		cart, err = loadItems(ctx, q, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem adds quantity to the line for the product, creating the line if
// needed. Only approved products can be added.
func (s *CartService) AddItem(ctx context.Context, id auth.Identity, req *models.AddCartItemRequest) (*models.Cart, error) {
	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	var cart *models.Cart
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		product, err := q.GetProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if !product.IsApproved() {
			return apperrors.NotFound("product")
		}

		if _, err := q.EnsureCart(ctx, id.UserID); err != nil {
			return err
		}
		c, err := q.GetCartByUser(ctx, id.UserID, true)
		if err != nil {
			return err
		}

		existing, err := q.GetCartItemByProduct(ctx, c.ID, product.ID)
		switch {
		case err == nil:
			if err := q.UpdateCartItemQuantity(ctx, c.ID, existing.ID, existing.Quantity+req.Quantity); err != nil {
				return err
			}
		case apperrors.IsNotFound(err):
			item := &models.CartItem{
				ID:        uuid.NewString(),
				CartID:    c.ID,
				ProductID: product.ID,
				Quantity:  req.Quantity,
				CreatedAt: time.Now().UTC(),
			}
			if err := q.InsertCartItem(ctx, item); err != nil {
				return err
			}
		default:
			return err
		}

		cart, err = loadItems(ctx, q, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added", logging.Fields{
		"user_id":    id.UserID,
		"product_id": req.ProductID,
		"quantity":   req.Quantity,
	})
	return cart, nil
}

// UpdateItem sets the quantity on one of the caller's lines.
func (s *CartService) UpdateItem(ctx context.Context, id auth.Identity, itemID string, req *models.UpdateCartItemRequest) (*models.Cart, error) {
	if req.Quantity < 1 {
		return nil, apperrors.NewValidationError("quantity", "must be at least 1")
	}

	var cart *models.Cart
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		c, err := q.GetCartByUser(ctx, id.UserID, true)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NotFound("cart item")
			}
			return err
		}
		if err := q.UpdateCartItemQuantity(ctx, c.ID, itemID, req.Quantity); err != nil {
			return err
		}
		cart, err = loadItems(ctx, q, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem deletes one of the caller's lines.
func (s *CartService) RemoveItem(ctx context.Context, id auth.Identity, itemID string) (*models.Cart, error) {
	var cart *models.Cart
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		c, err := q.GetCartByUser(ctx, id.UserID, true)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NotFound("cart item")
			}
			return err
		}
		if err := q.DeleteCartItem(ctx, c.ID, itemID); err != nil {
			return err
		}
		cart, err = loadItems(ctx, q, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Clear empties the caller's cart. Clearing an absent or empty cart
// succeeds.
func (s *CartService) Clear(ctx context.Context, id auth.Identity) error {
	return s.store.InTx(ctx, func(q repository.Queries) error {
		c, err := q.GetCartByUser(ctx, id.UserID, true)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		_, err = q.ClearCart(ctx, c.ID)
		return err
	})
}

func loadItems(ctx context.Context, q repository.Queries, c *models.Cart) (*models.Cart, error) {
	items, err := q.ListCartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return c, nil
}
