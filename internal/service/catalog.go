package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

// CatalogService handles listing submission and moderation.
type CatalogService struct {
	store     repository.Store
	mailer    *Mailer
	validator *validator.Validate
	logger    *logging.Logger
}

func NewCatalogService(store repository.Store, mailer *Mailer, v *validator.Validate, logger *logging.Logger) *CatalogService {
	return &CatalogService{
		store:     store,
		mailer:    mailer,
		validator: v,
		logger:    logger.Named("catalog"),
	}
}

// SubmitProduct creates a Pending listing owned by the caller.
func (s *CatalogService) SubmitProduct(ctx context.Context, id auth.Identity, req *models.SubmitProductRequest) (*models.Product, error) {
	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	media := req.Media
	if media == nil {
		media = []string{}
	}
	product := &models.Product{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		CategoryID:  req.CategoryID,
		Media:       media,
		Status:      models.ProductStatusPending,
		OwnerID:     id.UserID,
		OwnerEmail:  id.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateProduct(ctx, product); err != nil {
		s.logger.Error("Failed to create product", logging.Fields{"owner_id": id.UserID, "error": err.Error()})
		return nil, err
	}

	s.logger.Info("Product submitted", logging.Fields{"product_id": product.ID, "owner_id": id.UserID})
	return product, nil
}

// EditOwnProduct applies owner edits while the listing is not live.
// Editing a Rejected listing sends it back to moderation.
func (s *CatalogService) EditOwnProduct(ctx context.Context, id auth.Identity, productID string, req *models.EditProductRequest) (*models.Product, error) {
	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	var product *models.Product
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		p, err := q.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p.OwnerID != id.UserID {
			return apperrors.NotFound("product")
		}
		if !p.CanEdit() {
			return apperrors.ErrForbidden
		}

		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.CategoryID != nil {
			p.CategoryID = req.CategoryID
		}
		if req.Media != nil {
			p.Media = req.Media
		}
		if p.Status == models.ProductStatusRejected {
			p.Status = models.ProductStatusPending
			p.RejectionReason = nil
		}
		p.UpdatedAt = time.Now().UTC()

		if err := q.UpdateProduct(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product edited", logging.Fields{"product_id": productID, "status": string(product.Status)})
	return product, nil
}

// ModerateProduct approves or rejects a listing. Admin only.
func (s *CatalogService) ModerateProduct(ctx context.Context, id auth.Identity, productID string, req *models.ModerateProductRequest) (*models.Product, error) {
	if !id.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	if err := validateStruct(s.validator, req); err != nil {
		return nil, err
	}

	next := models.ProductStatusApproved
	if req.Action == models.ModerationReject {
		next = models.ProductStatusRejected
	}

	var product *models.Product
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		p, err := q.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !p.Status.CanTransition(next) {
			return apperrors.NewValidationError("status",
				fmt.Sprintf("cannot %s a product that is %s", req.Action, p.Status))
		}

		p.Status = next
		if next == models.ProductStatusRejected {
			reason := req.Reason
			p.RejectionReason = &reason
		} else {
			p.RejectionReason = nil
		}
		p.UpdatedAt = time.Now().UTC()

		if err := q.UpdateProduct(ctx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product moderated", logging.Fields{
		"product_id": productID,
		"status":     string(product.Status),
		"admin_id":   id.UserID,
	})

	body := fmt.Sprintf("Your product %q has been approved and is now listed.", product.Name)
	if product.Status == models.ProductStatusRejected {
		body = fmt.Sprintf("Your product %q was rejected: %s", product.Name, req.Reason)
	}
	s.mailer.Send(product.OwnerEmail, "Product "+string(product.Status), body)

	return product, nil
}

// GetProduct returns approved listings to anyone. Other listings are only
// visible to their owner and admins.
func (s *CatalogService) GetProduct(ctx context.Context, id auth.Identity, productID string) (*models.Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsApproved() && p.OwnerID != id.UserID && !id.IsAdmin() {
		return nil, apperrors.NotFound("product")
	}
	return p, nil
}

func (s *CatalogService) ListApproved(ctx context.Context, limit, offset int) ([]*models.Product, error) {
	status := models.ProductStatusApproved
	limit, offset = normalizePage(limit, offset)
	return s.store.ListProducts(ctx, repository.ProductFilter{Status: &status, Limit: limit, Offset: offset})
}

func (s *CatalogService) ListMine(ctx context.Context, id auth.Identity, limit, offset int) ([]*models.Product, error) {
	limit, offset = normalizePage(limit, offset)
	return s.store.ListProducts(ctx, repository.ProductFilter{OwnerID: id.UserID, Limit: limit, Offset: offset})
}

// ListPending is the moderation queue.
func (s *CatalogService) ListPending(ctx context.Context, id auth.Identity, limit, offset int) ([]*models.Product, error) {
	if !id.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	status := models.ProductStatusPending
	limit, offset = normalizePage(limit, offset)
	return s.store.ListProducts(ctx, repository.ProductFilter{Status: &status, Limit: limit, Offset: offset})
}
