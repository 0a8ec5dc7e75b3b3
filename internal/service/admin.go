package service

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
)

type AdminService struct {
	store repository.Store
}

func NewAdminService(store repository.Store) *AdminService {
	return &AdminService{store: store}
}

// Stats returns order, product and payment counts by status.
func (s *AdminService) Stats(ctx context.Context, id auth.Identity) (*models.Stats, error) {
	if !id.IsAdmin() {
		return nil, apperrors.ErrForbidden
	}
	return s.store.Stats(ctx)
}
