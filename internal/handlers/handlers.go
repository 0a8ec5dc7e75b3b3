package handlers

import (
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/service"
)

// Services groups the domain services the handlers call.
type Services struct {
	Catalog  *service.CatalogService
	Cart     *service.CartService
	Checkout *service.CheckoutService
	Orders   *service.OrderService
	Payments *service.PaymentService
	Admin    *service.AdminService
}

// Handlers holds all HTTP handlers for the marketplace service.
type Handlers struct {
	catalog  *service.CatalogService
	cart     *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	payments *service.PaymentService
	admin    *service.AdminService
	store    repository.Store
	config   *config.Config
	logger   *logging.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(svc Services, store repository.Store, cfg *config.Config, logger *logging.Logger) *Handlers {
	return &Handlers{
		catalog:  svc.Catalog,
		cart:     svc.Cart,
		checkout: svc.Checkout,
		orders:   svc.Orders,
		payments: svc.Payments,
		admin:    svc.Admin,
		store:    store,
		config:   cfg,
		logger:   logger.Named("handlers"),
	}
}
