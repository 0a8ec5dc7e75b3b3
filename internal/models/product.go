package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the moderation state of a listing.
type ProductStatus string

const (
	ProductStatusPending  ProductStatus = "pending"
	ProductStatusApproved ProductStatus = "approved"
	ProductStatusRejected ProductStatus = "rejected"
)

var productTransitions = map[ProductStatus][]ProductStatus{
	ProductStatusPending:  {ProductStatusApproved, ProductStatusRejected},
	ProductStatusRejected: {ProductStatusPending, ProductStatusApproved},
	ProductStatusApproved: {ProductStatusRejected},
}

// CanTransition reports whether a product may move from s to next.
func (s ProductStatus) CanTransition(next ProductStatus) bool {
	return allowed(productTransitions[s], next)
}

// Product is a seller listing.
type Product struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	CategoryID      *int64          `json:"category_id,omitempty"`
	Media           []string        `json:"media"`
	Status          ProductStatus   `json:"status"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	OwnerID         string          `json:"owner_id"`
	OwnerEmail      string          `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (p *Product) IsApproved() bool {
	return p.Status == ProductStatusApproved
}

// CanEdit is true while the listing is not live.
func (p *Product) CanEdit() bool {
	return p.Status == ProductStatusPending || p.Status == ProductStatusRejected
}

// SubmitProductRequest is the seller's listing payload.
type SubmitProductRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	Media       []string        `json:"media" validate:"omitempty,dive,required"`
}

// EditProductRequest carries optional owner edits on a non-approved listing.
type EditProductRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	CategoryID  *int64           `json:"category_id,omitempty"`
	Media       []string         `json:"media,omitempty" validate:"omitempty,dive,required"`
}

// ModerationAction is the admin decision on a listing.
type ModerationAction string

const (
	ModerationApprove ModerationAction = "approve"
	ModerationReject  ModerationAction = "reject"
)

type ModerateProductRequest struct {
	Action ModerationAction `json:"action"`
	Reason string           `json:"rejection_reason"`
}

func allowed(list []ProductStatus, next ProductStatus) bool {
	for _, s := range list {
		if s == next {
			return true
		}
	}
	return false
}
