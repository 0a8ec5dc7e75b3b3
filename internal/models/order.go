package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {},
	OrderStatusCancelled: {},
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, st := range orderTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for Paid and Cancelled.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// Order is created only by checkout. TotalAmount is frozen at creation.
type Order struct {
	ID            string          `json:"id"`
	Code          string          `json:"order_code"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"-"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// OrderItem snapshots quantity and price at purchase time.
type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type CheckoutRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=20"`
}

// CheckoutResult echoes the phone number for the payment step. The phone
// number is not stored on the order.
type CheckoutResult struct {
	Order       *Order `json:"order"`
	PhoneNumber string `json:"phone_number"`
}

// OrderListFilter scopes order listings. An empty CustomerID lists all.
type OrderListFilter struct {
	CustomerID string
	Status     *OrderStatus
	Limit      int
	Offset     int
}
