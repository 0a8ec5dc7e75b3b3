package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted: {PaymentStatusRefunded},
	PaymentStatusFailed:    {},
	PaymentStatusRefunded:  {},
}

// CanTransition reports whether a payment may move from s to next.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	for _, st := range paymentTransitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

const PaymentMethodMpesa = "mpesa"

// Payment is one settlement attempt against an order.
type Payment struct {
	ID              string          `json:"id"`
	TransactionCode string          `json:"transaction_code"`
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	PhoneNumber     string          `json:"phone_number"`
	Status          PaymentStatus   `json:"status"`
	Method          string          `json:"payment_method"`
	ReceiptRef      *string         `json:"receipt_reference,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}

type InitiatePaymentRequest struct {
	OrderID     string          `json:"order_id" validate:"required"`
	PhoneNumber string          `json:"phone_number" validate:"required,min=9,max=20"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentOutcome distinguishes a settled payment from one still awaiting
// confirmation. Neither is an error.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "success"
	PaymentOutcomePending PaymentOutcome = "pending"
)

type InitiatePaymentResult struct {
	Outcome PaymentOutcome `json:"outcome"`
	Message string         `json:"message"`
	Payment *Payment       `json:"payment"`
}

// SettlementCallback is the gateway's asynchronous confirmation.
type SettlementCallback struct {
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc,omitempty"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ReceiptNumber     string `json:"MpesaReceiptNumber"`
}

// Succeeded treats an absent result code as success, as the gateway does.
func (c *SettlementCallback) Succeeded() bool {
	return c.ResultCode == nil || *c.ResultCode == 0
}

// CallbackAck is what the gateway receives back.
type CallbackAck struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type PaymentListFilter struct {
	UserID string
	Limit  int
	Offset int
}

// Stats aggregates counts for the admin dashboard.
type Stats struct {
	OrdersByStatus   map[OrderStatus]int   `json:"orders_by_status"`
	ProductsByStatus map[ProductStatus]int `json:"products_by_status"`
	PaymentsByStatus map[PaymentStatus]int `json:"payments_by_status"`
}
