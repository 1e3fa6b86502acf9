package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentState models the lifecycle of a recorded payment.
type PaymentState string

const (
	// PaymentStateDraft marks a payment created on browser return, before the
	// authoritative server-to-server callback lands.
	PaymentStateDraft PaymentState = "draft"
	// PaymentStateCompleted marks a payment confirmed by a verified callback.
	PaymentStateCompleted PaymentState = "completed"
)

// Order is the slice of the order entity this service needs: identity, the
// outstanding balance the payment must cover, and the buyer email used when
// creating processor invoices.
type Order struct {
	ID       string
	Email    string
	Balance  decimal.Decimal
	Currency string
}

// PaymentRecord is a persisted payment against an order. RemoteID carries the
// processor's invoice id for reconciliation and deduplication.
type PaymentRecord struct {
	ID        uuid.UUID
	OrderID   string
	GatewayID string
	RemoteID  string
	State     PaymentState
	Amount    decimal.Decimal
	Currency  string
	CreatedAt time.Time
}

// CreatePaymentParams captures the fields required to record a payment.
type CreatePaymentParams struct {
	OrderID   string
	GatewayID string
	RemoteID  string
	State     PaymentState
	Amount    decimal.Decimal
	Currency  string
}

var (
	// ErrOrderNotFound is returned when the order id does not resolve.
	ErrOrderNotFound = errors.New("payment: order not found")
	// ErrDuplicatePayment is returned when a payment for the same
	// (order, remote invoice) pair already exists. Callers treat it as an
	// idempotent success, never as a double credit.
	ErrDuplicatePayment = errors.New("payment: duplicate payment")
)

// OrderStore loads orders from the external order storage.
type OrderStore interface {
	LoadOrder(ctx context.Context, orderID string) (Order, error)
}

// PaymentStore persists payment records.
type PaymentStore interface {
	CreatePayment(ctx context.Context, params CreatePaymentParams) (PaymentRecord, error)
}
