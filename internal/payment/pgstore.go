package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised when the payments unique index on
// (order_id, remote_id) rejects a duplicate insert.
const uniqueViolation = "23505"

// PGStore implements OrderStore and PaymentStore on Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// LoadOrder fetches an order with its outstanding balance.
func (s PGStore) LoadOrder(ctx context.Context, orderID string) (Order, error) {
	if s.Pool == nil {
		return Order{}, errors.New("payment: store not configured")
	}
	const q = `
SELECT id, email, balance, currency
FROM orders
WHERE id = $1`
	var order Order
	err := s.Pool.QueryRow(ctx, q, orderID).Scan(&order.ID, &order.Email, &order.Balance, &order.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

// CreatePayment inserts a payment record. The unique index on
// (order_id, remote_id) turns processor retries and double submissions into
// ErrDuplicatePayment instead of double credits.
func (s PGStore) CreatePayment(ctx context.Context, params CreatePaymentParams) (PaymentRecord, error) {
	if s.Pool == nil {
		return PaymentRecord{}, errors.New("payment: store not configured")
	}
	const q = `
INSERT INTO payments (id, order_id, gateway_id, remote_id, state, amount, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`
	record := PaymentRecord{
		ID:        uuid.New(),
		OrderID:   params.OrderID,
		GatewayID: params.GatewayID,
		RemoteID:  params.RemoteID,
		State:     params.State,
		Amount:    params.Amount,
		Currency:  params.Currency,
	}
	err := s.Pool.QueryRow(ctx, q,
		record.ID, record.OrderID, record.GatewayID, record.RemoteID,
		string(record.State), record.Amount, record.Currency,
	).Scan(&record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return PaymentRecord{}, ErrDuplicatePayment
		}
		return PaymentRecord{}, err
	}
	return record, nil
}
