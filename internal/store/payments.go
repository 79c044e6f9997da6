package store

import (
	"context"
	"fmt"

	"egg-market/internal/models"
)

// CreatePayment creates a new payment record
func (q *Queries) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (reference, transaction_id, order_id, amount, mode, status, phone, initiated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := q.get(ctx, &p.ID, query,
		p.Reference, p.TransactionID, p.OrderID, p.Amount, p.Mode, p.Status, p.Phone, p.InitiatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", translate(err))
	}
	return nil
}

func (q *Queries) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	if err := q.get(ctx, &p, "SELECT * FROM payments WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockPayment reads a payment with a row lock (FOR UPDATE)
func (q *Queries) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	if err := q.get(ctx, &p, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *Queries) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var p models.Payment
	if err := q.get(ctx, &p, "SELECT * FROM payments WHERE reference = $1", reference); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPaymentsByOrder returns every attempt for an order, newest first
func (q *Queries) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := q.list(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY initiated_at DESC, id DESC", orderID)
	return payments, err
}

// UpdatePayment updates payment status
func (q *Queries) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return q.exec(ctx,
		"UPDATE payments SET status = $1, transaction_id = $2, confirmed_at = $3 WHERE id = $4",
		p.Status, p.TransactionID, p.ConfirmedAt, p.ID)
}
