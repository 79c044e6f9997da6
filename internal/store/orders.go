package store

import (
	"context"
	"fmt"

	"egg-market/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, reference, client_id, producer_id, address_id, status, payment_mode, subtotal,
	delivery_fee, discount, total, paid, time_slot, notes, created_at, updated_at, delivered_at`

// CreateOrder creates a new order and its lines. Call it inside InTx.
func (q *Queries) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (reference, client_id, producer_id, address_id, status, payment_mode,
			subtotal, delivery_fee, discount, total, paid, time_slot, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err := q.get(ctx, o, query,
		o.Reference, o.ClientID, o.ProducerID, o.AddressID, o.Status, o.PaymentMode,
		o.Subtotal, o.DeliveryFee, o.Discount, o.Total, o.Paid, o.TimeSlot, o.Notes)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", translate(err))
	}

	for i := range o.Lines {
		line := &o.Lines[i]
		line.OrderID = o.ID
		err := q.get(ctx, &line.ID, `
			INSERT INTO order_lines (order_id, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			line.OrderID, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}
	return nil
}

// GetOrder retrieves an order by ID with its lines
func (q *Queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

// LockOrder retrieves an order with a row lock (FOR UPDATE)
func (q *Queries) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
}

func (q *Queries) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	return q.getOrder(ctx, "SELECT "+orderColumns+" FROM orders WHERE reference = $1", reference)
}

func (q *Queries) getOrder(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var o models.Order
	if err := q.get(ctx, &o, query, arg); err != nil {
		return nil, err
	}

	lines := []models.OrderLine{}
	if err := q.list(ctx, &lines, "SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", o.ID); err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}
	o.Lines = lines
	return &o, nil
}

// UpdateOrder persists status, pricing and payment fields. Lines are immutable.
func (q *Queries) UpdateOrder(ctx context.Context, o *models.Order) error {
	return q.exec(ctx, `
		UPDATE orders SET status = $1, subtotal = $2, delivery_fee = $3, discount = $4, total = $5,
			paid = $6, notes = $7, delivered_at = $8, updated_at = NOW()
		WHERE id = $9`,
		o.Status, o.Subtotal, o.DeliveryFee, o.Discount, o.Total, o.Paid, o.Notes, o.DeliveredAt, o.ID)
}

// ListOrders retrieves one page of orders, newest first, with their lines
func (q *Queries) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	where := `
		WHERE ($1 = 0 OR client_id = $1)
		  AND ($2 = 0 OR producer_id = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::TIMESTAMPTZ IS NULL OR created_at >= $4)`
	args := []interface{}{f.ClientID, f.ProducerID, string(f.Status), f.Since}

	var total int
	if err := q.get(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, err
	}

	query, args := paginate("SELECT "+orderColumns+" FROM orders"+where+" ORDER BY created_at DESC, id DESC", args, f.Limit, f.Offset)

	orders := []models.Order{}
	if err := q.list(ctx, &orders, query, args...); err != nil {
		return nil, 0, err
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		orders[i].Lines = []models.OrderLine{}
		byID[orders[i].ID] = &orders[i]
	}

	inQuery, inArgs, err := sqlx.In("SELECT * FROM order_lines WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, 0, err
	}

	var lines []models.OrderLine
	if err := q.list(ctx, &lines, q.db.Rebind(inQuery), inArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to load order lines: %w", err)
	}
	for _, l := range lines {
		if o, ok := byID[l.OrderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return orders, total, nil
}

// CreateRating stores the single rating of an order; a second one yields ErrConflict.
func (q *Queries) CreateRating(ctx context.Context, r *models.OrderRating) error {
	err := q.get(ctx, &r.CreatedAt, `
		INSERT INTO order_ratings (order_id, client_id, producer_score, courier_score, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		r.OrderID, r.ClientID, r.ProducerScore, r.CourierScore, r.Comment)
	return translate(err)
}

func (q *Queries) GetRating(ctx context.Context, orderID int64) (*models.OrderRating, error) {
	var r models.OrderRating
	if err := q.get(ctx, &r, "SELECT * FROM order_ratings WHERE order_id = $1", orderID); err != nil {
		return nil, err
	}
	return &r, nil
}
