package store

import (
	"context"
	"fmt"

	"egg-market/internal/models"

	"github.com/lib/pq"
)

const deliveryColumns = `id, order_id, courier_id, status, confirmation_code, distance_km, estimated_minutes,
	notes, proof_photo_url, assigned_at, accepted_at, picked_up_at, completed_at, updated_at`

// CreateDelivery inserts the delivery of an order; a second one yields ErrConflict.
func (q *Queries) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	query := `
		INSERT INTO deliveries (order_id, courier_id, status, confirmation_code, distance_km,
			estimated_minutes, notes, assigned_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`

	err := q.get(ctx, &d.ID, query,
		d.OrderID, d.CourierID, d.Status, d.ConfirmationCode, d.DistanceKm, d.EstimatedMinutes, d.Notes, d.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", translate(err))
	}
	d.UpdatedAt = d.AssignedAt
	return nil
}

func (q *Queries) GetDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	var d models.Delivery
	if err := q.get(ctx, &d, "SELECT "+deliveryColumns+" FROM deliveries WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &d, nil
}

// LockDelivery reads a delivery with a row lock (FOR UPDATE)
func (q *Queries) LockDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	var d models.Delivery
	if err := q.get(ctx, &d, "SELECT "+deliveryColumns+" FROM deliveries WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *Queries) GetDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, error) {
	var d models.Delivery
	if err := q.get(ctx, &d, "SELECT "+deliveryColumns+" FROM deliveries WHERE order_id = $1", orderID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (q *Queries) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	return q.exec(ctx, `
		UPDATE deliveries SET status = $1, distance_km = $2, estimated_minutes = $3, notes = $4,
			proof_photo_url = $5, accepted_at = $6, picked_up_at = $7, completed_at = $8, updated_at = NOW()
		WHERE id = $9`,
		d.Status, d.DistanceKm, d.EstimatedMinutes, d.Notes, d.ProofPhotoURL,
		d.AcceptedAt, d.PickedUpAt, d.CompletedAt, d.ID)
}

// ListDeliveries returns deliveries matching the filter, newest first
func (q *Queries) ListDeliveries(ctx context.Context, f models.DeliveryFilter) ([]models.Delivery, error) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}

	deliveries := []models.Delivery{}
	err := q.list(ctx, &deliveries, `
		SELECT `+deliveryColumns+` FROM deliveries
		WHERE ($1 = 0 OR courier_id = $1)
		  AND (cardinality($2::TEXT[]) = 0 OR status = ANY($2))
		  AND ($3::TIMESTAMPTZ IS NULL OR assigned_at >= $3)
		ORDER BY assigned_at DESC, id DESC`,
		f.CourierID, pq.Array(statuses), f.Since)
	return deliveries, err
}

// AddPosition appends a GPS ping to a delivery's history
func (q *Queries) AddPosition(ctx context.Context, p *models.GPSPosition) error {
	return q.get(ctx, &p.ID, `
		INSERT INTO delivery_positions (delivery_id, latitude, longitude, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		p.DeliveryID, p.Latitude, p.Longitude, p.RecordedAt)
}

func (q *Queries) ListPositions(ctx context.Context, deliveryID int64) ([]models.GPSPosition, error) {
	positions := []models.GPSPosition{}
	err := q.list(ctx, &positions,
		"SELECT * FROM delivery_positions WHERE delivery_id = $1 ORDER BY recorded_at, id", deliveryID)
	return positions, err
}
