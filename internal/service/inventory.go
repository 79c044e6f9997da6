package service

import (
	"context"
	"fmt"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Inventory moves stock between products and order lines. It always works on
// the caller's transaction so a failing line undoes every earlier decrement.
type Inventory struct {
	logger *zap.Logger
}

// NewInventory creates a new inventory helper
func NewInventory() *Inventory {
	return &Inventory{logger: util.GetLogger()}
}

// LineRequest is one requested order line.
type LineRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// Reserve locks each product, checks it is sold by the order's producer and
// covers the quantity, decrements it and appends a line priced at the
// current product price.
func (inv *Inventory) Reserve(ctx context.Context, q store.Querier, o *models.Order, lines []LineRequest) (err error) {
	ctx, span := util.StartSpan(ctx, "Inventory.Reserve", attribute.Int("lines", len(lines)))
	defer func() { util.EndSpan(span, err) }()

	for _, req := range lines {
		p, err := q.LockProduct(ctx, req.ProductID)
		if err != nil {
			return storeErr(err, fmt.Sprintf("product %d", req.ProductID))
		}
		if p.ProducerID != o.ProducerID {
			return apperr.Newf(apperr.Validation, "product %d is not sold by producer %d", p.ID, o.ProducerID)
		}
		if !p.CanFulfil(req.Quantity) {
			util.StockRejectionsTotal.Inc()
			inv.logger.Info("Insufficient stock",
				zap.Int64("product_id", p.ID),
				zap.Int("requested", req.Quantity),
				zap.Int("stock", p.Stock),
				zap.Bool("available", p.Available))
			return apperr.Newf(apperr.InsufficientStock,
				"insufficient stock for %s: requested %d, available %d", p.Name, req.Quantity, p.Stock)
		}

		p.Decrement(req.Quantity)
		if err := q.UpdateProduct(ctx, p); err != nil {
			return storeErr(err, "product")
		}

		o.AddLine(models.OrderLine{
			ProductID: p.ID,
			Quantity:  req.Quantity,
			UnitPrice: p.Price,
		})
	}
	return nil
}

// Restore gives back the stock consumed by lines.
func (inv *Inventory) Restore(ctx context.Context, q store.Querier, lines []models.OrderLine) (err error) {
	ctx, span := util.StartSpan(ctx, "Inventory.Restore", attribute.Int("lines", len(lines)))
	defer func() { util.EndSpan(span, err) }()

	for _, line := range lines {
		p, err := q.LockProduct(ctx, line.ProductID)
		if err != nil {
			return storeErr(err, fmt.Sprintf("product %d", line.ProductID))
		}
		p.Increment(line.Quantity)
		if err := q.UpdateProduct(ctx, p); err != nil {
			return storeErr(err, "product")
		}
		inv.logger.Debug("Stock restored",
			zap.Int64("product_id", p.ID),
			zap.Int("quantity", line.Quantity),
			zap.Int("stock", p.Stock))
	}
	return nil
}
