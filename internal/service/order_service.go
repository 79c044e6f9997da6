package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"egg-market/config"
	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OrderService handles order business logic
type OrderService struct {
	store          DataStore
	inventory      *Inventory
	events         EventPublisher
	idempotency    IdempotencyStore
	deliveryFee    int64
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewOrderService creates a new order service. idem may be nil.
func NewOrderService(
	st DataStore,
	inventory *Inventory,
	events EventPublisher,
	idem IdempotencyStore,
	biz config.BusinessConfig,
) *OrderService {
	return &OrderService{
		store:          st,
		inventory:      inventory,
		events:         events,
		idempotency:    idem,
		deliveryFee:    biz.DeliveryFee,
		idempotencyTTL: biz.IdempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	ProducerID     int64              `json:"producer_id" binding:"required"`
	AddressID      int64              `json:"address_id" binding:"required"`
	PaymentMode    models.PaymentMode `json:"payment_mode" binding:"required"`
	TimeSlot       string             `json:"time_slot"`
	Notes          string             `json:"notes"`
	Lines          []LineRequest      `json:"lines"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderPage is one page of a listing with the unpaged total.
type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func validateCreate(req *CreateOrderRequest) error {
	if len(req.Lines) == 0 {
		return apperr.New(apperr.Validation, "order must contain at least one line")
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return apperr.Newf(apperr.Validation, "quantity must be positive for product %d", line.ProductID)
		}
	}
	if !req.PaymentMode.Valid() {
		return apperr.Newf(apperr.Validation, "unknown payment mode %q", req.PaymentMode)
	}
	return nil
}

// CreateOrder validates the lines, reserves stock and persists the order in
// one transaction. Any failing line rolls back every earlier decrement.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder",
		attribute.Int64("client_id", actor.UserID),
		attribute.Int64("producer_id", req.ProducerID))
	defer func() { util.EndSpan(span, err) }()

	if actor.Role != models.RoleClient {
		return nil, apperr.New(apperr.Unauthorized, "only clients can place orders")
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	key := ""
	if req.IdempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("order:%d:%s", actor.UserID, req.IdempotencyKey)
		existing, claimed, err := s.claimKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
		if !claimed {
			key = ""
		}
	}
	defer func() {
		if err != nil && key != "" {
			if relErr := s.idempotency.ReleaseIdempotencyKey(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
	}()

	now := nowUTC()
	order = &models.Order{
		Reference:   models.NewOrderReference(now),
		ClientID:    actor.UserID,
		ProducerID:  req.ProducerID,
		AddressID:   req.AddressID,
		Status:      models.OrderStatusPending,
		PaymentMode: req.PaymentMode,
		DeliveryFee: s.deliveryFee,
		TimeSlot:    req.TimeSlot,
		Notes:       req.Notes,
	}
	order.Recalculate()

	start := time.Now()
	err = s.store.InTx(ctx, func(q store.Querier) error {
		producer, err := q.GetProducerProfile(ctx, req.ProducerID)
		if err != nil {
			return storeErr(err, "producer")
		}
		if !producer.Validated {
			return apperr.Newf(apperr.Validation, "producer %d is not validated yet", producer.UserID)
		}
		producerUser, err := q.GetUser(ctx, req.ProducerID)
		if err != nil {
			return storeErr(err, "producer")
		}
		if !producerUser.Active {
			return apperr.Newf(apperr.Validation, "producer %d is inactive", producer.UserID)
		}

		address, err := q.GetAddress(ctx, req.AddressID)
		if err != nil {
			return storeErr(err, "address")
		}
		if address.ClientID != actor.UserID {
			return apperr.New(apperr.Unauthorized, "address belongs to another client")
		}

		if err := s.inventory.Reserve(ctx, q, order, req.Lines); err != nil {
			return err
		}
		return storeErr(q.CreateOrder(ctx, order), "order")
	})
	util.OrderCreateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Info("Order rejected",
			zap.Int64("client_id", actor.UserID),
			zap.Int64("producer_id", req.ProducerID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err))
		return nil, err
	}

	if key != "" {
		if err := s.idempotency.CompleteIdempotencyKey(ctx, key, strconv.FormatInt(order.ID, 10), s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("reference", order.Reference),
		zap.Int64("total", order.Total))

	event := orderEvent(models.EventTypeOrderCreated, order, "", "")
	event.Items = models.ItemsOf(order.Lines)
	emit(ctx, s.logger, models.EventTypeOrderCreated, func(ctx context.Context) error {
		return s.events.PublishOrderEvent(ctx, event)
	})
	return order, nil
}

// claimKey returns the order already created under key, or claimed=true when
// this request owns the key. A broken idempotency backend disables the check.
func (s *OrderService) claimKey(ctx context.Context, key string) (*models.Order, bool, error) {
	claimed, err := s.idempotency.ClaimIdempotencyKey(ctx, key, s.idempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check unavailable", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if claimed {
		return nil, true, nil
	}

	val, pending, err := s.idempotency.GetIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, apperr.Wrap(err, apperr.Internal, "failed to read idempotency key")
	}
	if pending || val == "" {
		return nil, false, apperr.New(apperr.AlreadyExists, "an order with this idempotency key is being processed")
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, false, apperr.Wrap(err, apperr.Internal, "corrupt idempotency key")
	}
	existing, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, false, storeErr(err, "order")
	}
	return existing, false, nil
}

// update locks an order, applies fn and persists the result. It returns the
// status the order had before fn ran.
func (s *OrderService) update(ctx context.Context, orderID int64, fn func(q store.Querier, o *models.Order) error) (*models.Order, models.OrderStatus, error) {
	var o *models.Order
	var from models.OrderStatus
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		if o, err = loadOrderForUpdate(ctx, q, orderID); err != nil {
			return err
		}
		from = o.Status
		if err := fn(q, o); err != nil {
			return err
		}
		return storeErr(q.UpdateOrder(ctx, o), "order")
	})
	if err != nil {
		return nil, "", err
	}
	return o, from, nil
}

func (s *OrderService) statusChanged(ctx context.Context, o *models.Order, from models.OrderStatus, reason string) {
	announceOrder(ctx, s.logger, s.events, o, from, reason)
}

func requireOrderProducer(actor Actor, o *models.Order) error {
	if actor.IsAdmin() || actor.is(models.RoleProducer, o.ProducerID) {
		return nil
	}
	return apperr.New(apperr.Unauthorized, "order belongs to another producer")
}

// transitionAsProducer moves an owned order one table step to `to`.
func (s *OrderService) transitionAsProducer(ctx context.Context, actor Actor, orderID int64, to models.OrderStatus) (*models.Order, error) {
	o, from, err := s.update(ctx, orderID, func(_ store.Querier, o *models.Order) error {
		if err := requireOrderProducer(actor, o); err != nil {
			return err
		}
		return transitionErr(o.TransitionTo(to, nowUTC()))
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, o, from, "")
	return o, nil
}

// Confirm is the producer's approval of a pending order.
func (s *OrderService) Confirm(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	return s.transitionAsProducer(ctx, actor, orderID, models.OrderStatusConfirmed)
}

func (s *OrderService) StartPreparing(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	return s.transitionAsProducer(ctx, actor, orderID, models.OrderStatusPreparing)
}

// MarkReady moves a confirmed or preparing order to READY.
func (s *OrderService) MarkReady(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	o, from, err := s.update(ctx, orderID, func(_ store.Querier, o *models.Order) error {
		if err := requireOrderProducer(actor, o); err != nil {
			return err
		}
		if o.Status != models.OrderStatusConfirmed && o.Status != models.OrderStatusPreparing {
			return apperr.Newf(apperr.InvalidState, "order %s cannot be marked ready from %s", o.Reference, o.Status)
		}
		return transitionErr(o.AdvanceTo(models.OrderStatusReady, nowUTC()))
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, o, from, "")
	return o, nil
}

// Cancel cancels a PENDING or CONFIRMED order, restores the stock of every
// line and cancels pending payments, all in one transaction.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID int64, reason string) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel", attribute.Int64("order_id", orderID))
	defer func() { util.EndSpan(span, err) }()

	o, from, err := s.update(ctx, orderID, func(q store.Querier, o *models.Order) error {
		if !actor.IsAdmin() && !actor.is(models.RoleClient, o.ClientID) && !actor.is(models.RoleProducer, o.ProducerID) {
			return apperr.New(apperr.Unauthorized, "not allowed to cancel this order")
		}
		if !o.Status.Cancellable() {
			return apperr.Newf(apperr.InvalidState, "order %s can no longer be cancelled (status %s)", o.Reference, o.Status)
		}
		now := nowUTC()
		if err := o.TransitionTo(models.OrderStatusCancelled, now); err != nil {
			return transitionErr(err)
		}
		if err := s.inventory.Restore(ctx, q, o.Lines); err != nil {
			return err
		}
		if reason != "" {
			if o.Notes != "" {
				o.Notes += "\n"
			}
			o.Notes += "Cancelled: " + reason
		}
		return cancelPendingPayments(ctx, q, o.ID, now)
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", o.ID),
		zap.Int64("actor_id", actor.UserID),
		zap.String("reason", reason))
	if o.Paid {
		// Settled payments stay SUCCEEDED; the refund happens outside the platform.
		s.logger.Warn("Paid order cancelled, refund to be settled manually",
			zap.Int64("order_id", o.ID),
			zap.Int64("total", o.Total))
	}
	s.statusChanged(ctx, o, from, reason)
	return o, nil
}

func cancelPendingPayments(ctx context.Context, q store.Querier, orderID int64, now time.Time) error {
	payments, err := q.ListPaymentsByOrder(ctx, orderID)
	if err != nil {
		return storeErr(err, "payments")
	}
	for i := range payments {
		p := &payments[i]
		if p.Status != models.PaymentStatusPending {
			continue
		}
		if err := p.Resolve(models.PaymentStatusCancelled, now); err != nil {
			return transitionErr(err)
		}
		if err := q.UpdatePayment(ctx, p); err != nil {
			return storeErr(err, "payment")
		}
	}
	return nil
}

// Refund moves a delivered order to REFUNDED. Admin only.
func (s *OrderService) Refund(ctx context.Context, actor Actor, orderID int64, reason string) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, apperr.New(apperr.Unauthorized, "only admins can refund orders")
	}
	o, from, err := s.update(ctx, orderID, func(_ store.Querier, o *models.Order) error {
		return transitionErr(o.TransitionTo(models.OrderStatusRefunded, nowUTC()))
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, o, from, reason)
	return o, nil
}

// ApplyDiscount sets the discount of a pending order and recomputes its total.
func (s *OrderService) ApplyDiscount(ctx context.Context, actor Actor, orderID int64, discount int64) (*models.Order, error) {
	o, _, err := s.update(ctx, orderID, func(_ store.Querier, o *models.Order) error {
		if err := requireOrderProducer(actor, o); err != nil {
			return err
		}
		if o.Status != models.OrderStatusPending {
			return apperr.Newf(apperr.InvalidState, "discounts apply to pending orders only (status %s)", o.Status)
		}
		if discount < 0 || discount > o.Subtotal+o.DeliveryFee {
			return apperr.Newf(apperr.Validation, "discount must be between 0 and %d", o.Subtotal+o.DeliveryFee)
		}
		o.ApplyDiscount(discount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Discount applied",
		zap.Int64("order_id", o.ID),
		zap.Int64("discount", o.Discount),
		zap.Int64("total", o.Total))
	return o, nil
}

// canView reports whether actor may read o. Couriers see orders they deliver.
func canView(actor Actor, o *models.Order) bool {
	switch {
	case actor.IsAdmin(), actor.is(models.RoleClient, o.ClientID), actor.is(models.RoleProducer, o.ProducerID):
		return true
	case actor.Role == models.RoleCourier:
		return o.Delivery != nil && o.Delivery.CourierID == actor.UserID
	}
	return false
}

// present attaches the delivery and enforces read access. The hand-off code
// is shown to the client owner and admins only.
func (s *OrderService) present(ctx context.Context, actor Actor, o *models.Order) (*models.Order, error) {
	d, err := s.store.GetDeliveryByOrder(ctx, o.ID)
	switch {
	case err == nil:
		o.Delivery = d
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, storeErr(err, "delivery")
	}

	if !canView(actor, o) {
		return nil, apperr.New(apperr.Unauthorized, "not allowed to view this order")
	}
	if o.Delivery != nil && !actor.IsAdmin() && !actor.is(models.RoleClient, o.ClientID) {
		o.Delivery.ConfirmationCode = ""
	}
	return o, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID int64) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	return s.present(ctx, actor, o)
}

func (s *OrderService) GetOrderByReference(ctx context.Context, actor Actor, reference string) (*models.Order, error) {
	o, err := s.store.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	return s.present(ctx, actor, o)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListOrders lists the caller's orders: a client's purchases, a producer's
// sales, or every order for admins.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, status models.OrderStatus, limit, offset int) (*OrderPage, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Newf(apperr.Validation, "unknown order status %q", status)
	}
	limit, offset = clampPage(limit, offset)
	f := models.OrderFilter{Status: status, Limit: limit, Offset: offset}
	switch actor.Role {
	case models.RoleClient:
		f.ClientID = actor.UserID
	case models.RoleProducer:
		f.ProducerID = actor.UserID
	case models.RoleAdmin:
	default:
		return nil, apperr.New(apperr.Unauthorized, "couriers list deliveries, not orders")
	}

	orders, total, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, storeErr(err, "orders")
	}
	return &OrderPage{Orders: orders, Total: total, Limit: limit, Offset: offset}, nil
}
