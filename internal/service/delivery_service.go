package service

import (
	"context"
	"errors"

	"egg-market/config"
	"egg-market/internal/apperr"
	"egg-market/internal/geo"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DeliveryService assigns couriers and drives the hand-off lifecycle.
type DeliveryService struct {
	store             DataStore
	events            EventPublisher
	cache             DeliveryCache
	radiusKm          float64
	speedKmh          float64
	defaultDistanceKm float64
	logger            *zap.Logger
}

// NewDeliveryService creates a new delivery service. cache may be nil.
func NewDeliveryService(st DataStore, events EventPublisher, cache DeliveryCache, biz config.BusinessConfig) *DeliveryService {
	return &DeliveryService{
		store:             st,
		events:            events,
		cache:             cache,
		radiusKm:          biz.MatchingRadiusKm,
		speedKmh:          biz.AverageSpeedKmh,
		defaultDistanceKm: biz.DefaultDistanceKm,
		logger:            util.GetLogger(),
	}
}

// CreateDeliveryRequest assigns a courier to an order. A zero CourierID picks
// the nearest available courier.
type CreateDeliveryRequest struct {
	OrderID   int64  `json:"order_id" binding:"required"`
	CourierID int64  `json:"courier_id"`
	Notes     string `json:"notes"`
}

// ConfirmDeliveryRequest closes a delivery at the client's door.
type ConfirmDeliveryRequest struct {
	Code          string `json:"code"`
	ProofPhotoURL string `json:"proof_photo_url"`
}

// ConfirmResult reports the completed delivery. CodeVerified is false when
// the courier entered a code that did not match; the delivery completes anyway.
type ConfirmResult struct {
	Delivery     *models.Delivery `json:"delivery"`
	Order        *models.Order    `json:"order"`
	CodeVerified bool             `json:"code_verified"`
}

// Itinerary is the courier's route for one delivery.
type Itinerary struct {
	DeliveryID         int64                 `json:"delivery_id"`
	Status             models.DeliveryStatus `json:"status"`
	Pickup             *geo.Point            `json:"pickup,omitempty"`
	PickupLabel        string                `json:"pickup_label"`
	Destination        *geo.Point            `json:"destination,omitempty"`
	DestinationLabel   string                `json:"destination_label"`
	DestinationDetails string                `json:"destination_details,omitempty"`
	DistanceKm         float64               `json:"distance_km"`
	EstimatedMinutes   int                   `json:"estimated_minutes"`
}

// PositionUpdate is a courier GPS fix.
type PositionUpdate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// change is the outcome of one delivery transaction.
type change struct {
	delivery     *models.Delivery
	order        *models.Order
	deliveryFrom models.DeliveryStatus
	orderFrom    models.OrderStatus
}

func pointPtr(lat, lon *float64) *geo.Point {
	p, ok := geo.PointOf(lat, lon)
	if !ok {
		return nil
	}
	return &p
}

func (s *DeliveryService) estimate(from, to *geo.Point) float64 {
	if from == nil || to == nil {
		return s.defaultDistanceKm
	}
	return geo.Haversine(*from, *to)
}

// Create assigns a courier to a confirmed, preparing or ready order. A
// confirmed order moves to PREPARING in the same transaction.
func (s *DeliveryService) Create(ctx context.Context, actor Actor, req CreateDeliveryRequest) (delivery *models.Delivery, err error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.Create", attribute.Int64("order_id", req.OrderID))
	defer func() { util.EndSpan(span, err) }()

	var c change
	method := "manual"
	err = s.store.InTx(ctx, func(q store.Querier) error {
		o, err := loadOrderForUpdate(ctx, q, req.OrderID)
		if err != nil {
			return err
		}
		if err := requireOrderProducer(actor, o); err != nil {
			return err
		}
		switch o.Status {
		case models.OrderStatusConfirmed, models.OrderStatusPreparing, models.OrderStatusReady:
		default:
			return apperr.Newf(apperr.InvalidState, "order %s is %s; deliveries start once it is confirmed", o.Reference, o.Status)
		}
		if _, err := q.GetDeliveryByOrder(ctx, o.ID); err == nil {
			return apperr.Newf(apperr.AlreadyExists, "order %s already has a delivery", o.Reference)
		} else if !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, "delivery")
		}

		addr, err := q.GetAddress(ctx, o.AddressID)
		if err != nil {
			return storeErr(err, "address")
		}
		dest := pointPtr(addr.Latitude, addr.Longitude)

		var courier models.CourierProfile
		if req.CourierID != 0 {
			cp, err := q.LockCourierProfile(ctx, req.CourierID)
			if err != nil {
				return storeErr(err, "courier")
			}
			u, err := q.GetUser(ctx, cp.UserID)
			if err != nil {
				return storeErr(err, "courier")
			}
			if !cp.Validated || !cp.Available || !u.Active {
				return apperr.Newf(apperr.InvalidState, "courier %d is not available", cp.UserID)
			}
			courier = *cp
		} else {
			candidates, err := q.ListAvailableCouriers(ctx)
			if err != nil {
				return storeErr(err, "couriers")
			}
			m, err := MatchCourier(candidates, dest, s.radiusKm)
			if err != nil {
				return err
			}
			courier = m.Courier
			method = "nearest"
			if !m.Located {
				method = "fallback"
			}
		}

		now := nowUTC()
		distance := s.estimate(pointPtr(courier.Latitude, courier.Longitude), dest)
		d := &models.Delivery{
			OrderID:          o.ID,
			CourierID:        courier.UserID,
			Status:           models.DeliveryStatusAssigned,
			ConfirmationCode: models.NewConfirmationCode(),
			DistanceKm:       distance,
			EstimatedMinutes: geo.EstimateMinutes(distance, s.speedKmh),
			Notes:            req.Notes,
			AssignedAt:       now,
		}
		if err := q.CreateDelivery(ctx, d); err != nil {
			return storeErr(err, "delivery")
		}

		c = change{delivery: d, order: o, orderFrom: o.Status}
		if o.Status == models.OrderStatusConfirmed {
			if err := o.TransitionTo(models.OrderStatusPreparing, now); err != nil {
				return transitionErr(err)
			}
			return storeErr(q.UpdateOrder(ctx, o), "order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.DeliveriesAssignedTotal.WithLabelValues(method).Inc()
	s.logger.Info("Delivery assigned",
		zap.Int64("delivery_id", c.delivery.ID),
		zap.Int64("order_id", c.order.ID),
		zap.Int64("courier_id", c.delivery.CourierID),
		zap.String("method", method),
		zap.Float64("distance_km", c.delivery.DistanceKm))

	event := deliveryEvent(models.EventTypeDeliveryAssigned, c.delivery, "")
	emit(ctx, s.logger, models.EventTypeDeliveryAssigned, func(ctx context.Context) error {
		return s.events.PublishDeliveryEvent(ctx, event)
	})
	announceOrder(ctx, s.logger, s.events, c.order, c.orderFrom, "delivery assigned")
	if !actor.IsAdmin() {
		c.delivery.ConfirmationCode = ""
	}
	return c.delivery, nil
}

var pastPickup = map[models.DeliveryStatus]bool{
	models.DeliveryStatusPickedUp:        true,
	models.DeliveryStatusEnRouteToClient: true,
	models.DeliveryStatusArrived:         true,
	models.DeliveryStatusDelivered:       true,
}

// courierStep locks the courier's delivery and its order, runs fn and
// persists both. Only the assigned courier may act.
func (s *DeliveryService) courierStep(ctx context.Context, actor Actor, deliveryID int64, fn func(q store.Querier, d *models.Delivery, o *models.Order) error) (*change, error) {
	var c change
	err := s.store.InTx(ctx, func(q store.Querier) error {
		d, err := q.LockDelivery(ctx, deliveryID)
		if err != nil {
			return storeErr(err, "delivery")
		}
		if !actor.is(models.RoleCourier, d.CourierID) {
			return apperr.New(apperr.Unauthorized, "delivery is assigned to another courier")
		}
		o, err := loadOrderForUpdate(ctx, q, d.OrderID)
		if err != nil {
			return err
		}
		c = change{delivery: d, order: o, deliveryFrom: d.Status, orderFrom: o.Status}
		wasPaid := o.Paid

		if err := fn(q, d, o); err != nil {
			return err
		}
		if err := q.UpdateDelivery(ctx, d); err != nil {
			return storeErr(err, "delivery")
		}
		if o.Status != c.orderFrom || o.Paid != wasPaid {
			return storeErr(q.UpdateOrder(ctx, o), "order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.stepped(ctx, &c)
	return &c, nil
}

// stepped records and publishes a committed delivery step.
func (s *DeliveryService) stepped(ctx context.Context, c *change) {
	d := c.delivery
	if s.cache != nil {
		if err := s.cache.InvalidateDelivery(ctx, d.ID); err != nil {
			s.logger.Warn("Failed to invalidate delivery cache", zap.Int64("delivery_id", d.ID), zap.Error(err))
		}
	}
	if d.Status != c.deliveryFrom {
		util.DeliveryTransitionsTotal.WithLabelValues(string(d.Status)).Inc()
		s.logger.Info("Delivery status changed",
			zap.Int64("delivery_id", d.ID),
			zap.String("from", string(c.deliveryFrom)),
			zap.String("to", string(d.Status)))

		eventType := models.EventTypeDeliveryStatus
		if d.Status == models.DeliveryStatusDelivered {
			eventType = models.EventTypeDeliveryCompleted
		}
		event := deliveryEvent(eventType, d, c.deliveryFrom)
		emit(ctx, s.logger, eventType, func(ctx context.Context) error {
			return s.events.PublishDeliveryEvent(ctx, event)
		})
	}
	announceOrder(ctx, s.logger, s.events, c.order, c.orderFrom, "")
	d.ConfirmationCode = ""
}

// advance walks an accepted delivery forward to target. Passing PICKED_UP
// puts the order IN_DELIVERY.
func advance(d *models.Delivery, o *models.Order, target models.DeliveryStatus) error {
	if d.Status == models.DeliveryStatusAssigned && target != models.DeliveryStatusAccepted {
		return apperr.New(apperr.InvalidState, "delivery must be accepted first")
	}
	now := nowUTC()
	if err := d.AdvanceTo(target, now); err != nil {
		return transitionErr(err)
	}
	if pastPickup[d.Status] && o.Status != models.OrderStatusInDelivery && o.Status != models.OrderStatusDelivered {
		if err := o.AdvanceTo(models.OrderStatusInDelivery, now); err != nil {
			return transitionErr(err)
		}
	}
	return nil
}

func (s *DeliveryService) advanceTo(ctx context.Context, actor Actor, deliveryID int64, target models.DeliveryStatus) (*models.Delivery, error) {
	c, err := s.courierStep(ctx, actor, deliveryID, func(_ store.Querier, d *models.Delivery, o *models.Order) error {
		return advance(d, o, target)
	})
	if err != nil {
		return nil, err
	}
	return c.delivery, nil
}

// Accept is the courier taking an assigned delivery.
func (s *DeliveryService) Accept(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	return s.advanceTo(ctx, actor, deliveryID, models.DeliveryStatusAccepted)
}

func (s *DeliveryService) HeadToProducer(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	return s.advanceTo(ctx, actor, deliveryID, models.DeliveryStatusEnRouteToProducer)
}

// MarkPickedUp records collection at the farm. The order goes IN_DELIVERY.
func (s *DeliveryService) MarkPickedUp(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	return s.advanceTo(ctx, actor, deliveryID, models.DeliveryStatusPickedUp)
}

func (s *DeliveryService) Depart(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	return s.advanceTo(ctx, actor, deliveryID, models.DeliveryStatusEnRouteToClient)
}

func (s *DeliveryService) MarkArrived(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	return s.advanceTo(ctx, actor, deliveryID, models.DeliveryStatusArrived)
}

// Confirm completes the hand-off. The order becomes DELIVERED, cash orders
// are marked paid, and the courier and producer counters move in the same
// transaction. A wrong code is logged and counted but does not block.
func (s *DeliveryService) Confirm(ctx context.Context, actor Actor, deliveryID int64, req ConfirmDeliveryRequest) (res *ConfirmResult, err error) {
	ctx, span := util.StartSpan(ctx, "DeliveryService.Confirm", attribute.Int64("delivery_id", deliveryID))
	defer func() { util.EndSpan(span, err) }()

	verified := false
	c, err := s.courierStep(ctx, actor, deliveryID, func(q store.Querier, d *models.Delivery, o *models.Order) error {
		verified = d.VerifyCode(req.Code)
		if err := advance(d, o, models.DeliveryStatusDelivered); err != nil {
			return err
		}
		if err := o.AdvanceTo(models.OrderStatusDelivered, nowUTC()); err != nil {
			return transitionErr(err)
		}
		if req.ProofPhotoURL != "" {
			d.ProofPhotoURL = req.ProofPhotoURL
		}
		if !o.PaymentMode.RequiresImmediatePayment() {
			o.Paid = true
		}

		courier, err := q.LockCourierProfile(ctx, d.CourierID)
		if err != nil {
			return storeErr(err, "courier")
		}
		courier.DeliveryCount++
		if err := q.UpdateCourierProfile(ctx, courier); err != nil {
			return storeErr(err, "courier")
		}

		producer, err := q.LockProducerProfile(ctx, o.ProducerID)
		if err != nil {
			return storeErr(err, "producer")
		}
		producer.SalesCount++
		return storeErr(q.UpdateProducerProfile(ctx, producer), "producer")
	})
	if err != nil {
		return nil, err
	}

	if !verified {
		util.DeliveryCodeMismatchTotal.Inc()
		s.logger.Warn("Delivery confirmed with a mismatching code",
			zap.Int64("delivery_id", c.delivery.ID),
			zap.Int64("courier_id", c.delivery.CourierID))
	}
	return &ConfirmResult{Delivery: c.delivery, Order: c.order, CodeVerified: verified}, nil
}

// ReportFailure ends a delivery as FAILED. The order is left as is.
func (s *DeliveryService) ReportFailure(ctx context.Context, actor Actor, deliveryID int64, reason string) (*models.Delivery, error) {
	c, err := s.courierStep(ctx, actor, deliveryID, func(_ store.Querier, d *models.Delivery, _ *models.Order) error {
		if err := d.TransitionTo(models.DeliveryStatusFailed, nowUTC()); err != nil {
			return transitionErr(err)
		}
		if reason != "" {
			d.Notes = reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c.delivery, nil
}

func validPosition(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return apperr.Newf(apperr.Validation, "invalid position %.6f,%.6f", lat, lon)
	}
	return nil
}

// UpdatePosition stores the courier's last fix and appends it to the trail
// of every accepted delivery the courier is working on.
func (s *DeliveryService) UpdatePosition(ctx context.Context, actor Actor, pos PositionUpdate) error {
	if actor.Role != models.RoleCourier {
		return apperr.New(apperr.Unauthorized, "only couriers report positions")
	}
	if err := validPosition(pos.Latitude, pos.Longitude); err != nil {
		return err
	}

	var touched []int64
	err := s.store.InTx(ctx, func(q store.Querier) error {
		if err := q.UpdateCourierPosition(ctx, actor.UserID, pos.Latitude, pos.Longitude); err != nil {
			return storeErr(err, "courier")
		}
		active, err := q.ListDeliveries(ctx, models.DeliveryFilter{
			CourierID: actor.UserID,
			Statuses:  models.ActiveDeliveryStatuses(),
		})
		if err != nil {
			return storeErr(err, "deliveries")
		}
		now := nowUTC()
		for _, d := range active {
			if d.Status == models.DeliveryStatusAssigned {
				continue
			}
			if err := q.AddPosition(ctx, &models.GPSPosition{
				DeliveryID: d.ID,
				Latitude:   pos.Latitude,
				Longitude:  pos.Longitude,
				RecordedAt: now,
			}); err != nil {
				return storeErr(err, "delivery position")
			}
			touched = append(touched, d.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		for _, id := range touched {
			if err := s.cache.InvalidateDelivery(ctx, id); err != nil {
				s.logger.Warn("Failed to invalidate delivery cache", zap.Int64("delivery_id", id), zap.Error(err))
			}
		}
	}
	s.logger.Debug("Courier position updated",
		zap.Int64("courier_id", actor.UserID),
		zap.Int("deliveries", len(touched)))
	return nil
}

// SetAvailability toggles whether the courier takes new deliveries. Only
// validated couriers may go online.
func (s *DeliveryService) SetAvailability(ctx context.Context, actor Actor, available bool) (*models.CourierProfile, error) {
	if actor.Role != models.RoleCourier {
		return nil, apperr.New(apperr.Unauthorized, "only couriers set availability")
	}
	var profile *models.CourierProfile
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		if profile, err = q.LockCourierProfile(ctx, actor.UserID); err != nil {
			return storeErr(err, "courier")
		}
		if available && !profile.Validated {
			return apperr.New(apperr.InvalidState, "courier account is not validated yet")
		}
		profile.Available = available
		return storeErr(q.UpdateCourierProfile(ctx, profile), "courier")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Courier availability changed",
		zap.Int64("courier_id", actor.UserID),
		zap.Bool("available", available))
	return profile, nil
}

// ListForCourier lists the caller's deliveries, newest first. An empty
// status lists the active ones.
func (s *DeliveryService) ListForCourier(ctx context.Context, actor Actor, status models.DeliveryStatus) ([]models.Delivery, error) {
	if actor.Role != models.RoleCourier {
		return nil, apperr.New(apperr.Unauthorized, "only couriers list their deliveries")
	}
	f := models.DeliveryFilter{CourierID: actor.UserID, Statuses: models.ActiveDeliveryStatuses()}
	if status != "" {
		f.Statuses = []models.DeliveryStatus{status}
	}
	deliveries, err := s.store.ListDeliveries(ctx, f)
	if err != nil {
		return nil, storeErr(err, "deliveries")
	}
	for i := range deliveries {
		deliveries[i].ConfirmationCode = ""
	}
	return deliveries, nil
}

// visible loads a delivery with its order and checks read access. The code
// stays visible to the client owner and admins only.
func (s *DeliveryService) visible(ctx context.Context, actor Actor, d *models.Delivery) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	switch {
	case actor.IsAdmin(), actor.is(models.RoleClient, o.ClientID):
	case actor.is(models.RoleProducer, o.ProducerID), actor.is(models.RoleCourier, d.CourierID):
		d.ConfirmationCode = ""
	default:
		return nil, apperr.New(apperr.Unauthorized, "not allowed to view this delivery")
	}
	return o, nil
}

func (s *DeliveryService) Get(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, storeErr(err, "delivery")
	}
	if _, err := s.visible(ctx, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Track returns the delivery with its GPS trail. Reads go through the cache
// when one is configured.
func (s *DeliveryService) Track(ctx context.Context, actor Actor, deliveryID int64) (*models.Delivery, error) {
	d, err := s.cached(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if _, err := s.visible(ctx, actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DeliveryService) cached(ctx context.Context, deliveryID int64) (*models.Delivery, error) {
	if s.cache != nil {
		d, err := s.cache.GetCachedDelivery(ctx, deliveryID)
		if err != nil {
			s.logger.Warn("Delivery cache read failed", zap.Int64("delivery_id", deliveryID), zap.Error(err))
		} else if d != nil {
			return d, nil
		}
	}

	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, storeErr(err, "delivery")
	}
	if d.Positions, err = s.store.ListPositions(ctx, d.ID); err != nil {
		return nil, storeErr(err, "delivery positions")
	}
	if s.cache != nil {
		if err := s.cache.CacheDelivery(ctx, d); err != nil {
			s.logger.Warn("Failed to cache delivery", zap.Int64("delivery_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

// Itinerary gives the assigned courier the pickup and drop-off points.
func (s *DeliveryService) Itinerary(ctx context.Context, actor Actor, deliveryID int64) (*Itinerary, error) {
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, storeErr(err, "delivery")
	}
	if !actor.is(models.RoleCourier, d.CourierID) {
		return nil, apperr.New(apperr.Unauthorized, "delivery is assigned to another courier")
	}
	o, err := s.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	producer, err := s.store.GetProducerProfile(ctx, o.ProducerID)
	if err != nil {
		return nil, storeErr(err, "producer")
	}
	addr, err := s.store.GetAddress(ctx, o.AddressID)
	if err != nil {
		return nil, storeErr(err, "address")
	}

	pickup := pointPtr(producer.Latitude, producer.Longitude)
	dest := pointPtr(addr.Latitude, addr.Longitude)
	distance := d.DistanceKm
	if pickup != nil && dest != nil {
		distance = geo.Haversine(*pickup, *dest)
	}
	return &Itinerary{
		DeliveryID:         d.ID,
		Status:             d.Status,
		Pickup:             pickup,
		PickupLabel:        producer.FarmName + " - " + producer.FarmAddress,
		Destination:        dest,
		DestinationLabel:   addr.Formatted(),
		DestinationDetails: addr.Directions,
		DistanceKm:         distance,
		EstimatedMinutes:   geo.EstimateMinutes(distance, s.speedKmh),
	}, nil
}

// ListProducerCouriers lists couriers attached to the calling producer.
func (s *DeliveryService) ListProducerCouriers(ctx context.Context, actor Actor) ([]models.CourierProfile, error) {
	if actor.Role != models.RoleProducer {
		return nil, apperr.New(apperr.Unauthorized, "only producers list their couriers")
	}
	couriers, err := s.store.ListCourierProfiles(ctx, models.CourierFilter{ProducerID: actor.UserID})
	if err != nil {
		return nil, storeErr(err, "couriers")
	}
	return couriers, nil
}

// ListIndependentCouriers lists available couriers not bound to a producer.
func (s *DeliveryService) ListIndependentCouriers(ctx context.Context) ([]models.CourierProfile, error) {
	available, err := s.store.ListAvailableCouriers(ctx)
	if err != nil {
		return nil, storeErr(err, "couriers")
	}
	couriers := make([]models.CourierProfile, 0, len(available))
	for _, c := range available {
		if c.Independent {
			couriers = append(couriers, c)
		}
	}
	return couriers, nil
}
