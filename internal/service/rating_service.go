package service

import (
	"context"
	"errors"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

// RatingService records client feedback on delivered orders.
type RatingService struct {
	store  DataStore
	logger *zap.Logger
}

func NewRatingService(st DataStore) *RatingService {
	return &RatingService{store: st, logger: util.GetLogger()}
}

// RateOrderRequest scores the producer and, optionally, the courier.
type RateOrderRequest struct {
	ProducerScore int    `json:"producer_score" binding:"required"`
	CourierScore  *int   `json:"courier_score"`
	Comment       string `json:"comment"`
}

func validScore(score int) bool {
	return score >= 1 && score <= 5
}

// RateOrder stores the single rating of a delivered order and folds the
// scores into the producer and courier averages.
func (s *RatingService) RateOrder(ctx context.Context, actor Actor, orderID int64, req RateOrderRequest) (*models.OrderRating, error) {
	if !validScore(req.ProducerScore) {
		return nil, apperr.New(apperr.Validation, "producer score must be between 1 and 5")
	}
	if req.CourierScore != nil && !validScore(*req.CourierScore) {
		return nil, apperr.New(apperr.Validation, "courier score must be between 1 and 5")
	}

	var rating *models.OrderRating
	err := s.store.InTx(ctx, func(q store.Querier) error {
		o, err := loadOrderForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if !actor.is(models.RoleClient, o.ClientID) {
			return apperr.New(apperr.Unauthorized, "only the client who ordered can rate it")
		}
		if o.Status != models.OrderStatusDelivered {
			return apperr.Newf(apperr.InvalidState, "order %s is %s; only delivered orders can be rated", o.Reference, o.Status)
		}
		if _, err := q.GetRating(ctx, o.ID); err == nil {
			return apperr.Newf(apperr.AlreadyExists, "order %s is already rated", o.Reference)
		} else if !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, "rating")
		}

		rating = &models.OrderRating{
			OrderID:       o.ID,
			ClientID:      o.ClientID,
			ProducerScore: req.ProducerScore,
			CourierScore:  req.CourierScore,
			Comment:       req.Comment,
			CreatedAt:     nowUTC(),
		}
		if err := q.CreateRating(ctx, rating); err != nil {
			return storeErr(err, "rating")
		}

		producer, err := q.LockProducerProfile(ctx, o.ProducerID)
		if err != nil {
			return storeErr(err, "producer")
		}
		producer.RatingAvg = models.NextAverage(producer.RatingAvg, producer.RatingCount, float64(req.ProducerScore))
		producer.RatingCount++
		if err := q.UpdateProducerProfile(ctx, producer); err != nil {
			return storeErr(err, "producer")
		}

		if req.CourierScore == nil {
			return nil
		}
		d, err := q.GetDeliveryByOrder(ctx, o.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		} else if err != nil {
			return storeErr(err, "delivery")
		}
		courier, err := q.LockCourierProfile(ctx, d.CourierID)
		if err != nil {
			return storeErr(err, "courier")
		}
		courier.RatingAvg = models.NextAverage(courier.RatingAvg, courier.RatingCount, float64(*req.CourierScore))
		courier.RatingCount++
		return storeErr(q.UpdateCourierProfile(ctx, courier), "courier")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order rated",
		zap.Int64("order_id", rating.OrderID),
		zap.Int("producer_score", rating.ProducerScore))
	return rating, nil
}

// GetRating returns the rating of an order visible to the actor.
func (s *RatingService) GetRating(ctx context.Context, actor Actor, orderID int64) (*models.OrderRating, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "order")
	}
	if !actor.IsAdmin() && !actor.is(models.RoleClient, o.ClientID) && !actor.is(models.RoleProducer, o.ProducerID) {
		return nil, apperr.New(apperr.Unauthorized, "not allowed to view this rating")
	}
	r, err := s.store.GetRating(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, "rating")
	}
	return r, nil
}
