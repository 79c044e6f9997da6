package service

import (
	"context"
	"strings"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

// AdminService covers account moderation.
type AdminService struct {
	store  DataStore
	events EventPublisher
	auth   *AuthService
	logger *zap.Logger
}

func NewAdminService(st DataStore, events EventPublisher, authSvc *AuthService) *AdminService {
	return &AdminService{store: st, events: events, auth: authSvc, logger: util.GetLogger()}
}

// UserPage is one page of users with the unpaged total.
type UserPage struct {
	Users  []models.User `json:"users"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return apperr.New(apperr.Unauthorized, "admin access required")
	}
	return nil
}

func (s *AdminService) ListUsers(ctx context.Context, actor Actor, role models.Role, limit, offset int) (*UserPage, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	role = models.Role(strings.ToUpper(string(role)))
	if role != "" && !role.Valid() {
		return nil, apperr.Newf(apperr.Validation, "unknown role %q", role)
	}
	limit, offset = clampPage(limit, offset)
	users, total, err := s.store.ListUsers(ctx, models.UserFilter{Role: role, Limit: limit, Offset: offset})
	if err != nil {
		return nil, storeErr(err, "users")
	}
	return &UserPage{Users: users, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *AdminService) GetUser(ctx context.Context, actor Actor, userID int64) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.auth.Me(ctx, Actor{UserID: userID})
}

// ToggleActive flips a user's active flag. Admins cannot disable themselves.
func (s *AdminService) ToggleActive(ctx context.Context, actor Actor, userID int64) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if userID == actor.UserID {
		return nil, apperr.New(apperr.InvalidState, "cannot change your own account state")
	}
	var u *models.User
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		if u, err = q.GetUser(ctx, userID); err != nil {
			return storeErr(err, "user")
		}
		u.Active = !u.Active
		return storeErr(q.UpdateUser(ctx, u), "user")
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("User active state changed",
		zap.Int64("user_id", u.ID),
		zap.Bool("active", u.Active))
	return u, nil
}

func (s *AdminService) PendingProducers(ctx context.Context, actor Actor) ([]models.ProducerProfile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	pending := false
	producers, err := s.store.ListProducerProfiles(ctx, &pending)
	if err != nil {
		return nil, storeErr(err, "producers")
	}
	return producers, nil
}

func (s *AdminService) PendingCouriers(ctx context.Context, actor Actor) ([]models.CourierProfile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	pending := false
	couriers, err := s.store.ListCourierProfiles(ctx, models.CourierFilter{Validated: &pending})
	if err != nil {
		return nil, storeErr(err, "couriers")
	}
	return couriers, nil
}

// Validate approves a producer or courier account.
func (s *AdminService) Validate(ctx context.Context, actor Actor, userID int64) (*models.User, error) {
	return s.moderate(ctx, actor, userID, true, "")
}

// Reject deactivates a producer or courier account awaiting validation.
func (s *AdminService) Reject(ctx context.Context, actor Actor, userID int64, reason string) (*models.User, error) {
	return s.moderate(ctx, actor, userID, false, reason)
}

func (s *AdminService) moderate(ctx context.Context, actor Actor, userID int64, approve bool, reason string) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var u *models.User
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		if u, err = q.GetUser(ctx, userID); err != nil {
			return storeErr(err, "user")
		}
		switch u.Role {
		case models.RoleProducer:
			p, err := q.LockProducerProfile(ctx, u.ID)
			if err != nil {
				return storeErr(err, "producer")
			}
			p.Validated = approve
			if err := q.UpdateProducerProfile(ctx, p); err != nil {
				return storeErr(err, "producer")
			}
			u.Producer = p
		case models.RoleCourier:
			c, err := q.LockCourierProfile(ctx, u.ID)
			if err != nil {
				return storeErr(err, "courier")
			}
			c.Validated = approve
			if !approve {
				c.Available = false
			}
			if err := q.UpdateCourierProfile(ctx, c); err != nil {
				return storeErr(err, "courier")
			}
			u.Courier = c
		default:
			return apperr.Newf(apperr.Validation, "%s accounts need no validation", u.Role)
		}
		if !approve {
			u.Active = false
			return storeErr(q.UpdateUser(ctx, u), "user")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account moderated",
		zap.Int64("user_id", u.ID),
		zap.String("role", string(u.Role)),
		zap.Bool("approved", approve),
		zap.String("reason", reason))
	event := &models.UserEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeUserValidated),
		UserID:    u.ID,
		Role:      u.Role,
		Approved:  approve,
		Reason:    reason,
	}
	emit(ctx, s.logger, models.EventTypeUserValidated, func(ctx context.Context) error {
		return s.events.PublishUserEvent(ctx, event)
	})
	return u, nil
}
