package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/auth"
	"egg-market/internal/models"
	"egg-market/internal/store"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

const minPasswordLength = 6

// AuthService registers accounts, issues tokens and manages client addresses.
type AuthService struct {
	store  DataStore
	tokens *auth.TokenService
	logger *zap.Logger
}

func NewAuthService(st DataStore, tokens *auth.TokenService) *AuthService {
	return &AuthService{store: st, tokens: tokens, logger: util.GetLogger()}
}

// RegisterRequest creates a user and the profile matching its role. The farm
// fields apply to producers, the vehicle fields to couriers.
type RegisterRequest struct {
	FirstName string      `json:"first_name" binding:"required"`
	LastName  string      `json:"last_name"`
	Phone     string      `json:"phone" binding:"required"`
	Email     string      `json:"email"`
	Password  string      `json:"password" binding:"required"`
	Role      models.Role `json:"role" binding:"required"`

	FarmName    string   `json:"farm_name"`
	FarmAddress string   `json:"farm_address"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`

	VehicleType  string `json:"vehicle_type"`
	PlateNumber  string `json:"plate_number"`
	CoverageZone string `json:"coverage_zone"`
	Independent  bool   `json:"independent"`
	ProducerID   *int64 `json:"producer_id"`
}

type LoginRequest struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResult is a signed token and the user it was issued for.
type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// AddressRequest adds a delivery address to the calling client.
type AddressRequest struct {
	Label      string   `json:"label"`
	Street     string   `json:"street"`
	District   string   `json:"district" binding:"required"`
	City       string   `json:"city" binding:"required"`
	Directions string   `json:"directions"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Primary    bool     `json:"primary"`
}

// FarmRequest updates the calling producer's farm details.
type FarmRequest struct {
	FarmName    string   `json:"farm_name"`
	FarmAddress string   `json:"farm_address"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

func normalizeEmail(email string) *string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	return &email
}

func validateCoordinates(lat, lon *float64) error {
	if (lat == nil) != (lon == nil) {
		return apperr.New(apperr.Validation, "latitude and longitude go together")
	}
	if lat != nil {
		return validPosition(*lat, *lon)
	}
	return nil
}

func validateRegister(req *RegisterRequest) error {
	req.Phone = strings.TrimSpace(req.Phone)
	req.FirstName = strings.TrimSpace(req.FirstName)
	switch {
	case req.FirstName == "":
		return apperr.New(apperr.Validation, "first name is required")
	case req.Phone == "":
		return apperr.New(apperr.Validation, "phone is required")
	case len(req.Password) < minPasswordLength:
		return apperr.Newf(apperr.Validation, "password must be at least %d characters", minPasswordLength)
	}
	switch req.Role {
	case models.RoleClient, models.RoleCourier:
	case models.RoleProducer:
		if strings.TrimSpace(req.FarmName) == "" {
			return apperr.New(apperr.Validation, "farm name is required for producers")
		}
	default:
		return apperr.Newf(apperr.Validation, "cannot register with role %q", req.Role)
	}
	return validateCoordinates(req.Latitude, req.Longitude)
}

// Register creates the account and its profile. Producers and couriers wait
// for admin validation; couriers start offline.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := validateRegister(&req); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "failed to hash password")
	}

	u := &models.User{
		FirstName:    req.FirstName,
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        req.Phone,
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
	}
	err = s.store.InTx(ctx, func(q store.Querier) error {
		if _, err := q.GetUserByPhone(ctx, u.Phone); err == nil {
			return apperr.New(apperr.AlreadyExists, "phone number already registered")
		} else if !errors.Is(err, store.ErrNotFound) {
			return storeErr(err, "user")
		}
		if u.Email != nil {
			if _, err := q.GetUserByEmail(ctx, *u.Email); err == nil {
				return apperr.New(apperr.AlreadyExists, "email already registered")
			} else if !errors.Is(err, store.ErrNotFound) {
				return storeErr(err, "user")
			}
		}
		if err := q.CreateUser(ctx, u); err != nil {
			return storeErr(err, "user")
		}

		switch u.Role {
		case models.RoleClient:
			u.Client = &models.ClientProfile{UserID: u.ID}
			return storeErr(q.CreateClientProfile(ctx, u.Client), "client profile")
		case models.RoleProducer:
			u.Producer = &models.ProducerProfile{
				UserID:      u.ID,
				FarmName:    strings.TrimSpace(req.FarmName),
				FarmAddress: req.FarmAddress,
				Description: req.Description,
				Latitude:    req.Latitude,
				Longitude:   req.Longitude,
			}
			return storeErr(q.CreateProducerProfile(ctx, u.Producer), "producer profile")
		case models.RoleCourier:
			if req.ProducerID != nil {
				if _, err := q.GetProducerProfile(ctx, *req.ProducerID); err != nil {
					return storeErr(err, "producer")
				}
			}
			u.Courier = &models.CourierProfile{
				UserID:       u.ID,
				Independent:  req.ProducerID == nil || req.Independent,
				ProducerID:   req.ProducerID,
				VehicleType:  req.VehicleType,
				PlateNumber:  req.PlateNumber,
				CoverageZone: req.CoverageZone,
			}
			return storeErr(q.CreateCourierProfile(ctx, u.Courier), "courier profile")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.Int64("user_id", u.ID),
		zap.String("role", string(u.Role)))
	return s.issue(u)
}

func (s *AuthService) issue(u *models.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: time.Now().Add(s.tokens.TTL()).UTC(), User: u}, nil
}

// Login checks a phone and password pair. Unknown phones and wrong passwords
// get the same answer.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	u, err := s.store.GetUserByPhone(ctx, strings.TrimSpace(req.Phone))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.Unauthenticated, "invalid phone or password")
	} else if err != nil {
		return nil, storeErr(err, "user")
	}
	if err := auth.VerifyPassword(u.PasswordHash, req.Password); err != nil {
		s.logger.Info("Failed login", zap.Int64("user_id", u.ID))
		return nil, apperr.New(apperr.Unauthenticated, "invalid phone or password")
	}
	if !u.Active {
		return nil, apperr.New(apperr.Unauthorized, "account is disabled")
	}
	if err := s.attachProfile(ctx, u); err != nil {
		return nil, err
	}
	return s.issue(u)
}

// Me returns the caller with its role profile.
func (s *AuthService) Me(ctx context.Context, actor Actor) (*models.User, error) {
	u, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if err := s.attachProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) attachProfile(ctx context.Context, u *models.User) error {
	var err error
	switch u.Role {
	case models.RoleClient:
		u.Client, err = s.store.GetClientProfile(ctx, u.ID)
	case models.RoleProducer:
		u.Producer, err = s.store.GetProducerProfile(ctx, u.ID)
	case models.RoleCourier:
		u.Courier, err = s.store.GetCourierProfile(ctx, u.ID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return storeErr(err, "profile")
}

// Authenticate resolves a bearer token to an active actor.
func (s *AuthService) Authenticate(ctx context.Context, token string) (Actor, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return Actor{}, err
	}
	u, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Actor{}, apperr.New(apperr.Unauthenticated, "unknown user")
	} else if err != nil {
		return Actor{}, storeErr(err, "user")
	}
	if !u.Active {
		return Actor{}, apperr.New(apperr.Unauthorized, "account is disabled")
	}
	return Actor{UserID: u.ID, Role: u.Role}, nil
}

// AddAddress stores a delivery address for the calling client. A primary
// address demotes the previous one.
func (s *AuthService) AddAddress(ctx context.Context, actor Actor, req AddressRequest) (*models.Address, error) {
	if actor.Role != models.RoleClient {
		return nil, apperr.New(apperr.Unauthorized, "only clients have delivery addresses")
	}
	if strings.TrimSpace(req.District) == "" || strings.TrimSpace(req.City) == "" {
		return nil, apperr.New(apperr.Validation, "district and city are required")
	}
	if err := validateCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}
	a := &models.Address{
		ClientID:   actor.UserID,
		Label:      req.Label,
		Street:     req.Street,
		District:   strings.TrimSpace(req.District),
		City:       strings.TrimSpace(req.City),
		Directions: req.Directions,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Primary:    req.Primary,
	}
	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, storeErr(err, "address")
	}
	return a, nil
}

func (s *AuthService) ListAddresses(ctx context.Context, actor Actor) ([]models.Address, error) {
	if actor.Role != models.RoleClient {
		return nil, apperr.New(apperr.Unauthorized, "only clients have delivery addresses")
	}
	addresses, err := s.store.ListAddresses(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "addresses")
	}
	return addresses, nil
}

// UpdateFarm edits the calling producer's farm. Empty fields keep their value.
func (s *AuthService) UpdateFarm(ctx context.Context, actor Actor, req FarmRequest) (*models.ProducerProfile, error) {
	if actor.Role != models.RoleProducer {
		return nil, apperr.New(apperr.Unauthorized, "only producers have a farm")
	}
	if err := validateCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}
	var p *models.ProducerProfile
	err := s.store.InTx(ctx, func(q store.Querier) error {
		var err error
		if p, err = q.LockProducerProfile(ctx, actor.UserID); err != nil {
			return storeErr(err, "producer")
		}
		if req.FarmName != "" {
			p.FarmName = req.FarmName
		}
		if req.FarmAddress != "" {
			p.FarmAddress = req.FarmAddress
		}
		if req.Description != "" {
			p.Description = req.Description
		}
		if req.Latitude != nil {
			p.Latitude, p.Longitude = req.Latitude, req.Longitude
		}
		return storeErr(q.UpdateProducerProfile(ctx, p), "producer")
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
