package store

import (
	"context"
	"fmt"

	"egg-market/internal/models"
)

const userColumns = `id, first_name, last_name, phone, email, password_hash, role, active, created_at, updated_at`

// CreateUser inserts a user; duplicate phone or email yields ErrConflict.
func (q *Queries) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (first_name, last_name, phone, email, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := q.get(ctx, u, query,
		u.FirstName, u.LastName, u.Phone, u.Email, u.PasswordHash, u.Role, u.Active)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", translate(err))
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := q.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *Queries) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	if err := q.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE phone = $1", phone); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := q.get(ctx, &u, "SELECT "+userColumns+" FROM users WHERE email = $1", email); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q *Queries) UpdateUser(ctx context.Context, u *models.User) error {
	return q.exec(ctx, `
		UPDATE users SET first_name = $1, last_name = $2, email = $3, active = $4, updated_at = NOW()
		WHERE id = $5`,
		u.FirstName, u.LastName, u.Email, u.Active, u.ID)
}

// ListUsers returns one page of users, newest first, and the unpaged total.
func (q *Queries) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int, error) {
	where := "WHERE ($1 = '' OR role = $1)"

	var total int
	if err := q.get(ctx, &total, "SELECT COUNT(*) FROM users "+where, string(f.Role)); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + userColumns + " FROM users " + where + " ORDER BY created_at DESC, id DESC"
	args := []interface{}{string(f.Role)}
	query, args = paginate(query, args, f.Limit, f.Offset)

	users := []models.User{}
	if err := q.list(ctx, &users, query, args...); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (q *Queries) CountUsersByRole(ctx context.Context) (map[models.Role]int, error) {
	var rows []struct {
		Role  models.Role `db:"role"`
		Count int         `db:"count"`
	}
	if err := q.list(ctx, &rows, "SELECT role, COUNT(*) AS count FROM users GROUP BY role"); err != nil {
		return nil, err
	}

	counts := make(map[models.Role]int, len(rows))
	for _, r := range rows {
		counts[r.Role] = r.Count
	}
	return counts, nil
}

func (q *Queries) CreateClientProfile(ctx context.Context, p *models.ClientProfile) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO client_profiles (user_id, loyalty_points) VALUES ($1, $2)",
		p.UserID, p.LoyaltyPoints)
	return translate(err)
}

func (q *Queries) GetClientProfile(ctx context.Context, userID int64) (*models.ClientProfile, error) {
	var p models.ClientProfile
	if err := q.get(ctx, &p, "SELECT user_id, loyalty_points FROM client_profiles WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

const addressColumns = `id, client_id, label, street, district, city, directions, latitude, longitude, is_primary, created_at`

// CreateAddress inserts an address. A primary address demotes the client's others.
func (q *Queries) CreateAddress(ctx context.Context, a *models.Address) error {
	if a.Primary {
		if _, err := q.db.ExecContext(ctx,
			"UPDATE addresses SET is_primary = FALSE WHERE client_id = $1", a.ClientID); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO addresses (client_id, label, street, district, city, directions, latitude, longitude, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	return q.get(ctx, a, query,
		a.ClientID, a.Label, a.Street, a.District, a.City, a.Directions, a.Latitude, a.Longitude, a.Primary)
}

func (q *Queries) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	var a models.Address
	if err := q.get(ctx, &a, "SELECT "+addressColumns+" FROM addresses WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *Queries) ListAddresses(ctx context.Context, clientID int64) ([]models.Address, error) {
	addresses := []models.Address{}
	err := q.list(ctx, &addresses,
		"SELECT "+addressColumns+" FROM addresses WHERE client_id = $1 ORDER BY is_primary DESC, id", clientID)
	return addresses, err
}

const producerColumns = `user_id, farm_name, description, farm_address, latitude, longitude,
	certified, validated, rating_avg, rating_count, sales_count`

func (q *Queries) CreateProducerProfile(ctx context.Context, p *models.ProducerProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO producer_profiles (user_id, farm_name, description, farm_address, latitude, longitude, certified, validated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.UserID, p.FarmName, p.Description, p.FarmAddress, p.Latitude, p.Longitude, p.Certified, p.Validated)
	return translate(err)
}

func (q *Queries) GetProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error) {
	var p models.ProducerProfile
	if err := q.get(ctx, &p, "SELECT "+producerColumns+" FROM producer_profiles WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockProducerProfile reads the profile with a row lock (FOR UPDATE)
func (q *Queries) LockProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error) {
	var p models.ProducerProfile
	if err := q.get(ctx, &p, "SELECT "+producerColumns+" FROM producer_profiles WHERE user_id = $1 FOR UPDATE", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *Queries) UpdateProducerProfile(ctx context.Context, p *models.ProducerProfile) error {
	return q.exec(ctx, `
		UPDATE producer_profiles SET farm_name = $1, description = $2, farm_address = $3,
			latitude = $4, longitude = $5, certified = $6, validated = $7,
			rating_avg = $8, rating_count = $9, sales_count = $10
		WHERE user_id = $11`,
		p.FarmName, p.Description, p.FarmAddress, p.Latitude, p.Longitude, p.Certified, p.Validated,
		p.RatingAvg, p.RatingCount, p.SalesCount, p.UserID)
}

// ListProducerProfiles filters by validation state when validated is set.
func (q *Queries) ListProducerProfiles(ctx context.Context, validated *bool) ([]models.ProducerProfile, error) {
	profiles := []models.ProducerProfile{}
	err := q.list(ctx, &profiles, `
		SELECT `+producerColumns+` FROM producer_profiles
		WHERE ($1::BOOLEAN IS NULL OR validated = $1)
		ORDER BY user_id`, validated)
	return profiles, err
}

const courierColumns = `user_id, available, latitude, longitude, rating_avg, rating_count, delivery_count,
	validated, independent, producer_id, vehicle_type, plate_number, coverage_zone, updated_at`

func (q *Queries) CreateCourierProfile(ctx context.Context, p *models.CourierProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO courier_profiles (user_id, available, validated, independent, producer_id, vehicle_type, plate_number, coverage_zone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.UserID, p.Available, p.Validated, p.Independent, p.ProducerID, p.VehicleType, p.PlateNumber, p.CoverageZone)
	return translate(err)
}

func (q *Queries) GetCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error) {
	var p models.CourierProfile
	if err := q.get(ctx, &p, "SELECT "+courierColumns+" FROM courier_profiles WHERE user_id = $1", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockCourierProfile reads the profile with a row lock (FOR UPDATE)
func (q *Queries) LockCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error) {
	var p models.CourierProfile
	if err := q.get(ctx, &p, "SELECT "+courierColumns+" FROM courier_profiles WHERE user_id = $1 FOR UPDATE", userID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q *Queries) UpdateCourierProfile(ctx context.Context, p *models.CourierProfile) error {
	return q.exec(ctx, `
		UPDATE courier_profiles SET available = $1, latitude = $2, longitude = $3, rating_avg = $4,
			rating_count = $5, delivery_count = $6, validated = $7, independent = $8, producer_id = $9,
			vehicle_type = $10, plate_number = $11, coverage_zone = $12, updated_at = NOW()
		WHERE user_id = $13`,
		p.Available, p.Latitude, p.Longitude, p.RatingAvg, p.RatingCount, p.DeliveryCount, p.Validated,
		p.Independent, p.ProducerID, p.VehicleType, p.PlateNumber, p.CoverageZone, p.UserID)
}

// UpdateCourierPosition overwrites the last known position (last writer wins).
func (q *Queries) UpdateCourierPosition(ctx context.Context, userID int64, lat, lon float64) error {
	return q.exec(ctx,
		"UPDATE courier_profiles SET latitude = $1, longitude = $2, updated_at = NOW() WHERE user_id = $3",
		lat, lon, userID)
}

func (q *Queries) ListCourierProfiles(ctx context.Context, f models.CourierFilter) ([]models.CourierProfile, error) {
	profiles := []models.CourierProfile{}
	err := q.list(ctx, &profiles, `
		SELECT `+courierColumns+` FROM courier_profiles
		WHERE ($1::BOOLEAN IS NULL OR validated = $1)
		  AND ($2 = 0 OR producer_id = $2)
		ORDER BY user_id`, f.Validated, f.ProducerID)
	return profiles, err
}

// ListAvailableCouriers returns available, validated couriers of active users ordered by id.
func (q *Queries) ListAvailableCouriers(ctx context.Context) ([]models.CourierProfile, error) {
	profiles := []models.CourierProfile{}
	err := q.list(ctx, &profiles, `
		SELECT c.user_id, c.available, c.latitude, c.longitude, c.rating_avg, c.rating_count, c.delivery_count,
			c.validated, c.independent, c.producer_id, c.vehicle_type, c.plate_number, c.coverage_zone, c.updated_at
		FROM courier_profiles c
		JOIN users u ON u.id = c.user_id
		WHERE c.available AND c.validated AND u.active
		ORDER BY c.user_id`)
	return profiles, err
}
