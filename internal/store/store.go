package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"egg-market/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)

// Querier is the set of row operations shared by the connection pool and a
// transaction. Lock* variants take a row lock and only make sense inside InTx.
type Querier interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int, error)
	CountUsersByRole(ctx context.Context) (map[models.Role]int, error)

	CreateClientProfile(ctx context.Context, p *models.ClientProfile) error
	GetClientProfile(ctx context.Context, userID int64) (*models.ClientProfile, error)
	CreateAddress(ctx context.Context, a *models.Address) error
	GetAddress(ctx context.Context, id int64) (*models.Address, error)
	ListAddresses(ctx context.Context, clientID int64) ([]models.Address, error)

	CreateProducerProfile(ctx context.Context, p *models.ProducerProfile) error
	GetProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error)
	LockProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error)
	UpdateProducerProfile(ctx context.Context, p *models.ProducerProfile) error
	ListProducerProfiles(ctx context.Context, validated *bool) ([]models.ProducerProfile, error)

	CreateCourierProfile(ctx context.Context, p *models.CourierProfile) error
	GetCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error)
	LockCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error)
	UpdateCourierProfile(ctx context.Context, p *models.CourierProfile) error
	UpdateCourierPosition(ctx context.Context, userID int64, lat, lon float64) error
	ListCourierProfiles(ctx context.Context, f models.CourierFilter) ([]models.CourierProfile, error)
	ListAvailableCouriers(ctx context.Context) ([]models.CourierProfile, error)

	CreateCategory(ctx context.Context, c *models.Category) error
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error)

	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	LockProduct(ctx context.Context, id int64) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
	ProductReferenced(ctx context.Context, id int64) (bool, error)

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error)
	CreateRating(ctx context.Context, r *models.OrderRating) error
	GetRating(ctx context.Context, orderID int64) (*models.OrderRating, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	LockPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error

	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDelivery(ctx context.Context, id int64) (*models.Delivery, error)
	LockDelivery(ctx context.Context, id int64) (*models.Delivery, error)
	GetDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	ListDeliveries(ctx context.Context, f models.DeliveryFilter) ([]models.Delivery, error)
	AddPosition(ctx context.Context, p *models.GPSPosition) error
	ListPositions(ctx context.Context, deliveryID int64) ([]models.GPSPosition, error)
}

// Queries runs Querier operations against a pool or a transaction.
type Queries struct {
	db sqlx.ExtContext
}

type Store struct {
	*Queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an open connection pool.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{Queries: &Queries{db: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside one transaction. Any error from fn rolls back.
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (q *Queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, q.db, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *Queries) list(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.db, dest, query, args...)
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// paginate appends LIMIT/OFFSET placeholders after the existing args.
func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// translate maps unique violations to ErrConflict.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}
