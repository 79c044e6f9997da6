// Package memory is an in-process implementation of store.Querier with the
// same transaction contract as the PostgreSQL store. InTx works on a copy of
// the data and swaps it in on success, so a failing fn leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"egg-market/internal/models"
	"egg-market/internal/store"
)

type data struct {
	seq        map[string]int64
	users      map[int64]models.User
	clients    map[int64]models.ClientProfile
	addresses  map[int64]models.Address
	producers  map[int64]models.ProducerProfile
	couriers   map[int64]models.CourierProfile
	categories map[int64]models.Category
	products   map[int64]models.Product
	orders     map[int64]models.Order
	ratings    map[int64]models.OrderRating
	payments   map[int64]models.Payment
	deliveries map[int64]models.Delivery
	positions  map[int64][]models.GPSPosition
}

func newData() *data {
	return &data{
		seq:        map[string]int64{},
		users:      map[int64]models.User{},
		clients:    map[int64]models.ClientProfile{},
		addresses:  map[int64]models.Address{},
		producers:  map[int64]models.ProducerProfile{},
		couriers:   map[int64]models.CourierProfile{},
		categories: map[int64]models.Category{},
		products:   map[int64]models.Product{},
		orders:     map[int64]models.Order{},
		ratings:    map[int64]models.OrderRating{},
		payments:   map[int64]models.Payment{},
		deliveries: map[int64]models.Delivery{},
		positions:  map[int64][]models.GPSPosition{},
	}
}

// clone copies every table. Stored slices are never written in place, so
// sharing their backing arrays between copies is safe.
func (d *data) clone() *data {
	return &data{
		seq:        maps.Clone(d.seq),
		users:      maps.Clone(d.users),
		clients:    maps.Clone(d.clients),
		addresses:  maps.Clone(d.addresses),
		producers:  maps.Clone(d.producers),
		couriers:   maps.Clone(d.couriers),
		categories: maps.Clone(d.categories),
		products:   maps.Clone(d.products),
		orders:     maps.Clone(d.orders),
		ratings:    maps.Clone(d.ratings),
		payments:   maps.Clone(d.payments),
		deliveries: maps.Clone(d.deliveries),
		positions:  maps.Clone(d.positions),
	}
}

func (d *data) next(table string) int64 {
	d.seq[table]++
	return d.seq[table]
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	mu   sync.Mutex
	data *data
	now  func() time.Time
}

var _ store.Querier = (*Store)(nil)

func New() *Store {
	return &Store{data: newData(), now: func() time.Time { return time.Now().UTC() }}
}

// InTx runs fn against a private copy and commits it only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(q store.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{data: s.data.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func notFound[T any]() (*T, error) {
	return nil, store.ErrNotFound
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	for _, existing := range s.data.users {
		if existing.Phone == u.Phone {
			return store.ErrConflict
		}
		if u.Email != nil && existing.Email != nil && *existing.Email == *u.Email {
			return store.ErrConflict
		}
	}
	now := s.now()
	u.ID = s.data.next("users")
	u.CreatedAt, u.UpdatedAt = now, now
	row := *u
	row.Client, row.Courier, row.Producer = nil, nil, nil
	s.data.users[u.ID] = row
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	defer s.lock()()
	u, ok := s.data.users[id]
	if !ok {
		return notFound[models.User]()
	}
	return &u, nil
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.data.users {
		if u.Phone == phone {
			return &u, nil
		}
	}
	return notFound[models.User]()
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock()()
	for _, u := range s.data.users {
		if u.Email != nil && *u.Email == email {
			return &u, nil
		}
	}
	return notFound[models.User]()
}

func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	defer s.lock()()
	row, ok := s.data.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	row.FirstName, row.LastName, row.Email, row.Active = u.FirstName, u.LastName, u.Email, u.Active
	row.UpdatedAt = s.now()
	s.data.users[u.ID] = row
	return nil
}

func (s *Store) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int, error) {
	defer s.lock()()
	users := []models.User{}
	for _, u := range s.data.users {
		if f.Role == "" || u.Role == f.Role {
			users = append(users, u)
		}
	}
	slices.SortFunc(users, func(a, b models.User) int { return int(b.ID - a.ID) })
	return page(users, f.Limit, f.Offset), len(users), nil
}

func (s *Store) CountUsersByRole(ctx context.Context) (map[models.Role]int, error) {
	defer s.lock()()
	counts := map[models.Role]int{}
	for _, u := range s.data.users {
		counts[u.Role]++
	}
	return counts, nil
}

func (s *Store) CreateClientProfile(ctx context.Context, p *models.ClientProfile) error {
	defer s.lock()()
	if _, ok := s.data.clients[p.UserID]; ok {
		return store.ErrConflict
	}
	s.data.clients[p.UserID] = *p
	return nil
}

func (s *Store) GetClientProfile(ctx context.Context, userID int64) (*models.ClientProfile, error) {
	defer s.lock()()
	p, ok := s.data.clients[userID]
	if !ok {
		return notFound[models.ClientProfile]()
	}
	return &p, nil
}

func (s *Store) CreateAddress(ctx context.Context, a *models.Address) error {
	defer s.lock()()
	if a.Primary {
		for id, existing := range s.data.addresses {
			if existing.ClientID == a.ClientID && existing.Primary {
				existing.Primary = false
				s.data.addresses[id] = existing
			}
		}
	}
	a.ID = s.data.next("addresses")
	a.CreatedAt = s.now()
	s.data.addresses[a.ID] = *a
	return nil
}

func (s *Store) GetAddress(ctx context.Context, id int64) (*models.Address, error) {
	defer s.lock()()
	a, ok := s.data.addresses[id]
	if !ok {
		return notFound[models.Address]()
	}
	return &a, nil
}

func (s *Store) ListAddresses(ctx context.Context, clientID int64) ([]models.Address, error) {
	defer s.lock()()
	addresses := []models.Address{}
	for _, a := range s.data.addresses {
		if a.ClientID == clientID {
			addresses = append(addresses, a)
		}
	}
	slices.SortFunc(addresses, func(a, b models.Address) int {
		if a.Primary != b.Primary {
			if a.Primary {
				return -1
			}
			return 1
		}
		return int(a.ID - b.ID)
	})
	return addresses, nil
}

func (s *Store) CreateProducerProfile(ctx context.Context, p *models.ProducerProfile) error {
	defer s.lock()()
	if _, ok := s.data.producers[p.UserID]; ok {
		return store.ErrConflict
	}
	s.data.producers[p.UserID] = *p
	return nil
}

func (s *Store) GetProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error) {
	defer s.lock()()
	p, ok := s.data.producers[userID]
	if !ok {
		return notFound[models.ProducerProfile]()
	}
	return &p, nil
}

func (s *Store) LockProducerProfile(ctx context.Context, userID int64) (*models.ProducerProfile, error) {
	return s.GetProducerProfile(ctx, userID)
}

func (s *Store) UpdateProducerProfile(ctx context.Context, p *models.ProducerProfile) error {
	defer s.lock()()
	if _, ok := s.data.producers[p.UserID]; !ok {
		return store.ErrNotFound
	}
	s.data.producers[p.UserID] = *p
	return nil
}

func (s *Store) ListProducerProfiles(ctx context.Context, validated *bool) ([]models.ProducerProfile, error) {
	defer s.lock()()
	profiles := []models.ProducerProfile{}
	for _, p := range s.data.producers {
		if validated == nil || p.Validated == *validated {
			profiles = append(profiles, p)
		}
	}
	slices.SortFunc(profiles, func(a, b models.ProducerProfile) int { return int(a.UserID - b.UserID) })
	return profiles, nil
}

func (s *Store) CreateCourierProfile(ctx context.Context, p *models.CourierProfile) error {
	defer s.lock()()
	if _, ok := s.data.couriers[p.UserID]; ok {
		return store.ErrConflict
	}
	p.UpdatedAt = s.now()
	s.data.couriers[p.UserID] = *p
	return nil
}

func (s *Store) GetCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error) {
	defer s.lock()()
	p, ok := s.data.couriers[userID]
	if !ok {
		return notFound[models.CourierProfile]()
	}
	return &p, nil
}

func (s *Store) LockCourierProfile(ctx context.Context, userID int64) (*models.CourierProfile, error) {
	return s.GetCourierProfile(ctx, userID)
}

func (s *Store) UpdateCourierProfile(ctx context.Context, p *models.CourierProfile) error {
	defer s.lock()()
	if _, ok := s.data.couriers[p.UserID]; !ok {
		return store.ErrNotFound
	}
	p.UpdatedAt = s.now()
	s.data.couriers[p.UserID] = *p
	return nil
}

func (s *Store) UpdateCourierPosition(ctx context.Context, userID int64, lat, lon float64) error {
	defer s.lock()()
	p, ok := s.data.couriers[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.Latitude, p.Longitude = &lat, &lon
	p.UpdatedAt = s.now()
	s.data.couriers[userID] = p
	return nil
}

func (s *Store) ListCourierProfiles(ctx context.Context, f models.CourierFilter) ([]models.CourierProfile, error) {
	defer s.lock()()
	profiles := []models.CourierProfile{}
	for _, p := range s.data.couriers {
		if f.Validated != nil && p.Validated != *f.Validated {
			continue
		}
		if f.ProducerID != 0 && (p.ProducerID == nil || *p.ProducerID != f.ProducerID) {
			continue
		}
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b models.CourierProfile) int { return int(a.UserID - b.UserID) })
	return profiles, nil
}

func (s *Store) ListAvailableCouriers(ctx context.Context) ([]models.CourierProfile, error) {
	defer s.lock()()
	profiles := []models.CourierProfile{}
	for _, p := range s.data.couriers {
		if !p.Available || !p.Validated {
			continue
		}
		if u, ok := s.data.users[p.UserID]; !ok || !u.Active {
			continue
		}
		profiles = append(profiles, p)
	}
	slices.SortFunc(profiles, func(a, b models.CourierProfile) int { return int(a.UserID - b.UserID) })
	return profiles, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	defer s.lock()()
	for _, existing := range s.data.categories {
		if existing.Name == c.Name {
			return store.ErrConflict
		}
	}
	c.ID = s.data.next("categories")
	s.data.categories[c.ID] = *c
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	defer s.lock()()
	c, ok := s.data.categories[id]
	if !ok {
		return notFound[models.Category]()
	}
	return &c, nil
}

func (s *Store) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	defer s.lock()()
	categories := []models.Category{}
	for _, c := range s.data.categories {
		if !activeOnly || c.Active {
			categories = append(categories, c)
		}
	}
	slices.SortFunc(categories, func(a, b models.Category) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return int(a.ID - b.ID)
	})
	return categories, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	defer s.lock()()
	now := s.now()
	p.ID = s.data.next("products")
	p.CreatedAt, p.UpdatedAt = now, now
	s.data.products[p.ID] = *p
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	defer s.lock()()
	p, ok := s.data.products[id]
	if !ok {
		return notFound[models.Product]()
	}
	return &p, nil
}

func (s *Store) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.GetProduct(ctx, id)
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	defer s.lock()()
	if _, ok := s.data.products[p.ID]; !ok {
		return store.ErrNotFound
	}
	if p.Stock < 0 {
		return store.ErrConflict
	}
	p.UpdatedAt = s.now()
	s.data.products[p.ID] = *p
	return nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	defer s.lock()()
	if _, ok := s.data.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.data.products, id)
	return nil
}

func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	defer s.lock()()
	search := strings.ToLower(f.Search)
	products := []models.Product{}
	for _, p := range s.data.products {
		if f.ProducerID != 0 && p.ProducerID != f.ProducerID {
			continue
		}
		if f.CategoryID != 0 && p.CategoryID != f.CategoryID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		if f.AvailableOnly && (!p.Available || p.Stock <= 0) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b models.Product) int { return int(b.ID - a.ID) })
	return products, nil
}

func (s *Store) ProductReferenced(ctx context.Context, id int64) (bool, error) {
	defer s.lock()()
	for _, o := range s.data.orders {
		for _, l := range o.Lines {
			if l.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	defer s.lock()()
	for _, existing := range s.data.orders {
		if existing.Reference == o.Reference {
			return store.ErrConflict
		}
	}
	now := s.now()
	o.ID = s.data.next("orders")
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Lines {
		o.Lines[i].ID = s.data.next("order_lines")
		o.Lines[i].OrderID = o.ID
	}
	row := *o
	row.Lines = slices.Clone(o.Lines)
	row.Delivery = nil
	s.data.orders[o.ID] = row
	return nil
}

func (s *Store) getOrder(match func(models.Order) bool) (*models.Order, error) {
	for _, o := range s.data.orders {
		if match(o) {
			o.Lines = slices.Clone(o.Lines)
			return &o, nil
		}
	}
	return notFound[models.Order]()
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	defer s.lock()()
	return s.getOrder(func(o models.Order) bool { return o.ID == id })
}

func (s *Store) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	defer s.lock()()
	return s.getOrder(func(o models.Order) bool { return o.Reference == reference })
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	defer s.lock()()
	row, ok := s.data.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	row.Status, row.Subtotal, row.DeliveryFee, row.Discount, row.Total = o.Status, o.Subtotal, o.DeliveryFee, o.Discount, o.Total
	row.Paid, row.Notes, row.DeliveredAt = o.Paid, o.Notes, o.DeliveredAt
	row.UpdatedAt = s.now()
	s.data.orders[o.ID] = row
	return nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	defer s.lock()()
	orders := []models.Order{}
	for _, o := range s.data.orders {
		if f.ClientID != 0 && o.ClientID != f.ClientID {
			continue
		}
		if f.ProducerID != 0 && o.ProducerID != f.ProducerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Since != nil && o.CreatedAt.Before(*f.Since) {
			continue
		}
		o.Lines = slices.Clone(o.Lines)
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b models.Order) int { return int(b.ID - a.ID) })
	return page(orders, f.Limit, f.Offset), len(orders), nil
}

func (s *Store) CreateRating(ctx context.Context, r *models.OrderRating) error {
	defer s.lock()()
	if _, ok := s.data.ratings[r.OrderID]; ok {
		return store.ErrConflict
	}
	r.CreatedAt = s.now()
	s.data.ratings[r.OrderID] = *r
	return nil
}

func (s *Store) GetRating(ctx context.Context, orderID int64) (*models.OrderRating, error) {
	defer s.lock()()
	r, ok := s.data.ratings[orderID]
	if !ok {
		return notFound[models.OrderRating]()
	}
	return &r, nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	defer s.lock()()
	for _, existing := range s.data.payments {
		if existing.Reference == p.Reference {
			return store.ErrConflict
		}
	}
	p.ID = s.data.next("payments")
	s.data.payments[p.ID] = *p
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	defer s.lock()()
	p, ok := s.data.payments[id]
	if !ok {
		return notFound[models.Payment]()
	}
	return &p, nil
}

func (s *Store) LockPayment(ctx context.Context, id int64) (*models.Payment, error) {
	return s.GetPayment(ctx, id)
}

func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	defer s.lock()()
	for _, p := range s.data.payments {
		if p.Reference == reference {
			return &p, nil
		}
	}
	return notFound[models.Payment]()
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	defer s.lock()()
	payments := []models.Payment{}
	for _, p := range s.data.payments {
		if p.OrderID == orderID {
			payments = append(payments, p)
		}
	}
	slices.SortFunc(payments, func(a, b models.Payment) int { return int(b.ID - a.ID) })
	return payments, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	defer s.lock()()
	row, ok := s.data.payments[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	row.Status, row.TransactionID, row.ConfirmedAt = p.Status, p.TransactionID, p.ConfirmedAt
	s.data.payments[p.ID] = row
	return nil
}

func (s *Store) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	defer s.lock()()
	for _, existing := range s.data.deliveries {
		if existing.OrderID == d.OrderID {
			return store.ErrConflict
		}
	}
	d.ID = s.data.next("deliveries")
	d.UpdatedAt = d.AssignedAt
	row := *d
	row.Positions = nil
	s.data.deliveries[d.ID] = row
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	defer s.lock()()
	d, ok := s.data.deliveries[id]
	if !ok {
		return notFound[models.Delivery]()
	}
	return &d, nil
}

func (s *Store) LockDelivery(ctx context.Context, id int64) (*models.Delivery, error) {
	return s.GetDelivery(ctx, id)
}

func (s *Store) GetDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, error) {
	defer s.lock()()
	for _, d := range s.data.deliveries {
		if d.OrderID == orderID {
			return &d, nil
		}
	}
	return notFound[models.Delivery]()
}

func (s *Store) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	defer s.lock()()
	if _, ok := s.data.deliveries[d.ID]; !ok {
		return store.ErrNotFound
	}
	d.UpdatedAt = s.now()
	row := *d
	row.Positions = nil
	s.data.deliveries[d.ID] = row
	return nil
}

func (s *Store) ListDeliveries(ctx context.Context, f models.DeliveryFilter) ([]models.Delivery, error) {
	defer s.lock()()
	deliveries := []models.Delivery{}
	for _, d := range s.data.deliveries {
		if f.CourierID != 0 && d.CourierID != f.CourierID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, d.Status) {
			continue
		}
		if f.Since != nil && d.AssignedAt.Before(*f.Since) {
			continue
		}
		deliveries = append(deliveries, d)
	}
	slices.SortFunc(deliveries, func(a, b models.Delivery) int { return int(b.ID - a.ID) })
	return deliveries, nil
}

func (s *Store) AddPosition(ctx context.Context, p *models.GPSPosition) error {
	defer s.lock()()
	if _, ok := s.data.deliveries[p.DeliveryID]; !ok {
		return store.ErrNotFound
	}
	p.ID = s.data.next("delivery_positions")
	s.data.positions[p.DeliveryID] = append(slices.Clone(s.data.positions[p.DeliveryID]), *p)
	return nil
}

func (s *Store) ListPositions(ctx context.Context, deliveryID int64) ([]models.GPSPosition, error) {
	defer s.lock()()
	return append([]models.GPSPosition{}, s.data.positions[deliveryID]...), nil
}
