package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"egg-market/config"
	"egg-market/internal/apperr"
	"egg-market/internal/auth"
	"egg-market/internal/models"
	"egg-market/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.PasswordCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func ptr[T any](v T) *T {
	return &v
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
}

// recorder captures published events.
type recorder struct {
	mu         sync.Mutex
	fail       bool
	orders     []*models.OrderEvent
	payments   []*models.PaymentEvent
	deliveries []*models.DeliveryEvent
	users      []*models.UserEvent
}

var errBrokerDown = errors.New("broker down")

func (r *recorder) PublishOrderEvent(_ context.Context, e *models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokerDown
	}
	r.orders = append(r.orders, e)
	return nil
}

func (r *recorder) PublishPaymentEvent(_ context.Context, e *models.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokerDown
	}
	r.payments = append(r.payments, e)
	return nil
}

func (r *recorder) PublishDeliveryEvent(_ context.Context, e *models.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokerDown
	}
	r.deliveries = append(r.deliveries, e)
	return nil
}

func (r *recorder) PublishUserEvent(_ context.Context, e *models.UserEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errBrokerDown
	}
	r.users = append(r.users, e)
	return nil
}

func (r *recorder) orderTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.orders))
	for _, e := range r.orders {
		types = append(types, e.EventType)
	}
	return types
}

func (r *recorder) deliveryTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.deliveries))
	for _, e := range r.deliveries {
		types = append(types, e.EventType)
	}
	return types
}

const pending = "\x00pending"

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]string{}}
}

func (m *memIdempotency) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = pending
	return true, nil
}

func (m *memIdempotency) CompleteIdempotencyKey(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = value
	return nil
}

func (m *memIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	if !ok {
		return "", false, nil
	}
	if v == pending {
		return "", true, nil
	}
	return v, false, nil
}

func (m *memIdempotency) ReleaseIdempotencyKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// memCache stores JSON copies like the Redis cache does.
type memCache struct {
	mu      sync.Mutex
	entries map[int64][]byte
	hits    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[int64][]byte{}}
}

func (c *memCache) CacheDelivery(_ context.Context, d *models.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[d.ID] = data
	return nil
}

func (c *memCache) GetCachedDelivery(_ context.Context, id int64) (*models.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	c.hits++
	var d models.Delivery
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *memCache) InvalidateDelivery(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

var testBusiness = config.BusinessConfig{
	DeliveryFee:       500,
	MatchingRadiusKm:  10,
	AverageSpeedKmh:   20,
	DefaultDistanceKm: 5,
	IdempotencyTTL:    time.Hour,
}

// fixture is a marketplace with one admin, client, validated producer with
// a 10-tray product and one available courier, all around Douala.
type fixture struct {
	t   *testing.T
	ctx context.Context
	st  *memory.Store

	events *recorder
	idem   *memIdempotency
	cache  *memCache

	orders     *OrderService
	payments   *PaymentService
	deliveries *DeliveryService
	ratings    *RatingService
	catalog    *CatalogService
	auth       *AuthService
	admin      *AdminService
	stats      *StatsService

	adminActor Actor
	client     Actor
	producer   Actor
	courier    Actor
	address    *models.Address
	category   *models.Category
	product    *models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		st:     st,
		events: &recorder{},
		idem:   newMemIdempotency(),
		cache:  newMemCache(),
	}

	tokens := auth.NewTokenService("test-secret", "egg-market-test", time.Hour)
	f.orders = NewOrderService(st, NewInventory(), f.events, f.idem, testBusiness)
	f.payments = NewPaymentService(st, f.events)
	f.deliveries = NewDeliveryService(st, f.events, f.cache, testBusiness)
	f.ratings = NewRatingService(st)
	f.catalog = NewCatalogService(st)
	f.auth = NewAuthService(st, tokens)
	f.admin = NewAdminService(st, f.events, f.auth)
	f.stats = NewStatsService(st)

	f.adminActor = f.addUser(models.RoleAdmin, "690000000")
	f.client = f.addUser(models.RoleClient, "690000001")
	require.NoError(t, st.CreateClientProfile(f.ctx, &models.ClientProfile{UserID: f.client.UserID}))

	f.producer = f.addUser(models.RoleProducer, "690000002")
	require.NoError(t, st.CreateProducerProfile(f.ctx, &models.ProducerProfile{
		UserID:      f.producer.UserID,
		FarmName:    "Ferme de Bonaberi",
		FarmAddress: "Bonaberi",
		Validated:   true,
		Latitude:    ptr(4.0800),
		Longitude:   ptr(9.7400),
	}))

	f.courier = f.addCourier("690000003", ptr(4.0600), ptr(9.7600))

	f.address = &models.Address{
		ClientID:  f.client.UserID,
		Label:     "Maison",
		Street:    "Rue Joss",
		District:  "Akwa",
		City:      "Douala",
		Latitude:  ptr(4.0511),
		Longitude: ptr(9.7679),
		Primary:   true,
	}
	require.NoError(t, st.CreateAddress(f.ctx, f.address))

	f.category = &models.Category{Name: "Oeufs frais", Active: true}
	require.NoError(t, st.CreateCategory(f.ctx, f.category))

	f.product = &models.Product{
		ProducerID: f.producer.UserID,
		CategoryID: f.category.ID,
		Name:       "Plateau de 30",
		Price:      2500,
		Unit:       models.UnitTray30,
		Stock:      10,
		Available:  true,
	}
	require.NoError(t, st.CreateProduct(f.ctx, f.product))
	return f
}

func (f *fixture) addUser(role models.Role, phone string) Actor {
	f.t.Helper()
	u := &models.User{FirstName: string(role), Phone: phone, Role: role, Active: true}
	require.NoError(f.t, f.st.CreateUser(f.ctx, u))
	return Actor{UserID: u.ID, Role: role}
}

func (f *fixture) addCourier(phone string, lat, lon *float64) Actor {
	f.t.Helper()
	a := f.addUser(models.RoleCourier, phone)
	require.NoError(f.t, f.st.CreateCourierProfile(f.ctx, &models.CourierProfile{
		UserID:      a.UserID,
		Available:   true,
		Validated:   true,
		Independent: true,
		Latitude:    lat,
		Longitude:   lon,
		VehicleType: "MOTO",
	}))
	return a
}

func (f *fixture) orderRequest(qty int) *CreateOrderRequest {
	return &CreateOrderRequest{
		ProducerID:  f.producer.UserID,
		AddressID:   f.address.ID,
		PaymentMode: models.PaymentModeMTNMoMo,
		Lines:       []LineRequest{{ProductID: f.product.ID, Quantity: qty}},
	}
}

func (f *fixture) placeOrder(qty int) *models.Order {
	f.t.Helper()
	o, err := f.orders.CreateOrder(f.ctx, f.client, f.orderRequest(qty))
	require.NoError(f.t, err)
	return o
}

func (f *fixture) confirmedOrder(qty int) *models.Order {
	f.t.Helper()
	o := f.placeOrder(qty)
	o, err := f.orders.Confirm(f.ctx, f.producer, o.ID)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) stock() int {
	f.t.Helper()
	p, err := f.st.GetProduct(f.ctx, f.product.ID)
	require.NoError(f.t, err)
	return p.Stock
}

func (f *fixture) order(id int64) *models.Order {
	f.t.Helper()
	o, err := f.st.GetOrder(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) assignedDelivery(qty int) (*models.Order, *models.Delivery) {
	f.t.Helper()
	o := f.confirmedOrder(qty)
	d, err := f.deliveries.Create(f.ctx, f.producer, CreateDeliveryRequest{OrderID: o.ID})
	require.NoError(f.t, err)
	return o, d
}

// handoffCode reads the code the way the client sees it.
func (f *fixture) handoffCode(orderID int64) string {
	f.t.Helper()
	o, err := f.orders.GetOrder(f.ctx, f.client, orderID)
	require.NoError(f.t, err)
	require.NotNil(f.t, o.Delivery)
	return o.Delivery.ConfirmationCode
}

func TestStoreErrMapping(t *testing.T) {
	assert.NoError(t, storeErr(nil, "order"))

	err := storeErr(apperr.New(apperr.InvalidState, "nope"), "order")
	assert.Equal(t, apperr.InvalidState, apperr.KindOf(err))

	err = storeErr(errors.New("connection reset"), "order")
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Equal(t, "internal server error", apperr.Message(err))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.events.fail = true

	o := f.placeOrder(1)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, 9, f.stock())
}
