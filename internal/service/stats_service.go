package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/util"

	"go.uber.org/zap"
)

const (
	topProducers = 5
	recentOrders = 5
	chartDays    = 7
)

// StatsService aggregates sales and delivery figures for dashboards.
type StatsService struct {
	store  DataStore
	now    func() time.Time
	logger *zap.Logger
}

func NewStatsService(st DataStore) *StatsService {
	return &StatsService{store: st, now: nowUTC, logger: util.GetLogger()}
}

type DaySales struct {
	Date    string `json:"date"`
	Revenue int64  `json:"revenue"`
	Orders  int    `json:"orders"`
}

type ProducerSales struct {
	ProducerID int64  `json:"producer_id"`
	FarmName   string `json:"farm_name"`
	Revenue    int64  `json:"revenue"`
	Orders     int    `json:"orders"`
}

type SalesStats struct {
	Period        string          `json:"period"`
	Since         time.Time       `json:"since"`
	Revenue       int64           `json:"revenue"`
	Orders        int             `json:"orders"`
	AverageBasket float64         `json:"average_basket"`
	Clients       int             `json:"clients"`
	Daily         []DaySales      `json:"daily"`
	TopProducers  []ProducerSales `json:"top_producers"`
}

type DeliveryStats struct {
	Period          string    `json:"period"`
	Since           time.Time `json:"since"`
	Total           int       `json:"total"`
	Delivered       int       `json:"delivered"`
	Failed          int       `json:"failed"`
	SuccessRate     float64   `json:"success_rate"`
	TotalDistanceKm float64   `json:"total_distance_km"`
}

type AdminDashboard struct {
	Clients          int        `json:"clients"`
	Producers        int        `json:"producers"`
	Couriers         int        `json:"couriers"`
	MonthOrders      int        `json:"month_orders"`
	MonthRevenue     int64      `json:"month_revenue"`
	PendingProducers int        `json:"pending_producers"`
	PendingCouriers  int        `json:"pending_couriers"`
	LastDays         []DaySales `json:"last_days"`
}

type ProducerDashboard struct {
	MonthRevenue  int64          `json:"month_revenue"`
	MonthOrders   int            `json:"month_orders"`
	PendingOrders int            `json:"pending_orders"`
	InStock       int            `json:"in_stock"`
	OutOfStock    int            `json:"out_of_stock"`
	RatingAvg     float64        `json:"rating_avg"`
	RatingCount   int            `json:"rating_count"`
	SalesCount    int            `json:"sales_count"`
	RecentOrders  []models.Order `json:"recent_orders"`
}

type CourierDashboard struct {
	Available         bool    `json:"available"`
	TodayDeliveries   int     `json:"today_deliveries"`
	TodayDelivered    int     `json:"today_delivered"`
	TodayEarnings     int64   `json:"today_earnings"`
	TodayDistanceKm   float64 `json:"today_distance_km"`
	ActiveDeliveries  int     `json:"active_deliveries"`
	WaitingDeliveries int     `json:"waiting_deliveries"`
	RatingAvg         float64 `json:"rating_avg"`
	DeliveryCount     int     `json:"delivery_count"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// periodStart resolves day, week, month or year. Empty means month.
func periodStart(period string, now time.Time) (string, time.Time, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	switch period {
	case "day":
		return period, startOfDay(now), nil
	case "week":
		return period, startOfDay(now.AddDate(0, 0, -7)), nil
	case "", "month":
		return "month", startOfMonth(now), nil
	case "year":
		return period, time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), nil
	}
	return "", time.Time{}, apperr.Newf(apperr.Validation, "unknown period %q (day, week, month, year)", period)
}

// billable returns the non-cancelled orders created since the given time.
func (s *StatsService) billable(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	orders, _, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, storeErr(err, "orders")
	}
	kept := orders[:0]
	for _, o := range orders {
		if o.Status != models.OrderStatusCancelled {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

func revenue(orders []models.Order) int64 {
	var total int64
	for _, o := range orders {
		total += o.Total
	}
	return total
}

func daily(orders []models.Order) []DaySales {
	byDay := map[string]*DaySales{}
	for _, o := range orders {
		key := o.CreatedAt.Format("2006-01-02")
		day, ok := byDay[key]
		if !ok {
			day = &DaySales{Date: key}
			byDay[key] = day
		}
		day.Revenue += o.Total
		day.Orders++
	}
	days := make([]DaySales, 0, len(byDay))
	for _, d := range byDay {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

func (s *StatsService) Sales(ctx context.Context, actor Actor, period string) (*SalesStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	period, since, err := periodStart(period, s.now())
	if err != nil {
		return nil, err
	}
	orders, err := s.billable(ctx, models.OrderFilter{Since: &since})
	if err != nil {
		return nil, err
	}

	stats := &SalesStats{
		Period:  period,
		Since:   since,
		Revenue: revenue(orders),
		Orders:  len(orders),
		Daily:   daily(orders),
	}
	if len(orders) > 0 {
		stats.AverageBasket = float64(stats.Revenue) / float64(len(orders))
	}

	clients := map[int64]struct{}{}
	byProducer := map[int64]*ProducerSales{}
	for _, o := range orders {
		clients[o.ClientID] = struct{}{}
		ps, ok := byProducer[o.ProducerID]
		if !ok {
			ps = &ProducerSales{ProducerID: o.ProducerID}
			byProducer[o.ProducerID] = ps
		}
		ps.Revenue += o.Total
		ps.Orders++
	}
	stats.Clients = len(clients)

	top := make([]ProducerSales, 0, len(byProducer))
	for _, ps := range byProducer {
		top = append(top, *ps)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Revenue != top[j].Revenue {
			return top[i].Revenue > top[j].Revenue
		}
		return top[i].ProducerID < top[j].ProducerID
	})
	if len(top) > topProducers {
		top = top[:topProducers]
	}
	for i := range top {
		if p, err := s.store.GetProducerProfile(ctx, top[i].ProducerID); err == nil {
			top[i].FarmName = p.FarmName
		}
	}
	stats.TopProducers = top
	return stats, nil
}

// Deliveries reports delivery outcomes. The success rate is 100 when there
// were no deliveries.
func (s *StatsService) Deliveries(ctx context.Context, actor Actor, period string) (*DeliveryStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	period, since, err := periodStart(period, s.now())
	if err != nil {
		return nil, err
	}
	deliveries, err := s.store.ListDeliveries(ctx, models.DeliveryFilter{Since: &since})
	if err != nil {
		return nil, storeErr(err, "deliveries")
	}

	stats := &DeliveryStats{Period: period, Since: since, Total: len(deliveries), SuccessRate: 100}
	for _, d := range deliveries {
		switch d.Status {
		case models.DeliveryStatusDelivered:
			stats.Delivered++
		case models.DeliveryStatusFailed:
			stats.Failed++
		}
		stats.TotalDistanceKm += d.DistanceKm
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Delivered) * 100 / float64(stats.Total)
	}
	return stats, nil
}

func (s *StatsService) AdminDashboard(ctx context.Context, actor Actor) (*AdminDashboard, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := s.now()
	counts, err := s.store.CountUsersByRole(ctx)
	if err != nil {
		return nil, storeErr(err, "users")
	}

	monthStart := startOfMonth(now)
	month, err := s.billable(ctx, models.OrderFilter{Since: &monthStart})
	if err != nil {
		return nil, err
	}
	weekStart := startOfDay(now.AddDate(0, 0, -(chartDays - 1)))
	week, err := s.billable(ctx, models.OrderFilter{Since: &weekStart})
	if err != nil {
		return nil, err
	}

	pending := false
	producers, err := s.store.ListProducerProfiles(ctx, &pending)
	if err != nil {
		return nil, storeErr(err, "producers")
	}
	couriers, err := s.store.ListCourierProfiles(ctx, models.CourierFilter{Validated: &pending})
	if err != nil {
		return nil, storeErr(err, "couriers")
	}

	return &AdminDashboard{
		Clients:          counts[models.RoleClient],
		Producers:        counts[models.RoleProducer],
		Couriers:         counts[models.RoleCourier],
		MonthOrders:      len(month),
		MonthRevenue:     revenue(month),
		PendingProducers: len(producers),
		PendingCouriers:  len(couriers),
		LastDays:         lastDays(week, weekStart),
	}, nil
}

// lastDays fills a series of chartDays entries from start, zeroes included.
func lastDays(orders []models.Order, start time.Time) []DaySales {
	byDay := map[string]DaySales{}
	for _, d := range daily(orders) {
		byDay[d.Date] = d
	}
	series := make([]DaySales, 0, chartDays)
	for i := 0; i < chartDays; i++ {
		key := start.AddDate(0, 0, i).Format("2006-01-02")
		day, ok := byDay[key]
		if !ok {
			day = DaySales{Date: key}
		}
		series = append(series, day)
	}
	return series
}

func (s *StatsService) ProducerDashboard(ctx context.Context, actor Actor) (*ProducerDashboard, error) {
	if actor.Role != models.RoleProducer {
		return nil, apperr.New(apperr.Unauthorized, "producer access required")
	}
	profile, err := s.store.GetProducerProfile(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "producer")
	}

	monthStart := startOfMonth(s.now())
	month, err := s.billable(ctx, models.OrderFilter{ProducerID: actor.UserID, Since: &monthStart})
	if err != nil {
		return nil, err
	}
	_, pending, err := s.store.ListOrders(ctx, models.OrderFilter{
		ProducerID: actor.UserID,
		Status:     models.OrderStatusPending,
		Limit:      1,
	})
	if err != nil {
		return nil, storeErr(err, "orders")
	}
	recent, _, err := s.store.ListOrders(ctx, models.OrderFilter{ProducerID: actor.UserID, Limit: recentOrders})
	if err != nil {
		return nil, storeErr(err, "orders")
	}
	products, err := s.store.ListProducts(ctx, models.ProductFilter{ProducerID: actor.UserID})
	if err != nil {
		return nil, storeErr(err, "products")
	}

	dash := &ProducerDashboard{
		MonthRevenue:  revenue(month),
		MonthOrders:   len(month),
		PendingOrders: pending,
		RatingAvg:     profile.RatingAvg,
		RatingCount:   profile.RatingCount,
		SalesCount:    profile.SalesCount,
		RecentOrders:  recent,
	}
	for _, p := range products {
		if p.Stock > 0 {
			dash.InStock++
		} else {
			dash.OutOfStock++
		}
	}
	return dash, nil
}

// CourierDashboard summarises today's work. Earnings are the delivery fees
// of orders delivered today.
func (s *StatsService) CourierDashboard(ctx context.Context, actor Actor) (*CourierDashboard, error) {
	if actor.Role != models.RoleCourier {
		return nil, apperr.New(apperr.Unauthorized, "courier access required")
	}
	profile, err := s.store.GetCourierProfile(ctx, actor.UserID)
	if err != nil {
		return nil, storeErr(err, "courier")
	}

	today := startOfDay(s.now())
	todays, err := s.store.ListDeliveries(ctx, models.DeliveryFilter{CourierID: actor.UserID, Since: &today})
	if err != nil {
		return nil, storeErr(err, "deliveries")
	}
	active, err := s.store.ListDeliveries(ctx, models.DeliveryFilter{
		CourierID: actor.UserID,
		Statuses:  models.ActiveDeliveryStatuses(),
	})
	if err != nil {
		return nil, storeErr(err, "deliveries")
	}

	dash := &CourierDashboard{
		Available:       profile.Available,
		TodayDeliveries: len(todays),
		RatingAvg:       profile.RatingAvg,
		DeliveryCount:   profile.DeliveryCount,
	}
	for _, d := range todays {
		if d.Status != models.DeliveryStatusDelivered {
			continue
		}
		dash.TodayDelivered++
		dash.TodayDistanceKm += d.DistanceKm
		o, err := s.store.GetOrder(ctx, d.OrderID)
		if err != nil {
			s.logger.Warn("Order missing for delivery", zap.Int64("delivery_id", d.ID), zap.Error(err))
			continue
		}
		dash.TodayEarnings += o.DeliveryFee
	}
	for _, d := range active {
		if d.Status == models.DeliveryStatusAssigned {
			dash.WaitingDeliveries++
		} else {
			dash.ActiveDeliveries++
		}
	}
	return dash, nil
}
