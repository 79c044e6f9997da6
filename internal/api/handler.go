package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"egg-market/internal/apperr"
	"egg-market/internal/models"
	"egg-market/internal/service"
	"egg-market/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the application services behind the HTTP surface.
type Services struct {
	Auth       *service.AuthService
	Catalog    *service.CatalogService
	Orders     *service.OrderService
	Payments   *service.PaymentService
	Deliveries *service.DeliveryService
	Ratings    *service.RatingService
	Admin      *service.AdminService
	Stats      *service.StatsService
}

// Handler contains HTTP handlers
type Handler struct {
	auth       *service.AuthService
	catalog    *service.CatalogService
	orders     *service.OrderService
	payments   *service.PaymentService
	deliveries *service.DeliveryService
	ratings    *service.RatingService
	admin      *service.AdminService
	stats      *service.StatsService
	checks     map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are probed by /ready.
func NewHandler(s Services, checks map[string]Pinger) *Handler {
	return &Handler{
		auth:       s.Auth,
		catalog:    s.Catalog,
		orders:     s.Orders,
		payments:   s.Payments,
		deliveries: s.Deliveries,
		ratings:    s.Ratings,
		admin:      s.Admin,
		stats:      s.Stats,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)
		v1.GET("/categories", h.listCategories)
		v1.GET("/categories/:id", h.getCategory)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/payments/simulation", h.simulationInfo)
	}

	authed := v1.Group("", authMiddleware(h.auth))
	{
		authed.GET("/auth/me", h.me)

		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.GET("/orders/reference/:reference", h.getOrderByReference)
		authed.GET("/orders/:id/payments", h.listOrderPayments)
		authed.GET("/orders/:id/rating", h.getRating)
		authed.POST("/orders/:id/cancel", h.cancelOrder)

		authed.GET("/payments/:id", h.getPayment)
		authed.GET("/payments/reference/:reference", h.getPaymentByReference)

		authed.GET("/deliveries/:id", h.getDelivery)
		authed.GET("/deliveries/:id/tracking", h.trackDelivery)
		authed.POST("/deliveries", requireRole(models.RoleProducer, models.RoleAdmin), h.createDelivery)
	}

	client := authed.Group("", requireRole(models.RoleClient))
	{
		client.GET("/addresses", h.listAddresses)
		client.POST("/addresses", h.addAddress)
		client.POST("/orders", h.createOrder)
		client.POST("/orders/:id/rating", h.rateOrder)
		client.POST("/payments", h.initiatePayment)
		client.POST("/payments/:id/confirm", h.confirmPayment)
		client.POST("/payments/:id/cancel", h.cancelPayment)
	}

	producer := authed.Group("/producer", requireRole(models.RoleProducer))
	{
		producer.PUT("/farm", h.updateFarm)
		producer.GET("/products", h.listOwnProducts)
		producer.POST("/products", h.createProduct)
		producer.PUT("/products/:id", h.updateProduct)
		producer.PATCH("/products/:id/stock", h.updateStock)
		producer.PATCH("/products/:id/availability", h.toggleAvailability)
		producer.DELETE("/products/:id", h.deleteProduct)
		producer.GET("/orders", h.listOrders)
		producer.POST("/orders/:id/confirm", h.confirmOrder)
		producer.POST("/orders/:id/preparing", h.startPreparing)
		producer.POST("/orders/:id/ready", h.markReady)
		producer.POST("/orders/:id/cancel", h.cancelOrder)
		producer.POST("/orders/:id/discount", h.applyDiscount)
		producer.GET("/couriers", h.listProducerCouriers)
		producer.GET("/dashboard", h.producerDashboard)
	}

	courier := authed.Group("", requireRole(models.RoleCourier))
	{
		courier.GET("/courier/deliveries", h.listCourierDeliveries)
		courier.POST("/courier/position", h.updatePosition)
		courier.PUT("/courier/availability", h.setAvailability)
		courier.GET("/courier/dashboard", h.courierDashboard)
		courier.GET("/deliveries/:id/itinerary", h.itinerary)
		courier.POST("/deliveries/:id/accept", h.deliveryStep(h.deliveries.Accept))
		courier.POST("/deliveries/:id/head-to-producer", h.deliveryStep(h.deliveries.HeadToProducer))
		courier.POST("/deliveries/:id/pickup", h.deliveryStep(h.deliveries.MarkPickedUp))
		courier.POST("/deliveries/:id/depart", h.deliveryStep(h.deliveries.Depart))
		courier.POST("/deliveries/:id/arrive", h.deliveryStep(h.deliveries.MarkArrived))
		courier.POST("/deliveries/:id/confirm", h.confirmDelivery)
		courier.POST("/deliveries/:id/failure", h.reportFailure)
	}
	authed.GET("/couriers/independent", requireRole(models.RoleProducer, models.RoleAdmin), h.listIndependentCouriers)

	admin := authed.Group("/admin", requireRole(models.RoleAdmin))
	{
		admin.POST("/categories", h.createCategory)
		admin.GET("/users", h.listUsers)
		admin.GET("/users/:id", h.getUser)
		admin.POST("/users/:id/toggle", h.toggleUser)
		admin.POST("/users/:id/validate", h.validateUser)
		admin.POST("/users/:id/reject", h.rejectUser)
		admin.GET("/pending/producers", h.pendingProducers)
		admin.GET("/pending/couriers", h.pendingCouriers)
		admin.GET("/stats/sales", h.salesStats)
		admin.GET("/stats/deliveries", h.deliveryStats)
		admin.GET("/dashboard", h.adminDashboard)
		admin.GET("/orders", h.listOrders)
		admin.POST("/orders/:id/refund", h.refundOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every dependency and answers 503 when one is down
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}

// idParam parses a positive int64 path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperr.Newf(apperr.Validation, "invalid %s", name))
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body into req, answering 400 on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respondError(c, apperr.Newf(apperr.Validation, "invalid request body: %v", err))
		return false
	}
	return true
}

// bindOptional is bind for endpoints whose body may be omitted.
func bindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bind(c, req)
}

// page reads limit and offset query parameters. Bad values fall back to the
// service defaults.
func page(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return limit, offset
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
