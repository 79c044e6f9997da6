package api

import (
	"net/http"

	"egg-market/internal/models"
	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type discountRequest struct {
	Discount int64 `json:"discount"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bind(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), actor(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// listOrders lists the caller's orders; the scope follows the role.
func (h *Handler) listOrders(c *gin.Context) {
	limit, offset := page(c)
	orders, err := h.orders.ListOrders(c.Request.Context(), actor(c), models.OrderStatus(c.Query("status")), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getOrderByReference(c *gin.Context) {
	order, err := h.orders.GetOrderByReference(c.Request.Context(), actor(c), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// orderAction runs a producer transition on the order in the path.
func (h *Handler) orderAction(c *gin.Context, run func(*gin.Context, int64) (*models.Order, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := run(c, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.Confirm(c.Request.Context(), actor(c), id)
	})
}

func (h *Handler) startPreparing(c *gin.Context) {
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.StartPreparing(c.Request.Context(), actor(c), id)
	})
}

func (h *Handler) markReady(c *gin.Context) {
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.MarkReady(c.Request.Context(), actor(c), id)
	})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.Cancel(c.Request.Context(), actor(c), id, req.Reason)
	})
}

func (h *Handler) refundOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.Refund(c.Request.Context(), actor(c), id, req.Reason)
	})
}

func (h *Handler) applyDiscount(c *gin.Context) {
	var req discountRequest
	if !bind(c, &req) {
		return
	}
	h.orderAction(c, func(c *gin.Context, id int64) (*models.Order, error) {
		return h.orders.ApplyDiscount(c.Request.Context(), actor(c), id, req.Discount)
	})
}

func (h *Handler) rateOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.RateOrderRequest
	if !bind(c, &req) {
		return
	}
	rating, err := h.ratings.RateOrder(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

func (h *Handler) getRating(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	rating, err := h.ratings.GetRating(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rating)
}
