package api

import (
	"context"
	"net/http"

	"egg-market/internal/models"
	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

func (h *Handler) createDelivery(c *gin.Context) {
	var req service.CreateDeliveryRequest
	if !bind(c, &req) {
		return
	}
	d, err := h.deliveries.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handler) getDelivery(c *gin.Context) {
	h.deliveryRead(c, h.deliveries.Get)
}

func (h *Handler) trackDelivery(c *gin.Context) {
	h.deliveryRead(c, h.deliveries.Track)
}

func (h *Handler) deliveryRead(c *gin.Context, read func(context.Context, service.Actor, int64) (*models.Delivery, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	d, err := read(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// deliveryStep wraps one courier transition on the delivery in the path.
func (h *Handler) deliveryStep(step func(context.Context, service.Actor, int64) (*models.Delivery, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		d, err := step(c.Request.Context(), actor(c), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.ConfirmDeliveryRequest
	if !bindOptional(c, &req) {
		return
	}
	res, err := h.deliveries.Confirm(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) reportFailure(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	d, err := h.deliveries.ReportFailure(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) itinerary(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	it, err := h.deliveries.Itinerary(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (h *Handler) listCourierDeliveries(c *gin.Context) {
	deliveries, err := h.deliveries.ListForCourier(c.Request.Context(), actor(c), models.DeliveryStatus(c.Query("status")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries})
}

func (h *Handler) updatePosition(c *gin.Context) {
	var req service.PositionUpdate
	if !bind(c, &req) {
		return
	}
	if err := h.deliveries.UpdatePosition(c.Request.Context(), actor(c), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) setAvailability(c *gin.Context) {
	var req availabilityRequest
	if !bind(c, &req) {
		return
	}
	profile, err := h.deliveries.SetAvailability(c.Request.Context(), actor(c), *req.Available)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) listProducerCouriers(c *gin.Context) {
	couriers, err := h.deliveries.ListProducerCouriers(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"couriers": couriers})
}

func (h *Handler) listIndependentCouriers(c *gin.Context) {
	couriers, err := h.deliveries.ListIndependentCouriers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"couriers": couriers})
}
