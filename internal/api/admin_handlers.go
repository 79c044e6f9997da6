package api

import (
	"net/http"

	"egg-market/internal/models"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listUsers(c *gin.Context) {
	limit, offset := page(c)
	users, err := h.admin.ListUsers(c.Request.Context(), actor(c), models.Role(c.Query("role")), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.admin.GetUser(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) toggleUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.admin.ToggleActive(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) validateUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.admin.Validate(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) rejectUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptional(c, &req) {
		return
	}
	u, err := h.admin.Reject(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) pendingProducers(c *gin.Context) {
	producers, err := h.admin.PendingProducers(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"producers": producers})
}

func (h *Handler) pendingCouriers(c *gin.Context) {
	couriers, err := h.admin.PendingCouriers(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"couriers": couriers})
}

func (h *Handler) salesStats(c *gin.Context) {
	stats, err := h.stats.Sales(c.Request.Context(), actor(c), c.Query("period"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) deliveryStats(c *gin.Context) {
	stats, err := h.stats.Deliveries(c.Request.Context(), actor(c), c.Query("period"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) adminDashboard(c *gin.Context) {
	dash, err := h.stats.AdminDashboard(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (h *Handler) producerDashboard(c *gin.Context) {
	dash, err := h.stats.ProducerDashboard(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

func (h *Handler) courierDashboard(c *gin.Context) {
	dash, err := h.stats.CourierDashboard(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}
