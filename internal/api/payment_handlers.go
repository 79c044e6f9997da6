package api

import (
	"net/http"

	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) initiatePayment(c *gin.Context) {
	var req service.InitiatePaymentRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.payments.Initiate(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) confirmPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.ConfirmPaymentRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.payments.Confirm(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) cancelPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.payments.Cancel(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.payments.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getPaymentByReference(c *gin.Context) {
	p, err := h.payments.GetByReference(c.Request.Context(), actor(c), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listOrderPayments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	payments, err := h.payments.ListByOrder(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) simulationInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.payments.SimulationInfo())
}
