package api

import (
	"net/http"

	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) login(c *gin.Context) {
	var req service.LoginRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) me(c *gin.Context) {
	u, err := h.auth.Me(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) listAddresses(c *gin.Context) {
	addresses, err := h.auth.ListAddresses(c.Request.Context(), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses})
}

func (h *Handler) addAddress(c *gin.Context) {
	var req service.AddressRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auth.AddAddress(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) updateFarm(c *gin.Context) {
	var req service.FarmRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.auth.UpdateFarm(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
