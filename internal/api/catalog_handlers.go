package api

import (
	"net/http"
	"strconv"

	"egg-market/internal/models"
	"egg-market/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	category, err := h.catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (h *Handler) createCategory(c *gin.Context) {
	var req service.CategoryRequest
	if !bind(c, &req) {
		return
	}
	category, err := h.catalog.CreateCategory(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

// listProducts is the public catalog: only products that can be ordered.
func (h *Handler) listProducts(c *gin.Context) {
	f := models.ProductFilter{Search: c.Query("search"), AvailableOnly: true}
	f.ProducerID, _ = strconv.ParseInt(c.Query("producer_id"), 10, 64)
	f.CategoryID, _ = strconv.ParseInt(c.Query("category_id"), 10, 64)
	h.respondProducts(c, f)
}

func (h *Handler) listOwnProducts(c *gin.Context) {
	h.respondProducts(c, models.ProductFilter{ProducerID: actor(c).UserID, Search: c.Query("search")})
}

func (h *Handler) respondProducts(c *gin.Context, f models.ProductFilter) {
	products, err := h.catalog.ListProducts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.ProductRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), actor(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.ProductRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateStock(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req service.StockRequest
	if !bind(c, &req) {
		return
	}
	p, err := h.catalog.UpdateStock(c.Request.Context(), actor(c), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) toggleAvailability(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.catalog.ToggleAvailability(c.Request.Context(), actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
