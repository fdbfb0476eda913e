package campaign

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	v1 := engine.Group("/v1")
	v1.POST("/campaigns", h.create)
	v1.GET("/campaigns/:id", h.get)
	v1.POST("/campaigns/:id/activate", h.activate)
	v1.POST("/campaigns/:id/close", h.close)
	v1.PUT("/campaigns/:id/shares", h.putShares)
	v1.GET("/campaigns/:id/shares", h.listShares)
}

func (h *handler) create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *handler) get(c *gin.Context) {
	found, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, found)
}

func (h *handler) activate(c *gin.Context) {
	updated, err := h.svc.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (h *handler) close(c *gin.Context) {
	updated, err := h.svc.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, updated)
}

func (h *handler) putShares(c *gin.Context) {
	var req struct {
		Shares []ShareInput `json:"shares"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shares, err := h.svc.PutShares(c.Request.Context(), c.Param("id"), req.Shares)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares})
}

func (h *handler) listShares(c *gin.Context) {
	shares, err := h.svc.ListShares(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shares": shares})
}
