package funding

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundflow-settlement/pkg/db/pagination"
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	v1 := engine.Group("/v1")
	v1.POST("/contributions", h.record)
	v1.POST("/contributions/:id/succeed", h.succeed)
	v1.POST("/contributions/:id/fail", h.fail)
	v1.POST("/contributions/:id/refund", h.refund)
	v1.GET("/campaigns/:id/contributions", h.listByCampaign)
}

func (h *handler) record(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.Record(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *handler) succeed(c *gin.Context) {
	var req SucceedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.svc.MarkSucceeded(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) fail(c *gin.Context) {
	entry, err := h.svc.MarkFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) refund(c *gin.Context) {
	entry, err := h.svc.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) listByCampaign(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, info, err := h.svc.ListByCampaign(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries, "page_info": info})
}
