package settlement

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundflow-settlement/pkg/middleware"
)

type handler struct {
	svc *Service
}

func registerRoutes(engine *gin.Engine, svc *Service) {
	h := &handler{svc: svc}

	v1 := engine.Group("/v1")
	v1.POST("/campaigns/:id/settlement", h.create)
	v1.GET("/campaigns/:id/settlements", h.listByCampaign)
	v1.GET("/campaigns/:id/consistency", h.checkConsistency)
	v1.POST("/campaigns/:id/reconcile", h.reconcile)
	v1.GET("/settlements/:id", h.get)
	v1.POST("/settlements/:id/approve", h.approve)
	v1.POST("/settlements/:id/paid", h.markPaid)
	v1.POST("/settlements/:id/fail", h.markFailed)
}

// create is the manual trigger. The response distinguishes a fresh
// settlement (201) from an idempotent hit on an open one (200), and a
// campaign still below target comes back as 200 with a null settlement.
func (h *handler) create(c *gin.Context) {
	var req CreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	req.CampaignID = c.Param("id")
	if req.TriggeredBy == "" {
		req.TriggeredBy = middleware.GetChannel(c.Request.Context())
	}

	entry, err := h.svc.CreateIfTargetReached(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"settlement": nil, "eligible": false})
		return
	}

	status := http.StatusOK
	if len(entry.Payouts) > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, entry)
}

func (h *handler) get(c *gin.Context) {
	entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) listByCampaign(c *gin.Context) {
	entries, err := h.svc.ListByCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (h *handler) checkConsistency(c *gin.Context) {
	report, err := h.svc.CheckConsistency(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *handler) reconcile(c *gin.Context) {
	total, err := h.svc.SyncRunningTotal(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"campaign_id": c.Param("id"), "current_amount": total})
}

func (h *handler) approve(c *gin.Context) {
	entry, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) markPaid(c *gin.Context) {
	entry, err := h.svc.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handler) markFailed(c *gin.Context) {
	entry, err := h.svc.MarkFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, entry)
}
