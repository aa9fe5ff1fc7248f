package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/perimeterlab/botshield-engine/internal/config"
	"github.com/perimeterlab/botshield-engine/internal/db"
	"github.com/perimeterlab/botshield-engine/internal/engine"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

type APIHandler struct {
	cfg    *config.Config
	engine *engine.Engine
	store  *db.LearningStore
}

// handleHealth returns engine status and capabilities for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "operational",
		"engine":    "BotShield Detection Engine v1.0",
		"detectors": h.engine.Registry().EnabledCount(),
		"capabilities": gin.H{
			"llm_escalation":  h.cfg.LLM.Enabled,
			"tls_fingerprint": true,
			"clustering":      true,
			"demo_mode":       h.cfg.Server.DemoMode,
		},
		"dbConnected": h.store != nil,
	})
}

// handleDetectors dumps the loaded manifest catalog, overrides applied.
func (h *APIHandler) handleDetectors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"detectors": h.engine.Registry().All(),
	})
}

// handlePolicies dumps the action policy table in evaluation order.
func (h *APIHandler) handlePolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"policies": h.engine.Policies().Rules(),
	})
}

// handleInspect runs a caller-supplied fingerprint through the full
// pipeline and returns the complete evidence. This is the integration
// path for batch analysis and test harnesses.
// POST /api/v1/inspect {"method": "GET", "path": "/", "userAgent": ..., "remoteIp": ...}
func (h *APIHandler) handleInspect(c *gin.Context) {
	var fp models.Fingerprint
	if err := c.ShouldBindJSON(&fp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid fingerprint body", "details": err.Error()})
		return
	}
	if fp.Method == "" || fp.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "method and path are required"})
		return
	}

	ev := h.engine.Evaluate(c.Request.Context(), &fp)
	c.JSON(http.StatusOK, gin.H{"evidence": ev})
}

// handleVerdicts returns the persisted verdict history, newest first.
func (h *APIHandler) handleVerdicts(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	verdicts, total, err := h.store.RecentVerdicts(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch verdicts", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       verdicts,
		"totalCount": total,
		"page":       page,
		"limit":      limit,
	})
}
