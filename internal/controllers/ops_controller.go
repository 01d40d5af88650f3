package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/services"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

const healthTimeout = 3 * time.Second

type OpsController struct {
	logs *services.LogService
	kb   *services.KBService
}

func NewOpsController(logs *services.LogService, kb *services.KBService) *OpsController {
	return &OpsController{logs: logs, kb: kb}
}

// Root is a plain liveness banner.
func (oc *OpsController) Root(c *gin.Context) {
	c.String(http.StatusOK, "SecureFlow backend running (SSE and WebSocket enabled)")
}

// Health reports store connectivity plus cache and subscriber sizes.
func (oc *OpsController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	storeStatus := gin.H{"status": "ok"}
	overallStatus := "ok"
	statusCode := http.StatusOK

	if err := oc.logs.Ping(ctx); err != nil {
		storeStatus = gin.H{"status": "error", "error": err.Error()}
		overallStatus = "error"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services": gin.H{
			"store": storeStatus,
			"cache": gin.H{
				"records": oc.logs.CacheSize(),
			},
			"stream": gin.H{
				"subscribers": oc.logs.Subscribers(),
				"seq":         oc.logs.PublishedSeq(),
			},
		},
	})
}

// DebugLogs lists the keys held in the working cache.
func (oc *OpsController) DebugLogs(c *gin.Context) {
	keys := oc.logs.CachedKeys()
	c.JSON(http.StatusOK, gin.H{"count": len(keys), "keys": keys})
}

// DebugKB lists condensed KB items, oldest first.
func (oc *OpsController) DebugKB(c *gin.Context) {
	items, err := oc.kb.ExportKB(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	condensed := make([]gin.H, 0, len(items))
	for _, item := range items {
		condensed = append(condensed, gin.H{
			"id":        item.ID,
			"risk":      item.Risk,
			"createdAt": item.CreatedAt,
			"logKey":    item.LogKey,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": condensed})
}
