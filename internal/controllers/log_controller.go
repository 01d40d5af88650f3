package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/services"
)

type LogController struct {
	logs    *services.LogService
	metrics *services.MetricsService
}

func NewLogController(logs *services.LogService, metrics *services.MetricsService) *LogController {
	return &LogController{
		logs:    logs,
		metrics: metrics,
	}
}

// Ingest accepts one analyzed log from the pipeline.
func (lc *LogController) Ingest(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := lc.logs.Ingest(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"ok":       true,
		"accepted": result.Accepted,
	}
	if result.Summary != nil {
		resp["summary"] = result.Summary
	}
	c.JSON(http.StatusOK, resp)
}

// GetLogs returns the newest records, newest first.
func (lc *LogController) GetLogs(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}
	if limit < 0 {
		respondError(c, &services.ValidationError{Field: "limit", Message: "must not be negative"})
		return
	}

	recs, err := lc.logs.GetRecent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetLog returns one record by key.
func (lc *LogController) GetLog(c *gin.Context) {
	rec, err := lc.logs.GetByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateLog merges the supplied fields onto an existing record.
func (lc *LogController) UpdateLog(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := lc.logs.ReplaceFields(c.Request.Context(), c.Param("key"), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// MarkLearned records that a log has been used for training.
func (lc *LogController) MarkLearned(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		respondError(c, err)
		return
	}
	patch, err := lc.logs.ParseLearnPatch(body)
	if err != nil {
		respondError(c, err)
		return
	}

	rec, err := lc.logs.MarkLearnComplete(c.Request.Context(), c.Param("key"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetLearnQueue lists records waiting to be learned.
func (lc *LogController) GetLearnQueue(c *gin.Context) {
	recs, err := lc.logs.ListLearnQueue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetSummary returns the all-time dashboard counts.
func (lc *LogController) GetSummary(c *gin.Context) {
	sum, err := lc.logs.GetSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// GetMetrics returns windowed operational statistics.
func (lc *LogController) GetMetrics(c *gin.Context) {
	window, err := queryInt(c, "window")
	if err != nil {
		respondError(c, err)
		return
	}

	m, err := lc.metrics.Compute(c.Request.Context(), window)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
