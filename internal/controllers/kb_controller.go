package controllers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/services"
)

// CompressZstd is the only accepted value of the export compress parameter.
const CompressZstd = "zstd"

type KBController struct {
	kb *services.KBService
}

func NewKBController(kb *services.KBService) *KBController {
	return &KBController{kb: kb}
}

// AddItem appends a labeled example to the knowledge base.
func (kc *KBController) AddItem(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	var req services.AddKBItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid request body"})
		return
	}

	item, err := kc.kb.AddKBItem(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "item": item})
}

// GetExamples returns recent items filtered by category and risk.
func (kc *KBController) GetExamples(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	items, err := kc.kb.ListKBExamples(c.Request.Context(), c.Query("category"), c.Query("risk"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// Export streams the whole knowledge base.
func (kc *KBController) Export(c *gin.Context) {
	format := c.DefaultQuery("format", services.ExportJSON)
	if !services.ValidExportFormat(format) {
		respondError(c, &services.ValidationError{Field: "format", Message: "must be json or ndjson"})
		return
	}
	compress := c.Query("compress")
	if compress != "" && compress != CompressZstd {
		respondError(c, &services.ValidationError{Field: "compress", Message: "must be zstd"})
		return
	}

	contentType := "application/json"
	filename := "security-kb.json"
	if format == services.ExportNDJSON {
		contentType = "application/x-ndjson"
		filename = "security-kb.ndjson"
	}
	if compress == CompressZstd {
		contentType = "application/zstd"
		filename += ".zst"
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	opts := services.ExportOptions{Format: format, Compress: compress == CompressZstd}
	if err := kc.kb.WriteExport(c.Request.Context(), c.Writer, opts); err != nil {
		if c.Writer.Written() {
			logger.WithError(err, "kb_controller").Error("KB export aborted mid-stream")
			return
		}
		c.Writer.Header().Del("Content-Type")
		c.Writer.Header().Del("Content-Disposition")
		respondError(c, err)
	}
}
