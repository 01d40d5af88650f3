package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/services"
)

// MaxBodyBytes caps request bodies accepted from the pipeline.
const MaxBodyBytes = 1 << 20

// respondError maps service errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": verr.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "Log record not found"})
	default:
		logger.Error("Request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Internal server error"})
	}
}

// readBody reads the request body up to MaxBodyBytes.
func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &services.ValidationError{Field: "body", Message: "request body too large"}
		}
		return nil, &services.ValidationError{Field: "body", Message: "failed to read request body"}
	}
	return body, nil
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}
