package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/logger"

	"github.com/gin-gonic/gin"
)

// requireID validates the :id path parameter and stores it as "id".
func requireID(entity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + entity + " ID format"})
			c.Abort()
			return
		}
		c.Set("id", id)
		c.Next()
	}
}

func pathID(c *gin.Context) int64 {
	return c.GetInt64("id")
}

// respondStoreError maps ErrNotFound to 404 and anything else to 500.
func respondStoreError(c *gin.Context, err error, entity, action string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": capitalize(entity) + " not found"})
		return
	}
	logger.Error("Failed to "+action,
		logger.String("path", c.Request.URL.Path),
		logger.String("request_id", c.GetString("request_id")),
		logger.Err(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
