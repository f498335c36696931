package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"infra-monitor/internal/client"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
)

type listResponse[T any] struct {
	Version   uint64     `json:"version"`
	FetchedAt *time.Time `json:"fetchedAt"`
	Stale     bool       `json:"stale"`
	Items     []T        `json:"items"`
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.poller.View())
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"feeds":   s.poller.Status(),
		"clients": s.hub.Count(),
	})
}

func (s *Server) handleSystems(c *gin.Context) {
	snap := s.poller.Systems.Snapshot()
	c.JSON(http.StatusOK, listResponse[models.System]{
		Version:   snap.Version,
		FetchedAt: fetchedAt(snap.FetchedAt),
		Stale:     snap.Err != nil,
		Items:     snap.Items,
	})
}

// handleLogs filters the polled log window; all given filters must match.
func (s *Server) handleLogs(c *gin.Context) {
	var systemID int64
	if raw := c.Query("systemId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "systemId must be a positive integer", "field": "systemId"})
			return
		}
		systemID = id
	}
	level := models.LogLevel(c.Query("level"))
	if level != "" && !level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must be one of: info, warning, error, critical", "field": "level"})
		return
	}

	snap := s.poller.Logs.Snapshot()
	c.JSON(http.StatusOK, listResponse[models.Log]{
		Version:   snap.Version,
		FetchedAt: fetchedAt(snap.FetchedAt),
		Stale:     snap.Err != nil,
		Items:     FilterLogs(snap.Items, systemID, level),
	})
}

// FilterLogs returns the entries matching every non-zero filter, in their
// input order.
func FilterLogs(logs []models.Log, systemID int64, level models.LogLevel) []models.Log {
	out := make([]models.Log, 0, len(logs))
	for _, l := range logs {
		if systemID != 0 && l.SystemID != systemID {
			continue
		}
		if level != "" && l.Level != level {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (s *Server) handleCreateSystem(c *gin.Context) {
	var in models.NewSystem
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	created, err := s.upstream.CreateSystem(ctx, in)
	if err != nil {
		s.respondUpstreamError(c, err, "create system")
		return
	}

	s.poller.Systems.Invalidate()
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdateSystem(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var patch models.SystemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed JSON body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	updated, err := s.upstream.UpdateSystem(ctx, id, patch)
	if err != nil {
		s.respondUpstreamError(c, err, "update system")
		return
	}

	s.poller.Systems.Invalidate()
	c.JSON(http.StatusOK, updated)
}

// respondUpstreamError relays API rejections as-is and maps transport
// failures to 502.
func (s *Server) respondUpstreamError(c *gin.Context, err error, action string) {
	var se *client.StatusError
	if errors.As(err, &se) {
		body := gin.H{"error": se.Message}
		if se.Field != "" {
			body["field"] = se.Field
		}
		c.JSON(se.StatusCode, body)
		return
	}
	logger.Error("Upstream request failed", logger.String("action", action), logger.Err(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "Bad Gateway - Service unavailable"})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid system ID format"})
		return 0, false
	}
	return id, true
}

func fetchedAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
