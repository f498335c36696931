package api

import (
	"context"
	"net/http"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
)

type createLogRequest struct {
	SystemID *int64  `json:"systemId" binding:"required,gt=0"`
	Level    string  `json:"level" binding:"omitempty,oneof=info warning error critical"`
	Message  string  `json:"message" binding:"required,max=10000"`
	Source   *string `json:"source" binding:"omitempty,max=255"`
}

func (s *Server) handleListLogs(c *gin.Context) {
	systemID, verr := queryID(c, "systemId")
	if verr != nil {
		respondValidation(c, verr)
		return
	}
	level := models.LogLevel(c.Query("level"))
	if level != "" && !level.Valid() {
		respondValidation(c, invalid("level", "level must be one of: info, warning, error, critical"))
		return
	}
	limit, verr := queryInt(c, "limit", 1, store.MaxLimit)
	if verr != nil {
		respondValidation(c, verr)
		return
	}
	hours, verr := queryHours(c)
	if verr != nil {
		respondValidation(c, verr)
		return
	}

	filter := models.LogFilter{SystemID: systemID, Level: level, Limit: limit}
	if hours > 0 {
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	logs, err := s.repo.ListLogs(ctx, filter)
	if err != nil {
		respondStoreError(c, err, "logs", "fetch logs")
		return
	}

	c.JSON(http.StatusOK, logs)
}

const (
	defaultRecentLogs = 10
	maxRecentLogs     = 100
)

// handleRecentLogs returns the newest logs across all systems.
func (s *Server) handleRecentLogs(c *gin.Context) {
	limit, verr := queryInt(c, "limit", 1, maxRecentLogs)
	if verr != nil {
		respondValidation(c, verr)
		return
	}
	if limit == 0 {
		limit = defaultRecentLogs
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	logs, err := s.repo.ListLogs(ctx, models.LogFilter{Limit: limit})
	if err != nil {
		respondStoreError(c, err, "logs", "fetch recent logs")
		return
	}

	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleGetLog(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	entry, err := s.repo.GetLog(ctx, pathID(c))
	if err != nil {
		respondStoreError(c, err, "log", "fetch log")
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleCreateLog(c *gin.Context) {
	var req createLogRequest
	if verr := bindJSON(c, &req); verr != nil {
		respondValidation(c, verr)
		return
	}
	if verr := requireNonBlank("message", &req.Message); verr != nil {
		respondValidation(c, verr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if !s.requireSystem(ctx, c, *req.SystemID) {
		return
	}

	entry, err := s.repo.CreateLog(ctx, models.NewLog{
		SystemID: *req.SystemID,
		Level:    models.LogLevel(req.Level),
		Message:  req.Message,
		Source:   req.Source,
	})
	if err != nil {
		respondStoreError(c, err, "log", "create log")
		return
	}

	if s.telemetry != nil {
		s.telemetry.RecordIngested("logs", 1)
	}
	s.publish(events.ChangeEvent{Resource: events.ResourceLogs, Action: events.ActionCreated, ID: entry.ID, SystemID: entry.SystemID})
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleResolveLog(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	entry, err := s.repo.ResolveLog(ctx, pathID(c))
	if err != nil {
		respondStoreError(c, err, "log", "resolve log")
		return
	}

	s.publish(events.ChangeEvent{Resource: events.ResourceLogs, Action: events.ActionResolved, ID: entry.ID, SystemID: entry.SystemID})
	c.JSON(http.StatusOK, entry)
}
