package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
)

type createSystemRequest struct {
	Name      string  `json:"name" binding:"required,max=255"`
	Type      string  `json:"type" binding:"required,oneof=database linux windows"`
	IPAddress string  `json:"ipAddress" binding:"required,ip"`
	Status    string  `json:"status" binding:"omitempty,oneof=online offline warning"`
	Version   *string `json:"version" binding:"omitempty,max=100"`
}

type updateSystemRequest struct {
	Name      *string `json:"name" binding:"omitempty,max=255"`
	Type      *string `json:"type" binding:"omitempty,oneof=database linux windows"`
	IPAddress *string `json:"ipAddress" binding:"omitempty,ip"`
	Status    *string `json:"status" binding:"omitempty,oneof=online offline warning"`
	Version   *string `json:"version" binding:"omitempty,max=100"`
}

func (r updateSystemRequest) patch() models.SystemPatch {
	p := models.SystemPatch{Name: r.Name, IPAddress: r.IPAddress, Version: r.Version}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		p.Name = &name
	}
	if r.Type != nil {
		t := models.SystemType(*r.Type)
		p.Type = &t
	}
	if r.Status != nil {
		st := models.SystemStatus(*r.Status)
		p.Status = &st
	}
	return p
}

func (s *Server) handleListSystems(c *gin.Context) {
	filter := models.SystemFilter{
		Type:   models.SystemType(c.Query("type")),
		Status: models.SystemStatus(c.Query("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		respondValidation(c, invalid("type", "type must be one of: database, linux, windows"))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondValidation(c, invalid("status", "status must be one of: online, offline, warning"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	systems, err := s.repo.ListSystems(ctx, filter)
	if err != nil {
		respondStoreError(c, err, "systems", "fetch systems")
		return
	}

	c.JSON(http.StatusOK, systems)
}

func (s *Server) handleSystemCounts(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	counts, err := s.repo.CountSystemsByStatus(ctx)
	if err != nil {
		respondStoreError(c, err, "systems", "fetch system stats")
		return
	}

	c.JSON(http.StatusOK, counts)
}

func (s *Server) handleGetSystem(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	system, err := s.repo.GetSystem(ctx, pathID(c))
	if err != nil {
		respondStoreError(c, err, "system", "fetch system")
		return
	}

	c.JSON(http.StatusOK, system)
}

func (s *Server) handleCreateSystem(c *gin.Context) {
	var req createSystemRequest
	if verr := bindJSON(c, &req); verr != nil {
		respondValidation(c, verr)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if verr := requireNonBlank("name", &req.Name); verr != nil {
		respondValidation(c, verr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if verr, err := s.checkNameAvailable(ctx, req.Name, 0); err != nil {
		respondStoreError(c, err, "system", "create system")
		return
	} else if verr != nil {
		respondValidation(c, verr)
		return
	}

	system, err := s.repo.CreateSystem(ctx, models.NewSystem{
		Name:      req.Name,
		Type:      models.SystemType(req.Type),
		IPAddress: req.IPAddress,
		Status:    models.SystemStatus(req.Status),
		Version:   req.Version,
	})
	if err != nil {
		respondStoreError(c, err, "system", "create system")
		return
	}

	logger.Info("System registered",
		logger.Int64("system_id", system.ID),
		logger.String("name", system.Name),
		logger.String("type", string(system.Type)),
	)
	s.publish(events.ChangeEvent{Resource: events.ResourceSystems, Action: events.ActionCreated, ID: system.ID})
	c.JSON(http.StatusCreated, system)
}

func (s *Server) handleUpdateSystem(c *gin.Context) {
	var req updateSystemRequest
	if verr := bindJSON(c, &req); verr != nil {
		respondValidation(c, verr)
		return
	}
	if verr := requireNonBlank("name", req.Name); verr != nil {
		respondValidation(c, verr)
		return
	}

	id := pathID(c)
	patch := req.patch()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if patch.Name != nil {
		// an unknown id is a 404 even when the new name is taken
		exists, err := s.repo.SystemExists(ctx, id)
		if err != nil {
			respondStoreError(c, err, "system", "update system")
			return
		}
		if !exists {
			respondStoreError(c, store.ErrNotFound, "system", "update system")
			return
		}
		if verr, err := s.checkNameAvailable(ctx, *patch.Name, id); err != nil {
			respondStoreError(c, err, "system", "update system")
			return
		} else if verr != nil {
			respondValidation(c, verr)
			return
		}
	}

	system, err := s.repo.UpdateSystem(ctx, id, patch)
	if err != nil {
		respondStoreError(c, err, "system", "update system")
		return
	}

	if !patch.Empty() {
		s.publish(events.ChangeEvent{Resource: events.ResourceSystems, Action: events.ActionUpdated, ID: id})
	}
	c.JSON(http.StatusOK, system)
}

func (s *Server) handleDeleteSystem(c *gin.Context) {
	id := pathID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.repo.DeleteSystem(ctx, id); err != nil {
		respondStoreError(c, err, "system", "delete system")
		return
	}

	if s.cache != nil {
		if err := s.cache.Forget(ctx, id); err != nil {
			logger.Warn("Failed to drop cached metric", logger.Int64("system_id", id), logger.Err(err))
		}
	}
	s.publish(events.ChangeEvent{Resource: events.ResourceSystems, Action: events.ActionDeleted, ID: id})
	c.Status(http.StatusNoContent)
}

// handleHeartbeat is the external last-seen updater used by agents.
func (s *Server) handleHeartbeat(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	system, change, err := s.repo.TouchSystem(ctx, pathID(c))
	if err != nil {
		respondStoreError(c, err, "system", "record heartbeat")
		return
	}

	s.publish(events.ChangeEvent{Resource: events.ResourceSystems, Action: events.ActionHeartbeat, ID: system.ID})
	if change != nil {
		logger.Info("System back online", logger.Int64("system_id", system.ID), logger.String("from", string(change.From)))
		s.publish(events.ChangeEvent{Resource: events.ResourceLogs, Action: events.ActionCreated, ID: change.Log.ID, SystemID: system.ID})
	}
	c.JSON(http.StatusOK, system)
}

// checkNameAvailable rejects a name already used by a system other than selfID.
func (s *Server) checkNameAvailable(ctx context.Context, name string, selfID int64) (*ValidationError, error) {
	existing, err := s.repo.FindSystemByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.ID == selfID {
		return nil, nil
	}
	return invalid("name", "System with this name already exists"), nil
}
