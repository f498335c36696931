package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
)

const maxBulkMetrics = 1000

type createMetricRequest struct {
	SystemID    *int64          `json:"systemId" binding:"required,gt=0"`
	CPUUsage    *float64        `json:"cpuUsage" binding:"required,gte=0,lte=100"`
	MemoryUsage *float64        `json:"memoryUsage" binding:"required,gte=0,lte=100"`
	DiskUsage   *float64        `json:"diskUsage" binding:"required,gte=0,lte=100"`
	NetworkIn   *float64        `json:"networkIn" binding:"omitempty,gte=0"`
	NetworkOut  *float64        `json:"networkOut" binding:"omitempty,gte=0"`
	Data        json.RawMessage `json:"data"`
}

func (r createMetricRequest) toModel() models.NewMetric {
	m := models.NewMetric{
		SystemID:    *r.SystemID,
		CPUUsage:    *r.CPUUsage,
		MemoryUsage: *r.MemoryUsage,
		DiskUsage:   *r.DiskUsage,
		Data:        r.Data,
	}
	if r.NetworkIn != nil {
		m.NetworkIn = *r.NetworkIn
	}
	if r.NetworkOut != nil {
		m.NetworkOut = *r.NetworkOut
	}
	return m
}

func (s *Server) handleListMetrics(c *gin.Context) {
	systemID, verr := queryID(c, "systemId")
	if verr != nil {
		respondValidation(c, verr)
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

	filter := models.MetricFilter{SystemID: systemID, Limit: limit}
	if hours > 0 {
		filter.Since = time.Now().Add(-time.Duration(hours) * time.Hour)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	metrics, err := s.repo.ListMetrics(ctx, filter)
	if err != nil {
		respondStoreError(c, err, "metrics", "fetch metrics")
		return
	}

	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleGetMetric(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	metric, err := s.repo.GetMetric(ctx, pathID(c))
	if err != nil {
		respondStoreError(c, err, "metric", "fetch metric")
		return
	}

	c.JSON(http.StatusOK, metric)
}

// handleLatestMetrics returns the newest metric of each registered system,
// reading through the Redis cache when one is configured.
func (s *Server) handleLatestMetrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if s.cache == nil {
		latest, err := s.repo.LatestMetrics(ctx)
		if err != nil {
			respondStoreError(c, err, "metrics", "fetch latest metrics")
			return
		}
		c.JSON(http.StatusOK, latest)
		return
	}

	latest, err := s.latestThroughCache(ctx)
	if err != nil {
		respondStoreError(c, err, "metrics", "fetch latest metrics")
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (s *Server) latestThroughCache(ctx context.Context) ([]models.Metric, error) {
	systems, err := s.repo.ListSystems(ctx, models.SystemFilter{})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(systems))
	for i, sys := range systems {
		ids[i] = sys.ID
	}

	hits, missing, err := s.cache.Lookup(ctx, ids)
	if err != nil {
		logger.Warn("Latest-metric cache unavailable, reading store", logger.Err(err))
		return s.repo.LatestMetrics(ctx)
	}

	for _, id := range missing {
		m, err := s.repo.LatestMetric(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hits[id] = m
		if _, err := s.cache.Store(ctx, m); err != nil {
			logger.Warn("Failed to backfill metric cache", logger.Int64("system_id", id), logger.Err(err))
		}
	}

	latest := make([]models.Metric, 0, len(hits))
	for _, m := range hits {
		latest = append(latest, m)
	}
	sort.Slice(latest, func(i, j int) bool { return latest[i].SystemID < latest[j].SystemID })
	return latest, nil
}

func (s *Server) handleCreateMetric(c *gin.Context) {
	var req createMetricRequest
	if verr := bindJSON(c, &req); verr != nil {
		respondValidation(c, verr)
		return
	}
	if verr := validateDataObject("data", req.Data); verr != nil {
		respondValidation(c, verr)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	in := req.toModel()
	if !s.requireSystem(ctx, c, in.SystemID) {
		return
	}

	metric, err := s.repo.CreateMetric(ctx, in)
	if err != nil {
		respondStoreError(c, err, "metric", "create metric")
		return
	}

	s.afterMetricsCreated(ctx, []models.Metric{metric})
	c.JSON(http.StatusCreated, metric)
}

// handleCreateMetrics stores a batch all-or-nothing: any invalid entry
// rejects the whole request before anything is written.
func (s *Server) handleCreateMetrics(c *gin.Context) {
	var reqs []createMetricRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&reqs); err != nil {
		respondValidation(c, translateBindError(err))
		return
	}
	if len(reqs) == 0 {
		respondValidation(c, invalid("", "At least one metric is required"))
		return
	}
	if len(reqs) > maxBulkMetrics {
		respondValidation(c, invalid("", "At most %d metrics per request", maxBulkMetrics))
		return
	}

	batch := make([]models.NewMetric, len(reqs))
	for i := range reqs {
		verr := validateStruct(&reqs[i])
		if verr == nil {
			verr = validateDataObject("data", reqs[i].Data)
		}
		if verr != nil {
			index := i
			verr.Index = &index
			respondValidation(c, verr)
			return
		}
		batch[i] = reqs[i].toModel()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	seen := make(map[int64]bool)
	for _, m := range batch {
		if seen[m.SystemID] {
			continue
		}
		seen[m.SystemID] = true
		if !s.requireSystem(ctx, c, m.SystemID) {
			return
		}
	}

	created, err := s.repo.CreateMetrics(ctx, batch)
	if err != nil {
		respondStoreError(c, err, "metrics", "create metrics")
		return
	}

	s.afterMetricsCreated(ctx, created)
	c.JSON(http.StatusCreated, created)
}

// requireSystem writes a 404 and returns false when systemID is unknown.
func (s *Server) requireSystem(ctx context.Context, c *gin.Context, systemID int64) bool {
	exists, err := s.repo.SystemExists(ctx, systemID)
	if err != nil {
		respondStoreError(c, err, "system", "look up system")
		return false
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "System not found", "systemId": systemID})
		return false
	}
	return true
}

func (s *Server) afterMetricsCreated(ctx context.Context, created []models.Metric) {
	if s.cache != nil {
		for _, m := range created {
			if _, err := s.cache.Store(ctx, m); err != nil {
				logger.Warn("Failed to cache latest metric", logger.Int64("system_id", m.SystemID), logger.Err(err))
			}
		}
	}
	if s.telemetry != nil {
		s.telemetry.RecordIngested("metrics", len(created))
	}

	event := events.ChangeEvent{Resource: events.ResourceMetrics, Action: events.ActionCreated, Count: len(created)}
	if len(created) == 1 {
		event.ID = created[0].ID
		event.SystemID = created[0].SystemID
	}
	s.publish(event)
}
