package api

import (
	"context"
	"net/http"
	"time"

	"infra-monitor/internal/stats"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
)

const recentLogsOnDashboard = 10

type dashboardStats struct {
	stats.Stats
	TotalMetrics int64        `json:"totalMetrics"`
	TotalLogs    int64        `json:"totalLogs"`
	RecentLogs   []models.Log `json:"recentLogs"`
	GeneratedAt  time.Time    `json:"generatedAt"`
}

// handleDashboardStats runs the aggregator over the current store state.
func (s *Server) handleDashboardStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	out, err := s.dashboardStats(ctx)
	if err != nil {
		respondStoreError(c, err, "dashboard", "compute dashboard stats")
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) dashboardStats(ctx context.Context) (dashboardStats, error) {
	systems, err := s.repo.ListSystems(ctx, models.SystemFilter{})
	if err != nil {
		return dashboardStats{}, err
	}
	latest, err := s.repo.LatestMetrics(ctx)
	if err != nil {
		return dashboardStats{}, err
	}
	totalMetrics, err := s.repo.CountMetrics(ctx)
	if err != nil {
		return dashboardStats{}, err
	}
	totalLogs, err := s.repo.CountLogs(ctx)
	if err != nil {
		return dashboardStats{}, err
	}
	recent, err := s.repo.ListLogs(ctx, models.LogFilter{Limit: recentLogsOnDashboard})
	if err != nil {
		return dashboardStats{}, err
	}

	return dashboardStats{
		Stats:        stats.Compute(systems, latest),
		TotalMetrics: totalMetrics,
		TotalLogs:    totalLogs,
		RecentLogs:   recent,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}
