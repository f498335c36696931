package monitoring

import (
	"context"
	"fmt"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"
	"infra-monitor/pkg/telemetry"
)

// archivePage is how many expiring logs are read per archive round.
const archivePage = 1000

// Archiver stores a system's logs for one day outside the database.
type Archiver interface {
	StoreLogs(ctx context.Context, systemID int64, day time.Time, logs []models.Log) (string, error)
}

// Orchestrator runs the maintenance jobs of a serve instance: retention,
// staleness and gauge refresh.
type Orchestrator struct {
	config    *config.Config
	repo      *store.Repository
	archive   Archiver
	events    events.Publisher
	telemetry *telemetry.Metrics
	now       func() time.Time
}

func NewOrchestrator(cfg *config.Config, repo *store.Repository, archive Archiver, publisher events.Publisher, metrics *telemetry.Metrics) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Orchestrator{
		config:    cfg,
		repo:      repo,
		archive:   archive,
		events:    publisher,
		telemetry: metrics,
		now:       time.Now,
	}
}

// RetentionResult summarises one retention run.
type RetentionResult struct {
	LogsArchived   int
	LogsDeleted    int64
	MetricsDeleted int64
}

// RunRetention archives and deletes logs past LOGS_RETENTION, then deletes
// metrics past METRICS_RETENTION.
func (o *Orchestrator) RunRetention(ctx context.Context) (RetentionResult, error) {
	var res RetentionResult
	now := o.now().UTC()

	if o.config.LogsRetention > 0 {
		cutoff := now.Add(-o.config.LogsRetention)
		archived, err := o.archiveLogsBefore(ctx, cutoff)
		res.LogsArchived = archived
		if err != nil {
			return res, err
		}
		deleted, err := o.repo.DeleteLogsBefore(ctx, cutoff)
		if err != nil {
			return res, err
		}
		res.LogsDeleted = deleted
	}

	if o.config.MetricsRetention > 0 {
		deleted, err := o.repo.DeleteMetricsBefore(ctx, now.Add(-o.config.MetricsRetention))
		if err != nil {
			return res, err
		}
		res.MetricsDeleted = deleted
	}

	if res.LogsDeleted > 0 || res.MetricsDeleted > 0 {
		logger.Info("Retention completed",
			logger.Int("logs_archived", res.LogsArchived),
			logger.Int64("logs_deleted", res.LogsDeleted),
			logger.Int64("metrics_deleted", res.MetricsDeleted))
	}
	return res, nil
}

// archiveLogsBefore uploads every log older than cutoff, one object per
// system and day per page. Any failed upload aborts the run so that nothing
// is deleted without a copy.
func (o *Orchestrator) archiveLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if o.archive == nil {
		return 0, nil
	}

	archived := 0
	var afterID int64
	for {
		page, err := o.repo.LogsBefore(ctx, cutoff, afterID, archivePage)
		if err != nil {
			return archived, err
		}
		if len(page) == 0 {
			return archived, nil
		}

		for _, group := range groupByDay(page) {
			name, err := o.archive.StoreLogs(ctx, group.systemID, group.day, group.logs)
			if err != nil {
				return archived, fmt.Errorf("archive logs of system %d for %s: %w",
					group.systemID, group.day.Format("2006-01-02"), err)
			}
			archived += len(group.logs)
			logger.Debug("Archived logs", logger.String("object", name), logger.Int("count", len(group.logs)))
		}

		afterID = page[len(page)-1].ID
		if len(page) < archivePage {
			return archived, nil
		}
	}
}

type logGroup struct {
	systemID int64
	day      time.Time
	logs     []models.Log
}

// groupByDay splits logs by system and UTC day, keeping first-seen order.
func groupByDay(logs []models.Log) []logGroup {
	type key struct {
		systemID int64
		day      string
	}
	index := make(map[key]int)
	var groups []logGroup
	for _, l := range logs {
		day := l.Timestamp.UTC().Truncate(24 * time.Hour)
		k := key{l.SystemID, day.Format("2006-01-02")}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, logGroup{systemID: l.SystemID, day: day})
		}
		groups[i].logs = append(groups[i].logs, l)
	}
	return groups
}

// RunStalenessSweep marks systems offline once they have not been seen for
// STALE_AFTER. Each transition is written to the log stream by the store.
func (o *Orchestrator) RunStalenessSweep(ctx context.Context) ([]models.StatusChange, error) {
	if o.config.StaleAfter <= 0 {
		return nil, nil
	}
	now := o.now().UTC()
	changes, err := o.repo.MarkStaleSystemsOffline(ctx, now.Add(-o.config.StaleAfter))
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return changes, nil
	}

	logger.Warn("Systems marked offline", logger.Int("count", len(changes)), logger.Duration("stale_after", o.config.StaleAfter))
	for _, event := range []events.ChangeEvent{
		{Resource: events.ResourceSystems, Action: events.ActionUpdated, Count: len(changes), At: now},
		{Resource: events.ResourceLogs, Action: events.ActionCreated, Count: len(changes), At: now},
	} {
		if err := o.events.Publish(ctx, event); err != nil {
			logger.Warn("Failed to publish staleness event", logger.String("routing_key", event.RoutingKey()), logger.Err(err))
		}
	}
	return changes, nil
}

// RunGaugeRefresh updates the per-status system gauges.
func (o *Orchestrator) RunGaugeRefresh(ctx context.Context) error {
	counts, err := o.repo.CountSystemsByStatus(ctx)
	if err != nil {
		return err
	}
	if o.telemetry != nil {
		o.telemetry.SetSystemCounts(counts)
	}
	return nil
}
