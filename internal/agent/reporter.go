package agent

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"infra-monitor/internal/client"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"
)

// API is the part of the Resource API the agent talks to.
type API interface {
	ListSystems(ctx context.Context) ([]models.System, error)
	CreateSystem(ctx context.Context, in models.NewSystem) (*models.System, error)
	CreateMetric(ctx context.Context, in models.NewMetric) (*models.Metric, error)
	Heartbeat(ctx context.Context, id int64) (*models.System, error)
}

type Options struct {
	Name     string
	Type     models.SystemType
	Version  string
	Interval time.Duration
}

// Reporter registers the local host as a System and reports a metric and
// a heartbeat every interval.
type Reporter struct {
	api    API
	source Source
	opts   Options

	systemID int64
}

func NewReporter(api API, source Source, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Type == "" {
		opts.Type = models.SystemTypeLinux
		if runtime.GOOS == "windows" {
			opts.Type = models.SystemTypeWindows
		}
	}
	return &Reporter{api: api, source: source, opts: opts}
}

func (r *Reporter) SystemID() int64 {
	return r.systemID
}

// Register finds the system by name or creates it.
func (r *Reporter) Register(ctx context.Context) (*models.System, error) {
	info := r.source.Host(ctx)
	name := r.opts.Name
	if name == "" {
		name = info.Hostname
	}
	if name == "" {
		return nil, fmt.Errorf("agent name is empty and hostname is unavailable")
	}

	systems, err := r.api.ListSystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}
	for i := range systems {
		if systems[i].Name == name {
			r.systemID = systems[i].ID
			logger.Info("Agent attached to existing system",
				logger.String("name", name), logger.Int64("system_id", r.systemID))
			return &systems[i], nil
		}
	}

	in := models.NewSystem{Name: name, Type: r.opts.Type, IPAddress: info.IPAddress}
	if in.IPAddress == "" {
		in.IPAddress = "127.0.0.1"
	}
	version := r.opts.Version
	if version == "" {
		version = info.Platform
	}
	if version != "" {
		in.Version = &version
	}

	created, err := r.api.CreateSystem(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to register system: %w", err)
	}
	r.systemID = created.ID
	logger.Info("Agent registered system",
		logger.String("name", name), logger.Int64("system_id", r.systemID))
	return created, nil
}

// ReportOnce sends one sample and a heartbeat. A 404 means the system was
// deleted, so the next report registers again.
func (r *Reporter) ReportOnce(ctx context.Context) error {
	if r.systemID == 0 {
		if _, err := r.Register(ctx); err != nil {
			return err
		}
	}

	sample, err := r.source.Sample(ctx)
	if err != nil {
		return fmt.Errorf("failed to collect metrics: %w", err)
	}

	metric, err := sample.Metric(r.systemID)
	if err != nil {
		return err
	}
	if _, err := r.api.CreateMetric(ctx, metric); err != nil {
		if client.IsNotFound(err) {
			r.systemID = 0
		}
		return fmt.Errorf("failed to send metrics: %w", err)
	}
	if _, err := r.api.Heartbeat(ctx, r.systemID); err != nil {
		if client.IsNotFound(err) {
			r.systemID = 0
		}
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	return nil
}

// Run reports immediately and then on every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	logger.Info("Agent started", logger.Duration("interval", r.opts.Interval))
	defer logger.Info("Agent stopped")

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	reportCtx, cancel := context.WithTimeout(ctx, r.opts.Interval)
	defer cancel()
	if err := r.ReportOnce(reportCtx); err != nil && ctx.Err() == nil {
		logger.Error("Agent report failed", logger.Err(err))
	}
}
