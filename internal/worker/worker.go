package worker

import (
	"context"
	"sync"
	"time"

	"infra-monitor/internal/monitoring"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/logger"
)

const gaugeInterval = 30 * time.Second

type WorkerPool struct {
	config       *config.Config
	orchestrator *monitoring.Orchestrator
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewWorkerPool(cfg *config.Config, orch *monitoring.Orchestrator) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		config:       cfg,
		orchestrator: orch,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (wp *WorkerPool) Start() {
	logger.Info("Starting worker pool")

	wp.wg.Add(1)
	go wp.retentionWorker()

	wp.wg.Add(1)
	go wp.stalenessWorker()

	wp.wg.Add(1)
	go wp.gaugeWorker()
}

func (wp *WorkerPool) Stop() {
	logger.Info("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	logger.Info("Worker pool stopped")
}

func (wp *WorkerPool) retentionWorker() {
	defer wp.wg.Done()

	interval := wp.config.MaintenanceInterval
	if interval <= 0 {
		interval = time.Hour
	}
	logger.Info("Retention worker started", logger.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			logger.Info("Retention worker stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wp.ctx, 10*time.Minute)
			if _, err := wp.orchestrator.RunRetention(ctx); err != nil {
				logger.Error("Retention failed", logger.Err(err))
			}
			cancel()
		}
	}
}

// stalenessWorker checks twice per STALE_AFTER so a silent system is
// flagged at most half a window late.
func (wp *WorkerPool) stalenessWorker() {
	defer wp.wg.Done()

	if wp.config.StaleAfter <= 0 {
		logger.Info("Staleness worker disabled")
		return
	}
	interval := wp.config.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	logger.Info("Staleness worker started", logger.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			logger.Info("Staleness worker stopped")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(wp.ctx, 30*time.Second)
			if _, err := wp.orchestrator.RunStalenessSweep(ctx); err != nil {
				logger.Error("Staleness sweep failed", logger.Err(err))
			}
			cancel()
		}
	}
}

func (wp *WorkerPool) gaugeWorker() {
	defer wp.wg.Done()

	logger.Info("Gauge worker started")

	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	wp.refreshGauges()
	for {
		select {
		case <-wp.ctx.Done():
			logger.Info("Gauge worker stopped")
			return
		case <-ticker.C:
			wp.refreshGauges()
		}
	}
}

func (wp *WorkerPool) refreshGauges() {
	ctx, cancel := context.WithTimeout(wp.ctx, 10*time.Second)
	defer cancel()
	if err := wp.orchestrator.RunGaugeRefresh(ctx); err != nil {
		logger.Error("Gauge refresh failed", logger.Err(err))
	}
}
