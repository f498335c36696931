package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"infra-monitor/internal/client"
	"infra-monitor/internal/stats"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/models"
	"infra-monitor/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// Source is the subset of the API client the poller reads from.
type Source interface {
	ListSystems(ctx context.Context) ([]models.System, error)
	LatestMetrics(ctx context.Context) ([]models.Metric, error)
	ListLogs(ctx context.Context, q client.LogQuery) ([]models.Log, error)
}

type Intervals struct {
	Systems time.Duration
	Metrics time.Duration
	Logs    time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{Systems: 30 * time.Second, Metrics: 10 * time.Second, Logs: 5 * time.Second}
}

// LogWindow is how many of the newest logs the logs feed keeps.
const LogWindow = 100

// View is the aggregated dashboard state derived from the current snapshots.
type View struct {
	Stats          stats.Stats `json:"stats"`
	SystemsVersion uint64      `json:"systemsVersion"`
	MetricsVersion uint64      `json:"metricsVersion"`
	ComputedAt     time.Time   `json:"computedAt"`
}

// FeedStatus is a reportable summary of one feed.
type FeedStatus struct {
	Resource  string     `json:"resource"`
	Version   uint64     `json:"version"`
	Items     int        `json:"items"`
	FetchedAt *time.Time `json:"fetchedAt"`
	LastError string     `json:"lastError,omitempty"`
	FailedAt  *time.Time `json:"failedAt,omitempty"`
}

type Poller struct {
	Systems *Feed[models.System]
	Metrics *Feed[models.Metric]
	Logs    *Feed[models.Log]

	telemetry *telemetry.Metrics
	view      atomic.Pointer[View]

	recomputeMu sync.Mutex
	mu          sync.Mutex
	listeners   []func(View)
}

func New(src Source, intervals Intervals, metrics *telemetry.Metrics) *Poller {
	p := &Poller{telemetry: metrics}
	p.Systems = NewFeed(string(events.ResourceSystems), intervals.Systems, src.ListSystems)
	p.Metrics = NewFeed(string(events.ResourceMetrics), intervals.Metrics, src.LatestMetrics)
	p.Logs = NewFeed(string(events.ResourceLogs), intervals.Logs, func(ctx context.Context) ([]models.Log, error) {
		return src.ListLogs(ctx, client.LogQuery{Limit: LogWindow})
	})

	p.view.Store(&View{Stats: stats.Compute(nil, nil)})

	p.Systems.OnUpdate(func(Snapshot[models.System]) { p.recompute() })
	p.Metrics.OnUpdate(func(Snapshot[models.Metric]) { p.recompute() })

	p.Systems.onFetchFailure(p.recordFailure)
	p.Metrics.onFetchFailure(p.recordFailure)
	p.Logs.onFetchFailure(p.recordFailure)
	return p
}

// Run drives all feeds until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Systems.Run(gctx) })
	g.Go(func() error { return p.Metrics.Run(gctx) })
	g.Go(func() error { return p.Logs.Run(gctx) })
	return g.Wait()
}

// Invalidate schedules an immediate refetch of the named resource.
func (p *Poller) Invalidate(resource events.Resource) error {
	switch resource {
	case events.ResourceSystems:
		p.Systems.Invalidate()
	case events.ResourceMetrics:
		p.Metrics.Invalidate()
	case events.ResourceLogs:
		p.Logs.Invalidate()
	default:
		return fmt.Errorf("unknown resource %q", resource)
	}
	return nil
}

// HandleEvent maps a change event onto the feeds it affects.
func (p *Poller) HandleEvent(ev events.ChangeEvent) error {
	if err := p.Invalidate(ev.Resource); err != nil {
		return err
	}
	// deleting a system drops its latest metric from the aggregate
	if ev.Resource == events.ResourceSystems && ev.Action == events.ActionDeleted {
		p.Metrics.Invalidate()
	}
	return nil
}

func (p *Poller) View() View {
	return *p.view.Load()
}

// OnRecompute registers fn to receive every new View.
func (p *Poller) OnRecompute(fn func(View)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *Poller) Status() []FeedStatus {
	return []FeedStatus{
		feedStatus(p.Systems),
		feedStatus(p.Metrics),
		feedStatus(p.Logs),
	}
}

// recompute publishes a View and notifies listeners while holding
// recomputeMu, so listeners see views in version order.
func (p *Poller) recompute() {
	p.recomputeMu.Lock()
	defer p.recomputeMu.Unlock()

	systems := p.Systems.Snapshot()
	metrics := p.Metrics.Snapshot()
	view := &View{
		Stats:          stats.Compute(systems.Items, metrics.Items),
		SystemsVersion: systems.Version,
		MetricsVersion: metrics.Version,
		ComputedAt:     time.Now().UTC(),
	}
	p.view.Store(view)

	p.mu.Lock()
	listeners := append([]func(View){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(*view)
	}
}

func (p *Poller) recordFailure(resource string, _ error) {
	if p.telemetry != nil {
		p.telemetry.RecordPollFailure(resource)
	}
}

func feedStatus[T any](f *Feed[T]) FeedStatus {
	snap := f.Snapshot()
	st := FeedStatus{Resource: f.Name(), Version: snap.Version, Items: len(snap.Items)}
	if !snap.FetchedAt.IsZero() {
		t := snap.FetchedAt
		st.FetchedAt = &t
	}
	if snap.Err != nil {
		st.LastError = snap.Err.Error()
		t := snap.FailedAt
		st.FailedAt = &t
	}
	return st
}
