package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"infra-monitor/pkg/logger"
)

// Snapshot is an immutable view of one resource list. Consumers must not
// modify Items.
type Snapshot[T any] struct {
	Version   uint64
	Items     []T
	FetchedAt time.Time
	Err       error
	FailedAt  time.Time
}

type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Feed keeps one snapshot fresh by polling fetch on a fixed interval.
type Feed[T any] struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fetch    FetchFunc[T]

	current atomic.Pointer[Snapshot[T]]
	refresh chan struct{}

	mu          sync.Mutex
	subscribers []func(Snapshot[T])
	onFailure   func(name string, err error)
}

func NewFeed[T any](name string, interval time.Duration, fetch FetchFunc[T]) *Feed[T] {
	f := &Feed[T]{
		name:     name,
		interval: interval,
		timeout:  interval,
		fetch:    fetch,
		refresh:  make(chan struct{}, 1),
	}
	if f.timeout <= 0 || f.timeout > 30*time.Second {
		f.timeout = 30 * time.Second
	}
	f.current.Store(&Snapshot[T]{Items: []T{}})
	return f
}

func (f *Feed[T]) Name() string {
	return f.name
}

func (f *Feed[T]) Snapshot() Snapshot[T] {
	return *f.current.Load()
}

// OnUpdate registers fn to run after every successful fetch.
func (f *Feed[T]) OnUpdate(fn func(Snapshot[T])) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, fn)
}

func (f *Feed[T]) onFetchFailure(fn func(name string, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFailure = fn
}

// Invalidate asks the running loop for an out-of-schedule fetch. Requests
// made while one is already pending are coalesced.
func (f *Feed[T]) Invalidate() {
	select {
	case f.refresh <- struct{}{}:
	default:
	}
}

// Run fetches immediately, then on every tick or invalidation, until ctx
// is cancelled.
func (f *Feed[T]) Run(ctx context.Context) error {
	logger.Info("Feed started", logger.String("feed", f.name), logger.Duration("interval", f.interval))
	defer logger.Info("Feed stopped", logger.String("feed", f.name))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.poll(ctx)
		case <-f.refresh:
			f.poll(ctx)
		}
	}
}

func (f *Feed[T]) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	items, err := f.fetch(fetchCtx)
	prev := f.current.Load()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failed := *prev
		failed.Err = err
		failed.FailedAt = time.Now().UTC()
		f.current.Store(&failed)

		logger.Warn("Feed fetch failed, keeping previous snapshot",
			logger.String("feed", f.name),
			logger.Uint64("version", prev.Version),
			logger.Err(err))

		f.mu.Lock()
		onFailure := f.onFailure
		f.mu.Unlock()
		if onFailure != nil {
			onFailure(f.name, err)
		}
		return
	}

	if items == nil {
		items = []T{}
	}
	next := &Snapshot[T]{
		Version:   prev.Version + 1,
		Items:     items,
		FetchedAt: time.Now().UTC(),
	}
	f.current.Store(next)

	f.mu.Lock()
	subscribers := append([]func(Snapshot[T]){}, f.subscribers...)
	f.mu.Unlock()
	for _, fn := range subscribers {
		fn(*next)
	}
}
