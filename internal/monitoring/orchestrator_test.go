package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"go.uber.org/zap"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fakeArchive struct {
	fail    bool
	objects map[string]int
	ids     []int64
}

func (a *fakeArchive) StoreLogs(_ context.Context, systemID int64, day time.Time, logs []models.Log) (string, error) {
	if a.fail {
		return "", errors.New("bucket unavailable")
	}
	name := db.ArchiveObjectName(systemID, day, time.Unix(0, int64(len(a.objects))))
	if a.objects == nil {
		a.objects = make(map[string]int)
	}
	a.objects[name] = len(logs)
	for _, l := range logs {
		a.ids = append(a.ids, l.ID)
	}
	return name, nil
}

type recorder struct{ events []events.ChangeEvent }

func (r *recorder) Publish(_ context.Context, ev events.ChangeEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func newFixture(t *testing.T) (*store.Repository, *clock) {
	t.Helper()
	logger.Use(zap.NewNop())

	sqldb, err := db.NewSQLiteConnection(t.TempDir() + "/maint.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })

	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	repo := store.NewRepository(sqldb, store.SQLite).WithClock(c.now)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo, c
}

func mustSystem(t *testing.T, repo *store.Repository, name string) models.System {
	t.Helper()
	sys, err := repo.CreateSystem(context.Background(), models.NewSystem{
		Name: name, Type: models.SystemTypeLinux, IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("create system: %v", err)
	}
	return sys
}

func mustLog(t *testing.T, repo *store.Repository, systemID int64, msg string) models.Log {
	t.Helper()
	l, err := repo.CreateLog(context.Background(), models.NewLog{SystemID: systemID, Message: msg})
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	return l
}

func TestRetentionArchivesThenDeletes(t *testing.T) {
	repo, c := newFixture(t)
	ctx := context.Background()
	a := mustSystem(t, repo, "a")
	b := mustSystem(t, repo, "b")

	old1 := mustLog(t, repo, a.ID, "day one a")
	old2 := mustLog(t, repo, b.ID, "day one b")
	c.t = c.t.Add(24 * time.Hour)
	old3 := mustLog(t, repo, a.ID, "day two a")
	if _, err := repo.CreateMetric(ctx, models.NewMetric{SystemID: a.ID, CPUUsage: 1}); err != nil {
		t.Fatal(err)
	}
	c.t = c.t.Add(89 * 24 * time.Hour)
	fresh := mustLog(t, repo, a.ID, "recent")
	if _, err := repo.CreateMetric(ctx, models.NewMetric{SystemID: a.ID, CPUUsage: 2}); err != nil {
		t.Fatal(err)
	}

	// day one is now past 90d, day two is not
	c.t = c.t.Add(time.Hour)
	cfg := &config.Config{LogsRetention: 90 * 24 * time.Hour, MetricsRetention: 30 * 24 * time.Hour}
	archive := &fakeArchive{}
	orch := NewOrchestrator(cfg, repo, archive, nil, nil)
	orch.now = c.now

	res, err := orch.RunRetention(ctx)
	if err != nil {
		t.Fatalf("RunRetention: %v", err)
	}
	if res.LogsArchived != 2 || res.LogsDeleted != 2 || res.MetricsDeleted != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(archive.objects) != 2 {
		t.Fatalf("objects = %v", archive.objects)
	}
	if len(archive.ids) != 2 || archive.ids[0] != old1.ID || archive.ids[1] != old2.ID {
		t.Fatalf("archived ids = %v", archive.ids)
	}

	for _, id := range []int64{old3.ID, fresh.ID} {
		if _, err := repo.GetLog(ctx, id); err != nil {
			t.Fatalf("log %d should survive: %v", id, err)
		}
	}
	if _, err := repo.GetLog(ctx, old1.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old log err = %v", err)
	}
}

func TestRetentionKeepsLogsWhenArchiveFails(t *testing.T) {
	repo, c := newFixture(t)
	sys := mustSystem(t, repo, "a")
	entry := mustLog(t, repo, sys.ID, "old")
	c.t = c.t.Add(100 * 24 * time.Hour)

	cfg := &config.Config{LogsRetention: 90 * 24 * time.Hour}
	orch := NewOrchestrator(cfg, repo, &fakeArchive{fail: true}, nil, nil)
	orch.now = c.now

	if _, err := orch.RunRetention(context.Background()); err == nil {
		t.Fatal("expected archive error")
	}
	if _, err := repo.GetLog(context.Background(), entry.ID); err != nil {
		t.Fatalf("log deleted despite failed archive: %v", err)
	}
}

func TestRetentionWithoutArchiveDeletes(t *testing.T) {
	repo, c := newFixture(t)
	sys := mustSystem(t, repo, "a")
	mustLog(t, repo, sys.ID, "old")
	c.t = c.t.Add(100 * 24 * time.Hour)

	orch := NewOrchestrator(&config.Config{LogsRetention: 90 * 24 * time.Hour}, repo, nil, nil, nil)
	orch.now = c.now
	res, err := orch.RunRetention(context.Background())
	if err != nil || res.LogsDeleted != 1 || res.LogsArchived != 0 {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
}

func TestStalenessSweep(t *testing.T) {
	repo, c := newFixture(t)
	ctx := context.Background()
	quiet := mustSystem(t, repo, "quiet")
	c.t = c.t.Add(8 * time.Minute)
	chatty := mustSystem(t, repo, "chatty")
	c.t = c.t.Add(4 * time.Minute)

	rec := &recorder{}
	orch := NewOrchestrator(&config.Config{StaleAfter: 10 * time.Minute}, repo, nil, rec, nil)
	orch.now = c.now

	changes, err := orch.RunStalenessSweep(ctx)
	if err != nil || len(changes) != 1 || changes[0].SystemID != quiet.ID {
		t.Fatalf("sweep = %+v, %v", changes, err)
	}
	if got, _ := repo.GetSystem(ctx, quiet.ID); got.Status != models.StatusOffline {
		t.Fatalf("quiet status = %s", got.Status)
	}
	if got, _ := repo.GetSystem(ctx, chatty.ID); got.Status != models.StatusOnline {
		t.Fatalf("chatty status = %s", got.Status)
	}

	logs, err := repo.ListLogs(ctx, models.LogFilter{SystemID: quiet.ID, Level: models.LevelWarning})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "System status changed from online to offline" ||
		logs[0].Source == nil || *logs[0].Source != "status_monitor" {
		t.Fatalf("status logs = %+v", logs)
	}

	if len(rec.events) != 2 || rec.events[0].RoutingKey() != "systems.updated" || rec.events[0].Count != 1 ||
		rec.events[1].RoutingKey() != "logs.created" || rec.events[1].Count != 1 {
		t.Fatalf("events = %+v", rec.events)
	}

	if again, _ := orch.RunStalenessSweep(ctx); len(again) != 0 {
		t.Fatalf("second sweep = %+v", again)
	}
	if len(rec.events) != 2 {
		t.Fatalf("unexpected event on empty sweep")
	}
}

func TestGroupByDay(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	logs := []models.Log{
		{ID: 1, SystemID: 1, Timestamp: day.Add(time.Hour)},
		{ID: 2, SystemID: 2, Timestamp: day.Add(2 * time.Hour)},
		{ID: 3, SystemID: 1, Timestamp: day.Add(23 * time.Hour)},
		{ID: 4, SystemID: 1, Timestamp: day.Add(25 * time.Hour)},
	}
	groups := groupByDay(logs)
	if len(groups) != 3 {
		t.Fatalf("groups = %d", len(groups))
	}
	if groups[0].systemID != 1 || len(groups[0].logs) != 2 || !groups[0].day.Equal(day) {
		t.Fatalf("first group = %+v", groups[0])
	}
	if !groups[2].day.Equal(day.Add(24 * time.Hour)) {
		t.Fatalf("last group day = %v", groups[2].day)
	}
}
