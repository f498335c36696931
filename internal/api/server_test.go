package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/events"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.RoutingKey()
	}
	return out
}

type testEnv struct {
	handler http.Handler
	repo    *store.Repository
	events  *recordingPublisher
}

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:    "infra-monitor-test",
		AllowedOrigins: []string{"*"},
		Resources:      []string{"systems", "metrics", "logs"},
		RequestTimeout: 5 * time.Second,
	}
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...func(*Deps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Use(zap.NewNop())

	sqldb, err := db.NewSQLiteConnection(t.TempDir() + "/api.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })

	repo := store.NewRepository(sqldb, store.SQLite)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pub := &recordingPublisher{}
	deps := Deps{Repo: repo, Events: pub}
	for _, opt := range opts {
		opt(&deps)
	}
	srv := NewServer(cfg, deps)
	return &testEnv{handler: srv.Router(), repo: repo, events: pub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (e *testEnv) createSystem(t *testing.T, name string) models.System {
	t.Helper()
	body := `{"name":"` + name + `","type":"linux","ipAddress":"10.0.0.5"}`
	w := e.do(t, http.MethodPost, "/api/systems", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create system %s: status %d body %s", name, w.Code, w.Body.String())
	}
	return decode[models.System](t, w)
}

func TestCreateSystemThenList(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := env.do(t, http.MethodPost, "/api/systems",
		`{"name":"Prod-DB-01","type":"database","ipAddress":"192.168.1.10","version":"PostgreSQL 15"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	created := decode[models.System](t, w)
	if created.ID <= 0 || created.LastSeen.IsZero() || created.Status != models.StatusOnline {
		t.Fatalf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/systems", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	systems := decode[[]models.System](t, w)
	if len(systems) != 1 || systems[0].ID != created.ID || systems[0].Name != "Prod-DB-01" {
		t.Fatalf("systems = %+v", systems)
	}

	if keys := env.events.keys(); len(keys) != 1 || keys[0] != "systems.created" {
		t.Fatalf("events = %v", keys)
	}
}

func TestCreateMetricOutOfRangeIsRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "web-01")

	body := `{"systemId":` + itoa(sys.ID) + `,"cpuUsage":150,"memoryUsage":10,"diskUsage":10}`
	w := env.do(t, http.MethodPost, "/api/metrics", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["field"] != "cpuUsage" || !strings.Contains(resp["error"].(string), "cpuUsage") {
		t.Fatalf("response = %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/metrics?systemId="+itoa(sys.ID), "")
	if got := decode[[]models.Metric](t, w); len(got) != 0 {
		t.Fatalf("metrics after rejected create = %+v", got)
	}
}

func TestValidationReportsFirstField(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "taken")
	sid := itoa(sys.ID)

	cases := []struct {
		name, path, body, field string
	}{
		{"missing name", "/api/systems", `{"type":"linux","ipAddress":"10.0.0.1"}`, "name"},
		{"blank name", "/api/systems", `{"name":"   ","type":"linux","ipAddress":"10.0.0.1"}`, "name"},
		{"bad type", "/api/systems", `{"name":"x","type":"mainframe","ipAddress":"10.0.0.1"}`, "type"},
		{"bad ip", "/api/systems", `{"name":"x","type":"linux","ipAddress":"999.1.1.1"}`, "ipAddress"},
		{"bad status", "/api/systems", `{"name":"x","type":"linux","ipAddress":"::1","status":"sleepy"}`, "status"},
		{"duplicate name", "/api/systems", `{"name":"taken","type":"linux","ipAddress":"10.0.0.1"}`, "name"},
		{"metric without system", "/api/metrics", `{"cpuUsage":1,"memoryUsage":1,"diskUsage":1}`, "systemId"},
		{"metric wrong type", "/api/metrics", `{"systemId":` + sid + `,"cpuUsage":"high","memoryUsage":1,"diskUsage":1}`, "cpuUsage"},
		{"negative network", "/api/metrics", `{"systemId":` + sid + `,"cpuUsage":1,"memoryUsage":1,"diskUsage":1,"networkIn":-5}`, "networkIn"},
		{"data not object", "/api/metrics", `{"systemId":` + sid + `,"cpuUsage":1,"memoryUsage":1,"diskUsage":1,"data":[1,2]}`, "data"},
		{"empty log message", "/api/logs", `{"systemId":` + sid + `,"message":""}`, "message"},
		{"bad log level", "/api/logs", `{"systemId":` + sid + `,"message":"x","level":"fatal"}`, "level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tc.path, tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			resp := decode[map[string]any](t, w)
			if resp["field"] != tc.field {
				t.Fatalf("field = %v, want %s (error %v)", resp["field"], tc.field, resp["error"])
			}
		})
	}

	w := env.do(t, http.MethodPost, "/api/systems", `{"name":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON status = %d", w.Code)
	}
}

func TestNotFoundAndBadIDs(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for path, want := range map[string]string{
		"/api/systems/999": "System not found",
		"/api/metrics/999": "Metric not found",
		"/api/logs/999":    "Log not found",
	} {
		w := env.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("GET %s status = %d", path, w.Code)
		}
		if got := decode[map[string]string](t, w)["error"]; got != want {
			t.Fatalf("GET %s error = %q, want %q", path, got, want)
		}
	}

	if w := env.do(t, http.MethodGet, "/api/systems/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPatch, "/api/systems/42", `{"status":"offline"}`); w.Code != http.StatusNotFound {
		t.Fatalf("patch missing status = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/systems/42", ""); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing status = %d", w.Code)
	}
}

func TestWritesForUnknownSystemAreRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := env.do(t, http.MethodPost, "/api/metrics", `{"systemId":77,"cpuUsage":1,"memoryUsage":1,"diskUsage":1}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("metric status = %d, want 404", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/logs", `{"systemId":77,"message":"orphan"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("log status = %d, want 404", w.Code)
	}
	if n, _ := env.repo.CountMetrics(context.Background()); n != 0 {
		t.Fatalf("metrics stored = %d", n)
	}
}

func TestEmptyListsAreArrays(t *testing.T) {
	env := newTestEnv(t, testConfig())
	for _, path := range []string{"/api/systems", "/api/metrics", "/api/logs", "/api/metrics/latest"} {
		w := env.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
			t.Fatalf("GET %s = %d %q, want 200 []", path, w.Code, w.Body.String())
		}
	}
}

func TestRepeatedGetIsByteIdentical(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "stable")
	env.do(t, http.MethodPost, "/api/logs", `{"systemId":`+itoa(sys.ID)+`,"message":"hello","source":"System"}`)

	for _, path := range []string{"/api/systems", "/api/logs", "/api/systems/" + itoa(sys.ID)} {
		first := env.do(t, http.MethodGet, path, "").Body.String()
		second := env.do(t, http.MethodGet, path, "").Body.String()
		if first != second {
			t.Fatalf("GET %s differs:\n%s\n%s", path, first, second)
		}
	}
}

func TestLogFiltersAreANDed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.createSystem(t, "a")
	b := env.createSystem(t, "b")

	for _, body := range []string{
		`{"systemId":` + itoa(a.ID) + `,"level":"error","message":"a-error"}`,
		`{"systemId":` + itoa(a.ID) + `,"level":"info","message":"a-info"}`,
		`{"systemId":` + itoa(b.ID) + `,"level":"error","message":"b-error"}`,
	} {
		if w := env.do(t, http.MethodPost, "/api/logs", body); w.Code != http.StatusCreated {
			t.Fatalf("create log: %d %s", w.Code, w.Body.String())
		}
	}

	w := env.do(t, http.MethodGet, "/api/logs?systemId="+itoa(a.ID)+"&level=error", "")
	logs := decode[[]models.Log](t, w)
	if len(logs) != 1 || logs[0].Message != "a-error" {
		t.Fatalf("logs = %+v", logs)
	}

	w = env.do(t, http.MethodGet, "/api/logs?limit=2", "")
	logs = decode[[]models.Log](t, w)
	if len(logs) != 2 || logs[0].Message != "b-error" {
		t.Fatalf("limited logs = %+v", logs)
	}

	if w := env.do(t, http.MethodGet, "/api/logs?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/logs?level=verbose", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad level status = %d", w.Code)
	}
}

func TestUpdateSystemPartial(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "App-Server-01")
	path := "/api/systems/" + itoa(sys.ID)

	w := env.do(t, http.MethodPatch, path, `{"status":"warning"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d %s", w.Code, w.Body.String())
	}
	updated := decode[models.System](t, w)
	if updated.Status != models.StatusWarning || updated.Name != sys.Name || updated.IPAddress != sys.IPAddress {
		t.Fatalf("updated = %+v", updated)
	}

	w = env.do(t, http.MethodPut, path, `{"version":"Ubuntu 24.04"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d", w.Code)
	}
	updated = decode[models.System](t, w)
	if updated.Version == nil || *updated.Version != "Ubuntu 24.04" || updated.Status != models.StatusWarning {
		t.Fatalf("after put = %+v", updated)
	}

	env.createSystem(t, "other")
	if w := env.do(t, http.MethodPatch, path, `{"name":"other"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("rename onto taken name status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPatch, path, `{"name":"App-Server-01"}`); w.Code != http.StatusOK {
		t.Fatalf("rename to own name status = %d", w.Code)
	}

	w = env.do(t, http.MethodPatch, "/api/systems/9999", `{"name":"App-Server-01"}`)
	if w.Code != http.StatusNotFound || decode[map[string]any](t, w)["error"] != "System not found" {
		t.Fatalf("rename missing system to taken name = %d %s", w.Code, w.Body.String())
	}
}

func TestBulkMetricsAllOrNothing(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "bulk")
	sid := itoa(sys.ID)

	bad := `[{"systemId":` + sid + `,"cpuUsage":10,"memoryUsage":10,"diskUsage":10},
	         {"systemId":` + sid + `,"cpuUsage":10,"memoryUsage":101,"diskUsage":10}]`
	w := env.do(t, http.MethodPost, "/api/metrics/bulk", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad batch status = %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if resp["field"] != "memoryUsage" || resp["index"] != float64(1) {
		t.Fatalf("bad batch response = %v", resp)
	}
	if n, _ := env.repo.CountMetrics(context.Background()); n != 0 {
		t.Fatalf("metrics stored after rejected batch = %d", n)
	}

	unknown := `[{"systemId":` + sid + `,"cpuUsage":1,"memoryUsage":1,"diskUsage":1},
	             {"systemId":9999,"cpuUsage":1,"memoryUsage":1,"diskUsage":1}]`
	if w := env.do(t, http.MethodPost, "/api/metrics/bulk", unknown); w.Code != http.StatusNotFound {
		t.Fatalf("unknown system batch status = %d", w.Code)
	}

	good := `[{"systemId":` + sid + `,"cpuUsage":10,"memoryUsage":20,"diskUsage":30},
	          {"systemId":` + sid + `,"cpuUsage":40,"memoryUsage":50,"diskUsage":60,"networkIn":5}]`
	w = env.do(t, http.MethodPost, "/api/metrics/bulk", good)
	if w.Code != http.StatusCreated {
		t.Fatalf("good batch status = %d %s", w.Code, w.Body.String())
	}
	if created := decode[[]models.Metric](t, w); len(created) != 2 {
		t.Fatalf("created = %+v", created)
	}

	if w := env.do(t, http.MethodPost, "/api/metrics/bulk", `[]`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d", w.Code)
	}
}

func TestLatestMetricsAndDashboardStats(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if _, err := env.repo.SeedDemoData(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := env.do(t, http.MethodGet, "/api/metrics/latest", "")
	latest := decode[[]models.Metric](t, w)
	if len(latest) != 3 {
		t.Fatalf("latest = %d entries, want 3", len(latest))
	}

	w = env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", w.Code)
	}
	got := decode[map[string]any](t, w)
	if got["totalSystems"] != float64(3) || got["healthScore"] != float64(67) {
		t.Fatalf("dashboard = %v", got)
	}
	if got["totalLogs"] != float64(3) || got["reportingSystems"] != float64(3) {
		t.Fatalf("dashboard totals = %v", got)
	}
	if recent, ok := got["recentLogs"].([]any); !ok || len(recent) != 3 {
		t.Fatalf("recentLogs = %v", got["recentLogs"])
	}

	w = env.do(t, http.MethodGet, "/api/systems/stats", "")
	counts := decode[models.SystemCounts](t, w)
	if counts != (models.SystemCounts{Total: 3, Online: 2, Warning: 1}) {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestResolveHeartbeatAndDelete(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "lifecycle")
	sid := itoa(sys.ID)

	w := env.do(t, http.MethodPost, "/api/logs", `{"systemId":`+sid+`,"level":"critical","message":"disk failure"}`)
	entry := decode[models.Log](t, w)
	if entry.IsResolved || entry.Level != models.LevelCritical {
		t.Fatalf("log = %+v", entry)
	}

	w = env.do(t, http.MethodPost, "/api/logs/"+itoa(entry.ID)+"/resolve", "")
	if w.Code != http.StatusOK || !decode[models.Log](t, w).IsResolved {
		t.Fatalf("resolve = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/systems/"+sid+"/heartbeat", "")
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", w.Code)
	}
	if touched := decode[models.System](t, w); touched.LastSeen.Before(sys.LastSeen) {
		t.Fatalf("lastSeen moved backwards: %v < %v", touched.LastSeen, sys.LastSeen)
	}

	if w := env.do(t, http.MethodDelete, "/api/systems/"+sid, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/systems/"+sid, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	// history stays readable after the system is gone
	if w := env.do(t, http.MethodGet, "/api/logs/"+itoa(entry.ID), ""); w.Code != http.StatusOK {
		t.Fatalf("log after system delete status = %d", w.Code)
	}

	want := []string{"systems.created", "logs.created", "logs.resolved", "systems.heartbeat", "systems.deleted"}
	got := env.events.keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHealthAndResourceSubset(t *testing.T) {
	cfg := testConfig()
	cfg.Resources = []string{"logs"}
	env := newTestEnv(t, cfg)

	w := env.do(t, http.MethodGet, "/health", "")
	health := decode[map[string]any](t, w)
	if w.Code != http.StatusOK || health["status"] != "ok" || health["service"] != "infra-monitor-test" {
		t.Fatalf("health = %d %v", w.Code, health)
	}

	if w := env.do(t, http.MethodGet, "/api/systems", ""); w.Code != http.StatusNotFound {
		t.Fatalf("disabled systems group status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/logs", ""); w.Code != http.StatusOK {
		t.Fatalf("logs group status = %d", w.Code)
	}
}

func TestHeartbeatRevivalIsLogged(t *testing.T) {
	env := newTestEnv(t, testConfig())
	sys := env.createSystem(t, "flaky-01")
	if _, err := env.repo.MarkStaleSystemsOffline(context.Background(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/systems/"+itoa(sys.ID)+"/heartbeat", "")
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", w.Code)
	}
	if got := decode[models.System](t, w); got.Status != models.StatusOnline {
		t.Fatalf("status after heartbeat = %s", got.Status)
	}

	w = env.do(t, http.MethodGet, "/api/logs?systemId="+itoa(sys.ID), "")
	logs := decode[[]models.Log](t, w)
	if len(logs) != 2 || logs[0].Level != models.LevelInfo || logs[0].Message != "System status changed from offline to online" ||
		logs[1].Level != models.LevelWarning {
		t.Fatalf("status logs = %+v", logs)
	}

	keys := env.events.keys()
	if n := len(keys); n < 2 || keys[n-2] != "systems.heartbeat" || keys[n-1] != "logs.created" {
		t.Fatalf("events = %v", keys)
	}
}

func TestRecentLogs(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.createSystem(t, "web-01")
	b := env.createSystem(t, "web-02")
	for i := 0; i < 12; i++ {
		sys := a
		if i%2 == 1 {
			sys = b
		}
		body := `{"systemId":` + itoa(sys.ID) + `,"message":"entry ` + itoa(int64(i)) + `"}`
		if w := env.do(t, http.MethodPost, "/api/logs", body); w.Code != http.StatusCreated {
			t.Fatalf("create log %d: %d %s", i, w.Code, w.Body.String())
		}
	}

	w := env.do(t, http.MethodGet, "/api/logs/recent", "")
	logs := decode[[]models.Log](t, w)
	if w.Code != http.StatusOK || len(logs) != 10 || logs[0].Message != "entry 11" || logs[9].Message != "entry 2" {
		t.Fatalf("recent = %d %+v", w.Code, logs)
	}

	w = env.do(t, http.MethodGet, "/api/logs/recent?limit=3", "")
	if logs := decode[[]models.Log](t, w); len(logs) != 3 {
		t.Fatalf("recent?limit=3 returned %d", len(logs))
	}
	w = env.do(t, http.MethodGet, "/api/logs/recent?limit=500", "")
	if logs := decode[[]models.Log](t, w); len(logs) != 12 {
		t.Fatalf("recent?limit=500 returned %d", len(logs))
	}
	if w := env.do(t, http.MethodGet, "/api/logs/recent?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("recent?limit=0 status = %d", w.Code)
	}
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("bucket unreachable") }

func TestHealthReportsDegradedDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	redisClient := db.NewRedisClient(client, "test")

	env := newTestEnv(t, testConfig(), func(d *Deps) {
		d.Redis = redisClient
		d.Storage = failingCheck{}
	})

	w := env.do(t, http.MethodGet, "/health", "")
	health := decode[map[string]any](t, w)
	if w.Code != http.StatusOK || health["status"] != "degraded" {
		t.Fatalf("health = %d %v", w.Code, health)
	}
	if health["database"] != "connected" || health["redis"] != "connected" || health["storage"] != "disconnected" {
		t.Fatalf("health = %v", health)
	}

	mr.Close()
	w = env.do(t, http.MethodGet, "/health", "")
	health = decode[map[string]any](t, w)
	if w.Code != http.StatusOK || health["status"] != "degraded" || health["redis"] != "disconnected" {
		t.Fatalf("health after redis loss = %d %v", w.Code, health)
	}
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
