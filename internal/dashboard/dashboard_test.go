package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"infra-monitor/internal/api"
	"infra-monitor/internal/client"
	"infra-monitor/internal/poller"
	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/logger"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:    "dashboard-test",
		AllowedOrigins: []string{"*"},
		Resources:      []string{"systems", "metrics", "logs"},
		RequestTimeout: 5 * time.Second,
	}
}

type stack struct {
	server *Server
	poller *poller.Poller
}

// newStack runs a sqlite-backed Resource API seeded with demo data and a
// dashboard polling it.
func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Use(zap.NewNop())

	sqldb, err := db.NewSQLiteConnection(t.TempDir() + "/dash.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	repo := store.NewRepository(sqldb, store.SQLite)
	ctx := context.Background()
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := repo.SeedDemoData(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	apiServer := httptest.NewServer(api.NewServer(testConfig(), api.Deps{Repo: repo}).Router())
	t.Cleanup(apiServer.Close)

	upstream := client.NewWithHTTPClient(apiServer.URL, apiServer.Client())
	p := poller.New(upstream, poller.Intervals{Systems: time.Hour, Metrics: time.Hour, Logs: time.Hour}, nil)
	srv := NewServer(testConfig(), p, upstream, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Hub().Close()
	})

	waitFor(t, "initial snapshots", func() bool {
		v := p.View()
		return v.SystemsVersion >= 1 && v.MetricsVersion >= 1 && p.Logs.Snapshot().Version >= 1
	})
	return &stack{server: srv, poller: p}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

func TestFilterLogsAppliesAllFilters(t *testing.T) {
	logs := []models.Log{
		{ID: 1, SystemID: 1, Level: models.LevelError},
		{ID: 2, SystemID: 1, Level: models.LevelInfo},
		{ID: 3, SystemID: 2, Level: models.LevelError},
	}

	cases := []struct {
		systemID int64
		level    models.LogLevel
		want     []int64
	}{
		{0, "", []int64{1, 2, 3}},
		{1, "", []int64{1, 2}},
		{0, models.LevelError, []int64{1, 3}},
		{1, models.LevelError, []int64{1}},
		{3, "", []int64{}},
	}
	for _, tc := range cases {
		got := FilterLogs(logs, tc.systemID, tc.level)
		ids := make([]int64, len(got))
		for i, l := range got {
			ids[i] = l.ID
		}
		if len(ids) != len(tc.want) {
			t.Fatalf("FilterLogs(%d, %q) = %v, want %v", tc.systemID, tc.level, ids, tc.want)
		}
		for i := range ids {
			if ids[i] != tc.want[i] {
				t.Fatalf("FilterLogs(%d, %q) = %v, want %v", tc.systemID, tc.level, ids, tc.want)
			}
		}
	}
}

func TestStatsFromPolledSnapshots(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/dashboard/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var view poller.View
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := view.Stats
	if st.TotalSystems != 3 || st.Online != 2 || st.Warning != 1 || st.HealthScore != 67 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByType.Database != 1 || st.ByType.Windows != 1 || st.ByType.Linux != 1 {
		t.Fatalf("byType = %+v", st.ByType)
	}
	if st.ReportingSystems != 3 {
		t.Fatalf("reporting = %d", st.ReportingSystems)
	}
}

func TestLogsEndpointFilters(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/dashboard/logs?level=error", "")
	var resp listResponse[models.Log]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Message != "IIS Worker Process failed" {
		t.Fatalf("items = %+v", resp.Items)
	}

	if w := s.do(t, http.MethodGet, "/dashboard/logs?systemId=x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad systemId status = %d", w.Code)
	}
}

func TestCreateSystemInvalidatesSystemsFeed(t *testing.T) {
	s := newStack(t)
	before := s.poller.Systems.Snapshot().Version

	w := s.do(t, http.MethodPost, "/dashboard/systems", `{"name":"edge-01","type":"linux","ipAddress":"10.9.9.9"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}

	waitFor(t, "systems refetch", func() bool {
		snap := s.poller.Systems.Snapshot()
		return snap.Version > before && len(snap.Items) == 4
	})
	waitFor(t, "stats recompute", func() bool { return s.poller.View().Stats.TotalSystems == 4 })
}

func TestUpstreamRejectionIsRelayed(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodPost, "/dashboard/systems", `{"name":"bad","type":"linux","ipAddress":"not-an-ip"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["field"] != "ipAddress" {
		t.Fatalf("body = %v", body)
	}

	if w := s.do(t, http.MethodPatch, "/dashboard/systems/999", `{"status":"offline"}`); w.Code != http.StatusNotFound {
		t.Fatalf("patch missing status = %d", w.Code)
	}
}

func TestUnreachableUpstreamIsBadGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger.Use(zap.NewNop())

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	upstream := client.New(dead.URL, time.Second)
	p := poller.New(upstream, poller.DefaultIntervals(), nil)
	srv := NewServer(testConfig(), p, upstream, nil)

	req := httptest.NewRequest(http.MethodPost, "/dashboard/systems", strings.NewReader(`{"name":"x","type":"linux","ipAddress":"10.0.0.1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHistoryChart(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/dashboard/systems/1/history?hours=6", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %s", ct)
	}
	if !strings.Contains(w.Body.String(), "Prod-DB-01 usage") {
		t.Fatal("chart title missing from page")
	}

	if w := s.do(t, http.MethodGet, "/dashboard/systems/404/history", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing system status = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/dashboard/systems/1/history?hours=0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad hours status = %d", w.Code)
	}
}

func TestRenderHistoryOrdersPoints(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	metrics := []models.Metric{
		{ID: 2, Timestamp: now.Add(time.Minute), CPUUsage: 20},
		{ID: 1, Timestamp: now, CPUUsage: 10},
	}
	ordered := chronological(metrics)
	if ordered[0].ID != 1 || metrics[0].ID != 2 {
		t.Fatalf("ordered = %+v, input mutated = %v", ordered, metrics[0].ID != 2)
	}
	page, err := RenderHistory(&models.System{Name: "solo"}, metrics)
	if err != nil || !bytes.Contains(page, []byte("solo network")) {
		t.Fatalf("RenderHistory err = %v", err)
	}
}

func TestWebsocketReceivesStats(t *testing.T) {
	s := newStack(t)
	ts := httptest.NewServer(s.server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/dashboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// earlier recomputations may still be in flight; read until cond holds
	readUntil := func(what string, cond func(poller.View) bool) {
		for i := 0; i < 10; i++ {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			var msg struct {
				Type string      `json:"type"`
				Data poller.View `json:"data"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			if msg.Type != "stats" {
				t.Fatalf("type = %s", msg.Type)
			}
			if cond(msg.Data) {
				return
			}
		}
		t.Fatalf("no push satisfied %s", what)
	}

	readUntil("full fleet", func(v poller.View) bool { return v.Stats.TotalSystems == 3 })

	waitFor(t, "registered client", func() bool { return s.server.Hub().Count() == 1 })
	s.poller.Metrics.Invalidate()
	readUntil("metrics refetch", func(v poller.View) bool { return v.MetricsVersion >= 2 })
}
