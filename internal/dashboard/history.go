package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"infra-monitor/internal/client"
	"infra-monitor/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	defaultHistoryHours = 24
	historyLimit        = 1000
)

func (s *Server) handleHistory(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	hours := defaultHistoryHours
	if raw := c.Query("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h < 1 || h > 720 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be between 1 and 720", "field": "hours"})
			return
		}
		hours = h
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	system, err := s.upstream.GetSystem(ctx, id)
	if err != nil {
		s.respondUpstreamError(c, err, "get system")
		return
	}
	metrics, err := s.upstream.ListMetrics(ctx, client.MetricQuery{SystemID: id, Hours: hours, Limit: historyLimit})
	if err != nil {
		s.respondUpstreamError(c, err, "list metrics")
		return
	}

	page, err := RenderHistory(system, metrics)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render history"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

// RenderHistory draws usage and network charts for one system. metrics may
// be in any order; points are plotted oldest first.
func RenderHistory(system *models.System, metrics []models.Metric) ([]byte, error) {
	points := chronological(metrics)

	labels := make([]string, len(points))
	cpu := make([]opts.LineData, len(points))
	mem := make([]opts.LineData, len(points))
	disk := make([]opts.LineData, len(points))
	netIn := make([]opts.LineData, len(points))
	netOut := make([]opts.LineData, len(points))
	for i, m := range points {
		labels[i] = m.Timestamp.Format("01-02 15:04:05")
		cpu[i] = opts.LineData{Value: m.CPUUsage}
		mem[i] = opts.LineData{Value: m.MemoryUsage}
		disk[i] = opts.LineData{Value: m.DiskUsage}
		netIn[i] = opts.LineData{Value: m.NetworkIn}
		netOut[i] = opts.LineData{Value: m.NetworkOut}
	}

	usage := newLine(fmt.Sprintf("%s usage (%%)", system.Name))
	usage.SetGlobalOptions(charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 100}))
	usage.SetXAxis(labels).
		AddSeries("CPU", cpu).
		AddSeries("Memory", mem).
		AddSeries("Disk", disk)

	network := newLine(fmt.Sprintf("%s network", system.Name))
	network.SetGlobalOptions(charts.WithYAxisOpts(opts.YAxis{Type: "value"}))
	network.SetXAxis(labels).
		AddSeries("In", netIn).
		AddSeries("Out", netOut)
	network.SetSeriesOptions(charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.2)}))

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s history", system.Name)
	page.AddCharts(usage, network)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render charts: %w", err)
	}
	return buf.Bytes(), nil
}

func newLine(title string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
	)
	return line
}

// chronological returns a copy of metrics sorted oldest first.
func chronological(metrics []models.Metric) []models.Metric {
	out := make([]models.Metric, len(metrics))
	copy(out, metrics)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
