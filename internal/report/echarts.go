// Package report renders compliance summaries from persisted session data,
// as browser charts (go-echarts) and as PNG files (gonum/plot).
package report

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
)

// ChartServer serves HTML chart views over one session's persisted data.
type ChartServer struct {
	db        *sqlite.DB
	sessionID string
}

// NewChartServer creates a chart server bound to one session.
func NewChartServer(db *sqlite.DB, sessionID string) *ChartServer {
	return &ChartServer{db: db, sessionID: sessionID}
}

// ServeMux returns the chart routes.
func (cs *ChartServer) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/report/compliance", cs.handleComplianceChart)
	mux.HandleFunc("/report/violations", cs.handleViolationsChart)
	mux.HandleFunc("/report/summary", cs.handleSummaryPage)
	return mux
}

func (cs *ChartServer) writeError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func (cs *ChartServer) timeline(r *http.Request) ([]sqlite.TimelinePoint, error) {
	buckets := 120
	if v := r.URL.Query().Get("buckets"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 2000 {
			return nil, fmt.Errorf("invalid buckets %q", v)
		}
		buckets = parsed
	}
	return cs.db.ComplianceTimeline(cs.sessionID, buckets)
}

// complianceLine builds the compliance-rate line chart for a timeline.
func complianceLine(sessionID string, points []sqlite.TimelinePoint) *charts.Line {
	ticks := make([]string, 0, len(points))
	rates := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		ticks = append(ticks, strconv.FormatInt(p.Tick, 10))
		rates = append(rates, opts.LineData{Value: p.ComplianceRate})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PPE Compliance", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "PPE Compliance Rate",
			Subtitle: fmt.Sprintf("session=%s buckets=%d", sessionID, len(points)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Tick"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Compliance (%)", Min: 0, Max: 100}),
	)
	line.SetXAxis(ticks).AddSeries("compliance", rates,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

// violationsBar builds the per-bucket violation count bar chart.
func violationsBar(sessionID string, points []sqlite.TimelinePoint) *charts.Bar {
	ticks := make([]string, 0, len(points))
	counts := make([]opts.BarData, 0, len(points))
	for _, p := range points {
		ticks = append(ticks, strconv.FormatInt(p.Tick, 10))
		counts = append(counts, opts.BarData{Value: p.Violations})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PPE Violations", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "PPE Violations per Bucket",
			Subtitle: fmt.Sprintf("session=%s", sessionID),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Tick"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Violations"}),
	)
	bar.SetXAxis(ticks).AddSeries("violations", counts,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))
	return bar
}

// handleComplianceChart renders the compliance-rate timeline as HTML.
func (cs *ChartServer) handleComplianceChart(w http.ResponseWriter, r *http.Request) {
	points, err := cs.timeline(r)
	if err != nil {
		cs.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(points) == 0 {
		cs.writeError(w, http.StatusNotFound, "no snapshots recorded yet")
		return
	}

	var buf bytes.Buffer
	if err := complianceLine(cs.sessionID, points).Render(&buf); err != nil {
		cs.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleViolationsChart renders the per-bucket violation counts as HTML.
func (cs *ChartServer) handleViolationsChart(w http.ResponseWriter, r *http.Request) {
	points, err := cs.timeline(r)
	if err != nil {
		cs.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(points) == 0 {
		cs.writeError(w, http.StatusNotFound, "no snapshots recorded yet")
		return
	}

	var buf bytes.Buffer
	if err := violationsBar(cs.sessionID, points).Render(&buf); err != nil {
		cs.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSummaryPage renders both charts on one page.
func (cs *ChartServer) handleSummaryPage(w http.ResponseWriter, r *http.Request) {
	points, err := cs.timeline(r)
	if err != nil {
		cs.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(points) == 0 {
		cs.writeError(w, http.StatusNotFound, "no snapshots recorded yet")
		return
	}

	page := components.NewPage()
	page.AddCharts(
		complianceLine(cs.sessionID, points),
		violationsBar(cs.sessionID, points),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		cs.writeError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
