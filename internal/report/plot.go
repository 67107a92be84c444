package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
)

// PlotBuckets is the timeline resolution used for PNG exports.
const PlotBuckets = 200

// SavePlots writes compliance and violation PNG plots for one session into
// outputDir, creating it if needed. Returns the files written.
func SavePlots(db *sqlite.DB, sessionID, outputDir string) ([]string, error) {
	points, err := db.ComplianceTimeline(sessionID, PlotBuckets)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("session %s has no snapshots to plot", sessionID)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	complianceFile := filepath.Join(outputDir, fmt.Sprintf("%s_compliance.png", sessionID))
	if err := saveCompliancePlot(points, sessionID, complianceFile); err != nil {
		return nil, err
	}

	violationsFile := filepath.Join(outputDir, fmt.Sprintf("%s_violations.png", sessionID))
	if err := saveViolationsPlot(points, sessionID, violationsFile); err != nil {
		return nil, err
	}

	return []string{complianceFile, violationsFile}, nil
}

func saveCompliancePlot(points []sqlite.TimelinePoint, sessionID, file string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Compliance Rate - %s", sessionID)
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Compliance (%)"
	p.Y.Min = 0
	p.Y.Max = 100

	pts := make(plotter.XYs, 0, len(points))
	for _, tp := range points {
		pts = append(pts, plotter.XY{X: float64(tp.Tick), Y: tp.ComplianceRate})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build compliance line: %w", err)
	}
	line.Color = color.RGBA{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff}
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("compliance", line)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save compliance plot: %w", err)
	}
	return nil
}

func saveViolationsPlot(points []sqlite.TimelinePoint, sessionID, file string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Violations - %s", sessionID)
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Violations"
	p.Y.Min = 0

	viol := make(plotter.XYs, 0, len(points))
	persons := make(plotter.XYs, 0, len(points))
	for _, tp := range points {
		viol = append(viol, plotter.XY{X: float64(tp.Tick), Y: float64(tp.Violations)})
		persons = append(persons, plotter.XY{X: float64(tp.Tick), Y: float64(tp.TotalPersons)})
	}

	violLine, err := plotter.NewLine(viol)
	if err != nil {
		return fmt.Errorf("failed to build violations line: %w", err)
	}
	violLine.Color = color.RGBA{R: 0xff, G: 0x52, B: 0x52, A: 0xff}
	violLine.Width = vg.Points(1.5)
	p.Add(violLine)
	p.Legend.Add("violations", violLine)

	personsLine, err := plotter.NewLine(persons)
	if err != nil {
		return fmt.Errorf("failed to build persons line: %w", err)
	}
	personsLine.Color = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
	personsLine.Width = vg.Points(1)
	p.Add(personsLine)
	p.Legend.Add("persons", personsLine)
	p.Legend.Top = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save violations plot: %w", err)
	}
	return nil
}
