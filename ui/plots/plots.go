// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects and draws curves of scheduler values (cumulative alphas, variances, noise weights)
// along the inference schedule.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"
	"sort"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/deploy/pkg/ml/scheduler"
	"github.com/gomlx/deploy/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Point represents a plot point. It is used to save/load plots.
type Point struct {
	// MetricName of this point.
	MetricName string

	// Short name
	Short string

	// MetricType groups similar metrics in the same plot, e.g. "alpha", "noise".
	MetricType string

	// Step is the inference step index this value corresponds to, stored as a float64.
	Step float64

	// Value of the metric.
	Value float64
}

// Metric types generated by SchedulePoints.
const (
	MetricTypeAlpha = "alpha"
	MetricTypeNoise = "noise"
)

// SchedulePoints returns the points describing an initialized scheduler's schedule: for each inference step the
// timestep, the cumulative alpha at the timestep and at the previous timestep, the variance and
// σ = eta·sqrt(variance).
func SchedulePoints(tables *scheduler.Tables, eta float64) ([]Point, error) {
	if tables == nil || len(tables.Variance) != len(tables.Timesteps) {
		return nil, errors.New("scheduler tables not configured")
	}
	points := make([]Point, 0, 4*len(tables.Timesteps))
	for stepIdx, timestep := range tables.Timesteps {
		step := float64(stepIdx)
		alphaProd, err := tables.AlphaCumprod(timestep)
		if err != nil {
			return nil, err
		}
		alphaProdPrev, err := tables.AlphaCumprod(tables.PrevTimestep(stepIdx))
		if err != nil {
			return nil, err
		}
		variance := tables.Variance[stepIdx]
		points = append(points,
			Point{MetricName: "Timestep", Short: "t", MetricType: "timestep", Step: step, Value: float64(timestep)},
			Point{MetricName: "Alpha cumprod", Short: "ᾱ_t", MetricType: MetricTypeAlpha, Step: step, Value: alphaProd},
			Point{MetricName: "Previous alpha cumprod", Short: "ᾱ_prev", MetricType: MetricTypeAlpha, Step: step,
				Value: alphaProdPrev},
			Point{MetricName: "Variance", Short: "var", MetricType: MetricTypeNoise, Step: step, Value: variance},
			Point{MetricName: "Sigma", Short: "σ", MetricType: MetricTypeNoise, Step: step,
				Value: eta * math.Sqrt(variance)},
		)
	}
	return points, nil
}

// SavePoints writes the points to the given file, one JSON object per line.
func SavePoints(filePath string, points []Point) error {
	filePath, err := fsutil.ReplaceTilde(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create plots file %q", filePath)
	}
	enc := json.NewEncoder(f)
	for _, point := range points {
		if err = enc.Encode(point); err != nil {
			_ = f.Close()
			return errors.Wrapf(err, "failed to encode point %v", point)
		}
	}
	return errors.Wrapf(f.Close(), "failed to close plots file %q", filePath)
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	filePath, err := fsutil.ReplaceTilde(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plots file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// Points is a collection of Point objects organized by their Step value.
type Points map[float64][]Point

// NewPoints create a Points object from a collection of individual `Point`.
func NewPoints(rawPoints []Point) Points {
	points := make(Points)
	for _, p := range rawPoints {
		points[p.Step] = append(points[p.Step], p)
	}
	return points
}

// Map executes the given function on all individual points, in `Step` order.
func (points Points) Map(fn func(p *Point)) {
	for _, step := range slices.Sorted(maps.Keys(points)) {
		stepPoints := points[step]
		for ii := range stepPoints {
			fn(&stepPoints[ii])
		}
	}
}

// Extract converts the Points structure back to a list of individual points, sorted by Point.Step.
func (points Points) Extract() (rawPoints []Point) {
	points.Map(func(p *Point) {
		rawPoints = append(rawPoints, *p)
	})
	return
}

// MetricsNames return the list of metrics names in the whole collection, sorted alphabetically by their type and
// then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	points.Map(func(p *Point) {
		nameToType[p.MetricName] = p.MetricType
	})
	names := slices.Sorted(maps.Keys(nameToType))
	sort.SliceStable(names, func(i, j int) bool {
		return nameToType[names[i]] < nameToType[names[j]]
	})
	return names
}

// TableForMetrics returns a table with the first column being the `Step` followed
// by the columns given by the `metrics` names.
// If `metrics` is empty, it will include all metrics in the table.
func (points Points) TableForMetrics(metrics ...string) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if len(metrics) == 0 {
		metrics = points.MetricsNames()
	}
	table.Headers(append([]string{"Step"}, metrics...)...)
	for _, step := range slices.Sorted(maps.Keys(points)) {
		row := make([]string, 1+len(metrics))
		row[0] = fmt.Sprintf("%.0f", step)
		for _, pt := range points[step] {
			if idx := slices.Index(metrics, pt.MetricName); idx != -1 {
				row[idx+1] = fmt.Sprintf("%g", pt.Value)
			}
		}
		table.Row(row...)
	}
	return table.String()
}

func (points Points) String() string {
	return points.TableForMetrics()
}

// SavePNG draws one line per metric of the given metricType and saves it as a PNG (or any other format supported
// by gonum/plot, selected by the file extension) to filePath.
func (points Points) SavePNG(filePath, title, metricType string) error {
	filePath, err := fsutil.ReplaceTilde(filePath)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "inference step"
	p.Y.Label.Text = metricType
	p.Legend.Top = true

	var lines []any
	for _, name := range points.MetricsNames() {
		var xys plotter.XYs
		points.Map(func(pt *Point) {
			if pt.MetricName == name && pt.MetricType == metricType {
				xys = append(xys, plotter.XY{X: pt.Step, Y: pt.Value})
			}
		})
		if len(xys) == 0 {
			continue
		}
		lines = append(lines, name, xys)
	}
	if len(lines) == 0 {
		return errors.Errorf("no points of metric type %q to plot", metricType)
	}
	if err = plotutil.AddLinePoints(p, lines...); err != nil {
		return errors.Wrapf(err, "failed to plot %q", title)
	}
	if err = p.Save(12*vg.Inch, 6*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	klog.V(1).Infof("saved plot %q to %s", title, filePath)
	return nil
}
