// Package report renders segmentation and mapping results as text tables,
// PNG plots and HTML charts.
package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/segment"
)

const timeLayout = "2006-01-02 15:04:05"

func fmtDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteSteps prints one row per step. Rate metrics are appended as extra
// columns, sorted by channel.
func WriteSteps(w io.Writer, steps []segment.ProcessStep) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	rateKeys := metricKeys(steps, "rate:")
	headers := []string{"#", "Label", "Start", "End", "Duration", "Samples"}
	for _, k := range rateKeys {
		headers = append(headers, strings.TrimPrefix(k, "rate:")+" rate")
	}
	table.Header(headers)

	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for i, s := range steps {
		row := []string{
			strconv.Itoa(i + 1),
			s.Label,
			s.Start.Format(timeLayout),
			s.End.Format(timeLayout),
			fmtDuration(s.Duration()),
			strconv.Itoa(s.Samples()),
		}
		for _, k := range rateKeys {
			if v, ok := s.Metrics[k]; ok {
				row = append(row, fmtFloat(v))
			} else {
				row = append(row, "-")
			}
		}
		data = append(data, row)
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func metricKeys(steps []segment.ProcessStep, prefix string) []string {
	seen := make(map[string]struct{})
	for _, s := range steps {
		for k := range s.Metrics {
			if strings.HasPrefix(k, prefix) {
				seen[k] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteSummary prints total time and step count per label.
func WriteSummary(w io.Writer, summary []segment.LabelSummary) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Label", "Steps", "Total"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, s := range summary {
		data = append(data, []string{s.Label, strconv.Itoa(s.Count), fmtDuration(s.Total)})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WriteTransform prints the fitted parameters of a calibration.
func WriteTransform(w io.Writer, t coords.Transform) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Parameter", "Value"})
	scale := fmt.Sprintf("%.6f", t.Scale)
	if t.Anisotropic {
		scale = fmt.Sprintf("%.6f / %.6f", t.Scale, t.ScaleY)
	}
	unit := t.InstrumentUnit
	if unit == "" {
		unit = "mm"
	}
	data := [][]string{
		{"Rotation (deg)", fmt.Sprintf("%.4f", t.Rotation*180/math.Pi)},
		{"Translation (mm)", fmt.Sprintf("(%.4f, %.4f)", t.Translation.X, t.Translation.Y)},
		{"Scale", scale},
		{"Reflect X", strconv.FormatBool(t.Reflect)},
		{"Instrument unit", unit},
		{"RMS residual (mm)", fmt.Sprintf("%.4f", t.RMSResidual)},
		{"Quality", qualityLabel(t.Quality)},
		{"Low confidence", strconv.FormatBool(t.LowConfidence)},
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WritePoints prints mapped points with the requested payload columns.
func WritePoints(w io.Writer, points []coords.LibraryPoint, columns []string) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header(append([]string{"#", "X (mm)", "Y (mm)"}, columns...))
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, p := range points {
		row := []string{strconv.Itoa(p.Index), fmtFloat(p.X), fmtFloat(p.Y)}
		for _, c := range columns {
			if v, ok := PayloadValue(c)(p); ok {
				row = append(row, fmtFloat(v))
			} else {
				row = append(row, "-")
			}
		}
		data = append(data, row)
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// Status is one row of a batch report.
type Status struct {
	ID       string
	File     string
	Elapsed  time.Duration
	Warnings []string
	Err      error
}

// WriteStatus prints the outcome of every file in a batch.
func WriteStatus(w io.Writer, rows []Status) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Run", "File", "Elapsed", "Result"})

	var data [][]string
	for _, r := range rows {
		result := okColor.Sprint("ok")
		switch {
		case r.Err != nil:
			result = errorColor.Sprint("error: " + r.Err.Error())
		case len(r.Warnings) > 0:
			result = warningColor.Sprint("warning: " + strings.Join(r.Warnings, "; "))
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		data = append(data, []string{id, r.File, r.Elapsed.Round(time.Millisecond).String(), result})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WriteIntervals prints the intervals during which one condition held.
func WriteIntervals(w io.Writer, name string, intervals []segment.Interval) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"#", "Event", "Start", "End", "Duration", "Samples"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for i, iv := range intervals {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			name,
			iv.Start.Format(timeLayout),
			iv.End.Format(timeLayout),
			fmtDuration(iv.Duration()),
			strconv.Itoa(iv.LastIndex - iv.FirstIndex + 1),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WriteDepositions prints the deposition steps with their substrate
// temperature. A step with no heater setpoint above th.RoomTemperature is
// reported as a room-temperature deposition.
func WriteDepositions(w io.Writer, steps []segment.ProcessStep, th segment.Thresholds) error {
	deps := segment.StepsLabelled(steps, segment.LabelDeposition)
	if len(deps) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Deposition", "Start", "Duration", "Setpoint (C)", "True temp (C)", "Heating"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	metric := func(s segment.ProcessStep, ch string) string {
		if v, ok := s.Metrics[segment.MeanMetric(ch)]; ok {
			return fmtFloat(v)
		}
		return "-"
	}
	var data [][]string
	for i, s := range deps {
		heating := "heated"
		if segment.IsRoomTemperature(s, th) {
			heating = "room temperature"
		}
		data = append(data, []string{
			strconv.Itoa(i + 1),
			s.Start.Format(timeLayout),
			fmtDuration(s.Duration()),
			metric(s, segment.ChannelHeaterSetpoint),
			metric(s, segment.ChannelTrueTemperature),
			heating,
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// WriteCentering prints the offset removed by corner centring and whether the
// measured grid is symmetric about the library centre.
func WriteCentering(w io.Writer, c coords.Centering) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Parameter", "Value"})
	symmetric := okColor.Sprint("yes")
	if !c.Symmetric {
		symmetric = warningColor.Sprint("no")
	}
	data := [][]string{
		{"Corner midpoint (mm)", fmt.Sprintf("(%.4f, %.4f)", c.Offset.X, c.Offset.Y)},
		{"Grid asymmetry (mm)", fmt.Sprintf("(%.4f, %.4f)", c.Asymmetry.X, c.Asymmetry.Y)},
		{"Symmetric", symmetric},
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}
