package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/segment"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// LibraryMapHTML renders the mapped points as an interactive scatter coloured
// by value. Points without a value are left out of the chart.
func LibraryMapHTML(w io.Writer, points []coords.LibraryPoint, value func(coords.LibraryPoint) (float64, bool), title string) error {
	scatter, err := libraryScatter(points, value, title)
	if err != nil {
		return err
	}
	return scatter.Render(w)
}

func libraryScatter(points []coords.LibraryPoint, value func(coords.LibraryPoint) (float64, bool), title string) (*charts.Scatter, error) {
	if value == nil {
		return nil, fmt.Errorf("library map: no value accessor")
	}
	data := make([]opts.ScatterData, 0, len(points))
	pad := 1.0
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		v, ok := value(p)
		if !ok {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		pad = math.Max(pad, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, v}})
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("library map: no points with a value")
	}
	if hi == lo {
		hi = lo + 1
	}
	pad = math.Ceil(pad * 1.05)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("points=%d", len(data))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("library", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter, nil
}

// TimelineHTML renders channels against sample time with one series per
// channel, followed by a bar chart of step durations.
func TimelineHTML(w io.Writer, rows []segment.ChannelSample, channels []string, steps []segment.ProcessStep, title string) error {
	if len(rows) == 0 {
		return fmt.Errorf("timeline: no samples")
	}

	x := make([]string, len(rows))
	for i, r := range rows {
		x[i] = r.Time.Format(timeLayout)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("samples=%d steps=%d", len(rows), len(steps))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	line.SetXAxis(x)
	for _, ch := range channels {
		data := make([]opts.LineData, len(rows))
		for i, r := range rows {
			if v, ok := r.Values[ch]; ok {
				data[i] = opts.LineData{Value: v}
			} else {
				data[i] = opts.LineData{Value: "-"}
			}
		}
		line.AddSeries(ch, data)
	}

	bar := stepBar(steps)

	page := components.NewPage()
	page.SetPageTitle(title)
	page.AddCharts(line, bar)
	return page.Render(w)
}

// stepBar shows the duration of each step in minutes, one bar per step.
func stepBar(steps []segment.ProcessStep) *charts.Bar {
	x := make([]string, len(steps))
	y := make([]opts.BarData, len(steps))
	for i, s := range steps {
		x[i] = fmt.Sprintf("%d %s", i+1, s.Label)
		y[i] = opts.BarData{Value: math.Round(s.Duration().Minutes()*100) / 100}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Steps", Subtitle: "duration (min)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("duration", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
