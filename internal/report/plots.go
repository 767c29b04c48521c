package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/logfile"
	"github.com/dtu-nanolab/libmap/internal/segment"
)

// PayloadValue returns an accessor for a numeric payload field. It understands
// the payloads produced by logfile.ReadPoints and plain float maps.
func PayloadValue(key string) func(coords.LibraryPoint) (float64, bool) {
	return func(p coords.LibraryPoint) (float64, bool) {
		switch m := p.Payload.(type) {
		case logfile.Payload:
			v, ok := m[key]
			return v, ok
		case map[string]float64:
			v, ok := m[key]
			return v, ok
		}
		return 0, false
	}
}

// TimelinePNG plots channels against minutes since the first sample and marks
// every step boundary with a dashed line labelled with the step.
func TimelinePNG(w io.Writer, rows []segment.ChannelSample, channels []string, steps []segment.ProcessStep, title string) error {
	if len(rows) == 0 {
		return fmt.Errorf("timeline: no samples")
	}
	t0 := rows[0].Time
	minutes := func(i int) float64 { return rows[i].Time.Sub(t0).Minutes() }

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (min)"
	p.Y.Label.Text = "Value"

	colors := generateColors(len(channels))
	lo, hi := math.Inf(1), math.Inf(-1)
	for ci, ch := range channels {
		pts := make(plotter.XYs, 0, len(rows))
		for i, r := range rows {
			if v, ok := r.Values[ch]; ok {
				pts = append(pts, plotter.XY{X: minutes(i), Y: v})
				lo, hi = math.Min(lo, v), math.Max(hi, v)
			}
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("timeline %s: %w", ch, err)
		}
		line.Color = colors[ci]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(ch, line)
	}
	if math.IsInf(lo, 1) {
		lo, hi = 0, 1
	}

	var labels plotter.XYLabels
	for _, s := range steps {
		x := s.Start.Sub(t0).Minutes()
		if s.FirstIndex > 0 {
			marker, err := plotter.NewLine(plotter.XYs{{X: x, Y: lo}, {X: x, Y: hi}})
			if err != nil {
				return fmt.Errorf("timeline boundary: %w", err)
			}
			marker.Color = color.Gray{Y: 120}
			marker.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(marker)
		}
		labels.XYs = append(labels.XYs, plotter.XY{X: x, Y: hi})
		labels.Labels = append(labels.Labels, s.Label)
	}
	if len(labels.Labels) > 0 {
		l, err := plotter.NewLabels(labels)
		if err != nil {
			return fmt.Errorf("timeline labels: %w", err)
		}
		p.Add(l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := writePNG(w, p, 14*vg.Inch, 6*vg.Inch); err != nil {
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	return nil
}

// LibraryMapPNG draws the mapped points in library coordinates coloured by
// value. Points without a value are drawn grey.
func LibraryMapPNG(w io.Writer, points []coords.LibraryPoint, value func(coords.LibraryPoint) (float64, bool), title string) error {
	if len(points) == 0 {
		return fmt.Errorf("library map: no points")
	}
	xys := make(plotter.XYs, len(points))
	vals := make([]float64, len(points))
	has := make([]bool, len(points))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, pt := range points {
		xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
		if value != nil {
			vals[i], has[i] = value(pt)
		}
		if has[i] {
			lo, hi = math.Min(lo, vals[i]), math.Max(hi, vals[i])
		}
	}

	cm := moreland.SmoothBlueRed()
	if !math.IsInf(lo, 1) {
		if hi == lo {
			hi = lo + 1
		}
		cm.SetMin(lo)
		cm.SetMax(hi)
	}

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("library map: %w", err)
	}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		style := draw.GlyphStyle{Radius: vg.Points(4), Shape: draw.CircleGlyph{}, Color: color.Gray{Y: 160}}
		if has[i] {
			if c, err := cm.At(vals[i]); err == nil {
				style.Color = c
			}
		}
		return style
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid(), sc)

	if err := writePNG(w, p, 8*vg.Inch, 8*vg.Inch); err != nil {
		return fmt.Errorf("failed to write library map: %w", err)
	}
	return nil
}

func writePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// generateColors creates a palette of distinct colors for channel lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
