package coords

import (
	"fmt"
	"math"
)

// MeasurementGrid lays out cols×rows positions spanning length×height mm with
// start as the lower-left position. Points are ordered column by column,
// bottom to top, and rounded to the micrometre.
func MeasurementGrid(cols, rows int, length, height float64, start Vec2) ([]Vec2, error) {
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("measurement grid: need at least one column and row, got %dx%d", cols, rows)
	}
	xs := linspace(start.X, start.X+length, cols)
	ys := linspace(start.Y, start.Y+height, rows)
	grid := make([]Vec2, 0, cols*rows)
	for _, x := range xs {
		for _, y := range ys {
			grid = append(grid, Vec2{round3(x), round3(y)})
		}
	}
	return grid, nil
}

func linspace(from, to float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = from
		return out
	}
	step := (to - from) / float64(n-1)
	for i := range out {
		out[i] = from + float64(i)*step
	}
	return out
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// SnapToGrid moves every point onto the nearest grid column and nearest grid
// row, axis by axis. Points keep their payload and index.
func SnapToGrid(points []LibraryPoint, grid []Vec2) []LibraryPoint {
	out := make([]LibraryPoint, len(points))
	copy(out, points)
	if len(grid) == 0 {
		return out
	}
	for i := range out {
		bx, by := grid[0].X, grid[0].Y
		for _, g := range grid[1:] {
			if math.Abs(g.X-out[i].X) < math.Abs(bx-out[i].X) {
				bx = g.X
			}
			if math.Abs(g.Y-out[i].Y) < math.Abs(by-out[i].Y) {
				by = g.Y
			}
		}
		out[i].X, out[i].Y = bx, by
	}
	return out
}

// SnakeOrder returns the grid xs×ys in serpentine order: the first row (ys[0])
// left to right, the next right to left, and so on. This is the visiting order
// of mapping stages that avoid a return stroke.
func SnakeOrder(xs, ys []float64) []Vec2 {
	out := make([]Vec2, 0, len(xs)*len(ys))
	for row, y := range ys {
		for i := range xs {
			x := xs[i]
			if row%2 == 1 {
				x = xs[len(xs)-1-i]
			}
			out = append(out, Vec2{x, y})
		}
	}
	return out
}

// SelectWindow keeps the points strictly inside the rectangle (min, max).
func SelectWindow(points []LibraryPoint, min, max Vec2) []LibraryPoint {
	var out []LibraryPoint
	for _, p := range points {
		if p.X > min.X && p.X < max.X && p.Y > min.Y && p.Y < max.Y {
			out = append(out, p)
		}
	}
	return out
}

// QuarterTurn is a rotation of the library frame by a multiple of 90°.
type QuarterTurn string

const (
	// Clockwise maps (x, y) to (y, -x).
	Clockwise QuarterTurn = "clockwise"
	// Counterclockwise maps (x, y) to (-y, x).
	Counterclockwise QuarterTurn = "counterclockwise"
	// HalfTurn maps (x, y) to (-x, -y).
	HalfTurn QuarterTurn = "180"
)

// ParseQuarterTurn accepts the QuarterTurn names plus "cw", "ccw" and "half".
func ParseQuarterTurn(s string) (QuarterTurn, error) {
	switch s {
	case "clockwise", "cw":
		return Clockwise, nil
	case "counterclockwise", "ccw":
		return Counterclockwise, nil
	case "180", "half":
		return HalfTurn, nil
	}
	return "", fmt.Errorf("unknown rotation %q (want clockwise, counterclockwise or 180)", s)
}

// RotateQuarter rotates points about the origin. Used when a sample was
// mounted turned relative to the library orientation.
func RotateQuarter(points []LibraryPoint, turn QuarterTurn) ([]LibraryPoint, error) {
	var f func(x, y float64) (float64, float64)
	switch turn {
	case Clockwise:
		f = func(x, y float64) (float64, float64) { return y, -x }
	case Counterclockwise:
		f = func(x, y float64) (float64, float64) { return -y, x }
	case HalfTurn:
		f = func(x, y float64) (float64, float64) { return -x, -y }
	default:
		return nil, fmt.Errorf("unknown rotation %q", turn)
	}
	out := make([]LibraryPoint, len(points))
	for i, p := range points {
		out[i] = p
		out[i].X, out[i].Y = f(p.X, p.Y)
	}
	return out, nil
}
