package coords

import (
	"fmt"
	"math"
)

// CornerCalibration builds calibration points from a rectangular sample whose
// upper-left and lower-right corners were located on the stage. The library
// frame is centred on the sample: upper-left maps to (-w/2, +h/2) and
// lower-right to (+w/2, -h/2).
func CornerCalibration(upperLeft, lowerRight Vec2, width, height float64) ([]CalibrationPoint, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("corner calibration: sample size must be positive, got %gx%g mm", width, height)
	}
	return []CalibrationPoint{
		{Instrument: upperLeft, Library: Vec2{-width / 2, height / 2}},
		{Instrument: lowerRight, Library: Vec2{width / 2, -height / 2}},
	}, nil
}

// Centering is the result of CenterOnCorners.
type Centering struct {
	Points []LibraryPoint
	// Offset was subtracted from every point.
	Offset Vec2
	// Asymmetry is the midpoint of the centred points' bounding box. It is
	// (0, 0) for a grid laid out symmetrically about the sample centre.
	Asymmetry Vec2
	Symmetric bool
}

// CenterOnCorners moves points so that the midpoint of two opposite sample
// corners becomes the origin. Only a translation is applied, for instruments
// whose stage axes are already aligned with the library. The result reports
// whether the measured grid is symmetric about the new origin within
// tolerance (mm); tolerance <= 0 uses DefaultTolerance.
func CenterOnCorners(points []RawPoint, cornerA, cornerB Vec2, tolerance float64) Centering {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	mid := cornerA.Add(cornerB).Mul(0.5)
	c := Centering{Points: make([]LibraryPoint, len(points)), Offset: mid, Symmetric: true}
	if len(points) == 0 {
		return c
	}

	minP := Vec2{math.Inf(1), math.Inf(1)}
	maxP := Vec2{math.Inf(-1), math.Inf(-1)}
	for i, p := range points {
		q := Vec2{p.X, p.Y}.Sub(mid)
		c.Points[i] = LibraryPoint{X: q.X, Y: q.Y, Payload: p.Payload, Index: i}
		minP = Vec2{math.Min(minP.X, q.X), math.Min(minP.Y, q.Y)}
		maxP = Vec2{math.Max(maxP.X, q.X), math.Max(maxP.Y, q.Y)}
	}
	c.Asymmetry = minP.Add(maxP).Mul(0.5)
	c.Symmetric = math.Abs(c.Asymmetry.X) <= tolerance && math.Abs(c.Asymmetry.Y) <= tolerance
	if !c.Symmetric {
		opsf("grid not symmetric about corner midpoint: off by (%.3f, %.3f) mm, tolerance %.3f mm",
			c.Asymmetry.X, c.Asymmetry.Y, tolerance)
	}
	return c
}
