// Package coords maps per-point measurements from an instrument's stage frame
// into the library-centred frame shared by all characterisation techniques.
//
// A Transform is fitted once per instrument session from calibration points
// (FitTransform) and then applied to every measured point (ApplyTransform).
// Library coordinates are millimetres with the origin at the library centre,
// X to the right and Y up.
package coords

import (
	"fmt"
	"math"

	"github.com/dtu-nanolab/libmap/internal/units"
)

// Vec2 is a planar coordinate or offset.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }
func (v Vec2) Mul(k float64) Vec2 { return Vec2{v.X * k, v.Y * k} }
func (v Vec2) Norm() float64 { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64 { return v.Sub(o).Norm() }

func (v Vec2) finite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

func (v Vec2) rotate(theta float64) Vec2 {
	s, c := math.Sincos(theta)
	return Vec2{c*v.X - s*v.Y, s*v.X + c*v.Y}
}

// RawPoint is a measurement position in the instrument frame. Payload is
// carried through untouched.
type RawPoint struct {
	X       float64
	Y       float64
	Payload any
}

// CalibrationPoint pairs a stage position with its nominal library position.
type CalibrationPoint struct {
	Instrument Vec2 `json:"instrument"`
	Library    Vec2 `json:"library"`
}

// LibraryPoint is a RawPoint mapped into the library frame. Index is the
// position of the source RawPoint in the input slice.
type LibraryPoint struct {
	X       float64
	Y       float64
	Payload any
	Index   int
}

// Pos returns the point's coordinates.
func (p LibraryPoint) Pos() Vec2 { return Vec2{p.X, p.Y} }

// Quality represents the assessed quality of a calibration fit.
type Quality string

const (
	// QualityExcellent indicates RMS residual < 0.05 mm
	QualityExcellent Quality = "excellent"
	// QualityGood indicates RMS residual 0.05-0.15 mm
	QualityGood Quality = "good"
	// QualityFair indicates RMS residual 0.15-0.30 mm, usable but consider recalibration
	QualityFair Quality = "fair"
	// QualityPoor indicates RMS residual >= 0.30 mm, requires recalibration
	QualityPoor Quality = "poor"
)

// RMS residual thresholds (millimetres)
const (
	ResidualThresholdExcellent = 0.05
	ResidualThresholdGood      = 0.15
	ResidualThresholdFair      = 0.30
)

// QualityFor buckets an RMS residual.
func QualityFor(rms float64) Quality {
	switch {
	case rms < ResidualThresholdExcellent:
		return QualityExcellent
	case rms < ResidualThresholdGood:
		return QualityGood
	case rms < ResidualThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Transform maps stage coordinates to library coordinates:
//
//	library = R(Rotation) · diag(Scale, ScaleY) · M · u · instrument + Translation
//
// where u converts InstrumentUnit to millimetres and M mirrors X when Reflect
// is set. ScaleY equals Scale unless Anisotropic. A zero scale means 1.
type Transform struct {
	Rotation       float64 `json:"rotation_rad"`
	Translation    Vec2    `json:"translation_mm"`
	Scale          float64 `json:"scale"`
	ScaleY         float64 `json:"scale_y"`
	Anisotropic    bool    `json:"anisotropic"`
	Reflect        bool    `json:"reflect"`
	InstrumentUnit string  `json:"instrument_unit,omitempty"`

	RMSResidual   float64 `json:"rms_residual_mm"`
	LowConfidence bool    `json:"low_confidence"`
	Quality       Quality `json:"quality"`
}

// Identity returns the transform that leaves millimetre coordinates unchanged.
func Identity() Transform {
	return Transform{Scale: 1, ScaleY: 1, Quality: QualityExcellent}
}

// unitFactor is validated by FitTransform and ApplyTransform; an unknown unit
// is treated as millimetres here.
func (t *Transform) unitFactor() float64 {
	f, err := units.MillimetresPer(t.InstrumentUnit)
	if err != nil {
		return 1
	}
	return f
}

// A zero Scale or ScaleY is read as 1, so a literal Transform needs no
// explicit scale.
func (t *Transform) scaleX() float64 {
	if t.Scale == 0 {
		return 1
	}
	return t.Scale
}

func (t *Transform) scaleY() float64 {
	if t.Anisotropic && t.ScaleY != 0 {
		return t.ScaleY
	}
	return t.scaleX()
}

// Apply maps a single stage coordinate to the library frame.
func (t *Transform) Apply(p Vec2) Vec2 {
	q := p.Mul(t.unitFactor())
	if t.Reflect {
		q.X = -q.X
	}
	q = Vec2{q.X * t.scaleX(), q.Y * t.scaleY()}
	return q.rotate(t.Rotation).Add(t.Translation)
}

// Inverse maps a library coordinate back to the stage frame, in the
// instrument's own unit.
func (t *Transform) Inverse(lib Vec2) Vec2 {
	q := lib.Sub(t.Translation).rotate(-t.Rotation)
	q = Vec2{q.X / t.scaleX(), q.Y / t.scaleY()}
	if t.Reflect {
		q.X = -q.X
	}
	return q.Mul(1 / t.unitFactor())
}

// ApplyTransform maps every point into the library frame. The output has the
// same length and order as points; payloads are carried by reference.
func ApplyTransform(t *Transform, points []RawPoint) ([]LibraryPoint, error) {
	if t == nil {
		return nil, &MissingCalibrationError{Points: len(points)}
	}
	if !units.IsValid(t.InstrumentUnit) {
		return nil, fmt.Errorf("apply transform: invalid instrument unit %q (valid: %s)", t.InstrumentUnit, units.GetValidUnitsString())
	}
	out := make([]LibraryPoint, len(points))
	for i, p := range points {
		q := t.Apply(Vec2{p.X, p.Y})
		out[i] = LibraryPoint{X: q.X, Y: q.Y, Payload: p.Payload, Index: i}
	}
	diagf("mapped %d points (rotation %.4f rad, scale %.5f)", len(out), t.Rotation, t.Scale)
	return out, nil
}

// normalizeAngle wraps a to (-π, π].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
