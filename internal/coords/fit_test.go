package coords

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func assertVec(t *testing.T, want, got Vec2, msgAndArgs ...interface{}) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-6, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, 1e-6, msgAndArgs...)
}

func TestFitTransform_PureTranslation(t *testing.T) {
	cal := []CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{-20, -20}},
		{Instrument: Vec2{40, 0}, Library: Vec2{20, -20}},
		{Instrument: Vec2{40, 40}, Library: Vec2{20, 20}},
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)

	assert.InDelta(t, 0, tr.Rotation, eps)
	assert.InDelta(t, 1, tr.Scale, eps)
	assertVec(t, Vec2{-20, -20}, tr.Translation)
	assert.InDelta(t, 0, tr.RMSResidual, 1e-6)
	assert.False(t, tr.LowConfidence)
	assert.Equal(t, QualityExcellent, tr.Quality)

	pts, err := ApplyTransform(&tr, []RawPoint{{X: 20, Y: 20}})
	require.NoError(t, err)
	assertVec(t, Vec2{0, 0}, pts[0].Pos())
}

func TestFitTransform_QuarterRotation(t *testing.T) {
	cal := []CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
		{Instrument: Vec2{1, 0}, Library: Vec2{0, 1}},
		{Instrument: Vec2{0, 1}, Library: Vec2{-1, 0}},
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/2, tr.Rotation, eps)
	assert.InDelta(t, 1, tr.Scale, eps)
	assertVec(t, Vec2{0, 1}, tr.Apply(Vec2{1, 0}))

	fixed := Transform{Rotation: math.Pi / 2, Scale: 1}
	assertVec(t, Vec2{0, 1}, fixed.Apply(Vec2{1, 0}))
}

func TestFitTransform_TwoPointsClosedForm(t *testing.T) {
	// Library is the stage rotated by 30°, scaled by 2 and shifted.
	theta, scale, shift := math.Pi/6, 2.0, Vec2{5, -3}
	truth := Transform{Rotation: theta, Scale: scale, Translation: shift}
	a, b := Vec2{1, 2}, Vec2{-4, 7}
	cal := []CalibrationPoint{
		{Instrument: a, Library: truth.Apply(a)},
		{Instrument: b, Library: truth.Apply(b)},
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	assert.InDelta(t, theta, tr.Rotation, eps)
	assert.InDelta(t, scale, tr.Scale, eps)
	assertVec(t, shift, tr.Translation)
}

func TestFitTransform_LeastSquaresRecoversSimilarity(t *testing.T) {
	truth := Transform{Rotation: -2.5, Scale: 0.98, Translation: Vec2{-31.2, 12.7}}
	var cal []CalibrationPoint
	for _, p := range []Vec2{{0, 0}, {50, 0}, {50, 50}, {0, 50}, {25, 25}} {
		cal = append(cal, CalibrationPoint{Instrument: p, Library: truth.Apply(p)})
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	assert.InDelta(t, -2.5, tr.Rotation, 1e-9)
	assert.InDelta(t, 0.98, tr.Scale, 1e-9)
	assertVec(t, truth.Translation, tr.Translation)
	assert.False(t, tr.Anisotropic)
	assert.Equal(t, tr.Scale, tr.ScaleY)
}

func TestFitTransform_RotationNormalised(t *testing.T) {
	// A half turn must come back as +π, never -π.
	cal := []CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
		{Instrument: Vec2{1, 0}, Library: Vec2{-1, 0}},
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	assert.Greater(t, tr.Rotation, -math.Pi)
	assert.LessOrEqual(t, tr.Rotation, math.Pi)
	assert.InDelta(t, math.Pi, math.Abs(tr.Rotation), eps)

	assert.InDelta(t, math.Pi, normalizeAngle(-math.Pi), eps)
	assert.InDelta(t, -math.Pi/2, normalizeAngle(3*math.Pi/2), eps)
	assert.InDelta(t, 0.1, normalizeAngle(0.1+4*math.Pi), eps)
}

func TestFitTransform_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		cal  []CalibrationPoint
	}{
		{"none", nil},
		{"single", []CalibrationPoint{{Instrument: Vec2{1, 1}, Library: Vec2{0, 0}}}},
		{"coincident pair", []CalibrationPoint{
			{Instrument: Vec2{3, 3}, Library: Vec2{0, 0}},
			{Instrument: Vec2{3, 3}, Library: Vec2{1, 1}},
		}},
		{"colinear", []CalibrationPoint{
			{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
			{Instrument: Vec2{1, 1}, Library: Vec2{1, 0}},
			{Instrument: Vec2{2, 2}, Library: Vec2{0, 1}},
		}},
		{"library collapsed", []CalibrationPoint{
			{Instrument: Vec2{0, 0}, Library: Vec2{5, 5}},
			{Instrument: Vec2{1, 0}, Library: Vec2{5, 5}},
			{Instrument: Vec2{0, 1}, Library: Vec2{5, 5}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FitTransform(tc.cal, DefaultFitOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDegenerateCalibration)
			var de *DegenerateCalibrationError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, len(tc.cal), de.Points)
		})
	}
}

func TestFitTransform_NonFinite(t *testing.T) {
	tests := []struct {
		name string
		cal  []CalibrationPoint
	}{
		{"instrument NaN", []CalibrationPoint{
			{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
			{Instrument: Vec2{10, math.NaN()}, Library: Vec2{10, 0}},
			{Instrument: Vec2{10, 10}, Library: Vec2{10, 10}},
		}},
		{"library infinite", []CalibrationPoint{
			{Instrument: Vec2{0, 0}, Library: Vec2{math.Inf(1), 0}},
			{Instrument: Vec2{10, 0}, Library: Vec2{10, 0}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := FitTransform(tc.cal, DefaultFitOptions())
			assert.ErrorIs(t, err, ErrDegenerateCalibration)
			assert.ErrorContains(t, err, "non-finite")
			assert.Equal(t, Transform{}, tr)
		})
	}
}

func TestFitTransform_LowConfidence(t *testing.T) {
	cal := []CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
		{Instrument: Vec2{10, 0}, Library: Vec2{10, 0.8}},
		{Instrument: Vec2{10, 10}, Library: Vec2{10, 10}},
		{Instrument: Vec2{0, 10}, Library: Vec2{0.8, 10}},
	}
	tr, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err, "a poor fit is a warning, not an error")
	assert.True(t, tr.LowConfidence)
	assert.Greater(t, tr.RMSResidual, DefaultTolerance)
	assert.Equal(t, QualityPoor, tr.Quality)

	opts := DefaultFitOptions()
	opts.Tolerance = 5
	tr, err = FitTransform(cal, opts)
	require.NoError(t, err)
	assert.False(t, tr.LowConfidence)
}

func TestFitTransform_FixedScaleAndUnits(t *testing.T) {
	// Stage reports micrometres; library is millimetres.
	cal := []CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{-10, -10}},
		{Instrument: Vec2{20000, 0}, Library: Vec2{10, -10}},
		{Instrument: Vec2{20000, 20000}, Library: Vec2{10, 10}},
	}
	opts := DefaultFitOptions()
	opts.InstrumentUnit = "um"
	opts.FixedScale = true
	tr, err := FitTransform(cal, opts)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tr.Scale)
	assert.InDelta(t, 0, tr.RMSResidual, 1e-9)
	assertVec(t, Vec2{0, 0}, tr.Apply(Vec2{10000, 10000}))

	opts.InstrumentUnit = "furlong"
	_, err = FitTransform(cal, opts)
	assert.Error(t, err)
}

func TestFitTransform_Reflect(t *testing.T) {
	// Stage X runs right to left.
	truth := Transform{Reflect: true, Scale: 1, Translation: Vec2{2, 3}}
	var cal []CalibrationPoint
	for _, p := range []Vec2{{0, 0}, {10, 0}, {0, 10}} {
		cal = append(cal, CalibrationPoint{Instrument: p, Library: truth.Apply(p)})
	}
	assertVec(t, Vec2{-8, 3}, cal[1].Library)

	opts := DefaultFitOptions()
	opts.Reflect = true
	tr, err := FitTransform(cal, opts)
	require.NoError(t, err)
	assert.True(t, tr.Reflect)
	assert.InDelta(t, 0, tr.Rotation, eps)
	assert.InDelta(t, 0, tr.RMSResidual, 1e-9)

	// Without the mirror the best proper rotation cannot fit.
	tr, err = FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	assert.True(t, tr.LowConfidence)
}

func TestFitTransform_Anisotropic(t *testing.T) {
	truth := Transform{Rotation: 0.2, Scale: 1.02, ScaleY: 0.97, Anisotropic: true, Translation: Vec2{-1, 4}}
	var cal []CalibrationPoint
	for _, p := range []Vec2{{0, 0}, {30, 0}, {30, 30}, {0, 30}, {15, 5}} {
		cal = append(cal, CalibrationPoint{Instrument: p, Library: truth.Apply(p)})
	}

	uniform, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)

	opts := DefaultFitOptions()
	opts.Anisotropic = true
	tr, err := FitTransform(cal, opts)
	require.NoError(t, err)
	assert.True(t, tr.Anisotropic)
	assert.InDelta(t, 0.2, tr.Rotation, 1e-6)
	assert.InDelta(t, 1.02, tr.Scale, 1e-6)
	assert.InDelta(t, 0.97, tr.ScaleY, 1e-6)
	assert.Less(t, tr.RMSResidual, uniform.RMSResidual)

	// Two points cannot determine two scales.
	tr, err = FitTransform(cal[:2], opts)
	require.NoError(t, err)
	assert.False(t, tr.Anisotropic)

	opts.FixedScale = true
	tr, err = FitTransform(cal, opts)
	require.NoError(t, err)
	assert.False(t, tr.Anisotropic)
}

func TestTransform_InverseRoundTrip(t *testing.T) {
	tr := Transform{Rotation: 1.1, Scale: 1.5, ScaleY: 0.5, Anisotropic: true, Reflect: true,
		InstrumentUnit: "um", Translation: Vec2{3, -7}}
	for _, p := range []Vec2{{0, 0}, {1200, -300}, {-5000, 4000}} {
		assertVec(t, p, tr.Inverse(tr.Apply(p)))
	}
}

func TestTransform_ZeroScaleIsUnit(t *testing.T) {
	tr := Transform{Rotation: math.Pi / 2}
	assertVec(t, Vec2{0, 1}, tr.Apply(Vec2{1, 0}))
	assertVec(t, Vec2{1, 0}, tr.Inverse(Vec2{0, 1}))

	tr = Transform{Scale: 2, Anisotropic: true}
	assertVec(t, Vec2{2, 2}, tr.Apply(Vec2{1, 1}), "unset ScaleY follows Scale")
}

func TestApplyTransform_PreservesOrderAndPayload(t *testing.T) {
	tr := Transform{Rotation: 0.3, Scale: 1, Translation: Vec2{1, 1}}
	type spectrum struct{ counts []int }
	payloads := []*spectrum{{[]int{1}}, {[]int{2}}, {[]int{3}}, {[]int{4}}}
	in := make([]RawPoint, len(payloads))
	for i, p := range payloads {
		in[i] = RawPoint{X: float64(i), Y: float64(-i), Payload: p}
	}

	out, err := ApplyTransform(&tr, in)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range out {
		assert.Equal(t, i, out[i].Index)
		assert.Same(t, payloads[i], out[i].Payload)
		assertVec(t, tr.Apply(Vec2{in[i].X, in[i].Y}), out[i].Pos())
	}

	out, err = ApplyTransform(&tr, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestApplyTransform_Missing(t *testing.T) {
	_, err := ApplyTransform(nil, []RawPoint{{X: 1}})
	assert.ErrorIs(t, err, ErrMissingCalibration)
	var me *MissingCalibrationError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 1, me.Points)

	bad := Identity()
	bad.InstrumentUnit = "inch"
	_, err = ApplyTransform(&bad, []RawPoint{{X: 1}})
	assert.Error(t, err)
}

func TestFitTransform_Deterministic(t *testing.T) {
	cal := []CalibrationPoint{
		{Instrument: Vec2{1, 2}, Library: Vec2{-3, 4}},
		{Instrument: Vec2{11, 2.2}, Library: Vec2{7, 3.9}},
		{Instrument: Vec2{10.7, 12}, Library: Vec2{6.8, 14.1}},
	}
	a, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	b, err := FitTransform(cal, DefaultFitOptions())
	require.NoError(t, err)
	if diff := cmp.Diff(a, b, cmpopts.EquateApprox(0, 1e-15)); diff != "" {
		t.Errorf("fits differ (-first +second):\n%s", diff)
	}
}

func TestQualityFor(t *testing.T) {
	tests := []struct {
		rms  float64
		want Quality
	}{
		{0, QualityExcellent},
		{0.049, QualityExcellent},
		{0.05, QualityGood},
		{0.149, QualityGood},
		{0.15, QualityFair},
		{0.299, QualityFair},
		{0.30, QualityPoor},
		{2, QualityPoor},
	}
	for _, tc := range tests {
		if got := QualityFor(tc.rms); got != tc.want {
			t.Errorf("QualityFor(%v) = %s, want %s", tc.rms, got, tc.want)
		}
	}
}

func TestSetLogWriters(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	_, err := FitTransform([]CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
		{Instrument: Vec2{1, 1}, Library: Vec2{1, 0}},
		{Instrument: Vec2{2, 2}, Library: Vec2{0, 1}},
	}, DefaultFitOptions())
	require.Error(t, err)
	assert.Contains(t, ops.String(), "[coords] ")
	assert.Contains(t, ops.String(), "colinear")

	_, err = FitTransform([]CalibrationPoint{
		{Instrument: Vec2{0, 0}, Library: Vec2{0, 0}},
		{Instrument: Vec2{1, 0}, Library: Vec2{1, 0}},
	}, DefaultFitOptions())
	require.NoError(t, err)
	assert.Contains(t, diag.String(), "fitted 2 points")
}
