package coords

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dtu-nanolab/libmap/internal/units"
)

const (
	// DefaultTolerance is the RMS residual (mm) above which a fit is flagged
	// LowConfidence. It matches the symmetry tolerance of CenterOnCorners.
	DefaultTolerance = 0.3
	// DefaultMaxIterations bounds the anisotropic refinement.
	DefaultMaxIterations = 100

	// Instrument points whose smaller covariance eigenvalue is below this
	// fraction of the larger one are treated as colinear.
	colinearTolerance = 1e-9
	// Points closer than this (mm) to their centroid are coincident.
	coincidentTolerance = 1e-9
	convergence         = 1e-12
)

// FitOptions controls FitTransform.
type FitOptions struct {
	// FixedScale pins the scale to 1 after unit conversion.
	FixedScale bool
	// InstrumentUnit is the length unit of the stage coordinates; empty means mm.
	InstrumentUnit string
	// Reflect mirrors the instrument X axis. It is a property of the
	// instrument and is never fitted.
	Reflect bool
	// Anisotropic fits separate X and Y scales. Ignored with FixedScale.
	Anisotropic bool
	// Tolerance is the RMS residual (mm) above which the fit is flagged
	// LowConfidence. <= 0 uses DefaultTolerance.
	Tolerance float64
	// MaxIterations bounds the anisotropic refinement. <= 0 uses DefaultMaxIterations.
	MaxIterations int
}

// DefaultFitOptions returns a uniform-scale fit in millimetres.
func DefaultFitOptions() FitOptions {
	return FitOptions{Tolerance: DefaultTolerance, MaxIterations: DefaultMaxIterations}
}

// FitTransform fits the similarity transform that best maps the instrument
// positions of points onto their library positions in the least-squares sense.
//
// Two points are solved in closed form. Three or more use the SVD of the
// cross-covariance (Umeyama), corrected so the rotation is always proper.
// A residual above opts.Tolerance does not fail the fit; the transform comes
// back with LowConfidence set.
func FitTransform(points []CalibrationPoint, opts FitOptions) (Transform, error) {
	n := len(points)
	if n < 2 {
		return Transform{}, &DegenerateCalibrationError{Points: n, Reason: "need at least 2 calibration points"}
	}
	unitMM, err := units.MillimetresPer(opts.InstrumentUnit)
	if err != nil {
		return Transform{}, fmt.Errorf("fit transform: %w", err)
	}
	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	for i, p := range points {
		if !p.Instrument.finite() || !p.Library.finite() {
			opsf("rejecting calibration: point %d is not finite", i)
			return Transform{}, &DegenerateCalibrationError{Points: n, Reason: fmt.Sprintf("point %d has a non-finite coordinate", i)}
		}
	}

	// Work in mirrored millimetres so the solver only sees R·S.
	inst := make([]Vec2, n)
	lib := make([]Vec2, n)
	for i, p := range points {
		q := p.Instrument.Mul(unitMM)
		if opts.Reflect {
			q.X = -q.X
		}
		inst[i] = q
		lib[i] = p.Library
	}

	muP, pc := centre(inst)
	muQ, qc := centre(lib)

	if spread(pc) < coincidentTolerance {
		opsf("rejecting calibration: %d instrument points coincide", n)
		return Transform{}, &DegenerateCalibrationError{Points: n, Reason: "instrument points coincide"}
	}
	if spread(qc) < coincidentTolerance {
		opsf("rejecting calibration: %d library points coincide", n)
		return Transform{}, &DegenerateCalibrationError{Points: n, Reason: "library points coincide"}
	}
	if n >= 3 {
		colinear, err := isColinear(pc)
		if err != nil {
			return Transform{}, fmt.Errorf("fit transform: %w", err)
		}
		if colinear {
			opsf("rejecting calibration: %d instrument points are colinear", n)
			return Transform{}, &DegenerateCalibrationError{Points: n, Reason: "instrument points are colinear"}
		}
	}

	var theta, scale float64
	if n == 2 {
		theta, scale = fitPair(inst, lib)
	} else {
		theta, scale, err = fitProcrustes(pc, qc)
		if err != nil {
			return Transform{}, fmt.Errorf("fit transform: %w", err)
		}
	}
	if opts.FixedScale {
		scale = 1
	}
	sx, sy := scale, scale

	anisotropic := opts.Anisotropic && !opts.FixedScale
	if opts.Anisotropic && opts.FixedScale {
		opsf("anisotropic fit ignored: scale is fixed")
	}
	if anisotropic && n < 3 {
		opsf("anisotropic fit needs at least 3 points, got %d; fitting uniform scale", n)
		anisotropic = false
	}
	if anisotropic {
		iters := opts.MaxIterations
		if iters <= 0 {
			iters = DefaultMaxIterations
		}
		theta, sx, sy = refineAnisotropic(pc, qc, theta, scale, iters)
	}

	t := Transform{
		Rotation:       normalizeAngle(theta),
		Scale:          sx,
		ScaleY:         sy,
		Anisotropic:    anisotropic,
		Reflect:        opts.Reflect,
		InstrumentUnit: opts.InstrumentUnit,
	}
	// T = μq - R·D·μp
	t.Translation = muQ.Sub(Vec2{muP.X * sx, muP.Y * sy}.rotate(t.Rotation))

	t.RMSResidual = Residual(&t, points)
	t.Quality = QualityFor(t.RMSResidual)
	if !(t.RMSResidual <= tol) {
		t.LowConfidence = true
		opsf("low-confidence calibration: rms residual %.4f mm exceeds %.4f mm", t.RMSResidual, tol)
	}
	diagf("fitted %d points: rotation %.6f rad, scale %.6f/%.6f, translation (%.4f, %.4f) mm, rms %.4f mm (%s)",
		n, t.Rotation, t.Scale, t.ScaleY, t.Translation.X, t.Translation.Y, t.RMSResidual, t.Quality)
	return t, nil
}

// Residual is the RMS distance (mm) between the transformed instrument
// positions and the nominal library positions.
func Residual(t *Transform, points []CalibrationPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for i, p := range points {
		d := t.Apply(p.Instrument).Dist(p.Library)
		tracef("calibration point %d: residual %.5f mm", i, d)
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(points)))
}

func centre(pts []Vec2) (Vec2, []Vec2) {
	var mu Vec2
	for _, p := range pts {
		mu = mu.Add(p)
	}
	mu = mu.Mul(1 / float64(len(pts)))
	out := make([]Vec2, len(pts))
	for i, p := range pts {
		out[i] = p.Sub(mu)
	}
	return mu, out
}

// spread is the largest distance of a centred point from the origin.
func spread(centred []Vec2) float64 {
	var m float64
	for _, p := range centred {
		m = math.Max(m, p.Norm())
	}
	return m
}

func isColinear(centred []Vec2) (bool, error) {
	var sxx, sxy, syy float64
	for _, p := range centred {
		sxx += p.X * p.X
		sxy += p.X * p.Y
		syy += p.Y * p.Y
	}
	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(2, []float64{sxx, sxy, sxy, syy}), false) {
		return false, fmt.Errorf("eigen decomposition of point covariance failed")
	}
	vals := es.Values(nil) // ascending
	return vals[0] <= colinearTolerance*vals[1], nil
}

// fitPair solves the two-point case exactly.
func fitPair(inst, lib []Vec2) (theta, scale float64) {
	di := inst[1].Sub(inst[0])
	dl := lib[1].Sub(lib[0])
	scale = dl.Norm() / di.Norm()
	theta = math.Atan2(dl.Y, dl.X) - math.Atan2(di.Y, di.X)
	return theta, scale
}

// fitProcrustes returns the rotation and uniform scale minimising
// Σ|q - s·R·p|² for centred point sets.
func fitProcrustes(pc, qc []Vec2) (theta, scale float64, err error) {
	n := float64(len(pc))
	h := mat.NewDense(2, 2, nil)
	var varP float64
	for i := range pc {
		p, q := pc[i], qc[i]
		h.Set(0, 0, h.At(0, 0)+q.X*p.X/n)
		h.Set(0, 1, h.At(0, 1)+q.X*p.Y/n)
		h.Set(1, 0, h.At(1, 0)+q.Y*p.X/n)
		h.Set(1, 1, h.At(1, 1)+q.Y*p.Y/n)
		varP += (p.X*p.X + p.Y*p.Y) / n
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return 0, 0, fmt.Errorf("svd of cross-covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	d := svd.Values(nil)

	// Flip the weakest axis when the unconstrained optimum is a reflection.
	sign := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		sign = -1
	}
	s := mat.NewDiagDense(2, []float64{1, sign})

	var us, r mat.Dense
	us.Mul(&u, s)
	r.Mul(&us, v.T())

	theta = math.Atan2(r.At(1, 0), r.At(0, 0))
	scale = (d[0] + sign*d[1]) / varP
	return theta, scale, nil
}

// refineAnisotropic alternates between per-axis scales for a fixed rotation
// and the rotation for fixed scales, starting from the uniform solution.
func refineAnisotropic(pc, qc []Vec2, theta, scale float64, maxIter int) (float64, float64, float64) {
	sx, sy := scale, scale
	for it := 0; it < maxIter; it++ {
		var nx, dx, ny, dy float64
		for i := range pc {
			q := qc[i].rotate(-theta)
			nx += q.X * pc[i].X
			dx += pc[i].X * pc[i].X
			ny += q.Y * pc[i].Y
			dy += pc[i].Y * pc[i].Y
		}
		nsx, nsy := nx/dx, ny/dy

		var cross, dot float64
		for i := range pc {
			a := Vec2{pc[i].X * nsx, pc[i].Y * nsy}
			b := qc[i]
			cross += a.X*b.Y - a.Y*b.X
			dot += a.X*b.X + a.Y*b.Y
		}
		nt := math.Atan2(cross, dot)

		done := math.Abs(nt-theta) < convergence && math.Abs(nsx-sx) < convergence && math.Abs(nsy-sy) < convergence
		theta, sx, sy = nt, nsx, nsy
		tracef("anisotropic iteration %d: rotation %.9f scale %.9f/%.9f", it, theta, sx, sy)
		if done {
			break
		}
	}
	return theta, sx, sy
}
