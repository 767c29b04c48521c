package batch

import (
	"context"
	"fmt"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/fsutil"
	"github.com/dtu-nanolab/libmap/internal/logfile"
	"github.com/dtu-nanolab/libmap/internal/segment"
	"github.com/dtu-nanolab/libmap/internal/units"
)

// Segmented is the output of SegmentTask.
type Segmented struct {
	// Samples are the normalized rows the steps index into.
	Samples    []segment.ChannelSample
	Steps      []segment.ProcessStep
	Predicates []segment.Predicate
	Events     []segment.EventCondition
}

// SegmentTask reads a process log from fsys, prepares it with preset and
// segments it.
func SegmentTask(fsys fsutil.FileSystem, format logfile.LogFormat, preset segment.Preset, opts segment.Options) Task[Segmented] {
	return func(ctx context.Context, job Job) (Segmented, []string, error) {
		f, err := fsys.Open(job.Path)
		if err != nil {
			return Segmented{}, nil, fmt.Errorf("failed to open log: %w", err)
		}
		defer f.Close()

		samples, err := logfile.ReadProcessLog(f, format)
		if err != nil {
			return Segmented{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}
		if err := ctx.Err(); err != nil {
			return Segmented{}, nil, err
		}

		prep, err := preset(samples)
		if err != nil {
			return Segmented{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}
		rows, err := segment.Normalize(prep.Samples)
		if err != nil {
			return Segmented{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}
		var warnings []string
		if len(prep.Predicates) == 0 {
			warnings = append(warnings, "no predicates for this log; every sample is Idle")
		}
		steps, err := segment.Segment(rows, prep.Predicates, opts)
		if err != nil {
			return Segmented{}, warnings, fmt.Errorf("%s: %w", job.Name(), err)
		}
		return Segmented{Samples: rows, Steps: steps, Predicates: prep.Predicates, Events: prep.Events}, warnings, nil
	}
}

// Unified is the output of UnifyTask and CenterTask.
type Unified struct {
	Transform coords.Transform
	Points    []coords.LibraryPoint
	// Centering is set by CenterTask only.
	Centering *coords.Centering
}

// UnifyTask reads a point map and moves it into the library frame. A job with
// its own Calibration file is fitted with fit; otherwise shared is used.
func UnifyTask(fsys fsutil.FileSystem, shared *coords.Transform, format logfile.PointFormat, fit coords.FitOptions) Task[Unified] {
	return func(ctx context.Context, job Job) (Unified, []string, error) {
		t := shared
		if job.Calibration != "" {
			cal, err := LoadCalibration(fsys, job.Calibration)
			if err != nil {
				return Unified{}, nil, err
			}
			fitted, err := coords.FitTransform(cal, fit)
			if err != nil {
				return Unified{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
			}
			t = &fitted
		}

		f, err := fsys.Open(job.Path)
		if err != nil {
			return Unified{}, nil, fmt.Errorf("failed to open point map: %w", err)
		}
		defer f.Close()
		raw, err := logfile.ReadPoints(f, format)
		if err != nil {
			return Unified{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}

		pts, err := coords.ApplyTransform(t, raw)
		if err != nil {
			return Unified{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}
		var warnings []string
		if t.LowConfidence {
			warnings = append(warnings, fmt.Sprintf("low-confidence calibration: rms residual %.3f mm (%s)", t.RMSResidual, t.Quality))
		}
		return Unified{Transform: *t, Points: pts}, warnings, nil
	}
}

// CenterTask reads a point map from an instrument whose axes already match the
// library and moves the midpoint of two opposite sample corners to the origin.
// Corners are in the instrument unit of fit, like the points. An asymmetric
// grid is reported as a warning.
func CenterTask(fsys fsutil.FileSystem, cornerA, cornerB coords.Vec2, format logfile.PointFormat, fit coords.FitOptions) Task[Unified] {
	return func(ctx context.Context, job Job) (Unified, []string, error) {
		mm, err := units.MillimetresPer(fit.InstrumentUnit)
		if err != nil {
			return Unified{}, nil, err
		}
		f, err := fsys.Open(job.Path)
		if err != nil {
			return Unified{}, nil, fmt.Errorf("failed to open point map: %w", err)
		}
		defer f.Close()
		raw, err := logfile.ReadPoints(f, format)
		if err != nil {
			return Unified{}, nil, fmt.Errorf("%s: %w", job.Name(), err)
		}
		for i := range raw {
			raw[i].X *= mm
			raw[i].Y *= mm
		}

		c := coords.CenterOnCorners(raw, cornerA.Mul(mm), cornerB.Mul(mm), fit.Tolerance)
		t := coords.Identity()
		t.InstrumentUnit = fit.InstrumentUnit
		t.Translation = c.Offset.Mul(-1)
		var warnings []string
		if !c.Symmetric {
			warnings = append(warnings, fmt.Sprintf("grid off centre by (%.3f, %.3f) mm", c.Asymmetry.X, c.Asymmetry.Y))
		}
		return Unified{Transform: t, Points: c.Points, Centering: &c}, warnings, nil
	}
}

// LoadCalibration reads a calibration CSV.
func LoadCalibration(fsys fsutil.FileSystem, path string) ([]coords.CalibrationPoint, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration: %w", err)
	}
	defer f.Close()
	points, err := logfile.ReadCalibration(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}
