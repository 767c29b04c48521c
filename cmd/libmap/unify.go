package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dtu-nanolab/libmap/internal/batch"
	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/fsutil"
	"github.com/dtu-nanolab/libmap/internal/logfile"
	"github.com/dtu-nanolab/libmap/internal/report"
	"github.com/dtu-nanolab/libmap/internal/units"
)

var unifyFlags struct {
	calibration string
	sessions    []string
	corners     []float64
	size        []float64
	center      []float64
	unit        string
	reflect     bool
	anisotropic bool
	fixedScale  bool
	rotate      string
	snap        []float64
	window      []float64
	columns     []string
	value       string
	pngDir      string
	htmlDir     string
}

var unifyCmd = &cobra.Command{
	Use:   "unify [points.csv ...]",
	Short: "Map measurement points onto library coordinates.",
	Long: `Fit an instrument-to-library transform from calibration pairs and apply it
to point maps. Every point keeps its payload and input order.

The shared transform comes from --calibration (a CSV of instrument_x,
instrument_y, library_x, library_y) or from --corners and --size for a
rectangular sample. A --session points.csv=cal.csv pair is fitted on its own.
With --center the stage axes are taken as aligned with the library and the
points are only shifted so the midpoint of two opposite corners is the origin.

Examples:
  # One calibration for all EDX maps
  libmap unify --calibration stage.csv edx1.csv edx2.csv

  # Raman stage in micrometres, corners located by hand, 50x50 mm sample
  libmap unify --unit um --corners -24800,24900,25100,-25050 --size 50,50 raman.csv

  # Two sessions with their own calibrations, coloured by a payload column
  libmap unify --session xrd1.csv=cal1.csv --session xrd2.csv=cal2.csv --value FWHM --html maps/

  # Ellipsometry stage aligned with the sample, centred on its corners
  libmap unify --center 0,50,50,0 ellips.csv`,
	RunE: runUnify,
}

func init() {
	f := unifyCmd.Flags()
	f.StringVar(&unifyFlags.calibration, "calibration", "", "calibration CSV shared by all point files")
	f.StringArrayVar(&unifyFlags.sessions, "session", nil, "points.csv=calibration.csv pair fitted on its own (repeatable)")
	f.Float64SliceVar(&unifyFlags.corners, "corners", nil, "upper-left and lower-right sample corners in instrument coordinates: x1,y1,x2,y2")
	f.Float64SliceVar(&unifyFlags.size, "size", []float64{50, 50}, "sample width,height in mm for --corners")
	f.Float64SliceVar(&unifyFlags.center, "center", nil, "translate only, centring on two opposite corners: x1,y1,x2,y2")
	f.StringVar(&unifyFlags.unit, "unit", "", "instrument length unit: "+units.GetValidUnitsString())
	f.BoolVar(&unifyFlags.reflect, "reflect", false, "instrument X axis is mirrored")
	f.BoolVar(&unifyFlags.anisotropic, "anisotropic", false, "fit separate X and Y scales (3+ points)")
	f.BoolVar(&unifyFlags.fixedScale, "fixed-scale", false, "fit rotation and translation only")
	f.StringVar(&unifyFlags.rotate, "rotate", "", "rotate mapped points: clockwise, counterclockwise or 180")
	f.Float64SliceVar(&unifyFlags.snap, "snap", nil, "snap to a centred measurement grid: cols,rows,length,height")
	f.Float64SliceVar(&unifyFlags.window, "window", nil, "keep points strictly inside minx,miny,maxx,maxy")
	f.StringSliceVar(&unifyFlags.columns, "columns", nil, "payload columns to print")
	f.StringVar(&unifyFlags.value, "value", "", "payload column used to colour the maps")
	f.StringVar(&unifyFlags.pngDir, "png", "", "write a PNG library map per file into this directory")
	f.StringVar(&unifyFlags.htmlDir, "html", "", "write an HTML library map per file into this directory")
}

// fitOptions merges the tuning file with the flags the user set.
func fitOptions(cmd *cobra.Command) (coords.FitOptions, error) {
	opts := tuning.FitOptions()
	flags := cmd.Flags()
	if flags.Changed("unit") {
		if !units.IsValid(unifyFlags.unit) {
			return opts, fmt.Errorf("invalid unit %q (want %s)", unifyFlags.unit, units.GetValidUnitsString())
		}
		opts.InstrumentUnit = unifyFlags.unit
	}
	if flags.Changed("reflect") {
		opts.Reflect = unifyFlags.reflect
	}
	if flags.Changed("anisotropic") {
		opts.Anisotropic = unifyFlags.anisotropic
	}
	if flags.Changed("fixed-scale") {
		opts.FixedScale = unifyFlags.fixedScale
	}
	return opts, nil
}

// sharedTransform fits the transform used by plain point files, or returns
// nil when neither --calibration nor --corners is given.
func sharedTransform(opts coords.FitOptions) (*coords.Transform, error) {
	var cal []coords.CalibrationPoint
	switch {
	case unifyFlags.calibration != "" && len(unifyFlags.corners) > 0:
		return nil, fmt.Errorf("use either --calibration or --corners, not both")
	case unifyFlags.calibration != "":
		points, err := batch.LoadCalibration(files, unifyFlags.calibration)
		if err != nil {
			return nil, err
		}
		cal = points
	case len(unifyFlags.corners) > 0:
		if len(unifyFlags.corners) != 4 || len(unifyFlags.size) != 2 {
			return nil, fmt.Errorf("--corners needs x1,y1,x2,y2 and --size needs width,height")
		}
		c := unifyFlags.corners
		points, err := coords.CornerCalibration(coords.Vec2{X: c[0], Y: c[1]}, coords.Vec2{X: c[2], Y: c[3]},
			unifyFlags.size[0], unifyFlags.size[1])
		if err != nil {
			return nil, err
		}
		cal = points
	default:
		return nil, nil
	}
	t, err := coords.FitTransform(cal, opts)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// unifyTask picks corner centring or a fitted transform. shared is the
// transform fitted for plain point files, if any.
func unifyTask(opts coords.FitOptions) (batch.Task[batch.Unified], *coords.Transform, error) {
	format := logfile.DefaultPointFormat()
	if c := unifyFlags.center; len(c) > 0 {
		if len(c) != 4 {
			return nil, nil, fmt.Errorf("--center needs x1,y1,x2,y2")
		}
		if unifyFlags.calibration != "" || len(unifyFlags.corners) > 0 || len(unifyFlags.sessions) > 0 {
			return nil, nil, fmt.Errorf("--center cannot be combined with --calibration, --corners or --session")
		}
		return batch.CenterTask(files, coords.Vec2{X: c[0], Y: c[1]}, coords.Vec2{X: c[2], Y: c[3]}, format, opts), nil, nil
	}
	shared, err := sharedTransform(opts)
	if err != nil {
		return nil, nil, err
	}
	return batch.UnifyTask(files, shared, format, opts), shared, nil
}

func unifyJobs(args []string) ([]batch.Job, error) {
	jobs := batch.Jobs(args...)
	for _, s := range unifyFlags.sessions {
		points, cal, ok := strings.Cut(s, "=")
		if !ok || points == "" || cal == "" {
			return nil, fmt.Errorf("invalid --session %q (want points.csv=calibration.csv)", s)
		}
		jobs = append(jobs, batch.Job{Path: points, Calibration: cal})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no point files given")
	}
	return jobs, nil
}

func runUnify(cmd *cobra.Command, args []string) error {
	opts, err := fitOptions(cmd)
	if err != nil {
		return err
	}
	jobs, err := unifyJobs(args)
	if err != nil {
		return err
	}
	var turn coords.QuarterTurn
	if unifyFlags.rotate != "" {
		if turn, err = coords.ParseQuarterTurn(unifyFlags.rotate); err != nil {
			return err
		}
	}
	grid, err := snapGrid()
	if err != nil {
		return err
	}
	if len(unifyFlags.window) != 0 && len(unifyFlags.window) != 4 {
		return fmt.Errorf("--window needs minx,miny,maxx,maxy")
	}
	task, shared, err := unifyTask(opts)
	if err != nil {
		return err
	}
	for _, dir := range []string{unifyFlags.pngDir, unifyFlags.htmlDir} {
		if dir == "" {
			continue
		}
		if err := files.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if shared != nil {
		fmt.Fprintln(out, "== shared calibration ==")
		if err := report.WriteTransform(out, *shared); err != nil {
			return err
		}
	}

	results := batch.Run(cmd.Context(), workers, jobs, task)

	status := make([]report.Status, len(results))
	for i, r := range results {
		status[i] = report.Status{ID: r.ID.String(), File: r.Job.Name(), Elapsed: r.Elapsed, Warnings: r.Warnings, Err: r.Err}
		if !r.OK() {
			continue
		}
		points, err := arrange(r.Value.Points, turn, grid)
		if err != nil {
			status[i].Err = err
			continue
		}
		if err := printUnified(out, r.Job, r.Value, points); err != nil {
			return err
		}
		if err := writeMaps(r.Job, points); err != nil {
			status[i].Err = err
		}
	}

	fmt.Fprintln(out)
	if err := report.WriteStatus(out, status); err != nil {
		return err
	}
	failed := 0
	for _, s := range status {
		if s.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d point files failed", failed, len(status))
	}
	return nil
}

func snapGrid() ([]coords.Vec2, error) {
	s := unifyFlags.snap
	if len(s) == 0 {
		return nil, nil
	}
	if len(s) != 4 {
		return nil, fmt.Errorf("--snap needs cols,rows,length,height")
	}
	return coords.MeasurementGrid(int(s[0]), int(s[1]), s[2], s[3], coords.Vec2{X: -s[2] / 2, Y: -s[3] / 2})
}

// arrange applies the optional rotation, grid snapping and window, in that
// order.
func arrange(points []coords.LibraryPoint, turn coords.QuarterTurn, grid []coords.Vec2) ([]coords.LibraryPoint, error) {
	if turn != "" {
		rotated, err := coords.RotateQuarter(points, turn)
		if err != nil {
			return nil, err
		}
		points = rotated
	}
	if len(grid) > 0 {
		points = coords.SnapToGrid(points, grid)
	}
	if w := unifyFlags.window; len(w) == 4 {
		points = coords.SelectWindow(points, coords.Vec2{X: w[0], Y: w[1]}, coords.Vec2{X: w[2], Y: w[3]})
	}
	return points, nil
}

func printUnified(w io.Writer, job batch.Job, u batch.Unified, points []coords.LibraryPoint) error {
	fmt.Fprintf(w, "\n== %s ==\n", job.Name())
	switch {
	case u.Centering != nil:
		if err := report.WriteCentering(w, *u.Centering); err != nil {
			return err
		}
	case job.Calibration != "":
		if err := report.WriteTransform(w, u.Transform); err != nil {
			return err
		}
	}
	return report.WritePoints(w, points, unifyFlags.columns)
}

func writeMaps(job batch.Job, points []coords.LibraryPoint) error {
	if len(points) == 0 {
		return nil
	}
	title := job.Name()
	var value func(coords.LibraryPoint) (float64, bool)
	if unifyFlags.value != "" {
		value = report.PayloadValue(unifyFlags.value)
		title = fmt.Sprintf("%s: %s", job.Name(), unifyFlags.value)
	}

	if unifyFlags.pngDir != "" {
		err := writeOutput(fsutil.OutputPath(unifyFlags.pngDir, job.Path, ".png"), func(w io.Writer) error {
			return report.LibraryMapPNG(w, points, value, title)
		})
		if err != nil {
			return err
		}
	}
	if unifyFlags.htmlDir != "" {
		if value == nil {
			return fmt.Errorf("--html needs --value")
		}
		return writeOutput(fsutil.OutputPath(unifyFlags.htmlDir, job.Path, ".html"), func(w io.Writer) error {
			return report.LibraryMapHTML(w, points, value, title)
		})
	}
	return nil
}
