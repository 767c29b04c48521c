package logfile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dtu-nanolab/libmap/internal/coords"
)

// PointFormat describes a per-point measurement CSV.
type PointFormat struct {
	XColumn string
	YColumn string
	Comma   rune
}

// DefaultPointFormat matches the mapping exports of the EDX, XRD, Raman and
// ellipsometry tools.
func DefaultPointFormat() PointFormat {
	return PointFormat{XColumn: "X (mm)", YColumn: "Y (mm)"}
}

// Payload is the per-point data read by ReadPoints, keyed by column header.
type Payload map[string]float64

// headerIndex maps trimmed, lower-cased header names to their column.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func column(idx map[string]int, name string) (int, bool) {
	i, ok := idx[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// ReadPoints reads one measurement point per row. The remaining numeric
// columns of each row become its Payload.
func ReadPoints(r io.Reader, f PointFormat) ([]coords.RawPoint, error) {
	if f.XColumn == "" || f.YColumn == "" {
		d := DefaultPointFormat()
		f.XColumn, f.YColumn = d.XColumn, d.YColumn
	}
	reader := newReader(r, f.Comma)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read point header: %w", err)
	}
	idx := headerIndex(header)
	xi, okX := column(idx, f.XColumn)
	yi, okY := column(idx, f.YColumn)
	if !okX || !okY {
		return nil, fmt.Errorf("point header needs %q and %q columns, got %v", f.XColumn, f.YColumn, header)
	}

	var points []coords.RawPoint
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read point line %d: %w", line, err)
		}
		if xi >= len(rec) || yi >= len(rec) {
			return nil, fmt.Errorf("point line %d: missing coordinates", line)
		}
		x, okX := parseCell(rec[xi])
		y, okY := parseCell(rec[yi])
		if !okX || !okY {
			return nil, fmt.Errorf("point line %d: non-numeric coordinates %q, %q", line, rec[xi], rec[yi])
		}
		payload := make(Payload)
		for i, cell := range rec {
			if i == xi || i == yi || i >= len(header) {
				continue
			}
			if v, ok := parseCell(cell); ok {
				payload[strings.TrimSpace(header[i])] = v
			}
		}
		points = append(points, coords.RawPoint{X: x, Y: y, Payload: payload})
	}
	return points, nil
}

// Calibration CSV headers.
const (
	ColInstrumentX = "instrument_x"
	ColInstrumentY = "instrument_y"
	ColLibraryX    = "library_x"
	ColLibraryY    = "library_y"
)

// ReadCalibration reads calibration pairs with the columns instrument_x,
// instrument_y, library_x and library_y in any order.
func ReadCalibration(r io.Reader) ([]coords.CalibrationPoint, error) {
	reader := newReader(r, 0)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration header: %w", err)
	}
	idx := headerIndex(header)
	var cols [4]int
	for k, name := range []string{ColInstrumentX, ColInstrumentY, ColLibraryX, ColLibraryY} {
		i, ok := column(idx, name)
		if !ok {
			return nil, fmt.Errorf("calibration header has no %q column", name)
		}
		cols[k] = i
	}

	var points []coords.CalibrationPoint
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read calibration line %d: %w", line, err)
		}
		var v [4]float64
		for k, i := range cols {
			if i >= len(rec) {
				return nil, fmt.Errorf("calibration line %d: too few fields", line)
			}
			f, ok := parseCell(rec[i])
			if !ok {
				return nil, fmt.Errorf("calibration line %d: non-numeric value %q", line, rec[i])
			}
			v[k] = f
		}
		points = append(points, coords.CalibrationPoint{
			Instrument: coords.Vec2{X: v[0], Y: v[1]},
			Library:    coords.Vec2{X: v[2], Y: v[3]},
		})
	}
	return points, nil
}
