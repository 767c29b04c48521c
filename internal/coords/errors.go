package coords

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateCalibration is wrapped by every DegenerateCalibrationError.
	ErrDegenerateCalibration = errors.New("degenerate calibration")
	// ErrMissingCalibration is wrapped by every MissingCalibrationError.
	ErrMissingCalibration = errors.New("missing calibration")
)

// DegenerateCalibrationError reports calibration points that cannot determine
// a transform: too few, coincident or colinear.
type DegenerateCalibrationError struct {
	Points int
	Reason string
}

func (e *DegenerateCalibrationError) Error() string {
	return fmt.Sprintf("degenerate calibration (%d points): %s", e.Points, e.Reason)
}

func (e *DegenerateCalibrationError) Unwrap() error { return ErrDegenerateCalibration }

// MissingCalibrationError is returned when points are mapped without a
// transform.
type MissingCalibrationError struct {
	Points int
}

func (e *MissingCalibrationError) Error() string {
	return fmt.Sprintf("missing calibration: cannot map %d points without a transform", e.Points)
}

func (e *MissingCalibrationError) Unwrap() error { return ErrMissingCalibration }
