// Package units provides shared constants and conversions for stage and
// library coordinates.
package units

import (
	"fmt"
	"strings"
)

// Length unit constants
const (
	NM = "nm"
	UM = "um"
	MM = "mm"
	CM = "cm"
	M  = "m"
)

// ValidLengthUnits contains all valid length unit values
var ValidLengthUnits = []string{NM, UM, MM, CM, M}

// millimetres per unit
var mmPer = map[string]float64{
	NM: 1e-6,
	UM: 1e-3,
	MM: 1,
	CM: 10,
	M:  1000,
}

// IsValid checks if the given unit is in the list of valid length units.
// The empty string is accepted and means millimetres.
func IsValid(unit string) bool {
	if unit == "" {
		return true
	}
	_, ok := mmPer[unit]
	return ok
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidLengthUnits, ", ")
}

// MillimetresPer returns how many millimetres one unit is.
func MillimetresPer(unit string) (float64, error) {
	if unit == "" {
		return 1, nil
	}
	f, ok := mmPer[unit]
	if !ok {
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidUnitsString())
	}
	return f, nil
}

// ToMillimetres converts a length in unit to millimetres. Library
// coordinates are always stored in millimetres.
func ToMillimetres(v float64, unit string) (float64, error) {
	f, err := MillimetresPer(unit)
	if err != nil {
		return 0, err
	}
	return v * f, nil
}

// ConvertLength converts a length between any two valid units.
func ConvertLength(v float64, from, to string) (float64, error) {
	fromMM, err := MillimetresPer(from)
	if err != nil {
		return 0, err
	}
	toMM, err := MillimetresPer(to)
	if err != nil {
		return 0, err
	}
	return v * fromMM / toMM, nil
}
