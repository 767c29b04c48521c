package report

import (
	"github.com/fatih/color"

	"github.com/dtu-nanolab/libmap/internal/coords"
)

// Console colors. fatih/color disables them when stdout is not a terminal.
var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	okColor      = color.New(color.FgGreen)
)

// qualityLabel colors a calibration quality bucket for console output.
func qualityLabel(q coords.Quality) string {
	switch q {
	case coords.QualityExcellent, coords.QualityGood:
		return okColor.Sprint(string(q))
	case coords.QualityFair:
		return warningColor.Sprint(string(q))
	default:
		return errorColor.Sprint(string(q))
	}
}
