package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/report"
)

var gridFlags struct {
	cols, rows     int
	length, height float64
	start          []float64
	snake          bool
}

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Print the positions of a measurement grid.",
	Long: `Lay out a cols x rows grid spanning length x height mm. Without --start the
grid is centred on the library origin.

Examples:
  # 10x10 EDX grid over a 40x40 mm area, in stage visiting order
  libmap grid --cols 10 --rows 10 --length 40 --height 40 --snake`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		start := coords.Vec2{X: -gridFlags.length / 2, Y: -gridFlags.height / 2}
		if len(gridFlags.start) > 0 {
			if len(gridFlags.start) != 2 {
				return fmt.Errorf("--start needs x,y")
			}
			start = coords.Vec2{X: gridFlags.start[0], Y: gridFlags.start[1]}
		}
		grid, err := coords.MeasurementGrid(gridFlags.cols, gridFlags.rows, gridFlags.length, gridFlags.height, start)
		if err != nil {
			return err
		}
		if gridFlags.snake {
			grid = snake(grid, gridFlags.rows)
		}

		points := make([]coords.LibraryPoint, len(grid))
		for i, g := range grid {
			points[i] = coords.LibraryPoint{X: g.X, Y: g.Y, Index: i}
		}
		return report.WritePoints(cmd.OutOrStdout(), points, nil)
	},
}

func init() {
	f := gridCmd.Flags()
	f.IntVar(&gridFlags.cols, "cols", 10, "grid columns")
	f.IntVar(&gridFlags.rows, "rows", 10, "grid rows")
	f.Float64Var(&gridFlags.length, "length", 40, "grid extent along X in mm")
	f.Float64Var(&gridFlags.height, "height", 40, "grid extent along Y in mm")
	f.Float64SliceVar(&gridFlags.start, "start", nil, "lower-left position x,y in mm")
	f.BoolVar(&gridFlags.snake, "snake", false, "order positions row by row in a serpentine")
}

// snake reorders a column-major grid with the given number of rows.
func snake(grid []coords.Vec2, rows int) []coords.Vec2 {
	ys := make([]float64, rows)
	for i := range ys {
		ys[i] = grid[i].Y
	}
	xs := make([]float64, 0, len(grid)/rows)
	for i := 0; i < len(grid); i += rows {
		xs = append(xs, grid[i].X)
	}
	return coords.SnakeOrder(xs, ys)
}
