package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtu-nanolab/libmap/internal/coords"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
	assert.Contains(t, out, "Runtime: go")
}

func TestSegmentCommand_RTP(t *testing.T) {
	dir := t.TempDir()
	var log strings.Builder
	log.WriteString("Time Stamp,Temperature\n")
	for i, v := range []float64{25, 25, 125, 225, 325, 400, 400, 400, 300, 200} {
		fmt.Fprintf(&log, "Jan-02-2025 09:00:%02d AM,%g\n", i, v)
	}
	path := writeFile(t, dir, "anneal.csv", log.String())
	plots := filepath.Join(dir, "plots")

	out, err := execute(t, "segment", "--preset", "rtp", "--temp-channel", "Temperature", "--png", plots, path)
	require.NoError(t, err)
	assert.Contains(t, out, "== anneal.csv ==")
	assert.Contains(t, out, "Annealing")
	assert.Contains(t, out, "Cooling")
	assert.Contains(t, strings.ToLower(out), "temperature rate")
	assert.Contains(t, out, "ok")

	_, err = os.Stat(filepath.Join(plots, "anneal.png"))
	assert.NoError(t, err)

	_, err = execute(t, "segment", "--preset", "rtp", filepath.Join(dir, "missing.csv"))
	assert.ErrorContains(t, err, "1 of 1 logs failed")
}

func TestUnifyCommand(t *testing.T) {
	dir := t.TempDir()
	points := writeFile(t, dir, "edx.csv", "X (mm),Y (mm),Cu\n0,0,1\n40,40,2\n20,20,3\n")
	cal := writeFile(t, dir, "cal.csv", "instrument_x,instrument_y,library_x,library_y\n0,0,-20,-20\n40,0,20,-20\n40,40,20,20\n")

	out, err := execute(t, "unify", "--calibration", cal, "--columns", "Cu", points)
	require.NoError(t, err)
	assert.Contains(t, out, "== shared calibration ==")
	assert.Contains(t, out, "excellent")
	assert.Contains(t, out, "-20.000")
	assert.Contains(t, out, "3.000")

	_, err = execute(t, "unify", "--session", "no-separator", points)
	assert.ErrorContains(t, err, "invalid --session")
}

func TestUnifyCommand_Center(t *testing.T) {
	unifyFlags.calibration, unifyFlags.sessions, unifyFlags.corners = "", nil, nil
	t.Cleanup(func() { unifyFlags.center = nil })

	dir := t.TempDir()
	points := writeFile(t, dir, "ellips.csv", "X (mm),Y (mm),n\n10,10,1\n30,10,2\n10,30,3\n30,30,4\n")

	out, err := execute(t, "unify", "--center", "0,40,40,0", "--columns", "n", points)
	require.NoError(t, err)
	assert.NotContains(t, out, "shared calibration")
	assert.Contains(t, out, "(20.0000, 20.0000)")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "-10.000")
	assert.Contains(t, out, "4.000")

	unifyFlags.calibration = "cal.csv"
	t.Cleanup(func() { unifyFlags.calibration = "" })
	_, err = execute(t, "unify", points)
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestGridCommand(t *testing.T) {
	out, err := execute(t, "grid", "--cols", "3", "--rows", "2", "--length", "10", "--height", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "-5.000")
	assert.Contains(t, out, "-2.000")
	assert.Contains(t, out, "2.000")
}

func TestSnake(t *testing.T) {
	grid, err := coords.MeasurementGrid(2, 2, 10, 10, coords.Vec2{X: -5, Y: -5})
	require.NoError(t, err)
	got := snake(grid, 2)
	want := []coords.Vec2{{X: -5, Y: -5}, {X: 5, Y: -5}, {X: 5, Y: 5}, {X: -5, Y: 5}}
	assert.Equal(t, want, got)
}
