// Package logfile reads the lab's CSV exports into the in-memory records used
// by the segment and coords packages.
package logfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dtu-nanolab/libmap/internal/segment"
)

const (
	// DefaultTimeColumn is the timestamp header written by the deposition tools.
	DefaultTimeColumn = "Time Stamp"
	// DefaultTimeLayout parses timestamps like "Mar-14-2024 02:07:31.250 PM".
	// Any number of fractional digits is accepted.
	DefaultTimeLayout = "Jan-02-2006 03:04:05.999999999 PM"
)

// LogFormat describes a process log CSV.
type LogFormat struct {
	TimeColumn string
	TimeLayout string
	// Location is the timezone timestamps are written in. nil means UTC.
	Location *time.Location
	// Comma is the field separator; 0 means ','.
	Comma rune
	// SkipLines are dropped before the header row.
	SkipLines int
}

// DefaultLogFormat returns the plain CSV layout with the standard timestamp.
func DefaultLogFormat() LogFormat {
	return LogFormat{TimeColumn: DefaultTimeColumn, TimeLayout: DefaultTimeLayout}
}

// SputterLogFormat is the sputter chamber export, which carries one preamble
// line before the header.
func SputterLogFormat(loc *time.Location) LogFormat {
	f := DefaultLogFormat()
	f.Location = loc
	f.SkipLines = 1
	return f
}

func newReader(r io.Reader, comma rune) *csv.Reader {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	return reader
}

// parseCell reads a numeric cell. Booleans written as True/False count as 1/0.
// NaN and infinities are treated as missing.
func parseCell(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// ReadProcessLog reads a timestamped multichannel log. Every column other than
// the time column becomes a channel; cells that are not numeric are left out
// of that row. Rows are returned in file order; ordering is validated by
// segment.Normalize, not here.
func ReadProcessLog(r io.Reader, f LogFormat) ([]segment.ChannelSample, error) {
	if f.TimeColumn == "" {
		f.TimeColumn = DefaultTimeColumn
	}
	if f.TimeLayout == "" {
		f.TimeLayout = DefaultTimeLayout
	}
	loc := f.Location
	if loc == nil {
		loc = time.UTC
	}

	reader := newReader(r, f.Comma)
	for i := 0; i < f.SkipLines; i++ {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("failed to skip preamble line %d: %w", i+1, err)
		}
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &segment.MalformedLogError{Index: -1, Reason: "no header row"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log header: %w", err)
	}
	timeIdx := -1
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.TrimSpace(h)
		if names[i] == f.TimeColumn {
			timeIdx = i
		}
	}
	if timeIdx < 0 {
		return nil, fmt.Errorf("log header has no %q column", f.TimeColumn)
	}

	var samples []segment.ChannelSample
	for line := f.SkipLines + 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log line %d: %w", line, err)
		}
		if timeIdx >= len(rec) {
			return nil, fmt.Errorf("log line %d: missing %q", line, f.TimeColumn)
		}
		ts, err := time.ParseInLocation(f.TimeLayout, strings.TrimSpace(rec[timeIdx]), loc)
		if err != nil {
			return nil, fmt.Errorf("log line %d: bad timestamp: %w", line, err)
		}
		values := make(segment.Channels, len(rec)-1)
		for i, cell := range rec {
			if i == timeIdx || i >= len(names) || names[i] == "" {
				continue
			}
			if v, ok := parseCell(cell); ok {
				values[names[i]] = v
			}
		}
		samples = append(samples, segment.ChannelSample{Time: ts, Values: values})
	}
	if len(samples) == 0 {
		return nil, &segment.MalformedLogError{Index: -1, Reason: "no data rows"}
	}
	return samples, nil
}
