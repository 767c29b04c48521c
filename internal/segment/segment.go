// Package segment partitions timestamped multichannel process logs (sputter
// depositions, rapid thermal processing) into labelled process steps and
// computes per-step summary metrics.
//
// The package is pure: it performs no I/O beyond the optional log streams
// configured with SetLogWriters, and identical inputs always produce
// identical steps.
package segment

import (
	"time"
)

// LabelIdle names samples that match no predicate.
const LabelIdle = "Idle"

// DefaultMinDwell is the smallest positive duration. A label run must span at
// least this long (first to last sample) to count as a transition, so a label
// that appears on one sample and then reverts is absorbed by its neighbours
// while every multi-sample run is kept.
const DefaultMinDwell = time.Nanosecond

// DefaultRateUnit expresses rate metrics per minute (e.g. °C/min).
const DefaultRateUnit = time.Minute

// Predicate is a named test on a single log row.
type Predicate struct {
	Name  string
	Match func(Channels) bool
}

// Options controls segmentation.
type Options struct {
	// MinDwell is the minimum span a label run needs before it is accepted as
	// a new step. Zero or negative disables flicker suppression.
	MinDwell time.Duration

	// RateChannels get a rate:<channel> metric per step.
	RateChannels []string

	// RateUnit is the time base of rate metrics. Zero means DefaultRateUnit.
	RateUnit time.Duration

	// MeanChannels restricts the mean:<channel> metrics. Empty means every
	// channel present in the step.
	MeanChannels []string
}

// DefaultOptions returns Options with flicker suppression enabled.
func DefaultOptions() Options {
	return Options{MinDwell: DefaultMinDwell, RateUnit: DefaultRateUnit}
}

// ProcessStep is one labelled interval of a log.
//
// Steps returned by Segment tile the log: each step's End is the next step's
// Start and the last step ends at the final timestamp. LastSample is the time
// of the last row that carried the label. FirstIndex and LastIndex address the
// rows of Normalize(samples).
type ProcessStep struct {
	Label      string
	Start      time.Time
	End        time.Time
	LastSample time.Time
	FirstIndex int
	LastIndex  int
	Metrics    map[string]float64
}

// Duration is the time the step covers.
func (s ProcessStep) Duration() time.Duration { return s.End.Sub(s.Start) }

// Samples is the number of rows in the step.
func (s ProcessStep) Samples() int { return s.LastIndex - s.FirstIndex + 1 }

// Segment labels every row with the first matching predicate (LabelIdle when
// none match), suppresses short flickers according to opts.MinDwell and
// returns the resulting steps in time order. With no predicates the whole log
// is a single Idle step.
//
// Returns a *MalformedLogError if samples is empty or goes back in time.
func Segment(samples []ChannelSample, predicates []Predicate, opts Options) ([]ProcessStep, error) {
	rows, err := Normalize(samples)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = classify(r.Values, predicates)
	}
	if opts.MinDwell > 0 {
		suppressFlicker(rows, labels, opts.MinDwell)
	}

	steps := make([]ProcessStep, 0, 8)
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && labels[i] == labels[start] {
			continue
		}
		step := ProcessStep{
			Label:      labels[start],
			Start:      rows[start].Time,
			LastSample: rows[i-1].Time,
			FirstIndex: start,
			LastIndex:  i - 1,
		}
		if i < len(rows) {
			step.End = rows[i].Time
		} else {
			step.End = rows[i-1].Time
		}
		step.Metrics = stepMetrics(rows[start:i], step.Duration(), opts)
		steps = append(steps, step)
		start = i
	}

	diagf("segmented %d samples into %d steps", len(rows), len(steps))
	return steps, nil
}

func classify(v Channels, predicates []Predicate) string {
	for _, p := range predicates {
		if p.Match != nil && p.Match(v) {
			return p.Name
		}
	}
	return LabelIdle
}

type labelRun struct {
	label       string
	first, last int
}

func runsOf(labels []string) []labelRun {
	var runs []labelRun
	for i, l := range labels {
		if n := len(runs); n > 0 && runs[n-1].label == l {
			runs[n-1].last = i
			continue
		}
		runs = append(runs, labelRun{label: l, first: i, last: i})
	}
	return runs
}

// suppressFlicker relabels runs that are too short to count as a transition.
// A short run keeps the running label; a short run at the start of the log
// takes the label of the first run long enough to be accepted.
func suppressFlicker(rows []ChannelSample, labels []string, minDwell time.Duration) {
	runs := runsOf(labels)
	if len(runs) < 2 {
		return
	}

	long := func(r labelRun) bool {
		return rows[r.last].Time.Sub(rows[r.first].Time) >= minDwell
	}

	running := ""
	haveRunning := false
	for ri, r := range runs {
		if long(r) {
			running, haveRunning = r.label, true
			continue
		}
		replacement := r.label
		if haveRunning {
			replacement = running
		} else {
			for _, next := range runs[ri+1:] {
				if long(next) {
					replacement = next.label
					break
				}
			}
			running, haveRunning = replacement, true
		}
		if replacement == r.label {
			continue
		}
		tracef("suppressed %q over samples %d-%d (kept %q)", r.label, r.first, r.last, replacement)
		for i := r.first; i <= r.last; i++ {
			labels[i] = replacement
		}
	}
}

// LabelSummary aggregates the steps sharing a label.
type LabelSummary struct {
	Label string
	Count int
	Total time.Duration
}

// Summarize groups steps by label in order of first appearance.
func Summarize(steps []ProcessStep) []LabelSummary {
	var out []LabelSummary
	index := make(map[string]int)
	for _, s := range steps {
		i, ok := index[s.Label]
		if !ok {
			i = len(out)
			index[s.Label] = i
			out = append(out, LabelSummary{Label: s.Label})
		}
		out[i].Count++
		out[i].Total += s.Duration()
	}
	return out
}

// StepsLabelled returns the steps with the given label, in order.
func StepsLabelled(steps []ProcessStep, label string) []ProcessStep {
	var out []ProcessStep
	for _, s := range steps {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}
