package segment

import (
	"time"
)

// Interval is a continuous stretch of rows where a condition held. Indices
// address the rows of Normalize(samples).
type Interval struct {
	Start      time.Time
	End        time.Time
	FirstIndex int
	LastIndex  int
}

// Duration is End - Start.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// EventOptions tunes how matching rows are grouped into intervals. Both
// factors are multiples of the log's average timestep.
type EventOptions struct {
	// ContinuityFactor: a gap between matching rows longer than this many
	// average timesteps starts a new interval.
	ContinuityFactor float64
	// MinDomainFactor: intervals not longer than this many average timesteps
	// are discarded as noise.
	MinDomainFactor float64
}

// DefaultEventOptions matches the deposition log reader's behaviour.
func DefaultEventOptions() EventOptions {
	return EventOptions{ContinuityFactor: 3, MinDomainFactor: 3}
}

// AverageTimestep is the mean spacing between consecutive rows. It is zero
// for fewer than two rows.
func AverageTimestep(rows []ChannelSample) time.Duration {
	if len(rows) < 2 {
		return 0
	}
	return rows[len(rows)-1].Time.Sub(rows[0].Time) / time.Duration(len(rows)-1)
}

// Events returns the intervals during which p holds. Unlike Segment, which
// gives every row exactly one label, Events looks at one condition in
// isolation, so intervals of different conditions may overlap.
func Events(samples []ChannelSample, p Predicate, opts EventOptions) ([]Interval, error) {
	rows, err := Normalize(samples)
	if err != nil {
		return nil, err
	}
	if p.Match == nil {
		return nil, nil
	}

	avg := AverageTimestep(rows)
	limit := time.Duration(opts.ContinuityFactor * float64(avg))
	minSpan := time.Duration(opts.MinDomainFactor * float64(avg))

	var raw []Interval
	first, prev := -1, -1
	for i, r := range rows {
		if !p.Match(r.Values) {
			continue
		}
		if first >= 0 && r.Time.Sub(rows[prev].Time) <= limit {
			prev = i
			continue
		}
		if first >= 0 {
			raw = append(raw, interval(rows, first, prev))
		}
		first, prev = i, i
	}
	if first >= 0 {
		raw = append(raw, interval(rows, first, prev))
	}

	out := raw[:0]
	for _, iv := range raw {
		if iv.Duration() > minSpan {
			out = append(out, iv)
		} else {
			tracef("%s: dropped interval %d-%d shorter than %s", p.Name, iv.FirstIndex, iv.LastIndex, minSpan)
		}
	}
	diagf("%s: %d intervals (%d dropped)", p.Name, len(out), len(raw)-len(out))
	return out, nil
}

func interval(rows []ChannelSample, first, last int) Interval {
	return Interval{
		Start:      rows[first].Time,
		End:        rows[last].Time,
		FirstIndex: first,
		LastIndex:  last,
	}
}

// Stitch merges consecutive intervals when the channel has the same value at
// the end of one and the start of the next. Stepped power ramps (0→50→75 W)
// show up as separate intervals split by a hold; stitching reports them as
// one ramp. rows must be the normalized samples the intervals index into.
func Stitch(rows []ChannelSample, intervals []Interval, channel string) []Interval {
	if len(intervals) < 2 {
		return intervals
	}
	out := make([]Interval, 0, len(intervals))
	out = append(out, intervals[0])
	for _, next := range intervals[1:] {
		cur := &out[len(out)-1]
		endVal, okEnd := rows[cur.LastIndex].Values[channel]
		startVal, okStart := rows[next.FirstIndex].Values[channel]
		if okEnd && okStart && endVal == startVal {
			cur.End = next.End
			cur.LastIndex = next.LastIndex
			continue
		}
		out = append(out, next)
	}
	return out
}

// EventCondition is a condition listed on its own. When Stitch names a
// channel, its intervals are merged with Stitch on that channel.
type EventCondition struct {
	Predicate Predicate
	Stitch    string
}

// Name is the predicate name.
func (e EventCondition) Name() string { return e.Predicate.Name }

// ConditionEvents runs Events for the condition and stitches the result when
// the condition asks for it.
func ConditionEvents(samples []ChannelSample, e EventCondition, opts EventOptions) ([]Interval, error) {
	intervals, err := Events(samples, e.Predicate, opts)
	if err != nil || e.Stitch == "" || len(intervals) < 2 {
		return intervals, err
	}
	rows, err := Normalize(samples)
	if err != nil {
		return nil, err
	}
	stitched := Stitch(rows, intervals, e.Stitch)
	if n := len(intervals) - len(stitched); n > 0 {
		diagf("%s: stitched %d intervals on %q", e.Name(), n, e.Stitch)
	}
	return stitched, nil
}
