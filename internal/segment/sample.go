package segment

import (
	"fmt"
	"sort"
	"time"
)

// Channels holds the numeric channel values of one log row, keyed by the
// column name written by the instrument (e.g. "PC Capman Pressure").
type Channels map[string]float64

// Get returns the channel value, or 0 when the channel is absent. Absent
// channels behave like an instrument that logged zero, which is what the
// threshold predicates expect for sources that are not installed.
func (c Channels) Get(name string) float64 {
	return c[name]
}

// Has reports whether the channel was logged.
func (c Channels) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// ChannelSample is one timestamped row of a process log.
type ChannelSample struct {
	Time   time.Time
	Values Channels
}

// Normalize validates that samples are ordered by time and collapses rows
// that share a timestamp; for duplicates the later row wins channel by
// channel. The input slice and its maps are never modified.
func Normalize(samples []ChannelSample) ([]ChannelSample, error) {
	if len(samples) == 0 {
		return nil, &MalformedLogError{Index: -1, Reason: "log has no samples"}
	}

	out := make([]ChannelSample, 0, len(samples))
	for i, s := range samples {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if s.Time.Before(prev.Time) {
				opsf("rejecting log: sample %d at %s precedes %s", i, s.Time.Format(time.RFC3339Nano), prev.Time.Format(time.RFC3339Nano))
				return nil, &MalformedLogError{
					Index:  i,
					Reason: fmt.Sprintf("timestamp %s precedes %s", s.Time.Format(time.RFC3339Nano), prev.Time.Format(time.RFC3339Nano)),
				}
			}
			if s.Time.Equal(prev.Time) {
				merged := make(Channels, len(prev.Values)+len(s.Values))
				for k, v := range prev.Values {
					merged[k] = v
				}
				for k, v := range s.Values {
					merged[k] = v
				}
				out[n-1].Values = merged
				tracef("collapsed duplicate timestamp at sample %d", i)
				continue
			}
		}
		out = append(out, ChannelSample{Time: s.Time, Values: s.Values})
	}
	return out, nil
}

// ChannelNames returns the sorted union of channel names across samples.
func ChannelNames(samples []ChannelSample) []string {
	seen := make(map[string]struct{})
	for _, s := range samples {
		for k := range s.Values {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DeltaSuffix is appended to a channel name to form its difference channel.
const DeltaSuffix = " Δ"

// DeltaChannel returns the name of the difference channel for name.
func DeltaChannel(name string) string { return name + DeltaSuffix }

// DeriveDeltas returns a copy of samples with a difference channel added for
// each named channel: v[i] - v[i-1], and 0 for the first row that logs it.
// Predicates that look at setpoint slopes read these channels, which keeps
// every predicate a function of a single row.
func DeriveDeltas(samples []ChannelSample, channels ...string) []ChannelSample {
	out := cloneSamples(samples)
	for _, ch := range channels {
		var prev float64
		havePrev := false
		name := DeltaChannel(ch)
		for i := range out {
			v, ok := out[i].Values[ch]
			if !ok {
				continue
			}
			if havePrev {
				out[i].Values[name] = v - prev
			} else {
				out[i].Values[name] = 0
			}
			prev, havePrev = v, true
		}
	}
	return out
}

// LeadDeltaChannel returns the name of the forward difference channel for
// name. It ends in DeltaSuffix like DeltaChannel.
func LeadDeltaChannel(name string) string { return name + " next" + DeltaSuffix }

// DeriveLeadDeltas returns a copy of samples with a forward difference channel
// added for each named channel: the next logged value minus this one, and 0
// for the last row that logs it. A ramp predicate that also reads it covers
// the row just before the first rise.
func DeriveLeadDeltas(samples []ChannelSample, channels ...string) []ChannelSample {
	out := cloneSamples(samples)
	for _, ch := range channels {
		name := LeadDeltaChannel(ch)
		next, haveNext := 0.0, false
		for i := len(out) - 1; i >= 0; i-- {
			v, ok := out[i].Values[ch]
			if !ok {
				continue
			}
			if haveNext {
				out[i].Values[name] = next - v
			} else {
				out[i].Values[name] = 0
			}
			next, haveNext = v, true
		}
	}
	return out
}

// True substrate temperature calibration of the sputter chamber heater.
const (
	trueTempGain   = 0.905
	trueTempOffset = 12.0
)

// TrueTemperature converts the two heater thermocouple readings into the
// calibrated substrate temperature.
func TrueTemperature(t1, t2 float64) float64 {
	return trueTempGain*(0.5*(t1+t2)) + trueTempOffset
}

// DeriveTrueTemperature returns a copy of samples with channel out set to the
// calibrated substrate temperature wherever both a and b were logged.
func DeriveTrueTemperature(samples []ChannelSample, a, b, out string) []ChannelSample {
	res := cloneSamples(samples)
	for i := range res {
		va, okA := res[i].Values[a]
		vb, okB := res[i].Values[b]
		if okA && okB {
			res[i].Values[out] = TrueTemperature(va, vb)
		}
	}
	return res
}

// DeriveBeforeFirst returns a copy of rows with channel out set to 1 on the
// rows before the first row matching p and 0 from there on. Without a match
// every row is before.
func DeriveBeforeFirst(rows []ChannelSample, p Predicate, out string) []ChannelSample {
	res := cloneSamples(rows)
	before := 1.0
	for i := range res {
		if before == 1 && p.Match(res[i].Values) {
			before = 0
		}
		res[i].Values[out] = before
	}
	return res
}

// DeriveAfterLast returns a copy of rows with channel out set to 1 on the
// rows after the last row matching p and 0 up to it. Without a match every
// row is after.
func DeriveAfterLast(rows []ChannelSample, p Predicate, out string) []ChannelSample {
	res := cloneSamples(rows)
	last := -1
	for i := range res {
		if p.Match(res[i].Values) {
			last = i
		}
	}
	for i := range res {
		if i > last {
			res[i].Values[out] = 1
		} else {
			res[i].Values[out] = 0
		}
	}
	return res
}

// DeriveNearMean returns a copy of rows with channel out set to 1 where every
// one of channels lies strictly within pct percent of its mean over the rows
// matching p, and 0 elsewhere. Channels never logged on a matching row are
// not compared. With no matching rows, or nothing to compare, out is 0.
func DeriveNearMean(rows []ChannelSample, p Predicate, channels []string, pct float64, out string) []ChannelSample {
	res := cloneSamples(rows)
	sums := make(map[string]float64, len(channels))
	counts := make(map[string]int, len(channels))
	for _, r := range res {
		if !p.Match(r.Values) {
			continue
		}
		for _, ch := range channels {
			if v, ok := r.Values[ch]; ok {
				sums[ch] += v
				counts[ch]++
			}
		}
	}
	means := make(map[string]float64, len(counts))
	for ch, n := range counts {
		means[ch] = sums[ch] / float64(n)
	}

	lo, hi := 1-pct/100, 1+pct/100
	for i := range res {
		near := len(means) > 0
		for ch, m := range means {
			v, ok := res[i].Values[ch]
			if !ok || !(v > lo*m && v < hi*m) {
				near = false
				break
			}
		}
		if near {
			res[i].Values[out] = 1
		} else {
			res[i].Values[out] = 0
		}
	}
	return res
}

func cloneSamples(samples []ChannelSample) []ChannelSample {
	out := make([]ChannelSample, len(samples))
	for i, s := range samples {
		vals := make(Channels, len(s.Values)+1)
		for k, v := range s.Values {
			vals[k] = v
		}
		out[i] = ChannelSample{Time: s.Time, Values: vals}
	}
	return out
}
