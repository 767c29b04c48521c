package segment

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// MetricDuration is the step duration in seconds.
const MetricDuration = "duration_s"

// MeanMetric names the mean metric of a channel.
func MeanMetric(channel string) string { return "mean:" + channel }

// RateMetric names the rate metric of a channel.
func RateMetric(channel string) string { return "rate:" + channel }

func stepMetrics(rows []ChannelSample, d time.Duration, opts Options) map[string]float64 {
	m := map[string]float64{MetricDuration: d.Seconds()}

	channels := opts.MeanChannels
	if len(channels) == 0 {
		channels = ChannelNames(rows)
	}
	vals := make([]float64, 0, len(rows))
	for _, ch := range channels {
		vals = vals[:0]
		for _, r := range rows {
			if v, ok := r.Values[ch]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) > 0 {
			m[MeanMetric(ch)] = stat.Mean(vals, nil)
		}
	}

	unit := opts.RateUnit
	if unit <= 0 {
		unit = DefaultRateUnit
	}
	for _, ch := range opts.RateChannels {
		if rate, ok := channelRate(rows, ch, unit); ok {
			m[RateMetric(ch)] = rate
		}
	}
	return m
}

// channelRate is (v[last]-v[first]) / (t[last]-t[first]) over the rows that
// logged the channel, scaled to unit. It is undefined for fewer than two
// distinct timestamps.
func channelRate(rows []ChannelSample, ch string, unit time.Duration) (float64, bool) {
	first, last := -1, -1
	for i, r := range rows {
		if _, ok := r.Values[ch]; ok {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 || first == last {
		return 0, false
	}
	dt := rows[last].Time.Sub(rows[first].Time)
	if dt <= 0 {
		return 0, false
	}
	dv := rows[last].Values[ch] - rows[first].Values[ch]
	return dv / dt.Seconds() * unit.Seconds(), true
}
