package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dtu-nanolab/libmap/internal/batch"
	"github.com/dtu-nanolab/libmap/internal/fsutil"
	"github.com/dtu-nanolab/libmap/internal/logfile"
	"github.com/dtu-nanolab/libmap/internal/report"
	"github.com/dtu-nanolab/libmap/internal/segment"
	"github.com/dtu-nanolab/libmap/internal/units"
)

const (
	presetSputter = "sputter"
	presetRTP     = "rtp"
)

var segmentFlags struct {
	preset      string
	tempChannel string
	rates       []string
	plot        []string
	skipLines   int
	events      bool
	pngDir      string
	htmlDir     string
}

var segmentCmd = &cobra.Command{
	Use:   "segment [log ...]",
	Short: "Split process logs into labelled steps.",
	Long: `Read one or more process logs, label every sample with the first matching
condition of the chosen preset and print the resulting steps.

Examples:
  # Deposition logs from the sputter chamber
  libmap segment --preset sputter run1.csv run2.csv

  # An RTP log, with heating rates and a PNG timeline
  libmap segment --preset rtp --temp-channel Pyrometer --png plots/ anneal.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSegment,
}

func init() {
	f := segmentCmd.Flags()
	f.StringVar(&segmentFlags.preset, "preset", presetSputter, "predicate preset: sputter or rtp")
	f.StringVar(&segmentFlags.tempChannel, "temp-channel", "Temperature", "temperature channel of RTP logs")
	f.StringSliceVar(&segmentFlags.rates, "rate", nil, "channels to report a per-step rate for")
	f.StringSliceVar(&segmentFlags.plot, "plot", nil, "channels to draw (defaults to the rate channels)")
	f.IntVar(&segmentFlags.skipLines, "skip-lines", -1, "lines before the header row (-1 uses the preset's layout)")
	f.BoolVar(&segmentFlags.events, "events", false, "also list every interval of each condition (gas flows, cracker, ramps) on its own")
	f.StringVar(&segmentFlags.pngDir, "png", "", "write a PNG timeline per log into this directory")
	f.StringVar(&segmentFlags.htmlDir, "html", "", "write an HTML timeline per log into this directory")
}

func runSegment(cmd *cobra.Command, args []string) error {
	loc, err := units.LoadLogLocation(tuning.GetLogTimezone())
	if err != nil {
		return err
	}
	th := tuning.GetThresholds()

	var (
		format logfile.LogFormat
		preset segment.Preset
		rates  = segmentFlags.rates
	)
	switch segmentFlags.preset {
	case presetSputter:
		format = logfile.SputterLogFormat(loc)
		preset = segment.SputterPreset(th)
	case presetRTP:
		format = logfile.DefaultLogFormat()
		format.Location = loc
		preset = segment.RTPPreset(segmentFlags.tempChannel, th)
		if len(rates) == 0 {
			rates = []string{segmentFlags.tempChannel}
		}
	default:
		return fmt.Errorf("unknown preset %q (want %s or %s)", segmentFlags.preset, presetSputter, presetRTP)
	}
	if segmentFlags.skipLines >= 0 {
		format.SkipLines = segmentFlags.skipLines
	}
	for _, dir := range []string{segmentFlags.pngDir, segmentFlags.htmlDir} {
		if dir == "" {
			continue
		}
		if err := files.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	task := batch.SegmentTask(files, format, preset, tuning.SegmentOptions(rates...))
	results := batch.Run(cmd.Context(), workers, batch.Jobs(args...), task)

	out := cmd.OutOrStdout()
	status := make([]report.Status, len(results))
	for i, r := range results {
		status[i] = report.Status{ID: r.ID.String(), File: r.Job.Name(), Elapsed: r.Elapsed, Warnings: r.Warnings, Err: r.Err}
		if !r.OK() {
			continue
		}
		if err := printSegmented(out, r.Job, r.Value); err != nil {
			return err
		}
		channels := segmentFlags.plot
		if len(channels) == 0 {
			channels = rates
		}
		if err := writeTimelines(r.Job, r.Value, channels); err != nil {
			status[i].Err = err
		}
	}

	fmt.Fprintln(out)
	if err := report.WriteStatus(out, status); err != nil {
		return err
	}
	if n := batch.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d logs failed", n, len(results))
	}
	return nil
}

func printSegmented(w io.Writer, job batch.Job, s batch.Segmented) error {
	fmt.Fprintf(w, "\n== %s ==\n", job.Name())
	if err := report.WriteSteps(w, s.Steps); err != nil {
		return err
	}
	if err := report.WriteSummary(w, segment.Summarize(s.Steps)); err != nil {
		return err
	}
	if err := report.WriteDepositions(w, s.Steps, tuning.GetThresholds()); err != nil {
		return err
	}
	if !segmentFlags.events {
		return nil
	}
	for _, e := range s.Events {
		intervals, err := segment.ConditionEvents(s.Samples, e, tuning.EventOptions())
		if err != nil {
			return fmt.Errorf("%s: %w", job.Name(), err)
		}
		if len(intervals) == 0 {
			continue
		}
		if err := report.WriteIntervals(w, e.Name(), intervals); err != nil {
			return err
		}
	}
	return nil
}

func writeTimelines(job batch.Job, s batch.Segmented, channels []string) error {
	if len(channels) == 0 {
		channels = plainChannels(s.Samples)
	}
	if segmentFlags.pngDir != "" {
		err := writeOutput(fsutil.OutputPath(segmentFlags.pngDir, job.Path, ".png"), func(w io.Writer) error {
			return report.TimelinePNG(w, s.Samples, channels, s.Steps, job.Name())
		})
		if err != nil {
			return err
		}
	}
	if segmentFlags.htmlDir != "" {
		return writeOutput(fsutil.OutputPath(segmentFlags.htmlDir, job.Path, ".html"), func(w io.Writer) error {
			return report.TimelineHTML(w, s.Samples, channels, s.Steps, job.Name())
		})
	}
	return nil
}

// plainChannels lists the logged channels without derived deltas.
func plainChannels(rows []segment.ChannelSample) []string {
	var out []string
	for _, ch := range segment.ChannelNames(rows) {
		if !strings.HasSuffix(ch, segment.DeltaSuffix) {
			out = append(out, ch)
		}
	}
	return out
}
