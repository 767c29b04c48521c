package segment

import (
	"fmt"
	"sort"
)

// Step labels produced by the prebuilt predicate sets.
const (
	LabelDeposition     = "Deposition"
	LabelSourceRampUp   = "Source Ramp-Up"
	LabelSubRampUp      = "Ramp-Up"
	LabelCooling        = "Cooling"
	LabelAnnealing      = "Annealing"
	LabelGasFlow        = "Gas Flow"
	LabelCrackerOn      = "Cracker On"
	LabelTemperatureCtl = "Temperature Ctrl"
	LabelPresputter     = "Presputtering"
	LabelCrackerBase    = "Cracker Pressure Meas"
)

// Sputter chamber log channel names.
const (
	ChannelSubstrateShutter   = "PC Substrate Shutter Open"
	ChannelHeaterSetpoint     = "Substrate Heater Temperature Setpoint"
	ChannelHeaterTemperature  = "Substrate Heater Temperature"
	ChannelTempCtrlEnabled    = "Temperature Control Enabled"
	ChannelHeaterTemperature2 = "Substrate Heater Temperature 2"
	ChannelCrackerEnabled     = "Sulfur Cracker Control Enabled"
	ChannelCrackerValve       = "Sulfur Cracker Control Valve Setpoint Feedback"
	ChannelCrackerPulseWidth  = "Sulfur Cracker Control Valve PulseWidth Setpoint Feedback"
	ChannelCapmanPressure     = "PC Capman Pressure"
)

// Channels derived by PrepareSputterLog.
const (
	// ChannelTrueTemperature is the calibrated substrate temperature.
	ChannelTrueTemperature = "Substrate True Temperature"
	// ChannelBeforeDeposition is 1 on rows before the first deposition row.
	ChannelBeforeDeposition = "Before Deposition"
	// ChannelCrackerAtDeposition is 1 on rows where the cracker zones and
	// valve are within Thresholds.CrackerDiffPercent of their deposition mean.
	ChannelCrackerAtDeposition = "Sulfur Cracker At Deposition Setting"
)

// Mass flow controllers of the sputter chamber gas lines.
const (
	MFCAr  = 1
	MFCPH3 = 4
	MFCH2S = 6
)

// SourceChannel returns a per-source channel such as "Source 3 Current".
func SourceChannel(source int, field string) string {
	return fmt.Sprintf("Source %d %s", source, field)
}

// AfterRampUpChannel is the derived channel that is 1 on rows after the last
// ramp-up of a source.
func AfterRampUpChannel(source int) string {
	return fmt.Sprintf("Source %d After Ramp-Up", source)
}

// ShutterChannel returns the shutter state channel of a source.
func ShutterChannel(source int) string {
	return fmt.Sprintf("PC Source %d Shutter Open", source)
}

// MFCChannel returns a mass flow controller channel, field is "Setpoint" or "Flow".
func MFCChannel(mfc int, field string) string {
	return fmt.Sprintf("PC MFC %d %s", mfc, field)
}

// CrackerZoneChannel returns the current temperature channel of a cracker zone (1-3).
func CrackerZoneChannel(zone int) string {
	return fmt.Sprintf("Sulfur Cracker Zone %d Current Temperature", zone)
}

// Thresholds are the instrument limits used by the predicate library.
type Thresholds struct {
	Current           float64    // plasma current above which a DC source is on
	Bias              float64    // DC bias above which an RF source is on
	PowerSetpointDiff float64    // setpoint step (W) that marks a power ramp
	TempSetpointDiff  float64    // setpoint step (°C) that marks a temperature ramp
	CrackerZoneMin    [3]float64 // per-zone temperature for the cracker to count as on
	RoomTemperature   float64    // below this the deposition is at room temperature
	MFCFlow           float64    // sccm above which a gas line is flowing
	AnnealMin         float64    // RTP temperature above which a plateau is an anneal
	// CrackerDiffPercent is how far (%) the cracker may sit from its
	// deposition setting during a base-pressure measurement.
	CrackerDiffPercent float64
}

// DefaultThresholds returns the values used on the lab's sputter and RTP logs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Current:            0.01,
		Bias:               0.01,
		PowerSetpointDiff:  0.01,
		TempSetpointDiff:   0.11,
		CrackerZoneMin:     [3]float64{70, 150, 200},
		RoomTemperature:    30,
		MFCFlow:            1,
		AnnealMin:          100,
		CrackerDiffPercent: 10,
	}
}

// SourceOn holds while source n is enabled and either drawing current or
// showing a DC bias.
func SourceOn(n int, th Thresholds) Predicate {
	enabled := SourceChannel(n, "Enabled")
	current := SourceChannel(n, "Current")
	bias := SourceChannel(n, "DC Bias")
	return Predicate{
		Name: fmt.Sprintf("Source %d On", n),
		Match: func(c Channels) bool {
			return c.Get(enabled) != 0 && (c.Get(current) > th.Current || c.Get(bias) > th.Bias)
		},
	}
}

// SourceOnOpen holds while source n is on and its shutter is open.
func SourceOnOpen(n int, th Thresholds) Predicate {
	on := SourceOn(n, th)
	shutter := ShutterChannel(n)
	return Predicate{
		Name: fmt.Sprintf("Source %d On and Open", n),
		Match: func(c Channels) bool {
			return on.Match(c) && c.Get(shutter) == 1
		},
	}
}

// Deposition holds while the substrate shutter is open and at least one
// source is on with its shutter open.
func Deposition(sources []int, th Thresholds) Predicate {
	open := make([]Predicate, len(sources))
	for i, n := range sources {
		open[i] = SourceOnOpen(n, th)
	}
	return Predicate{
		Name: LabelDeposition,
		Match: func(c Channels) bool {
			if c.Get(ChannelSubstrateShutter) != 1 {
				return false
			}
			for _, p := range open {
				if p.Match(c) {
					return true
				}
			}
			return false
		},
	}
}

// SourceRampUp holds while source n is enabled and its output setpoint is
// increasing, including the row just before the first rise. Needs the delta
// and lead delta channels of "Source n Output Setpoint".
func SourceRampUp(n int, th Thresholds) Predicate {
	enabled := SourceChannel(n, "Enabled")
	setpoint := SourceChannel(n, "Output Setpoint")
	delta, lead := DeltaChannel(setpoint), LeadDeltaChannel(setpoint)
	return Predicate{
		Name: fmt.Sprintf("Source %d Ramp-Up", n),
		Match: func(c Channels) bool {
			return c.Get(enabled) != 0 && (c.Get(delta) > th.PowerSetpointDiff || c.Get(lead) > th.PowerSetpointDiff)
		},
	}
}

// AnySourceRampUp holds while any of the sources ramps up.
func AnySourceRampUp(sources []int, th Thresholds) Predicate {
	ramps := make([]Predicate, len(sources))
	for i, n := range sources {
		ramps[i] = SourceRampUp(n, th)
	}
	return Predicate{Name: LabelSourceRampUp, Match: anyOf(ramps)}
}

// GasOn holds while the mass flow controller has both setpoint and flow above
// the threshold.
func GasOn(name string, mfc int, th Thresholds) Predicate {
	setpoint := MFCChannel(mfc, "Setpoint")
	flow := MFCChannel(mfc, "Flow")
	return Predicate{
		Name: name + " On",
		Match: func(c Channels) bool {
			return c.Get(setpoint) > th.MFCFlow && c.Get(flow) > th.MFCFlow
		},
	}
}

// CrackerOn holds while the sulfur cracker control is enabled and all three
// zones are above their minimum temperature.
func CrackerOn(th Thresholds) Predicate {
	return Predicate{
		Name: LabelCrackerOn,
		Match: func(c Channels) bool {
			if c.Get(ChannelCrackerEnabled) != 1 {
				return false
			}
			for z := 0; z < 3; z++ {
				if c.Get(CrackerZoneChannel(z+1)) <= th.CrackerZoneMin[z] {
					return false
				}
			}
			return true
		},
	}
}

// GasPredicates returns the Ar, PH3 and H2S flow conditions.
func GasPredicates(th Thresholds) []Predicate {
	return []Predicate{
		GasOn("Ar", MFCAr, th),
		GasOn("PH3", MFCPH3, th),
		GasOn("H2S", MFCH2S, th),
	}
}

// AnyGasFlow holds while any of the predicates in gases holds.
func AnyGasFlow(gases []Predicate) Predicate {
	return Predicate{Name: LabelGasFlow, Match: anyOf(gases)}
}

func anyOf(ps []Predicate) func(Channels) bool {
	return func(c Channels) bool {
		for _, p := range ps {
			if p.Match(c) {
				return true
			}
		}
		return false
	}
}

// Presputter holds while a source burns in with its plasma on before the
// deposition: after the source's last ramp-up, not ramping, and with neither
// H2S nor PH3 flowing nor the cracker on. Needs the channels added by
// PrepareSputterLog.
func Presputter(sources []int, th Thresholds) Predicate {
	type source struct {
		on, ramp Predicate
		after    string
	}
	srcs := make([]source, len(sources))
	for i, n := range sources {
		srcs[i] = source{on: SourceOn(n, th), ramp: SourceRampUp(n, th), after: AfterRampUpChannel(n)}
	}
	reactive := []Predicate{GasOn("PH3", MFCPH3, th), GasOn("H2S", MFCH2S, th), CrackerOn(th)}
	return Predicate{
		Name: LabelPresputter,
		Match: func(c Channels) bool {
			if c.Get(ChannelBeforeDeposition) != 1 || anyOf(reactive)(c) {
				return false
			}
			for _, s := range srcs {
				if s.on.Match(c) && c.Get(s.after) == 1 && !s.ramp.Match(c) {
					return true
				}
			}
			return false
		},
	}
}

// CrackerBasePressure holds while the cracker runs at its deposition setting
// before the deposition with no gas flowing, which is when the chamber base
// pressure it induces is measured. Needs the channels added by
// PrepareSputterLog.
func CrackerBasePressure(th Thresholds) Predicate {
	cracker := CrackerOn(th)
	gas := GasPredicates(th)
	return Predicate{
		Name: LabelCrackerBase,
		Match: func(c Channels) bool {
			return cracker.Match(c) &&
				c.Get(ChannelBeforeDeposition) == 1 &&
				c.Get(ChannelCrackerAtDeposition) == 1 &&
				!anyOf(gas)(c)
		},
	}
}

// TemperatureControl holds while the substrate heater is regulating. Older
// logs lack the enable flag; there a setpoint differing from the reading is
// taken as regulation.
func TemperatureControl() Predicate {
	return Predicate{
		Name: LabelTemperatureCtl,
		Match: func(c Channels) bool {
			if c.Has(ChannelTempCtrlEnabled) {
				return c.Get(ChannelTempCtrlEnabled) == 1
			}
			return c.Get(ChannelHeaterSetpoint) != c.Get(ChannelHeaterTemperature)
		},
	}
}

// TempRampUp holds while the heater regulates and its setpoint rises. Needs
// the delta channel of ChannelHeaterSetpoint.
func TempRampUp(th Thresholds) Predicate {
	ctl := TemperatureControl()
	delta := DeltaChannel(ChannelHeaterSetpoint)
	return Predicate{
		Name: LabelSubRampUp,
		Match: func(c Channels) bool {
			return ctl.Match(c) && c.Get(delta) > th.TempSetpointDiff
		},
	}
}

// TempRampDown holds while the heater regulates and its setpoint falls
// towards a non-zero value. Needs the delta channel of ChannelHeaterSetpoint.
func TempRampDown(th Thresholds) Predicate {
	ctl := TemperatureControl()
	delta := DeltaChannel(ChannelHeaterSetpoint)
	return Predicate{
		Name: LabelCooling,
		Match: func(c Channels) bool {
			return ctl.Match(c) && c.Get(delta) < -th.TempSetpointDiff && c.Get(ChannelHeaterSetpoint) > 1
		},
	}
}

// SputterPredicates is the priority-ordered predicate set for sputter logs.
// Deposition wins over ramps so a heater adjustment during growth is still
// reported as deposition.
func SputterPredicates(sources []int, th Thresholds) []Predicate {
	return []Predicate{
		Deposition(sources, th),
		AnySourceRampUp(sources, th),
		Presputter(sources, th),
		CrackerBasePressure(th),
		TempRampUp(th),
		TempRampDown(th),
	}
}

// SputterDeltaChannels lists the channels SputterPredicates reads deltas of.
func SputterDeltaChannels(sources []int) []string {
	chans := []string{ChannelHeaterSetpoint}
	for _, n := range sources {
		chans = append(chans, SourceChannel(n, "Output Setpoint"))
	}
	return chans
}

// CrackerSettingChannels are compared against their deposition mean for
// ChannelCrackerAtDeposition.
func CrackerSettingChannels() []string {
	return []string{
		CrackerZoneChannel(1), CrackerZoneChannel(2), CrackerZoneChannel(3),
		ChannelCrackerPulseWidth, ChannelCrackerValve,
	}
}

// PrepareSputterLog normalizes samples and adds every derived channel the
// sputter predicates read: setpoint deltas, the true substrate temperature
// and the deposition phase channels.
func PrepareSputterLog(samples []ChannelSample, sources []int, th Thresholds) ([]ChannelSample, error) {
	rows, err := Normalize(samples)
	if err != nil {
		return nil, err
	}
	rows = DeriveDeltas(rows, SputterDeltaChannels(sources)...)
	setpoints := make([]string, len(sources))
	for i, n := range sources {
		setpoints[i] = SourceChannel(n, "Output Setpoint")
	}
	rows = DeriveLeadDeltas(rows, setpoints...)
	rows = DeriveTrueTemperature(rows, ChannelHeaterTemperature, ChannelHeaterTemperature2, ChannelTrueTemperature)

	dep := Deposition(sources, th)
	rows = DeriveBeforeFirst(rows, dep, ChannelBeforeDeposition)
	for _, n := range sources {
		rows = DeriveAfterLast(rows, SourceRampUp(n, th), AfterRampUpChannel(n))
	}
	rows = DeriveNearMean(rows, dep, CrackerSettingChannels(), th.CrackerDiffPercent, ChannelCrackerAtDeposition)
	return rows, nil
}

// SputterEvents lists the conditions reported one by one for sputter logs.
// Source ramp-ups are stitched on the output setpoint so a stepped ramp is one
// event.
func SputterEvents(sources []int, th Thresholds) []EventCondition {
	events := []EventCondition{{Predicate: Deposition(sources, th)}}
	for _, n := range sources {
		events = append(events,
			EventCondition{Predicate: SourceOn(n, th)},
			EventCondition{Predicate: SourceRampUp(n, th), Stitch: SourceChannel(n, "Output Setpoint")},
		)
	}
	events = append(events,
		EventCondition{Predicate: Presputter(sources, th)},
		EventCondition{Predicate: CrackerOn(th)},
		EventCondition{Predicate: CrackerBasePressure(th)},
	)
	gas := GasPredicates(th)
	events = append(events, EventCondition{Predicate: AnyGasFlow(gas)})
	for _, g := range gas {
		events = append(events, EventCondition{Predicate: g})
	}
	return append(events,
		EventCondition{Predicate: TemperatureControl()},
		EventCondition{Predicate: TempRampUp(th)},
		EventCondition{Predicate: TempRampDown(th)},
	)
}

// RTPPredicates is the predicate set for rapid thermal processing logs keyed
// on a single temperature channel. Needs the delta channel of tempChannel.
func RTPPredicates(tempChannel string, th Thresholds) []Predicate {
	delta := DeltaChannel(tempChannel)
	return []Predicate{
		{
			Name: LabelSubRampUp,
			Match: func(c Channels) bool {
				return c.Get(delta) > th.TempSetpointDiff
			},
		},
		{
			Name: LabelCooling,
			Match: func(c Channels) bool {
				return c.Get(delta) < -th.TempSetpointDiff
			},
		},
		{
			Name: LabelAnnealing,
			Match: func(c Channels) bool {
				return c.Get(tempChannel) > th.AnnealMin
			},
		},
	}
}

// DetectSources returns the source numbers that have a shutter channel in the
// log, sorted ascending.
func DetectSources(samples []ChannelSample) []int {
	seen := make(map[int]struct{})
	for _, name := range ChannelNames(samples) {
		var n int
		if _, err := fmt.Sscanf(name, "PC Source %d Shutter Open", &n); err == nil {
			if name == ShutterChannel(n) {
				seen[n] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// IsRoomTemperature reports whether a deposition step ran without heating,
// judged on the mean heater setpoint.
func IsRoomTemperature(step ProcessStep, th Thresholds) bool {
	v, ok := step.Metrics[MeanMetric(ChannelHeaterSetpoint)]
	if !ok {
		return true
	}
	return v <= th.RoomTemperature
}

// Prepared is a log made ready for segmentation.
type Prepared struct {
	// Samples are normalized and carry the derived channels.
	Samples    []ChannelSample
	Predicates []Predicate
	// Events are the conditions worth listing on their own.
	Events []EventCondition
}

// Preset prepares a log for a predicate set. It runs per file because the set
// can depend on the log (which sources are fitted).
type Preset func(samples []ChannelSample) (Prepared, error)

// SputterPreset detects the sources present in the log, adds the derived
// channels and returns SputterPredicates.
func SputterPreset(th Thresholds) Preset {
	return func(samples []ChannelSample) (Prepared, error) {
		sources := DetectSources(samples)
		rows, err := PrepareSputterLog(samples, sources, th)
		if err != nil {
			return Prepared{}, err
		}
		return Prepared{
			Samples:    rows,
			Predicates: SputterPredicates(sources, th),
			Events:     SputterEvents(sources, th),
		}, nil
	}
}

// RTPPreset adds the delta of tempChannel and returns RTPPredicates.
func RTPPreset(tempChannel string, th Thresholds) Preset {
	return func(samples []ChannelSample) (Prepared, error) {
		rows, err := Normalize(samples)
		if err != nil {
			return Prepared{}, err
		}
		preds := RTPPredicates(tempChannel, th)
		events := make([]EventCondition, len(preds))
		for i, p := range preds {
			events[i] = EventCondition{Predicate: p}
		}
		return Prepared{
			Samples:    DeriveDeltas(rows, tempChannel),
			Predicates: preds,
			Events:     events,
		}, nil
	}
}
