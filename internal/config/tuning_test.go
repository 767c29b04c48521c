package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dtu-nanolab/libmap/internal/coords"
	"github.com/dtu-nanolab/libmap/internal/segment"
)

func TestDefaultsFileMatchesBuiltins(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	empty := EmptyTuningConfig()

	if cfg.GetMinDwell() != empty.GetMinDwell() {
		t.Errorf("GetMinDwell() = %v, builtin %v", cfg.GetMinDwell(), empty.GetMinDwell())
	}
	if cfg.GetRateUnit() != time.Minute {
		t.Errorf("GetRateUnit() = %v, want 1m", cfg.GetRateUnit())
	}
	if diff := cmp.Diff(empty.GetThresholds(), cfg.GetThresholds()); diff != "" {
		t.Errorf("thresholds differ from builtin (-builtin +file):\n%s", diff)
	}
	if diff := cmp.Diff(empty.FitOptions(), cfg.FitOptions()); diff != "" {
		t.Errorf("fit options differ from builtin (-builtin +file):\n%s", diff)
	}
	if diff := cmp.Diff(empty.EventOptions(), cfg.EventOptions()); diff != "" {
		t.Errorf("event options differ from builtin (-builtin +file):\n%s", diff)
	}
	if cfg.GetWorkers() != empty.GetWorkers() {
		t.Errorf("GetWorkers() = %d, builtin %d", cfg.GetWorkers(), empty.GetWorkers())
	}
	if cfg.GetLogTimezone() != empty.GetLogTimezone() {
		t.Errorf("GetLogTimezone() = %q, builtin %q", cfg.GetLogTimezone(), empty.GetLogTimezone())
	}
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if cfg.GetMinDwell() != segment.DefaultMinDwell {
		t.Errorf("GetMinDwell() = %v, want %v", cfg.GetMinDwell(), segment.DefaultMinDwell)
	}
	if cfg.GetCalibrationTolerance() != coords.DefaultTolerance {
		t.Errorf("GetCalibrationTolerance() = %f, want %f", cfg.GetCalibrationTolerance(), coords.DefaultTolerance)
	}
	if cfg.GetAnisotropic() {
		t.Error("GetAnisotropic() = true, want uniform scale by default")
	}
	if cfg.GetInstrumentUnit() != "mm" {
		t.Errorf("GetInstrumentUnit() = %q, want mm", cfg.GetInstrumentUnit())
	}
	if diff := cmp.Diff(segment.DefaultThresholds(), cfg.GetThresholds()); diff != "" {
		t.Errorf("GetThresholds() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(segment.DefaultEventOptions(), cfg.EventOptions()); diff != "" {
		t.Errorf("EventOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rtp.json")

	testJSON := `{
  "min_dwell": "30s",
  "rate_unit": "1s",
  "anneal_min": 250,
  "cracker_zone_min": [60, 140, 190],
  "instrument_unit": "um",
  "anisotropic": true,
  "workers": 2
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMinDwell() != 30*time.Second {
		t.Errorf("GetMinDwell() = %v, want 30s", cfg.GetMinDwell())
	}
	opts := cfg.SegmentOptions("Temperature")
	if opts.RateUnit != time.Second || len(opts.RateChannels) != 1 {
		t.Errorf("SegmentOptions() = %+v", opts)
	}
	th := cfg.GetThresholds()
	if th.AnnealMin != 250 || th.CrackerZoneMin != [3]float64{60, 140, 190} {
		t.Errorf("GetThresholds() = %+v", th)
	}
	// Unset fields keep their defaults.
	if th.Current != 0.01 {
		t.Errorf("Current = %f, want default 0.01", th.Current)
	}
	fit := cfg.FitOptions()
	if fit.InstrumentUnit != "um" || !fit.Anisotropic || fit.Tolerance != coords.DefaultTolerance {
		t.Errorf("FitOptions() = %+v", fit)
	}
	if cfg.GetWorkers() != 2 {
		t.Errorf("GetWorkers() = %d, want 2", cfg.GetWorkers())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadTuningConfig(configPath); err == nil {
		t.Error("Expected error for non-.json config, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "min_dwell": 5
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     &TuningConfig{},
			wantErr: false,
		},
		{
			name:    "zero dwell disables smoothing",
			cfg:     &TuningConfig{MinDwell: ptrString("0s")},
			wantErr: false,
		},
		{
			name:    "unparseable dwell",
			cfg:     &TuningConfig{MinDwell: ptrString("soon")},
			wantErr: true,
		},
		{
			name:    "negative dwell",
			cfg:     &TuningConfig{MinDwell: ptrString("-1s")},
			wantErr: true,
		},
		{
			name:    "zero rate unit",
			cfg:     &TuningConfig{RateUnit: ptrString("0s")},
			wantErr: true,
		},
		{
			name:    "negative tolerance",
			cfg:     &TuningConfig{CalibrationTolerance: ptrFloat64(-0.1)},
			wantErr: true,
		},
		{
			name:    "two cracker zones",
			cfg:     &TuningConfig{CrackerZoneMin: []float64{70, 150}},
			wantErr: true,
		},
		{
			name:    "unknown unit",
			cfg:     &TuningConfig{InstrumentUnit: ptrString("inch")},
			wantErr: true,
		},
		{
			name:    "unknown timezone",
			cfg:     &TuningConfig{LogTimezone: ptrString("Mars/Olympus")},
			wantErr: true,
		},
		{
			name:    "zero workers",
			cfg:     &TuningConfig{Workers: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "zero iterations",
			cfg:     &TuningConfig{MaxIterations: ptrInt(0)},
			wantErr: true,
		},
		{
			name:    "negative cracker diff",
			cfg:     &TuningConfig{CrackerDiff: ptrFloat64(-5)},
			wantErr: true,
		},
		{
			name:    "reflect set",
			cfg:     &TuningConfig{Reflect: ptrBool(true)},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTuningConfig_ValidateReportsFirstFieldInOrder(t *testing.T) {
	tests := []struct {
		cfg  *TuningConfig
		want string
	}{
		{&TuningConfig{
			MinDwell:             ptrString("-1s"),
			RateUnit:             ptrString("0s"),
			ContinuityFactor:     ptrFloat64(-1),
			CalibrationTolerance: ptrFloat64(-1),
		}, "min_dwell"},
		{&TuningConfig{
			ContinuityFactor:     ptrFloat64(-1),
			MFCFlow:              ptrFloat64(-1),
			CalibrationTolerance: ptrFloat64(-1),
		}, "continuity_factor"},
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want it to name %s", err, tt.want)
			}
		}
	}
}
