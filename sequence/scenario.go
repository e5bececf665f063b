// Package sequence loads and generates timed dyno test scenarios and plays
// them into the bridge as host command lines.
package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrInvalid marks a scenario or sweep rejected by validation.
var ErrInvalid = errors.New("invalid test sequence")

// Safety limits applied to every scenario.
const (
	MaxRPM      = 10000
	MaxLoadA    = 50
	MaxStepS    = 300
	DefaultStep = 3
)

// Scenario is a timed list of setpoint segments.
type Scenario struct {
	Meta     Meta      `json:"meta"`
	Timing   Timing    `json:"timing"`
	Segments []Segment `json:"segments"`
}

type Meta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

type Timing struct {
	DurationS float64 `json:"duration_s"`
}

// Segment holds the drive speed and brake load for [T0, T1). A negative T1
// runs to the end of the scenario.
type Segment struct {
	T0       float64 `json:"t0"`
	T1       float64 `json:"t1"`
	SpeedRPM int32   `json:"speed_rpm"`
	LoadA    float64 `json:"load_a"`
	Comment  string  `json:"comment,omitempty"`
}

// Load reads and validates a JSON scenario.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func (s Scenario) Validate() error {
	if s.Timing.DurationS <= 0 || math.IsNaN(s.Timing.DurationS) {
		return fmt.Errorf("%w: duration_s %v", ErrInvalid, s.Timing.DurationS)
	}
	if len(s.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalid)
	}
	for i, seg := range s.Segments {
		switch {
		case seg.T0 < 0:
			return fmt.Errorf("%w: segment %d starts before zero", ErrInvalid, i)
		case seg.T1 >= 0 && seg.T1 <= seg.T0:
			return fmt.Errorf("%w: segment %d ends at %v before it starts at %v", ErrInvalid, i, seg.T1, seg.T0)
		case seg.SpeedRPM < 0 || seg.SpeedRPM > MaxRPM:
			return fmt.Errorf("%w: segment %d speed %d outside 0..%d RPM", ErrInvalid, i, seg.SpeedRPM, MaxRPM)
		case math.IsNaN(seg.LoadA) || math.Abs(seg.LoadA) > MaxLoadA:
			return fmt.Errorf("%w: segment %d load %v exceeds %d A", ErrInvalid, i, seg.LoadA, MaxLoadA)
		}
	}
	return nil
}

// Duration is the scenario length.
func (s Scenario) Duration() float64 { return s.Timing.DurationS }

// Active returns the index of the first segment covering t seconds, or -1.
func (s Scenario) Active(t float64) int {
	for i, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Timing.DurationS
		}
		if t >= seg.T0 && t < t1 {
			return i
		}
	}
	return -1
}

// Sweep describes evenly spaced steps between two values.
type Sweep struct {
	Start float64
	End   float64
	Steps int
	StepS float64
}

func (w Sweep) check(limit float64, unit string) error {
	switch {
	case w.Start < 0 || w.End < 0:
		return fmt.Errorf("%w: sweep values cannot be negative", ErrInvalid)
	case w.Steps <= 0:
		return fmt.Errorf("%w: steps must be positive", ErrInvalid)
	case w.Start >= w.End:
		return fmt.Errorf("%w: start must be less than end", ErrInvalid)
	case w.End > limit:
		return fmt.Errorf("%w: end exceeds safety limit (%v %s)", ErrInvalid, limit, unit)
	case w.StepS <= 0:
		return fmt.Errorf("%w: step duration must be positive", ErrInvalid)
	case w.StepS > MaxStepS:
		return fmt.Errorf("%w: step duration exceeds safety limit (%d seconds)", ErrInvalid, MaxStepS)
	}
	return nil
}

func (w Sweep) values() []float64 {
	out := make([]float64, w.Steps)
	if w.Steps == 1 {
		out[0] = w.Start
		return out
	}
	for i := range out {
		out[i] = w.Start + (w.End-w.Start)*float64(i)/float64(w.Steps-1)
	}
	return out
}

// SpeedSweep steps the drive speed from Start to End RPM with no brake load.
func SpeedSweep(w Sweep) (Scenario, error) {
	if err := w.check(MaxRPM, "RPM"); err != nil {
		return Scenario{}, err
	}
	s := Scenario{Meta: Meta{
		Name:        "speed_sweep",
		Description: fmt.Sprintf("Speed sweep from %v to %v RPM in %d steps", w.Start, w.End, w.Steps),
	}}
	for i, v := range w.values() {
		t0 := float64(i) * w.StepS
		s.Segments = append(s.Segments, Segment{T0: t0, T1: t0 + w.StepS, SpeedRPM: int32(v)})
	}
	s.Timing.DurationS = float64(w.Steps) * w.StepS
	return s, nil
}

// LoadSweep steps the brake load from Start to End amps at a fixed speed.
func LoadSweep(w Sweep, rpm int32) (Scenario, error) {
	if err := w.check(MaxLoadA, "A"); err != nil {
		return Scenario{}, err
	}
	if rpm < 0 || rpm > MaxRPM {
		return Scenario{}, fmt.Errorf("%w: rpm %d outside 0..%d", ErrInvalid, rpm, MaxRPM)
	}
	s := Scenario{Meta: Meta{
		Name:        "load_sweep",
		Description: fmt.Sprintf("Load sweep from %v to %v A at %d RPM in %d steps", w.Start, w.End, rpm, w.Steps),
	}}
	for i, v := range w.values() {
		t0 := float64(i) * w.StepS
		s.Segments = append(s.Segments, Segment{T0: t0, T1: t0 + w.StepS, SpeedRPM: rpm, LoadA: v})
	}
	s.Timing.DurationS = float64(w.Steps) * w.StepS
	return s, nil
}
