// Package telemetry keeps the last known state reported by each motor
// controller and tracks how fresh it is.
package telemetry

import (
	"math"
	"time"

	"dyno-bridge-core/utils"
	"dyno-bridge-core/vesc"
)

// DefaultStaleAfter is the age after which a channel counts as disconnected.
const DefaultStaleAfter = 1000 * time.Millisecond

// ChannelTelemetry is the decoded state of one controller.
type ChannelTelemetry struct {
	RPM              int32
	Current          float64
	Voltage          float64
	FETTemp          float64
	MotorTemp        float64
	DutyCycle        float64
	InputCurrent     float64
	AmpHours         float64
	AmpHoursCharged  float64
	WattHours        float64
	WattHoursCharged float64
	Tachometer       int32
	Position         float64
	Connected        bool
	Age              time.Duration
	LastUpdate       time.Time
}

// AgeMs is the time since the last valid frame in whole milliseconds.
func (c ChannelTelemetry) AgeMs() uint32 {
	return uint32(c.Age / time.Millisecond)
}

// Snapshot is a value copy of both channels.
type Snapshot [vesc.NumRoles]ChannelTelemetry

// Store owns the per-channel telemetry records. It is not safe for
// concurrent use; the control loop is its only caller.
type Store struct {
	staleAfter time.Duration
	log        *utils.Logger
	channels   [vesc.NumRoles]ChannelTelemetry
	lastTick   time.Time
}

// NewStore creates a store that marks channels stale after staleAfter.
func NewStore(staleAfter time.Duration, log *utils.Logger) *Store {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Store{staleAfter: staleAfter, log: log}
}

// Apply merges the fields present in a decoded message into the record for
// role and marks it connected.
func (s *Store) Apply(role vesc.Role, fs vesc.Fields, now time.Time) {
	if role < 0 || role >= vesc.NumRoles {
		return
	}
	ch := &s.channels[role]
	if v, ok := fs.Get(vesc.RPM); ok {
		ch.RPM = int32(math.Round(v))
	}
	if v, ok := fs.Get(vesc.Current); ok {
		ch.Current = v
	}
	if v, ok := fs.Get(vesc.Duty); ok {
		ch.DutyCycle = v
	}
	if v, ok := fs.Get(vesc.AmpHours); ok {
		ch.AmpHours = v
	}
	if v, ok := fs.Get(vesc.AmpHoursCharged); ok {
		ch.AmpHoursCharged = v
	}
	if v, ok := fs.Get(vesc.WattHours); ok {
		ch.WattHours = v
	}
	if v, ok := fs.Get(vesc.WattHoursCharged); ok {
		ch.WattHoursCharged = v
	}
	if v, ok := fs.Get(vesc.FETTemp); ok {
		ch.FETTemp = v
	}
	if v, ok := fs.Get(vesc.MotorTemp); ok {
		ch.MotorTemp = v
	}
	if v, ok := fs.Get(vesc.InputCurrent); ok {
		ch.InputCurrent = v
	}
	if v, ok := fs.Get(vesc.Position); ok {
		ch.Position = v
	}
	if v, ok := fs.Get(vesc.Tachometer); ok {
		ch.Tachometer = int32(math.Round(v))
	}
	if v, ok := fs.Get(vesc.Voltage); ok {
		ch.Voltage = v
	}
	if !ch.Connected && s.log != nil {
		s.log.Info("%s controller connected", role)
	}
	ch.Connected = true
	ch.Age = 0
	ch.LastUpdate = now
}

// Tick ages every channel by the time elapsed since the previous tick and
// drops the connected flag once the age passes the threshold.
func (s *Store) Tick(now time.Time) {
	var elapsed time.Duration
	if !s.lastTick.IsZero() && now.After(s.lastTick) {
		elapsed = now.Sub(s.lastTick)
	}
	s.lastTick = now
	for i := range s.channels {
		ch := &s.channels[i]
		ch.Age += elapsed
		if ch.Connected && ch.Age > s.staleAfter {
			ch.Connected = false
			if s.log != nil {
				s.log.Warn("No %s telemetry for %.1f ms - marking disconnected", vesc.Role(i), float64(ch.Age)/float64(time.Millisecond))
			}
		}
	}
}

// Channel returns a copy of one channel's record.
func (s *Store) Channel(role vesc.Role) ChannelTelemetry {
	return s.channels[role]
}

// Snapshot returns a copy of both records.
func (s *Store) Snapshot() Snapshot {
	return Snapshot(s.channels)
}
