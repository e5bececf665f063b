package bridge

import (
	"math"

	"dyno-bridge-core/telemetry"
	"dyno-bridge-core/vesc"
)

// DefaultTorquePerAmp is the motor torque constant used when none is
// configured, in Nm/A.
const DefaultTorquePerAmp = 0.1

// Metrics are the derived dyno figures.
type Metrics struct {
	TorqueNm        float64
	MechanicalPower float64
	Efficiency      float64
}

// ComputeMetrics derives torque, shaft power and efficiency from the two
// channels. Everything is zero unless both channels are connected.
func ComputeMetrics(snap telemetry.Snapshot, torquePerAmp float64) Metrics {
	drive, brake := snap[vesc.Drive], snap[vesc.Brake]
	if !drive.Connected || !brake.Connected {
		return Metrics{}
	}
	var m Metrics
	m.TorqueNm = (drive.Current*torquePerAmp + brake.Current*torquePerAmp) / 2
	omega := float64(drive.RPM) * 2 * math.Pi / 60
	m.MechanicalPower = m.TorqueNm * omega
	if electrical := drive.Voltage * drive.Current; electrical > 0 {
		m.Efficiency = m.MechanicalPower / electrical * 100
	}
	return m
}
