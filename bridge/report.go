package bridge

import (
	"encoding/json"
	"time"

	"dyno-bridge-core/safety"
	"dyno-bridge-core/telemetry"
	"dyno-bridge-core/vesc"
)

// ReportSink receives every encoded report. Implementations must not block
// the loop.
type ReportSink interface {
	PublishReport(payload []byte)
}

type ChannelReport struct {
	RPM              int32   `json:"rpm"`
	Current          float64 `json:"current"`
	Voltage          float64 `json:"voltage"`
	TempFET          float64 `json:"temp_fet"`
	TempMotor        float64 `json:"temp_motor"`
	DutyCycle        float64 `json:"duty_cycle"`
	InputCurrent     float64 `json:"input_current"`
	AmpHours         float64 `json:"amp_hours"`
	AmpHoursCharged  float64 `json:"amp_hours_charged"`
	WattHours        float64 `json:"watt_hours"`
	WattHoursCharged float64 `json:"watt_hours_charged"`
	Tachometer       int32   `json:"tachometer"`
	Position         float64 `json:"position"`
	DataAge          uint32  `json:"data_age"`
	Connected        bool    `json:"connected"`
}

type DynoReport struct {
	TargetRPM       int32   `json:"target_rpm"`
	TargetLoad      float64 `json:"target_load"`
	DriveEnabled    bool    `json:"drive_enabled"`
	BrakeEnabled    bool    `json:"brake_enabled"`
	EmergencyStop   bool    `json:"emergency_stop"`
	MechanicalPower float64 `json:"mechanical_power"`
	Efficiency      float64 `json:"efficiency"`
	TorqueNm        float64 `json:"torque_nm"`
	PowerSource     int     `json:"power_source"`
	PowerSourceName string  `json:"power_source_name"`
	State           string  `json:"state"`
}

// Report is one telemetry line sent to the host. Timestamp is milliseconds
// since the bridge started.
type Report struct {
	Timestamp int64         `json:"timestamp"`
	Drive     ChannelReport `json:"drive"`
	Brake     ChannelReport `json:"brake"`
	Dyno      DynoReport    `json:"dyno"`
}

func channelReport(c telemetry.ChannelTelemetry) ChannelReport {
	return ChannelReport{
		RPM:              c.RPM,
		Current:          c.Current,
		Voltage:          c.Voltage,
		TempFET:          c.FETTemp,
		TempMotor:        c.MotorTemp,
		DutyCycle:        c.DutyCycle,
		InputCurrent:     c.InputCurrent,
		AmpHours:         c.AmpHours,
		AmpHoursCharged:  c.AmpHoursCharged,
		WattHours:        c.WattHours,
		WattHoursCharged: c.WattHoursCharged,
		Tachometer:       c.Tachometer,
		Position:         c.Position,
		DataAge:          c.AgeMs(),
		Connected:        c.Connected,
	}
}

// powerSourceCode keeps the host's numbering: 1 external, 0 USB.
func powerSourceCode(p safety.PowerSource) int {
	if p == safety.Primary {
		return 1
	}
	return 0
}

// BuildReport assembles a report from the loop's state.
func BuildReport(elapsed time.Duration, snap telemetry.Snapshot, st safety.ControlState, state safety.State, m Metrics) Report {
	return Report{
		Timestamp: elapsed.Milliseconds(),
		Drive:     channelReport(snap[vesc.Drive]),
		Brake:     channelReport(snap[vesc.Brake]),
		Dyno: DynoReport{
			TargetRPM:       st.TargetRPM,
			TargetLoad:      st.TargetLoad,
			DriveEnabled:    st.DriveEnabled,
			BrakeEnabled:    st.BrakeEnabled,
			EmergencyStop:   st.EmergencyStop,
			MechanicalPower: m.MechanicalPower,
			Efficiency:      m.Efficiency,
			TorqueNm:        m.TorqueNm,
			PowerSource:     powerSourceCode(st.PowerSource),
			PowerSourceName: st.PowerSource.String(),
			State:           state.String(),
		},
	}
}

// Encode renders the report as a single JSON line without the newline.
func (r Report) Encode() ([]byte, error) {
	return json.Marshal(r)
}
