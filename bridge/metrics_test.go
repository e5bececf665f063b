package bridge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"dyno-bridge-core/telemetry"
	"dyno-bridge-core/vesc"
)

func TestComputeMetrics(t *testing.T) {
	var snap telemetry.Snapshot
	snap[vesc.Drive] = telemetry.ChannelTelemetry{RPM: 1200, Current: 20, Voltage: 24, Connected: true}
	snap[vesc.Brake] = telemetry.ChannelTelemetry{RPM: 1200, Current: -10, Connected: true}

	m := ComputeMetrics(snap, 0.1)
	assert.InDelta(t, 0.5, m.TorqueNm, 1e-12)
	omega := 1200 * 2 * math.Pi / 60
	assert.InDelta(t, 0.5*omega, m.MechanicalPower, 1e-9)
	assert.InDelta(t, 0.5*omega/480*100, m.Efficiency, 1e-9)
}

func TestComputeMetricsNeedsBothChannels(t *testing.T) {
	var snap telemetry.Snapshot
	snap[vesc.Drive] = telemetry.ChannelTelemetry{RPM: 1200, Current: 20, Voltage: 24, Connected: true}
	snap[vesc.Brake] = telemetry.ChannelTelemetry{Current: 5}
	assert.Equal(t, Metrics{}, ComputeMetrics(snap, 0.1))
}

func TestComputeMetricsNoElectricalPower(t *testing.T) {
	var snap telemetry.Snapshot
	snap[vesc.Drive] = telemetry.ChannelTelemetry{RPM: 600, Current: -4, Voltage: 24, Connected: true}
	snap[vesc.Brake] = telemetry.ChannelTelemetry{Current: -4, Connected: true}
	m := ComputeMetrics(snap, 0.1)
	assert.NotZero(t, m.MechanicalPower)
	assert.Equal(t, 0.0, m.Efficiency)
}
