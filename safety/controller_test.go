package safety

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyno-bridge-core/vesc"
)

type zeroRecorder struct {
	sent  []vesc.Role
	fail  bool
	state func() ControlState
	seen  []ControlState
}

func (z *zeroRecorder) SendZero(role vesc.Role) error {
	z.sent = append(z.sent, role)
	if z.state != nil {
		z.seen = append(z.seen, z.state())
	}
	if z.fail {
		return errors.New("bus off")
	}
	return nil
}

type sleepRecorder struct{ slept []time.Duration }

func (s *sleepRecorder) sleep(d time.Duration) { s.slept = append(s.slept, d) }

func newTestController(cfg Config) (*Controller, *zeroRecorder, *sleepRecorder) {
	z := &zeroRecorder{}
	s := &sleepRecorder{}
	c := New(cfg, z, s.sleep, nil)
	z.state = c.Snapshot
	return c, z, s
}

func assertStopInvariant(t *testing.T, st ControlState) {
	t.Helper()
	if !st.EmergencyStop {
		return
	}
	assert.False(t, st.DriveEnabled)
	assert.False(t, st.BrakeEnabled)
	assert.Equal(t, int32(0), st.TargetRPM)
	assert.Equal(t, 0.0, st.TargetLoad)
}

func TestInitialState(t *testing.T) {
	c, _, _ := newTestController(Config{})
	assert.Equal(t, Disabled, c.State())
	assert.False(t, c.MayTransmit(vesc.Drive))
	assert.False(t, c.MayTransmit(vesc.Brake))
}

func TestEnableDisable(t *testing.T) {
	c, z, _ := newTestController(Config{})
	require.NoError(t, c.Enable(vesc.Drive))
	assert.Equal(t, Enabled, c.State())
	assert.True(t, c.MayTransmit(vesc.Drive))
	assert.False(t, c.MayTransmit(vesc.Brake))

	c.SetTargetRPM(1500)
	c.SetTargetLoad(-3)
	c.Disable(vesc.Drive)
	st := c.Snapshot()
	assert.Equal(t, Disabled, c.State())
	assert.Equal(t, int32(0), st.TargetRPM)
	assert.Equal(t, -3.0, st.TargetLoad, "disabling drive leaves the brake setpoint alone")
	assert.Empty(t, z.sent)
}

func TestEmergencyStopBurst(t *testing.T) {
	c, z, s := newTestController(Config{})
	require.NoError(t, c.EnableAll())
	c.SetTargetRPM(1000)
	c.SetTargetLoad(-4)

	c.EmergencyStop("operator")

	assert.Equal(t, EmergencyStop, c.State())
	assertStopInvariant(t, c.Snapshot())
	assert.Equal(t, []vesc.Role{vesc.Drive, vesc.Brake, vesc.Drive, vesc.Brake, vesc.Drive, vesc.Brake}, z.sent)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, s.slept)
	for _, st := range z.seen {
		assert.True(t, st.EmergencyStop, "state is latched before the first zero frame")
		assertStopInvariant(t, st)
	}
}

func TestEmergencyStopToleratesSendFailure(t *testing.T) {
	c, z, _ := newTestController(Config{BurstCount: 2})
	z.fail = true
	c.EmergencyStop("stop button")
	assert.Len(t, z.sent, 4)
	assert.Equal(t, EmergencyStop, c.State())
}

func TestSetpointsWhileStopped(t *testing.T) {
	c, _, _ := newTestController(Config{})
	c.EmergencyStop("test")
	c.SetTargetRPM(500)
	c.SetTargetLoad(-2)
	st := c.Snapshot()
	assertStopInvariant(t, st)
	assert.Equal(t, int32(500), st.RequestedRPM)
	assert.Equal(t, -2.0, st.RequestedLoad)
}

func TestEnableRefusedWhileStopped(t *testing.T) {
	c, _, _ := newTestController(Config{})
	c.EmergencyStop("test")
	err := c.Enable(vesc.Drive)
	assert.True(t, errors.Is(err, ErrEmergencyStop))
	assert.Equal(t, EmergencyStop, c.State())
	assert.Error(t, c.EnableAll())

	c.DisableAll()
	assert.Equal(t, Disabled, c.State())
	require.NoError(t, c.Enable(vesc.Drive))
	assert.True(t, c.MayTransmit(vesc.Drive))
}

func TestEnableClearsStopWhenConfigured(t *testing.T) {
	c, _, _ := newTestController(Config{EnableClearsEStop: true})
	c.SetTargetRPM(1000)
	c.EmergencyStop("test")
	c.SetTargetRPM(500)
	assert.False(t, c.MayTransmit(vesc.Drive))

	require.NoError(t, c.Enable(vesc.Drive))
	st := c.Snapshot()
	assert.False(t, st.EmergencyStop)
	assert.Equal(t, int32(500), st.TargetRPM, "the request made during the stop becomes active")
	assert.True(t, c.MayTransmit(vesc.Drive))
}

func TestDisableAllSendsOneZeroEach(t *testing.T) {
	c, z, _ := newTestController(Config{})
	require.NoError(t, c.EnableAll())
	c.SetTargetRPM(300)
	c.DisableAll()
	assert.Equal(t, []vesc.Role{vesc.Drive, vesc.Brake}, z.sent)
	st := c.Snapshot()
	assert.Equal(t, int32(0), st.TargetRPM)
	assert.False(t, st.DriveEnabled || st.BrakeEnabled)
}

func TestPowerLoss(t *testing.T) {
	c, _, _ := newTestController(Config{})
	require.NoError(t, c.EnableAll())
	assert.False(t, c.SetPowerSource(Primary), "first reading is not a loss")
	assert.True(t, c.SetPowerSource(Secondary))
	assert.Equal(t, Enabled, c.State(), "power loss only reported by default")
	assert.Equal(t, Secondary, c.Snapshot().PowerSource)

	c2, z, _ := newTestController(Config{PowerLossEStop: true})
	require.NoError(t, c2.EnableAll())
	c2.SetPowerSource(Primary)
	assert.False(t, c2.SetPowerSource(Primary))
	assert.True(t, c2.SetPowerSource(Secondary))
	assert.Equal(t, EmergencyStop, c2.State())
	assert.Len(t, z.sent, 6)
	assert.False(t, c2.SetPowerSource(Primary), "restoring power does not clear the stop")
	assert.Equal(t, EmergencyStop, c2.State())
}

func TestStopInvariantOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		c, _, _ := newTestController(Config{EnableClearsEStop: run%2 == 0, PowerLossEStop: run%3 == 0})
		for step := 0; step < 200; step++ {
			switch rng.Intn(9) {
			case 0:
				_ = c.Enable(vesc.Drive)
			case 1:
				_ = c.Enable(vesc.Brake)
			case 2:
				c.Disable(vesc.Role(rng.Intn(2)))
			case 3:
				c.DisableAll()
			case 4:
				c.EmergencyStop("random")
			case 5:
				c.SetTargetRPM(int32(rng.Intn(4000) - 2000))
			case 6:
				c.SetTargetLoad(rng.Float64()*20 - 10)
			case 7:
				c.SetPowerSource(PowerSource(rng.Intn(2)))
			case 8:
				_ = c.EnableAll()
			}
			st := c.Snapshot()
			assertStopInvariant(t, st)
			if st.EmergencyStop {
				assert.False(t, c.MayTransmit(vesc.Drive))
				assert.False(t, c.MayTransmit(vesc.Brake))
			}
		}
	}
}
