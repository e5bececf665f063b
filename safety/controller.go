// Package safety owns the control state of the dyno and decides which
// setpoints may reach the bus.
package safety

import (
	"errors"
	"fmt"
	"time"

	"dyno-bridge-core/utils"
	"dyno-bridge-core/vesc"
)

// ErrEmergencyStop is returned when a request is refused because the
// emergency stop is latched.
var ErrEmergencyStop = errors.New("emergency stop active")

// State is the controller's top-level mode.
type State int

const (
	Disabled State = iota
	Enabled
	EmergencyStop
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case EmergencyStop:
		return "emergency_stop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PowerSource is the supply currently feeding the bridge electronics.
type PowerSource int

const (
	// Primary is the external supply.
	Primary PowerSource = iota
	// Secondary is the USB/backup supply.
	Secondary
)

func (p PowerSource) String() string {
	if p == Secondary {
		return "USB"
	}
	return "External"
}

// ControlState is the operator-facing control record.
type ControlState struct {
	TargetRPM     int32
	TargetLoad    float64
	DriveEnabled  bool
	BrakeEnabled  bool
	EmergencyStop bool
	PowerSource   PowerSource
	PowerKnown    bool

	// Requested setpoints hold what the operator asked for while the stop
	// was latched; they never reach the bus directly.
	RequestedRPM  int32
	RequestedLoad float64
}

// ZeroSender puts a zero-current command for one channel on the bus.
type ZeroSender interface {
	SendZero(role vesc.Role) error
}

// Config tunes the emergency stop behavior.
type Config struct {
	BurstCount int
	BurstGap   time.Duration
	// PowerLossEStop latches the stop when the primary supply disappears.
	PowerLossEStop bool
	// EnableClearsEStop lets an enable request leave the stop directly
	// instead of requiring disable_all first.
	EnableClearsEStop bool
}

const (
	DefaultBurstCount = 3
	DefaultBurstGap   = 5 * time.Millisecond
)

// Controller is the safety state machine. It is driven only from the control
// loop and is not safe for concurrent use.
type Controller struct {
	cfg   Config
	st    ControlState
	zero  ZeroSender
	sleep func(time.Duration)
	log   *utils.Logger
}

// New creates a controller in the Disabled state. sleep paces the emergency
// stop burst; tests pass a virtual clock.
func New(cfg Config, zero ZeroSender, sleep func(time.Duration), log *utils.Logger) *Controller {
	if cfg.BurstCount <= 0 {
		cfg.BurstCount = DefaultBurstCount
	}
	if cfg.BurstGap == 0 {
		cfg.BurstGap = DefaultBurstGap
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	if log == nil {
		log = utils.Discard()
	}
	return &Controller{cfg: cfg, zero: zero, sleep: sleep, log: log}
}

// State derives the mode from the control record.
func (c *Controller) State() State {
	switch {
	case c.st.EmergencyStop:
		return EmergencyStop
	case c.st.DriveEnabled || c.st.BrakeEnabled:
		return Enabled
	default:
		return Disabled
	}
}

// Snapshot returns a copy of the control record.
func (c *Controller) Snapshot() ControlState {
	return c.st
}

// MayTransmit is the gate predicate: the channel is enabled and the stop is
// not latched.
func (c *Controller) MayTransmit(role vesc.Role) bool {
	if c.st.EmergencyStop {
		return false
	}
	switch role {
	case vesc.Drive:
		return c.st.DriveEnabled
	case vesc.Brake:
		return c.st.BrakeEnabled
	}
	return false
}

// Enable allows role to transmit its setpoint.
func (c *Controller) Enable(role vesc.Role) error {
	if role != vesc.Drive && role != vesc.Brake {
		return fmt.Errorf("enable: unknown channel %s", role)
	}
	if c.st.EmergencyStop {
		if !c.cfg.EnableClearsEStop {
			return fmt.Errorf("enable %s: %w", role, ErrEmergencyStop)
		}
		c.st.EmergencyStop = false
		c.st.TargetRPM = c.st.RequestedRPM
		c.st.TargetLoad = c.st.RequestedLoad
		c.log.Warn("Emergency stop cleared by %s enable", role)
	}
	if role == vesc.Drive {
		c.st.DriveEnabled = true
	} else {
		c.st.BrakeEnabled = true
	}
	c.log.Info("%s enabled", role)
	return nil
}

// EnableAll enables both channels, as the hardware start button does.
func (c *Controller) EnableAll() error {
	if err := c.Enable(vesc.Drive); err != nil {
		return err
	}
	return c.Enable(vesc.Brake)
}

// Disable stops role from transmitting and zeroes its setpoint.
func (c *Controller) Disable(role vesc.Role) {
	switch role {
	case vesc.Drive:
		c.st.DriveEnabled = false
		c.st.TargetRPM = 0
		c.st.RequestedRPM = 0
	case vesc.Brake:
		c.st.BrakeEnabled = false
		c.st.TargetLoad = 0
		c.st.RequestedLoad = 0
	default:
		return
	}
	c.log.Info("%s disabled", role)
}

// DisableAll disables both channels, zeroes every setpoint and releases a
// latched emergency stop. Each controller gets one zero-current frame.
func (c *Controller) DisableAll() {
	wasStopped := c.st.EmergencyStop
	c.Disable(vesc.Drive)
	c.Disable(vesc.Brake)
	c.st.EmergencyStop = false
	if wasStopped {
		c.log.Warn("Emergency stop reset by operator")
	}
	c.sendZeros()
}

// EmergencyStop latches the stop. The state change happens before any frame
// is sent, and the zero burst completes before EmergencyStop returns.
func (c *Controller) EmergencyStop(reason string) {
	c.st.EmergencyStop = true
	c.st.DriveEnabled = false
	c.st.BrakeEnabled = false
	c.st.TargetRPM = 0
	c.st.TargetLoad = 0
	c.st.RequestedRPM = 0
	c.st.RequestedLoad = 0
	c.log.Error("EMERGENCY STOP (%s)", reason)

	for i := 0; i < c.cfg.BurstCount; i++ {
		c.sendZeros()
		if i < c.cfg.BurstCount-1 && c.cfg.BurstGap > 0 {
			c.sleep(c.cfg.BurstGap)
		}
	}
}

func (c *Controller) sendZeros() {
	if c.zero == nil {
		return
	}
	for _, role := range vesc.Roles {
		if err := c.zero.SendZero(role); err != nil {
			c.log.Error("Zero command to %s failed: %v", role, err)
		}
	}
}

// SetTargetRPM records a drive setpoint. While stopped only the requested
// value changes.
func (c *Controller) SetTargetRPM(rpm int32) {
	c.st.RequestedRPM = rpm
	if !c.st.EmergencyStop {
		c.st.TargetRPM = rpm
	}
}

// SetTargetLoad records a brake setpoint in amps; negative values brake.
func (c *Controller) SetTargetLoad(amps float64) {
	c.st.RequestedLoad = amps
	if !c.st.EmergencyStop {
		c.st.TargetLoad = amps
	}
}

// SetPowerSource records the debounced supply and reports whether the
// primary supply was just lost.
func (c *Controller) SetPowerSource(src PowerSource) bool {
	prev, known := c.st.PowerSource, c.st.PowerKnown
	c.st.PowerSource = src
	c.st.PowerKnown = true
	if !known {
		c.log.Info("Initial power source: %s", src)
		return false
	}
	if prev == src {
		return false
	}
	c.log.Info("Power source changed to %s", src)
	if prev != Primary || src != Secondary {
		return false
	}
	if c.cfg.PowerLossEStop {
		c.EmergencyStop("primary power lost")
	} else {
		c.log.Warn("Primary power lost; emergency stop on power loss is disabled")
	}
	return true
}
