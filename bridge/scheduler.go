package bridge

import (
	"context"
	"fmt"
	"time"

	"go.einride.tech/can"

	"dyno-bridge-core/safety"
	"dyno-bridge-core/utils"
	"dyno-bridge-core/vesc"
)

// Bus is the frame transport. TryReceive must not block.
type Bus interface {
	Send(ctx context.Context, f can.Frame) error
	TryReceive() (can.Frame, bool)
}

// Gate tells the scheduler which channels may transmit and what to send.
type Gate interface {
	MayTransmit(role vesc.Role) bool
	Snapshot() safety.ControlState
}

// DefaultSendTimeout bounds a single transmit.
const DefaultSendTimeout = 20 * time.Millisecond

// Scheduler turns the active setpoints into frames. Sends use their own
// timeout rather than the loop context so zero commands still go out during
// shutdown.
type Scheduler struct {
	codec   *vesc.Codec
	bus     Bus
	log     *utils.Logger
	timeout time.Duration

	sent   uint64
	failed uint64
}

func NewScheduler(codec *vesc.Codec, bus Bus, log *utils.Logger) *Scheduler {
	if log == nil {
		log = utils.Discard()
	}
	return &Scheduler{codec: codec, bus: bus, log: log, timeout: DefaultSendTimeout}
}

func (s *Scheduler) transmit(f can.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.bus.Send(ctx, f); err != nil {
		s.failed++
		return err
	}
	s.sent++
	return nil
}

// Send encodes and transmits one message without consulting the gate.
func (s *Scheduler) Send(role vesc.Role, code vesc.Code, fs vesc.Fields) error {
	f, err := s.codec.Encode(role, code, fs)
	if err != nil {
		return err
	}
	if err := s.transmit(f); err != nil {
		s.log.Warn("Send %s to %s failed: %v", s.name(code), role, err)
		return fmt.Errorf("send %s to %s: %w", s.name(code), role, err)
	}
	s.log.Trace("TX %s %s id=0x%X data=% X", role, s.name(code), f.ID, f.Data[:f.Length])
	return nil
}

func (s *Scheduler) name(code vesc.Code) string {
	if md := s.codec.Catalogue().Lookup(code); md != nil {
		return md.Name
	}
	return fmt.Sprintf("0x%02X", uint8(code))
}

// setpoint maps a channel to the command carrying its active target: SET_RPM
// for drive, SET_CURRENT_BRAKE for brake.
func setpoint(role vesc.Role, st safety.ControlState) (vesc.Code, vesc.Fields) {
	var fs vesc.Fields
	if role == vesc.Drive {
		fs.Set(vesc.RPM, float64(st.TargetRPM))
		return vesc.SetRPM, fs
	}
	fs.Set(vesc.BrakeCurrent, st.TargetLoad)
	return vesc.SetCurrentBrake, fs
}

// Kick transmits role's active setpoint now if the gate is open. It reports
// whether a frame was attempted.
func (s *Scheduler) Kick(g Gate, role vesc.Role) (bool, error) {
	if !g.MayTransmit(role) {
		return false, nil
	}
	code, fs := setpoint(role, g.Snapshot())
	return true, s.Send(role, code, fs)
}

// Resend repeats every open channel's setpoint. Failures are logged by Send
// and retried on the next cadence.
func (s *Scheduler) Resend(g Gate) {
	for _, role := range vesc.Roles {
		_, _ = s.Kick(g, role)
	}
}

// SendZero commands zero motor current on role.
func (s *Scheduler) SendZero(role vesc.Role) error {
	var fs vesc.Fields
	fs.Set(vesc.Current, 0)
	return s.Send(role, vesc.SetCurrent, fs)
}

// RequestStatus polls every channel for its electrical status.
func (s *Scheduler) RequestStatus() {
	for _, role := range vesc.Roles {
		f, err := s.codec.EncodeRequest(role, vesc.Status)
		if err != nil {
			s.log.Error("Status request for %s: %v", role, err)
			continue
		}
		if err := s.transmit(f); err != nil {
			s.log.Debug("Status request to %s failed: %v", role, err)
		}
	}
}

// Stats returns the number of successful and failed transmits.
func (s *Scheduler) Stats() (sent, failed uint64) { return s.sent, s.failed }
