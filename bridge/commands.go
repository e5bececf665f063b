package bridge

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"dyno-bridge-core/hostlink"
	"dyno-bridge-core/safety"
	"dyno-bridge-core/vesc"
)

var (
	errUnknownCommand = errors.New("unknown command")
	errBadArgument    = errors.New("invalid argument")
)

// execute runs one command line and answers on src. A rejected command never
// changes state.
func (l *Loop) execute(line hostlink.Line, src hostlink.Channel) {
	fields := strings.Fields(line.Text)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]
	l.log.Debug("Command %q", line.Text)

	reply, err := l.dispatch(cmd, args, line.Text)
	if err != nil {
		l.log.Warn("Command %q rejected: %v", line.Text, err)
		l.reply(src, "ERROR: "+err.Error())
		return
	}
	sent := l.clock.Now()
	if reply != "" {
		l.reply(src, reply)
	}
	if l.timing {
		ack := l.clock.Now()
		l.reply(src, fmt.Sprintf("ACK:%s:%d:%d:%d", cmd, l.micros(line.Received), l.micros(sent), l.micros(ack)))
	}
}

func (l *Loop) dispatch(cmd string, args []string, text string) (string, error) {
	switch cmd {
	case "speed":
		v, err := oneArg(cmd, args)
		if err != nil {
			return "", err
		}
		rpm, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return "", fmt.Errorf("%w: speed %q", errBadArgument, v)
		}
		l.safety.SetTargetRPM(int32(rpm))
		l.kick(vesc.Drive)
		return fmt.Sprintf("Drive RPM set to %d", rpm), nil

	case "load":
		v, err := oneArg(cmd, args)
		if err != nil {
			return "", err
		}
		amps, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(amps) || math.IsInf(amps, 0) {
			return "", fmt.Errorf("%w: load %q", errBadArgument, v)
		}
		l.safety.SetTargetLoad(amps)
		l.kick(vesc.Brake)
		return fmt.Sprintf("Brake load set to %.2fA", amps), nil

	case "enable_drive", "enable_brake":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		role, name := vesc.Drive, "Drive"
		if cmd == "enable_brake" {
			role, name = vesc.Brake, "Brake"
		}
		if err := l.safety.Enable(role); err != nil {
			if errors.Is(err, safety.ErrEmergencyStop) {
				return "", fmt.Errorf("%s refused: %w; send disable_all first", cmd, safety.ErrEmergencyStop)
			}
			return "", err
		}
		l.kick(role)
		return name + " motor enabled", nil

	case "disable_all":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		l.safety.DisableAll()
		return "All motors disabled", nil

	case "estop":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		l.safety.EmergencyStop("host command")
		return "EMERGENCY STOP ACTIVATED", nil

	case "ping":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		return fmt.Sprintf("PONG:%d", l.micros(l.clock.Now())), nil

	case "timing_on":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		l.timing = true
		return "Timing mode enabled", nil

	case "timing_off":
		if err := noArgs(cmd, args); err != nil {
			return "", err
		}
		l.timing = false
		return "Timing mode disabled", nil
	}
	return "", fmt.Errorf("%w: %s", errUnknownCommand, text)
}

func (l *Loop) kick(role vesc.Role) {
	_, _ = l.sched.Kick(l.safety, role)
}

func (l *Loop) reply(src hostlink.Channel, line string) {
	if err := src.WriteLine(line); err != nil {
		l.log.Warn("Reply failed: %v", err)
	}
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: %s takes one value", errBadArgument, cmd)
	}
	return args[0], nil
}

func noArgs(cmd string, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: %s takes no arguments", errBadArgument, cmd)
	}
	return nil
}
