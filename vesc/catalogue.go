package vesc

import (
	"fmt"
	"strings"
)

// Scheme selects how channel id and message code are placed in a frame.
type Scheme int

const (
	// Compact puts the channel id in a standard identifier and the message
	// code in data byte 0, leaving seven data bytes.
	Compact Scheme = iota
	// Extended puts channelId | code<<8 in an extended identifier and uses all
	// eight data bytes.
	Extended
)

func (s Scheme) String() string {
	switch s {
	case Compact:
		return "compact"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// MaxData is the number of message data bytes a frame can carry.
func (s Scheme) MaxData() int {
	if s == Compact {
		return 7
	}
	return 8
}

// ParseScheme accepts "compact"/"a" and "extended"/"b".
func ParseScheme(v string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "compact", "a":
		return Compact, nil
	case "extended", "b", "":
		return Extended, nil
	default:
		return 0, fmt.Errorf("unknown frame scheme %q", v)
	}
}

func sig(f Field, off, width int, signed bool, scale float64) SignalDef {
	return SignalDef{Field: f, Offset: off, Width: width, Signed: signed, Scale: scale}
}

var setpointDefs = []*MessageDef{
	{Code: SetDuty, Name: "SET_DUTY", Setpoint: true, Signals: []SignalDef{sig(Duty, 0, 4, true, 100000)}},
	{Code: SetCurrent, Name: "SET_CURRENT", Setpoint: true, Signals: []SignalDef{sig(Current, 0, 4, true, 1000)}},
	{Code: SetCurrentBrake, Name: "SET_CURRENT_BRAKE", Setpoint: true, Signals: []SignalDef{
		{Field: BrakeCurrent, Width: 4, Signed: true, Scale: 1000, Negate: true},
	}},
	{Code: SetRPM, Name: "SET_RPM", Setpoint: true, Signals: []SignalDef{
		{Field: RPM, Width: 4, Signed: true, Scale: 1, PolePairs: true},
	}},
	{Code: SetPos, Name: "SET_POS", Setpoint: true, Signals: []SignalDef{sig(Position, 0, 4, true, 1000000)}},
}

var status5Def = &MessageDef{Code: Status5, Name: "STATUS_5", Signals: []SignalDef{
	sig(Tachometer, 0, 4, true, 1),
	sig(Voltage, 4, 2, false, 10),
}}

var extendedDefs = []*MessageDef{
	{Code: Status, Name: "STATUS", Signals: []SignalDef{
		{Field: RPM, Width: 4, Signed: true, Scale: 1, PolePairs: true},
		sig(Current, 4, 2, true, 10),
		sig(Duty, 6, 2, true, 1000),
	}},
	{Code: Status2, Name: "STATUS_2", Signals: []SignalDef{
		sig(AmpHours, 0, 4, true, 10000),
		sig(AmpHoursCharged, 4, 4, true, 10000),
	}},
	{Code: Status3, Name: "STATUS_3", Signals: []SignalDef{
		sig(WattHours, 0, 4, true, 10000),
		sig(WattHoursCharged, 4, 4, true, 10000),
	}},
	{Code: Status4, Name: "STATUS_4", Signals: []SignalDef{
		sig(FETTemp, 0, 2, true, 10),
		sig(MotorTemp, 2, 2, true, 10),
		sig(InputCurrent, 4, 2, true, 10),
		sig(Position, 6, 2, true, 50),
	}},
	status5Def,
}

// The compact scheme loses one data byte to the message code, so the eight
// byte status layouts are narrowed.
var compactDefs = []*MessageDef{
	{Code: Status, Name: "STATUS", Signals: []SignalDef{
		{Field: RPM, Width: 4, Signed: true, Scale: 1, PolePairs: true},
		sig(Current, 4, 2, true, 10),
		sig(Duty, 6, 1, true, 100),
	}},
	{Code: Status2, Name: "STATUS_2", Signals: []SignalDef{
		sig(AmpHours, 0, 3, true, 1000),
		sig(AmpHoursCharged, 3, 3, true, 1000),
	}},
	{Code: Status3, Name: "STATUS_3", Signals: []SignalDef{
		sig(WattHours, 0, 3, true, 1000),
		sig(WattHoursCharged, 3, 3, true, 1000),
	}},
	{Code: Status4, Name: "STATUS_4", Signals: []SignalDef{
		sig(FETTemp, 0, 2, true, 10),
		sig(MotorTemp, 2, 2, true, 10),
		sig(InputCurrent, 4, 2, true, 10),
	}},
	status5Def,
}

// Catalogue indexes message layouts by code for one scheme.
type Catalogue struct {
	scheme Scheme
	byCode [256]*MessageDef
}

// CatalogueFor returns the message layouts used by scheme s.
func CatalogueFor(s Scheme) *Catalogue {
	c := &Catalogue{scheme: s}
	status := extendedDefs
	if s == Compact {
		status = compactDefs
	}
	for _, d := range setpointDefs {
		c.byCode[d.Code] = d
	}
	for _, d := range status {
		c.byCode[d.Code] = d
	}
	return c
}

// Lookup returns the layout for code, or nil.
func (c *Catalogue) Lookup(code Code) *MessageDef {
	return c.byCode[code]
}

// Codes lists every known code in ascending order.
func (c *Catalogue) Codes() []Code {
	var out []Code
	for i, d := range c.byCode {
		if d != nil {
			out = append(out, Code(i))
		}
	}
	return out
}

// Validate checks every layout fits the scheme's data capacity.
func (c *Catalogue) Validate() error {
	for _, d := range c.byCode {
		if d == nil {
			continue
		}
		if n := d.Len(); n > c.scheme.MaxData() {
			return fmt.Errorf("message %s needs %d data bytes, %s scheme carries %d", d.Name, n, c.scheme, c.scheme.MaxData())
		}
		for _, s := range d.Signals {
			if s.Width < 1 || s.Width > 4 {
				return fmt.Errorf("message %s signal %s: invalid width %d", d.Name, s.Field, s.Width)
			}
		}
	}
	return nil
}
