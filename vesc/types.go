package vesc

import "fmt"

// Role names one of the two motor-controller endpoints sharing the bus.
type Role int

const (
	Drive Role = iota
	Brake
	NumRoles
)

func (r Role) String() string {
	switch r {
	case Drive:
		return "drive"
	case Brake:
		return "brake"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Roles lists every role in reporting order.
var Roles = [NumRoles]Role{Drive, Brake}

// Channel binds a role to its controller id on the bus.
type Channel struct {
	Role      Role
	ID        uint8
	PolePairs int
}

// Code is the controller packet id carried in every frame.
type Code uint8

const (
	SetDuty         Code = 0x00
	SetCurrent      Code = 0x01
	SetCurrentBrake Code = 0x02
	SetRPM          Code = 0x03
	SetPos          Code = 0x04
	Status          Code = 0x09
	Status2         Code = 0x0E
	Status3         Code = 0x0F
	Status4         Code = 0x10
	Status5         Code = 0x1B
)

// Field identifies one decoded physical quantity.
type Field int

const (
	RPM Field = iota
	Current
	BrakeCurrent
	Duty
	AmpHours
	AmpHoursCharged
	WattHours
	WattHoursCharged
	FETTemp
	MotorTemp
	InputCurrent
	Position
	Tachometer
	Voltage
	NumFields
)

var fieldNames = [NumFields]string{
	"rpm", "current", "brake_current", "duty_cycle",
	"amp_hours", "amp_hours_charged", "watt_hours", "watt_hours_charged",
	"temp_fet", "temp_motor", "current_in", "position", "tachometer", "voltage",
}

func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Mask is a set of fields.
type Mask uint32

// Bit returns the mask holding only f.
func (f Field) Bit() Mask { return 1 << uint(f) }

// Fields is a fixed-size value set with a presence mask. Decoding fills it in
// place; nothing beyond this struct is ever allocated.
type Fields struct {
	Present Mask
	Values  [NumFields]float64
}

// Set stores v and marks f present.
func (fs *Fields) Set(f Field, v float64) {
	fs.Values[f] = v
	fs.Present |= f.Bit()
}

// Get returns the value of f and whether the message carried it.
func (fs Fields) Get(f Field) (float64, bool) {
	return fs.Values[f], fs.Present&f.Bit() != 0
}

// Has reports whether f is present.
func (fs Fields) Has(f Field) bool {
	return fs.Present&f.Bit() != 0
}

// SignalDef places one field inside a message's data bytes.
type SignalDef struct {
	Field  Field
	Offset int // byte offset within the message data
	Width  int // bytes, 1..4
	Signed bool
	Scale  float64 // raw = physical * Scale
	// PolePairs multiplies Scale by the channel's pole-pair count (ERPM).
	PolePairs bool
	// Negate flips the sign on the wire.
	Negate bool
}

// MessageDef is the fixed layout of one message code.
type MessageDef struct {
	Code     Code
	Name     string
	Setpoint bool
	Signals  []SignalDef
}

// Len is the minimum number of data bytes the layout needs.
func (d *MessageDef) Len() int {
	n := 0
	for _, s := range d.Signals {
		if end := s.Offset + s.Width; end > n {
			n = end
		}
	}
	return n
}

// Message is one decoded frame.
type Message struct {
	Role    Role
	Channel uint8
	Code    Code
	Fields  Fields
}
