package vesc

import (
	"errors"
	"fmt"

	"go.einride.tech/can"
)

var (
	ErrUnknownChannel = errors.New("vesc: unknown channel")
	ErrUnknownMessage = errors.New("vesc: unknown message")
)

// Codec converts between messages and bus frames for a fixed scheme and
// channel set. It holds configuration only and is safe to share.
type Codec struct {
	scheme   Scheme
	cat      *Catalogue
	channels [NumRoles]Channel
	byID     [256]int8 // controller id -> role, -1 when unknown
}

// NewCodec builds a codec for the given scheme. Exactly one channel per role
// is required and ids must be distinct.
func NewCodec(scheme Scheme, channels ...Channel) (*Codec, error) {
	c := &Codec{scheme: scheme, cat: CatalogueFor(scheme)}
	if err := c.cat.Validate(); err != nil {
		return nil, err
	}
	for i := range c.byID {
		c.byID[i] = -1
	}
	var seen [NumRoles]bool
	for _, ch := range channels {
		if ch.Role < 0 || ch.Role >= NumRoles {
			return nil, fmt.Errorf("channel %d: invalid role %d", ch.ID, ch.Role)
		}
		if seen[ch.Role] {
			return nil, fmt.Errorf("duplicate %s channel", ch.Role)
		}
		if c.byID[ch.ID] >= 0 {
			return nil, fmt.Errorf("channel id 0x%02X used twice", ch.ID)
		}
		if ch.PolePairs <= 0 {
			return nil, fmt.Errorf("%s channel: pole pairs must be positive, got %d", ch.Role, ch.PolePairs)
		}
		seen[ch.Role] = true
		c.channels[ch.Role] = ch
		c.byID[ch.ID] = int8(ch.Role)
	}
	for r, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("missing %s channel", Role(r))
		}
	}
	return c, nil
}

// Scheme returns the active wire scheme.
func (c *Codec) Scheme() Scheme { return c.scheme }

// Channel returns the channel configured for role.
func (c *Codec) Channel(r Role) Channel { return c.channels[r] }

// Catalogue returns the message layouts in use.
func (c *Codec) Catalogue() *Catalogue { return c.cat }

func (c *Codec) scale(s SignalDef, ch Channel) float64 {
	if s.PolePairs {
		return s.Scale * float64(ch.PolePairs)
	}
	return s.Scale
}

// Encode packs fields into a single frame addressed to role. Fields missing
// from the value set are encoded as zero; values outside a signal's range
// saturate.
func (c *Codec) Encode(r Role, code Code, fields Fields) (can.Frame, error) {
	if r < 0 || r >= NumRoles {
		return can.Frame{}, fmt.Errorf("%w: %s", ErrUnknownChannel, r)
	}
	md := c.cat.Lookup(code)
	if md == nil {
		return can.Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, uint8(code))
	}
	ch := c.channels[r]
	f, off := c.frame(ch, code, md.Len())
	data := f.Data[off : off+md.Len()]
	for _, s := range md.Signals {
		v := fields.Values[s.Field]
		if s.Negate {
			v = -v
		}
		bits := s.Width * 8
		raw := clampRaw(toRaw(v*c.scale(s, ch)), bits, s.Signed)
		putBE(data[s.Offset:], s.Width, rawToUnsigned(raw, bits))
	}
	return f, nil
}

// EncodeRequest builds a data-less frame carrying only the message code, used
// to poll a controller for status.
func (c *Codec) EncodeRequest(r Role, code Code) (can.Frame, error) {
	if r < 0 || r >= NumRoles {
		return can.Frame{}, fmt.Errorf("%w: %s", ErrUnknownChannel, r)
	}
	if c.cat.Lookup(code) == nil {
		return can.Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, uint8(code))
	}
	f, _ := c.frame(c.channels[r], code, 0)
	return f, nil
}

// frame returns an addressed frame sized for n data bytes and the payload
// offset where message data starts.
func (c *Codec) frame(ch Channel, code Code, n int) (can.Frame, int) {
	var f can.Frame
	if c.scheme == Extended {
		f.ID = uint32(ch.ID) | uint32(code)<<8
		f.IsExtended = true
		f.Length = uint8(n)
		return f, 0
	}
	f.ID = uint32(ch.ID)
	f.Length = uint8(n + 1)
	f.Data[0] = byte(code)
	return f, 1
}

// Decode identifies and parses a frame. It reports false, without error, for
// frames from unknown channels, unknown codes, the wrong identifier kind or
// payloads too short for the message layout.
func (c *Codec) Decode(f can.Frame) (Message, bool) {
	var msg Message
	if f.IsRemote || f.Length > 8 {
		return msg, false
	}
	var id uint32
	var data []byte
	if c.scheme == Extended {
		if !f.IsExtended || f.ID>>16 != 0 {
			return msg, false
		}
		id = f.ID & 0xFF
		msg.Code = Code(f.ID >> 8)
		data = f.Data[:f.Length]
	} else {
		if f.IsExtended || f.ID > 0xFF || f.Length < 1 {
			return msg, false
		}
		id = f.ID
		msg.Code = Code(f.Data[0])
		data = f.Data[1:f.Length]
	}
	role := c.byID[id]
	if role < 0 {
		return msg, false
	}
	md := c.cat.Lookup(msg.Code)
	if md == nil || len(data) < md.Len() {
		return msg, false
	}
	msg.Role = Role(role)
	msg.Channel = uint8(id)
	ch := c.channels[role]
	for _, s := range md.Signals {
		bits := s.Width * 8
		raw := unsignedToRawInt64(getBE(data[s.Offset:], s.Width), bits, s.Signed)
		v := float64(raw) / c.scale(s, ch)
		if s.Negate && v != 0 {
			v = -v
		}
		msg.Fields.Set(s.Field, v)
	}
	return msg, true
}

// DecodeTelemetry is Decode restricted to status messages. Setpoint frames
// on the bus are commands addressed to a controller, not reports from it.
func (c *Codec) DecodeTelemetry(f can.Frame) (Message, bool) {
	msg, ok := c.Decode(f)
	if !ok {
		return msg, false
	}
	if md := c.cat.Lookup(msg.Code); md.Setpoint {
		return Message{}, false
	}
	return msg, true
}
