// Package inputs turns raw digital input levels (start button, stop button,
// power sense) into debounced edge events.
package inputs

import "dyno-bridge-core/safety"

// Levels is one sample of the digital inputs. Buttons read true while
// pressed; PowerPresent is true while the primary supply is connected.
type Levels struct {
	Start        bool
	Stop         bool
	PowerPresent bool
}

// Source samples the digital inputs.
type Source interface {
	Read() (Levels, error)
}

// DebounceState carries edge-detection memory between samples. The zero
// value is the state before the first sample.
type DebounceState struct {
	StartHeld  bool
	StopHeld   bool
	PowerKnown bool
	Power      safety.PowerSource
}

// EventKind tells what an Event reports.
type EventKind int

const (
	StartPressed EventKind = iota
	StopPressed
	PowerInitial
	PowerChanged
)

func (k EventKind) String() string {
	switch k {
	case StartPressed:
		return "start_pressed"
	case StopPressed:
		return "stop_pressed"
	case PowerInitial:
		return "power_initial"
	case PowerChanged:
		return "power_changed"
	}
	return "unknown"
}

// Event is an edge produced by Debounce.
type Event struct {
	Kind  EventKind
	Power safety.PowerSource
}

// Events holds the edges of one sample; at most one of each kind.
type Events struct {
	list [3]Event
	n    int
}

func (e *Events) add(ev Event) {
	e.list[e.n] = ev
	e.n++
}

// Len is the number of events.
func (e Events) Len() int { return e.n }

// At returns the i-th event.
func (e Events) At(i int) Event { return e.list[i] }

// Slice copies the events out, for tests and logging.
func (e Events) Slice() []Event {
	return append([]Event(nil), e.list[:e.n]...)
}

// PowerSourceOf maps the power sense level to a supply.
func PowerSourceOf(present bool) safety.PowerSource {
	if present {
		return safety.Primary
	}
	return safety.Secondary
}

// Debounce compares a sample taken at the debounce cadence with the previous
// state and returns the new state plus rising-edge events. Start is ignored
// while stop is held.
func Debounce(st DebounceState, lv Levels) (DebounceState, Events) {
	var ev Events
	if lv.Stop && !st.StopHeld {
		ev.add(Event{Kind: StopPressed})
	}
	st.StopHeld = lv.Stop

	if lv.Start && !st.StartHeld && !lv.Stop {
		ev.add(Event{Kind: StartPressed})
	}
	st.StartHeld = lv.Start

	src := PowerSourceOf(lv.PowerPresent)
	switch {
	case !st.PowerKnown:
		ev.add(Event{Kind: PowerInitial, Power: src})
	case st.Power != src:
		ev.add(Event{Kind: PowerChanged, Power: src})
	}
	st.PowerKnown = true
	st.Power = src
	return st, ev
}
