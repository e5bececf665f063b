package inputs

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Panel is an in-memory Source whose levels are set by the bench console or
// by tests. Power defaults to present.
type Panel struct {
	mu sync.Mutex
	lv Levels
}

// NewPanel returns a panel with the primary supply present.
func NewPanel() *Panel {
	return &Panel{lv: Levels{PowerPresent: true}}
}

func (p *Panel) Read() (Levels, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lv, nil
}

// Set replaces all levels.
func (p *Panel) Set(lv Levels) {
	p.mu.Lock()
	p.lv = lv
	p.mu.Unlock()
}

// SetStart holds or releases the start button.
func (p *Panel) SetStart(v bool) {
	p.mu.Lock()
	p.lv.Start = v
	p.mu.Unlock()
}

// SetStop holds or releases the stop button.
func (p *Panel) SetStop(v bool) {
	p.mu.Lock()
	p.lv.Stop = v
	p.mu.Unlock()
}

// SetPower connects or disconnects the primary supply.
func (p *Panel) SetPower(present bool) {
	p.mu.Lock()
	p.lv.PowerPresent = present
	p.mu.Unlock()
}

// GPIO reads the panel lines from host GPIO pins.
type GPIO struct {
	start, stop, power gpio.PinIn
	activeLow          bool
}

// OpenGPIO initializes the host drivers and opens the named pins (for
// example "GPIO17"). With activeLow the buttons pull the line low when
// pressed and get a pull-up; otherwise they get a pull-down.
func OpenGPIO(startPin, stopPin, powerPin string, activeLow bool) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}
	var pins [3]gpio.PinIn
	for i, name := range []string{startPin, stopPin, powerPin} {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %q not found", name)
		}
		pins[i] = p
	}
	return NewGPIO(pins[0], pins[1], pins[2], activeLow)
}

// NewGPIO configures already opened pins as inputs.
func NewGPIO(start, stop, power gpio.PinIn, activeLow bool) (*GPIO, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	for _, p := range []gpio.PinIn{start, stop} {
		if err := p.In(pull, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configure %s: %w", p, err)
		}
	}
	if err := power.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure %s: %w", power, err)
	}
	return &GPIO{start: start, stop: stop, power: power, activeLow: activeLow}, nil
}

func (g *GPIO) Read() (Levels, error) {
	pressed := gpio.High
	if g.activeLow {
		pressed = gpio.Low
	}
	return Levels{
		Start:        g.start.Read() == pressed,
		Stop:         g.stop.Read() == pressed,
		PowerPresent: g.power.Read() == gpio.High,
	}, nil
}
