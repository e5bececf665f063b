package inputs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"dyno-bridge-core/safety"
)

func TestDebounceEdges(t *testing.T) {
	var st DebounceState
	st, ev := Debounce(st, Levels{PowerPresent: true})
	assert.Equal(t, []Event{{Kind: PowerInitial, Power: safety.Primary}}, ev.Slice())

	st, ev = Debounce(st, Levels{Start: true, PowerPresent: true})
	assert.Equal(t, []Event{{Kind: StartPressed}}, ev.Slice())

	// held button produces no repeat
	st, ev = Debounce(st, Levels{Start: true, PowerPresent: true})
	assert.Equal(t, 0, ev.Len())

	st, ev = Debounce(st, Levels{PowerPresent: true})
	assert.Equal(t, 0, ev.Len())

	st, ev = Debounce(st, Levels{Stop: true, PowerPresent: false})
	assert.Equal(t, []Event{{Kind: StopPressed}, {Kind: PowerChanged, Power: safety.Secondary}}, ev.Slice())

	_, ev = Debounce(st, Levels{Stop: true})
	assert.Equal(t, 0, ev.Len())
}

func TestDebounceStopDominatesStart(t *testing.T) {
	st, _ := Debounce(DebounceState{}, Levels{PowerPresent: true})
	st, ev := Debounce(st, Levels{Start: true, Stop: true, PowerPresent: true})
	assert.Equal(t, []Event{{Kind: StopPressed}}, ev.Slice())
	_, ev = Debounce(st, Levels{Start: true, PowerPresent: true})
	assert.Equal(t, 0, ev.Len(), "start held through the stop press is not a new press")
}

func TestPanel(t *testing.T) {
	p := NewPanel()
	lv, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, Levels{PowerPresent: true}, lv)
	p.SetStop(true)
	p.SetPower(false)
	lv, _ = p.Read()
	assert.Equal(t, Levels{Stop: true}, lv)
}

func TestGPIO(t *testing.T) {
	start := &gpiotest.Pin{N: "GPIO18", Num: 18}
	stop := &gpiotest.Pin{N: "GPIO8", Num: 8}
	power := &gpiotest.Pin{N: "GPIO3", Num: 3, L: gpio.High}

	g, err := NewGPIO(start, stop, power, false)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullDown, start.P)
	assert.Equal(t, gpio.PullDown, stop.P)
	start.L, stop.L = gpio.Low, gpio.High
	lv, err := g.Read()
	require.NoError(t, err)
	assert.Equal(t, Levels{Stop: true, PowerPresent: true}, lv)

	g, err = NewGPIO(start, stop, power, true)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullUp, stop.P)
	start.L, stop.L = gpio.Low, gpio.High
	lv, err = g.Read()
	require.NoError(t, err)
	assert.Equal(t, Levels{Start: true, PowerPresent: true}, lv)

	power.L = gpio.Low
	lv, _ = g.Read()
	assert.False(t, lv.PowerPresent)
}
