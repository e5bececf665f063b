package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abiosoft/ishell"

	"dyno-bridge-core/hostlink"
	"dyno-bridge-core/inputs"
	"dyno-bridge-core/sequence"
)

var errUsage = errors.New("usage")

// Console is the interactive bench shell. It stands in for the host: typed
// commands are queued for the loop and the loop's replies are printed.
type Console struct {
	queue   *hostlink.Queue
	panel   *inputs.Panel
	player  *sequence.Player
	hold    time.Duration
	printFn func(string)

	mu     sync.Mutex
	latest string
	watch  bool
}

// NewConsole wires a console to the panel and sequence player. hold is how
// long a button press lasts; it must cover at least one debounce sample.
func NewConsole(panel *inputs.Panel, player *sequence.Player, hold time.Duration, now func() time.Time) *Console {
	c := &Console{panel: panel, player: player, hold: hold, printFn: func(s string) { fmt.Println(s) }}
	c.queue = hostlink.NewQueue(hostlink.DefaultBacklog, now, c.output)
	return c
}

// Host is the channel the loop reads commands from.
func (c *Console) Host() hostlink.Channel { return c.queue }

func (c *Console) output(line string) {
	isReport := strings.HasPrefix(line, "{")
	c.mu.Lock()
	if isReport {
		c.latest = line
	}
	show := c.watch || !(isReport || strings.HasPrefix(line, "HEARTBEAT"))
	printFn := c.printFn
	c.mu.Unlock()
	if show {
		printFn(line)
	}
}

func (c *Console) send(line string) error {
	if !c.queue.Push(line) {
		return errors.New("command queue full")
	}
	return nil
}

func (c *Console) press(set func(bool)) {
	set(true)
	time.AfterFunc(c.hold, func() { set(false) })
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) < n {
		return nil, errUsage
	}
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		out[i] = v
	}
	return out, nil
}

// handle runs one console command and returns text to print.
func (c *Console) handle(name string, args []string) (string, error) {
	switch name {
	case "speed", "load":
		if len(args) != 1 {
			return "", errUsage
		}
		return "", c.send(name + " " + args[0])

	case "enable":
		target := "all"
		if len(args) > 0 {
			target = args[0]
		}
		switch target {
		case "drive", "brake":
			return "", c.send("enable_" + target)
		case "all":
			if err := c.send("enable_drive"); err != nil {
				return "", err
			}
			return "", c.send("enable_brake")
		}
		return "", errUsage

	case "disable":
		return "", c.send("disable_all")
	case "estop":
		return "", c.send("estop")
	case "ping":
		return "", c.send("ping")

	case "timing":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return "", errUsage
		}
		return "", c.send("timing_" + args[0])

	case "start":
		c.press(c.panel.SetStart)
		return "START pressed", nil
	case "stop":
		c.press(c.panel.SetStop)
		return "STOP pressed", nil

	case "power":
		if len(args) != 1 {
			return "", errUsage
		}
		switch strings.ToLower(args[0]) {
		case "external", "on":
			c.panel.SetPower(true)
		case "usb", "off":
			c.panel.SetPower(false)
		default:
			return "", errUsage
		}
		return "Power input set to " + args[0], nil

	case "sweep":
		v, err := parseFloats(args, 3)
		if err != nil {
			return "", err
		}
		w := sequence.Sweep{Start: v[0], End: v[1], Steps: int(v[2]), StepS: sequence.DefaultStep}
		if len(v) > 3 {
			w.StepS = v[3]
		}
		s, err := sequence.SpeedSweep(w)
		if err != nil {
			return "", err
		}
		if err := c.player.Start(s, true); err != nil {
			return "", err
		}
		return "Starting " + s.Meta.Description, nil

	case "loadsweep":
		v, err := parseFloats(args, 4)
		if err != nil {
			return "", err
		}
		w := sequence.Sweep{Start: v[0], End: v[1], Steps: int(v[2]), StepS: sequence.DefaultStep}
		if len(v) > 4 {
			w.StepS = v[4]
		}
		s, err := sequence.LoadSweep(w, int32(v[3]))
		if err != nil {
			return "", err
		}
		if err := c.player.Start(s, true); err != nil {
			return "", err
		}
		return "Starting " + s.Meta.Description, nil

	case "abort":
		c.player.Stop()
		return "Sequence aborted", nil

	case "status":
		c.mu.Lock()
		latest := c.latest
		c.mu.Unlock()
		if latest == "" {
			return "No report yet", nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(latest), "", "  "); err != nil {
			return latest, nil
		}
		return buf.String(), nil

	case "watch":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return "", errUsage
		}
		c.mu.Lock()
		c.watch = args[0] == "on"
		c.mu.Unlock()
		return "Report watch " + args[0], nil
	}
	return "", fmt.Errorf("unknown command %q", name)
}

var consoleCmds = []struct {
	name string
	help string
}{
	{"speed", "speed <rpm>"},
	{"load", "load <amps>"},
	{"enable", "enable [drive|brake|all]"},
	{"disable", "disable both motors and reset the emergency stop"},
	{"estop", "trigger the emergency stop"},
	{"ping", "round trip through the loop"},
	{"timing", "timing <on|off>"},
	{"start", "press the START button"},
	{"stop", "press the STOP button"},
	{"power", "power <external|usb>"},
	{"sweep", "sweep <start_rpm> <end_rpm> <steps> [step_s]"},
	{"loadsweep", "loadsweep <start_a> <end_a> <steps> <rpm> [step_s]"},
	{"abort", "stop the running sequence"},
	{"status", "print the latest report"},
	{"watch", "watch <on|off> report streaming"},
}

// Run blocks in the shell until the operator exits or ctx ends. Exiting the
// shell calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	shell := ishell.New()
	c.mu.Lock()
	c.printFn = func(s string) { shell.Println(s) }
	c.mu.Unlock()

	shell.Println("Dyno bridge bench console")
	for _, cmd := range consoleCmds {
		name, help := cmd.name, cmd.help
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: help,
			Func: func(sc *ishell.Context) {
				out, err := c.handle(name, sc.Args)
				if errors.Is(err, errUsage) {
					sc.Println("usage: " + help)
					return
				}
				if err != nil {
					sc.Err(err)
					return
				}
				if out != "" {
					sc.Println(out)
				}
			},
		})
	}

	go func() {
		<-ctx.Done()
		shell.Close()
	}()
	shell.Run()
	cancel()
}
