package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/denisbrodbeck/machineid"
	"golang.org/x/sync/errgroup"

	"dyno-bridge-core/bridge"
	"dyno-bridge-core/hostlink"
	"dyno-bridge-core/inputs"
	"dyno-bridge-core/monitor"
	"dyno-bridge-core/mqttlink"
	"dyno-bridge-core/sequence"
	"dyno-bridge-core/utils"
	"dyno-bridge-core/vesc"
)

type RunnerOptions struct {
	SequencePath string
	Console      bool
}

// Runner owns the adapters around the control loop and their lifetimes.
type Runner struct {
	cfg  utils.Config
	opts RunnerOptions
	log  *utils.Logger

	bus     *utils.SocketCANBus
	stream  *hostlink.Stream
	console *Console
	player  *sequence.Player
	monitor *monitor.Server
	mqtt    *mqttlink.Link
	loop    *bridge.Loop
	closers []io.Closer
}

func NewRunner(ctx context.Context, cfg utils.Config, opts RunnerOptions, log *utils.Logger) (*Runner, error) {
	scheme, err := vesc.ParseScheme(cfg.Bus.Scheme)
	if err != nil {
		return nil, err
	}
	codec, err := vesc.NewCodec(scheme, cfg.VESCChannels()...)
	if err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}

	if cfg.Bus.ConfigureLink {
		if err := utils.ConfigureLink(cfg.Bus.Interface, cfg.Bus.Bitrate, log); err != nil {
			return nil, err
		}
	}

	r := &Runner{cfg: cfg, opts: opts, log: log}
	r.bus, err = utils.NewSocketCANBus(ctx, cfg.Bus.Interface, log)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, r.bus)

	clock := bridge.SystemClock{}
	r.player = sequence.NewPlayer(clock.Now, log)

	var src inputs.Source
	var panel *inputs.Panel
	switch cfg.Inputs.Source {
	case "gpio":
		g, err := inputs.OpenGPIO(cfg.Inputs.StartPin, cfg.Inputs.StopPin, cfg.Inputs.PowerPin, cfg.Inputs.ActiveLow)
		if err != nil {
			r.Close()
			return nil, err
		}
		src = g
	case "panel":
		panel = inputs.NewPanel()
		src = panel
	}

	var host hostlink.Channel
	switch {
	case opts.Console:
		if panel == nil {
			panel = inputs.NewPanel()
		}
		if src == nil {
			src = panel
		}
		r.console = NewConsole(panel, r.player, 2*cfg.Timing.Debounce(), clock.Now)
		host = r.console.Host()
	case cfg.Host.Port != "":
		r.stream, err = hostlink.OpenSerial(cfg.Host.Port, cfg.Host.Baud, clock.Now)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, r.stream)
		host = r.stream
	default:
		r.stream = hostlink.NewStream(os.Stdin, os.Stdout, clock.Now)
		host = r.stream
	}

	var sinks []bridge.ReportSink
	cmds := []hostlink.Channel{r.player}
	if cfg.Monitor.Listen != "" {
		r.monitor = monitor.New(log)
		sinks = append(sinks, r.monitor)
	}
	if cfg.MQTT.Broker != "" {
		mopts, prefix, err := mqttlink.ClientOptionsFromURL(cfg.MQTT.Broker)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("mqtt broker: %w", err)
		}
		if prefix == "" {
			prefix = cfg.MQTT.Prefix
		}
		if mopts.ClientID == "" {
			mopts.SetClientID(clientID(cfg.MQTT.ClientID))
		}
		r.mqtt = mqttlink.New(mopts, prefix, clock.Now, log)
		r.closers = append(r.closers, r.mqtt)
		sinks = append(sinks, r.mqtt)
		cmds = append(cmds, r.mqtt.Commands())
	}

	r.loop = bridge.NewLoop(bridge.ConfigFrom(cfg), bridge.Deps{
		Clock:    clock,
		Codec:    codec,
		Bus:      r.bus,
		Host:     host,
		Commands: cmds,
		Inputs:   src,
		Sinks:    sinks,
		Log:      log,
	})
	return r, nil
}

// Run starts every adapter and the loop, and returns once they have all
// stopped. Cancellation is a clean exit.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opts.SequencePath != "" {
		s, err := sequence.Load(r.opts.SequencePath)
		if err != nil {
			return fmt.Errorf("load sequence: %w", err)
		}
		if err := r.player.Start(s, true); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.monitor != nil {
		g.Go(func() error {
			return ignoreCanceled(r.monitor.ListenAndServe(gctx, r.cfg.Monitor.Listen))
		})
	}
	if r.mqtt != nil {
		g.Go(func() error {
			if err := r.mqtt.Connect(gctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("MQTT unavailable, continuing without it: %v", err)
			}
			return nil
		})
	}
	if r.console != nil {
		go r.console.Run(gctx, cancel)
	}
	if r.stream != nil {
		g.Go(func() error {
			select {
			case <-r.stream.Done():
				r.log.Warn("Host link closed: %v", r.stream.Err())
			case <-gctx.Done():
			}
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-r.bus.Done():
			return fmt.Errorf("CAN receive stopped: %w", r.bus.Err())
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		return ignoreCanceled(r.loop.Run(gctx))
	})

	err := g.Wait()
	if n := r.bus.Dropped(); n > 0 {
		r.log.Warn("CAN receive buffer overflowed; %d frames dropped", n)
	}
	return err
}

func (r *Runner) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.log.Warn("Close: %v", err)
		}
	}
	r.closers = nil
}

// clientID suffixes base with a hashed machine id so two benches sharing a
// broker do not kick each other off.
func clientID(base string) string {
	id, err := machineid.ProtectedID(base)
	if err != nil || len(id) < 8 {
		return base
	}
	return base + "-" + id[:8]
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
