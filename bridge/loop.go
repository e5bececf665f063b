// Package bridge runs the control loop that ties the bus codec, telemetry,
// safety state and host commands together.
package bridge

import (
	"context"
	"time"

	"dyno-bridge-core/hostlink"
	"dyno-bridge-core/inputs"
	"dyno-bridge-core/safety"
	"dyno-bridge-core/telemetry"
	"dyno-bridge-core/utils"
	"dyno-bridge-core/vesc"
)

// Config holds the loop cadences and behavior switches.
type Config struct {
	Tick          time.Duration
	Resend        time.Duration
	Report        time.Duration
	Debounce      time.Duration
	StatusRequest time.Duration
	Heartbeat     time.Duration
	StaleAfter    time.Duration
	Safety        safety.Config
	TorquePerAmp  float64
	// Timing starts the host link with command acknowledgements on.
	Timing bool
}

func DefaultConfig() Config {
	return Config{
		Tick:          5 * time.Millisecond,
		Resend:        50 * time.Millisecond,
		Report:        100 * time.Millisecond,
		Debounce:      50 * time.Millisecond,
		StatusRequest: 100 * time.Millisecond,
		Heartbeat:     time.Second,
		StaleAfter:    telemetry.DefaultStaleAfter,
		TorquePerAmp:  DefaultTorquePerAmp,
	}
}

// ConfigFrom maps the file configuration onto loop settings.
func ConfigFrom(c utils.Config) Config {
	t := c.Timing
	return Config{
		Tick:          t.Tick(),
		Resend:        t.Resend(),
		Report:        t.Report(),
		Debounce:      t.Debounce(),
		StatusRequest: t.StatusRequest(),
		Heartbeat:     t.Heartbeat(),
		StaleAfter:    t.Stale(),
		Safety: safety.Config{
			BurstCount:        t.EStopBurst,
			BurstGap:          t.EStopBurstGap(),
			PowerLossEStop:    c.Safety.PowerLossEStop,
			EnableClearsEStop: c.Safety.EnableClearsEStop,
		},
		TorquePerAmp: c.Metrics.TorquePerAmp,
		Timing:       c.Host.Timing,
	}
}

// Deps are the collaborators the loop drives. Host is required; Commands are
// extra command sources polled after it, in order. Inputs may be nil.
type Deps struct {
	Clock    Clock
	Codec    *vesc.Codec
	Bus      Bus
	Host     hostlink.Channel
	Commands []hostlink.Channel
	Inputs   inputs.Source
	Sinks    []ReportSink
	Log      *utils.Logger
}

// Loop is the single owner of all control state. Nothing in it is safe for
// concurrent use; every mutation happens inside Step.
type Loop struct {
	cfg    Config
	clock  Clock
	codec  *vesc.Codec
	bus    Bus
	host   hostlink.Channel
	cmds   []hostlink.Channel
	inputs inputs.Source
	sinks  []ReportSink
	log    *utils.Logger

	store  *telemetry.Store
	safety *safety.Controller
	sched  *Scheduler

	start    time.Time
	timing   bool
	debounce inputs.DebounceState
	metrics  Metrics
	last     Report
	steps    uint64

	resend    *Cadence
	debouncer *Cadence
	status    *Cadence
	report    *Cadence
	heartbeat *Cadence
}

func NewLoop(cfg Config, d Deps) *Loop {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Log == nil {
		d.Log = utils.Discard()
	}
	if cfg.TorquePerAmp <= 0 {
		cfg.TorquePerAmp = DefaultTorquePerAmp
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	start := d.Clock.Now()
	l := &Loop{
		cfg:       cfg,
		clock:     d.Clock,
		codec:     d.Codec,
		bus:       d.Bus,
		host:      d.Host,
		cmds:      d.Commands,
		inputs:    d.Inputs,
		sinks:     d.Sinks,
		log:       d.Log,
		store:     telemetry.NewStore(cfg.StaleAfter, d.Log),
		sched:     NewScheduler(d.Codec, d.Bus, d.Log),
		start:     start,
		timing:    cfg.Timing,
		resend:    NewCadence("resend", cfg.Resend, start),
		debouncer: NewCadence("debounce", cfg.Debounce, start),
		status:    NewCadence("status_request", cfg.StatusRequest, start),
		report:    NewCadence("report", cfg.Report, start),
		heartbeat: NewCadence("heartbeat", cfg.Heartbeat, start),
	}
	l.safety = safety.New(cfg.Safety, l.sched, d.Clock.Sleep, d.Log)
	l.store.Tick(start)
	return l
}

func (l *Loop) Safety() *safety.Controller  { return l.safety }
func (l *Loop) Telemetry() *telemetry.Store { return l.store }
func (l *Loop) Scheduler() *Scheduler       { return l.sched }

// LastReport is the most recent report built by the report cadence.
func (l *Loop) LastReport() Report { return l.last }

// Step runs one tick at now.
func (l *Loop) Step(now time.Time) {
	l.steps++

	// (a) one incoming frame
	if f, ok := l.bus.TryReceive(); ok {
		if msg, ok := l.codec.DecodeTelemetry(f); ok {
			l.store.Apply(msg.Role, msg.Fields, now)
		} else {
			l.log.Trace("RX discarded id=0x%X ext=%t len=%d", f.ID, f.IsExtended, f.Length)
		}
	}

	// (b) staleness
	l.store.Tick(now)

	// (c) setpoint repeat
	if l.resend.Due(now) {
		l.sched.Resend(l.safety)
	}

	// (d) one external command, host first
	l.pollCommand()

	// (e) hardware inputs
	if l.inputs != nil && l.debouncer.Due(now) {
		l.checkInputs()
	}

	// (f) status poll
	if l.status.Due(now) {
		l.sched.RequestStatus()
	}

	// (g) metrics and report
	if l.report.Due(now) {
		l.publishReport(now)
	}

	// (h) heartbeat
	if l.heartbeat.Due(now) {
		l.writeHost("HEARTBEAT: bridge active")
	}
}

// Run steps the loop from a ticker until ctx ends, then disables both
// channels so the controllers are left with a zero setpoint.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("Control loop started: tick=%s resend=%s report=%s scheme=%s",
		l.cfg.Tick, l.cfg.Resend, l.cfg.Report, l.codec.Scheme())
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Warn("Context canceled; disabling motors")
			l.safety.DisableAll()
			sent, failed := l.sched.Stats()
			l.log.Info("Control loop stopped. steps=%d frames_sent=%d send_failures=%d", l.steps, sent, failed)
			return ctx.Err()
		case <-ticker.C:
			l.Step(l.clock.Now())
		}
	}
}

func (l *Loop) pollCommand() {
	if line, ok := l.host.TryReadLine(); ok {
		l.execute(line, l.host)
		return
	}
	for _, src := range l.cmds {
		if line, ok := src.TryReadLine(); ok {
			l.execute(line, src)
			return
		}
	}
}

func (l *Loop) checkInputs() {
	lv, err := l.inputs.Read()
	if err != nil {
		l.log.Warn("Input read failed: %v", err)
		return
	}
	var evs inputs.Events
	l.debounce, evs = inputs.Debounce(l.debounce, lv)
	for i := 0; i < evs.Len(); i++ {
		l.applyInput(evs.At(i))
	}
}

func (l *Loop) applyInput(ev inputs.Event) {
	switch ev.Kind {
	case inputs.StopPressed:
		l.safety.EmergencyStop("stop button")
		l.writeHost("Hardware STOP button pressed - EMERGENCY STOP")
	case inputs.StartPressed:
		if err := l.safety.EnableAll(); err != nil {
			l.log.Warn("Start button ignored: %v", err)
			l.writeHost("ERROR: START button ignored: " + err.Error())
			return
		}
		l.writeHost("Hardware START button pressed - Motors enabled")
		l.sched.Resend(l.safety)
	case inputs.PowerInitial:
		l.safety.SetPowerSource(ev.Power)
		l.writeHost("Initial power source: " + ev.Power.String())
	case inputs.PowerChanged:
		lost := l.safety.SetPowerSource(ev.Power)
		l.writeHost("Power source changed to " + ev.Power.String())
		if lost && l.safety.State() == safety.EmergencyStop {
			l.writeHost("EMERGENCY STOP ACTIVATED")
		}
	}
}

func (l *Loop) publishReport(now time.Time) {
	snap := l.store.Snapshot()
	l.metrics = ComputeMetrics(snap, l.cfg.TorquePerAmp)
	l.last = BuildReport(now.Sub(l.start), snap, l.safety.Snapshot(), l.safety.State(), l.metrics)
	payload, err := l.last.Encode()
	if err != nil {
		l.log.Error("Report encode failed: %v", err)
		return
	}
	l.writeHost(string(payload))
	for _, s := range l.sinks {
		s.PublishReport(payload)
	}
}

func (l *Loop) writeHost(line string) {
	if err := l.host.WriteLine(line); err != nil {
		l.log.Warn("Host write failed: %v", err)
	}
}

func (l *Loop) micros(t time.Time) int64 {
	return t.Sub(l.start).Microseconds()
}
