package sequence

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dyno-bridge-core/hostlink"
	"dyno-bridge-core/utils"
)

// Player feeds a scenario to the control loop as command lines. The loop
// polls it like any other host channel; Start and Stop may be called from
// other goroutines.
type Player struct {
	mu      sync.Mutex
	now     func() time.Time
	log     *utils.Logger
	scen    Scenario
	started time.Time
	running bool
	seg     int
	pending []string
}

func NewPlayer(now func() time.Time, log *utils.Logger) *Player {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = utils.Discard()
	}
	return &Player{now: now, log: log, seg: -1}
}

// Start begins playing s from now. With enable set the player first enables
// both channels. A running scenario is replaced.
func (p *Player) Start(s Scenario, enable bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scen = s
	p.started = p.now()
	p.running = true
	p.seg = -1
	p.pending = p.pending[:0]
	if enable {
		p.pending = append(p.pending, "enable_drive", "enable_brake")
	}
	p.log.Info("Sequence %q started: %d segments, %.1fs", s.Meta.Name, len(s.Segments), s.Duration())
	return nil
}

// Stop aborts the scenario and queues disable_all.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.pending = append(p.pending[:0], "disable_all")
	p.log.Warn("Sequence %q stopped", p.scen.Meta.Name)
}

func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// TryReadLine returns the next command due.
func (p *Player) TryReadLine() (hostlink.Line, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if len(p.pending) == 0 && p.running {
		p.advance(now)
	}
	if len(p.pending) == 0 {
		return hostlink.Line{}, false
	}
	text := p.pending[0]
	p.pending = p.pending[1:]
	return hostlink.Line{Text: text, Received: now}, true
}

func (p *Player) advance(now time.Time) {
	t := now.Sub(p.started).Seconds()
	if t >= p.scen.Duration() {
		p.running = false
		p.pending = append(p.pending, "disable_all")
		p.log.Info("Sequence %q complete", p.scen.Meta.Name)
		return
	}
	idx := p.scen.Active(t)
	if idx == p.seg {
		return
	}
	p.seg = idx
	if idx < 0 {
		return
	}
	seg := p.scen.Segments[idx]
	p.log.Info("Step %d/%d: %d RPM, %.2f A", idx+1, len(p.scen.Segments), seg.SpeedRPM, seg.LoadA)
	p.pending = append(p.pending,
		fmt.Sprintf("speed %d", seg.SpeedRPM),
		"load "+strconv.FormatFloat(seg.LoadA, 'f', -1, 64),
	)
}

// WriteLine receives the loop's replies.
func (p *Player) WriteLine(s string) error {
	if strings.HasPrefix(s, "ERROR") {
		p.log.Warn("Sequence command rejected: %s", s)
		return nil
	}
	p.log.Debug("Sequence reply: %s", s)
	return nil
}
