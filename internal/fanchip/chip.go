// Package fanchip models a PWM-controlled fan with a tachometer output.
//
// The chip reacts to four kinds of events: rising and falling edges on the PWM
// input, the periodic report tick, and the tachometer timer. Each event is
// handled synchronously by Chip.Handle, which returns an Action describing what
// the host should do next (write the tacho pin, arm the tacho timer, publish a
// report). Timer queues, pins and the clock belong to the host.
//
// A Chip is not safe for concurrent use; hosts serialize events.
package fanchip

import (
	"fmt"
	"time"
)

// Defaults used when Config fields are zero.
const (
	DefaultReportInterval = 50 * time.Millisecond
	DefaultSignalTimeout  = time.Millisecond
)

// Level is a digital logic level.
type Level uint8

const (
	Low  Level = 0
	High Level = 1
)

func (l Level) Valid() bool { return l == Low || l == High }

func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// LevelOf converts a boolean pin state.
func LevelOf(b bool) Level {
	if b {
		return High
	}
	return Low
}

type EventKind uint8

const (
	RisingEdge EventKind = iota + 1
	FallingEdge
	ReportTick
	TachoTick
)

func (k EventKind) String() string {
	switch k {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case ReportTick:
		return "report"
	case TachoTick:
		return "tacho"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is delivered by the host. At is the host's monotonic clock in
// nanoseconds.
type Event struct {
	Kind EventKind
	At   uint64
}

// EdgeEvent returns the edge event for a PWM input level change. It panics on
// levels other than Low and High.
func EdgeEvent(level Level, at uint64) Event {
	switch level {
	case High:
		return Event{Kind: RisingEdge, At: at}
	case Low:
		return Event{Kind: FallingEdge, At: at}
	default:
		panic(fmt.Sprintf("fanchip: invalid pwm level %d", uint8(level)))
	}
}

// Report is the diagnostic record emitted once per report interval.
type Report struct {
	Seq       int     `json:"seq"`
	At        uint64  `json:"at_ns"`
	Period    uint64  `json:"period_ns"`
	DutyCycle float64 `json:"duty_cycle"`
	RPM       float64 `json:"rpm"`
}

func (r Report) String() string {
	return fmt.Sprintf("%d: Period: %d, Duty Cycle: %f RPM: %f", r.Seq, r.Period, r.DutyCycle, r.RPM)
}

// Action tells the host what to do after an event.
type Action struct {
	// ArmTacho requests the tacho timer to fire once after TachoDelay,
	// replacing any pending firing.
	ArmTacho   bool
	TachoDelay time.Duration

	// WriteTacho requests TachoLevel to be driven on the tacho output.
	WriteTacho bool
	TachoLevel Level

	Report *Report
}

// BrakeReader supplies the braking factor in [0,1].
type BrakeReader interface {
	Brake() float64
}

// BrakeFunc adapts a function to BrakeReader.
type BrakeFunc func() float64

func (f BrakeFunc) Brake() float64 { return f() }

type Config struct {
	// SignalTimeout is how long after the last rising edge a report tick
	// considers the PWM signal lost.
	SignalTimeout time.Duration
	FullScaleRPM  float64
	BarScale      BarScale
}

// State is the chip's mutable record.
type State struct {
	LastPWMHigh uint64  `json:"last_pwm_high_ns"`
	Period      uint64  `json:"period_ns"`
	DutyCycle   float64 `json:"duty_cycle"`
	RPM         float64 `json:"rpm"`
	TachoState  bool    `json:"tacho_state"`
	ReportCount int     `json:"report_count"`
}

type Chip struct {
	cfg   Config
	brake BrakeReader
	fb    Buffer

	st     State
	lastAt uint64
}

// New returns a chip drawing into fb. brake and fb may be nil.
func New(cfg Config, brake BrakeReader, fb Buffer) *Chip {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultSignalTimeout
	}
	if cfg.FullScaleRPM <= 0 {
		cfg.FullScaleRPM = FullScaleRPM
	}
	return &Chip{cfg: cfg, brake: brake, fb: fb}
}

func (c *Chip) State() State { return c.st }

// Handle processes one event. It panics if events arrive with decreasing
// timestamps or with an unknown kind.
func (c *Chip) Handle(ev Event) Action {
	if ev.At < c.lastAt {
		panic(fmt.Sprintf("fanchip: %s event at %d precedes previous event at %d", ev.Kind, ev.At, c.lastAt))
	}
	c.lastAt = ev.At

	switch ev.Kind {
	case RisingEdge:
		c.onRising(ev.At)
		return Action{}
	case FallingEdge:
		return c.onFalling(ev.At)
	case ReportTick:
		return c.onReport(ev.At)
	case TachoTick:
		return c.onTacho()
	default:
		panic(fmt.Sprintf("fanchip: unknown event kind %d", uint8(ev.Kind)))
	}
}

func (c *Chip) onRising(now uint64) {
	if c.st.LastPWMHigh != 0 {
		c.st.Period = now - c.st.LastPWMHigh
	}
	c.st.LastPWMHigh = now
}

// onFalling measures the HIGH interval just ended against the period of the
// previous full cycle, so duty lags the input by one cycle.
func (c *Chip) onFalling(now uint64) Action {
	if c.st.Period == 0 {
		return Action{}
	}
	c.st.DutyCycle = float64(now-c.st.LastPWMHigh) / float64(c.st.Period)

	prev := c.st.RPM
	rpm := DutyToRPM(c.st.DutyCycle)
	if c.brake != nil {
		rpm = ApplyBrake(rpm, c.brake.Brake())
	}
	c.st.RPM = rpm

	if prev == 0 && rpm > 0 {
		return c.armTacho()
	}
	return Action{}
}

func (c *Chip) onReport(now uint64) Action {
	if now-c.st.LastPWMHigh > uint64(c.cfg.SignalTimeout) {
		c.st.DutyCycle = 0
		c.st.RPM = 0
	}

	r := Report{
		Seq:       c.st.ReportCount,
		At:        now,
		Period:    c.st.Period,
		DutyCycle: c.st.DutyCycle,
		RPM:       c.st.RPM,
	}
	Render(c.fb, c.st.RPM, c.cfg.FullScaleRPM, c.cfg.BarScale)
	c.st.ReportCount++
	return Action{Report: &r}
}

// onTacho always toggles the output, even when the fan stopped since the
// timer was armed; it only declines to re-arm.
func (c *Chip) onTacho() Action {
	act := c.armTacho()
	act.WriteTacho = true
	act.TachoLevel = LevelOf(c.st.TachoState)
	c.st.TachoState = !c.st.TachoState
	return act
}

func (c *Chip) armTacho() Action {
	d := TachoHalfPeriod(c.st.RPM)
	if d <= 0 {
		return Action{}
	}
	return Action{ArmTacho: true, TachoDelay: d}
}
