// Package host is a simulated runtime for the fan chip: a nanosecond clock,
// a timer queue, the PWM input and tachometer output pins, the "break"
// attribute and the framebuffer.
//
// Device serializes every callback under one mutex. Simulated time only
// advances inside RunUntil and RunFor.
package host

import (
	"sync"
	"time"

	"fanchip/internal/fanchip"
)

type DeviceConfig struct {
	Chip fanchip.Config

	Width  int
	Height int

	ReportInterval time.Duration
	Brake          float64

	// TachoHistory is how many tacho writes OutputPin keeps for inspection.
	TachoHistory int
}

// Snapshot is a consistent view of the device.
type Snapshot struct {
	NowNs       uint64          `json:"now_ns"`
	State       fanchip.State   `json:"state"`
	Brake       float64         `json:"brake"`
	PWMLevel    string          `json:"pwm_level"`
	PWMEdges    uint64          `json:"pwm_edges"`
	TachoLevel  string          `json:"tacho_level"`
	TachoWrites uint64          `json:"tacho_writes"`
	TachoArmed  bool            `json:"tacho_armed"`
	LastReport  *fanchip.Report `json:"last_report,omitempty"`
}

type Device struct {
	cfg DeviceConfig

	mu    sync.Mutex
	sched Scheduler
	chip  *fanchip.Chip

	fb    *Framebuffer
	brake *Attr
	tacho *OutputPin

	pwm      fanchip.Level
	pwmEdges uint64
	onEdge   func(Transition)

	onReport   func(fanchip.Report)
	lastReport *fanchip.Report

	reportTimer Timer
	tachoTimer  Timer
}

// NewDevice builds the chip and arms the periodic report timer. onReport may
// be nil; it runs with the device locked and must not call back into it.
func NewDevice(cfg DeviceConfig, onReport func(fanchip.Report)) *Device {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = fanchip.DefaultReportInterval
	}
	d := &Device{
		cfg:      cfg,
		fb:       NewFramebuffer(cfg.Width, cfg.Height),
		brake:    NewBrakeAttr(cfg.Brake),
		tacho:    NewOutputPin("TACHO", cfg.TachoHistory),
		onReport: onReport,
	}
	d.chip = fanchip.New(cfg.Chip, d.brake, d.fb)

	d.tachoTimer.Handler = d.onTachoTimer
	d.reportTimer.Handler = d.onReportTimer
	d.reportTimer.WakeTime = uint64(cfg.ReportInterval)
	d.sched.Schedule(&d.reportTimer)
	return d
}

func (d *Device) Framebuffer() *Framebuffer { return d.fb }
func (d *Device) Brake() *Attr              { return d.brake }
func (d *Device) Tacho() *OutputPin         { return d.tacho }

// OnPWMEdge registers a callback for every PWM input level change.
func (d *Device) OnPWMEdge(fn func(Transition)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEdge = fn
}

func (d *Device) Now() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sched.Now()
}

func (d *Device) State() fanchip.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chip.State()
}

func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		NowNs:       d.sched.Now(),
		State:       d.chip.State(),
		Brake:       d.brake.Get(),
		PWMLevel:    d.pwm.String(),
		PWMEdges:    d.pwmEdges,
		TachoLevel:  d.tacho.Level().String(),
		TachoWrites: d.tacho.Writes(),
		TachoArmed:  d.tachoTimer.Pending(),
	}
	if d.lastReport != nil {
		r := *d.lastReport
		s.LastReport = &r
	}
	return s
}

// SetPWM drives the PWM input at the current simulated time. Writing the
// level the line already has is not an edge and is ignored.
func (d *Device) SetPWM(level fanchip.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setPWMLocked(level)
}

// RunUntil advances simulated time to at (nanoseconds), firing due timers.
func (d *Device) RunUntil(at uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.RunUntil(at)
}

func (d *Device) RunFor(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dur < 0 {
		dur = 0
	}
	d.sched.RunUntil(d.sched.Now() + uint64(dur))
}

func (d *Device) setPWMLocked(level fanchip.Level) {
	ev := fanchip.EdgeEvent(level, d.sched.Now())
	if level == d.pwm {
		return
	}
	d.pwm = level
	d.pwmEdges++
	d.apply(d.chip.Handle(ev), ev.At)
	if d.onEdge != nil {
		d.onEdge(Transition{At: ev.At, Level: level})
	}
}

func (d *Device) apply(act fanchip.Action, now uint64) {
	if act.WriteTacho {
		d.tacho.Write(now, act.TachoLevel)
	}
	if act.ArmTacho {
		d.tachoTimer.WakeTime = now + uint64(act.TachoDelay)
		d.sched.Schedule(&d.tachoTimer)
	}
	if act.Report != nil {
		d.lastReport = act.Report
		if d.onReport != nil {
			d.onReport(*act.Report)
		}
	}
}

func (d *Device) onTachoTimer(t *Timer) uint8 {
	now := d.sched.Now()
	d.apply(d.chip.Handle(fanchip.Event{Kind: fanchip.TachoTick, At: now}), now)
	return Done
}

func (d *Device) onReportTimer(t *Timer) uint8 {
	now := d.sched.Now()
	d.apply(d.chip.Handle(fanchip.Event{Kind: fanchip.ReportTick, At: now}), now)
	t.WakeTime += uint64(d.cfg.ReportInterval)
	return Reschedule
}
