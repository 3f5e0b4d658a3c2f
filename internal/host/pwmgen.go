package host

import (
	"fmt"
	"math"
	"time"

	"fanchip/internal/fanchip"
)

// PWMGenerator drives the device's PWM input with a square wave. Frequency
// and duty changes take effect at the next edge.
type PWMGenerator struct {
	dev   *Device
	timer Timer

	period uint64
	duty   float64
}

// NewPWMGenerator returns a stopped generator attached to d.
func (d *Device) NewPWMGenerator(freqHz, duty float64) (*PWMGenerator, error) {
	g := &PWMGenerator{dev: d}
	if err := g.setFrequency(freqHz); err != nil {
		return nil, err
	}
	if err := g.setDuty(duty); err != nil {
		return nil, err
	}
	g.timer.Handler = g.onTimer
	return g, nil
}

// Start begins the wave with the line low; the first rising edge follows
// one low phase.
func (g *PWMGenerator) Start() {
	d := g.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setPWMLocked(fanchip.Low)
	_, low := g.phases()
	if low == 0 {
		low = 1
	}
	g.timer.WakeTime = d.sched.Now() + low
	d.sched.Schedule(&g.timer)
}

// Stop cancels the wave and leaves the line low.
func (g *PWMGenerator) Stop() {
	d := g.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.Cancel(&g.timer)
	d.setPWMLocked(fanchip.Low)
}

func (g *PWMGenerator) Running() bool {
	g.dev.mu.Lock()
	defer g.dev.mu.Unlock()
	return g.timer.Pending()
}

func (g *PWMGenerator) SetDuty(duty float64) error {
	g.dev.mu.Lock()
	defer g.dev.mu.Unlock()
	return g.setDuty(duty)
}

func (g *PWMGenerator) SetFrequency(hz float64) error {
	g.dev.mu.Lock()
	defer g.dev.mu.Unlock()
	return g.setFrequency(hz)
}

func (g *PWMGenerator) setDuty(duty float64) error {
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return fmt.Errorf("pwm duty %v outside [0, 1]", duty)
	}
	g.duty = duty
	return nil
}

func (g *PWMGenerator) setFrequency(hz float64) error {
	if math.IsNaN(hz) || hz <= 0 {
		return fmt.Errorf("pwm frequency %v must be > 0", hz)
	}
	p := uint64(math.Round(float64(time.Second) / hz))
	if p < 2 {
		return fmt.Errorf("pwm frequency %v too high", hz)
	}
	g.period = p
	return nil
}

// phases splits the period into high and low time in nanoseconds.
func (g *PWMGenerator) phases() (high, low uint64) {
	high = uint64(math.Round(float64(g.period) * g.duty))
	if high > g.period {
		high = g.period
	}
	return high, g.period - high
}

func (g *PWMGenerator) onTimer(t *Timer) uint8 {
	d := g.dev
	high, low := g.phases()
	now := d.sched.Now()

	switch {
	case high == 0:
		d.setPWMLocked(fanchip.Low)
		t.WakeTime = now + g.period
	case low == 0:
		d.setPWMLocked(fanchip.High)
		t.WakeTime = now + g.period
	case d.pwm == fanchip.Low:
		d.setPWMLocked(fanchip.High)
		t.WakeTime = now + high
	default:
		d.setPWMLocked(fanchip.Low)
		t.WakeTime = now + low
	}
	return Reschedule
}
