package sim

import (
	"fmt"
	"time"

	"fanchip/internal/host"
)

// Runner plays a Scenario into a simulated device in fixed steps of simulated
// time. The stimulus is sampled at the start of each step.
type Runner struct {
	dev  *host.Device
	gen  *host.PWMGenerator
	scn  *Scenario
	step time.Duration
	loop bool

	elapsed time.Duration
	applied bool
	last    Stimulus
}

func NewRunner(dev *host.Device, scn *Scenario, step time.Duration, loop bool) (*Runner, error) {
	if dev == nil || scn == nil {
		return nil, fmt.Errorf("sim: device and scenario are required")
	}
	if step <= 0 {
		return nil, fmt.Errorf("sim: step must be > 0")
	}
	first := scn.StateAt(0, loop)
	gen, err := dev.NewPWMGenerator(first.FrequencyHz, first.Duty)
	if err != nil {
		return nil, err
	}
	return &Runner{dev: dev, gen: gen, scn: scn, step: step, loop: loop}, nil
}

// Elapsed returns how much scenario time has been played.
func (r *Runner) Elapsed() time.Duration { return r.elapsed }

// Done reports whether a non-looping scenario has played to the end.
func (r *Runner) Done() bool {
	return !r.loop && r.elapsed >= r.scn.Duration()
}

// Step advances the device by one step. It returns false once Done.
func (r *Runner) Step() (bool, error) {
	if r.Done() {
		return false, nil
	}
	if err := r.apply(r.scn.StateAt(r.elapsed, r.loop)); err != nil {
		return false, err
	}
	r.dev.RunFor(r.step)
	r.elapsed += r.step
	return true, nil
}

func (r *Runner) apply(st Stimulus) error {
	if r.applied && st == r.last {
		return nil
	}
	if err := r.gen.SetFrequency(st.FrequencyHz); err != nil {
		return err
	}
	if err := r.gen.SetDuty(st.Duty); err != nil {
		return err
	}
	if err := r.dev.Brake().Set(st.Brake); err != nil {
		return err
	}
	switch {
	case st.Signal && !r.gen.Running():
		r.gen.Start()
	case !st.Signal && r.gen.Running():
		r.gen.Stop()
	}
	r.last = st
	r.applied = true
	return nil
}
