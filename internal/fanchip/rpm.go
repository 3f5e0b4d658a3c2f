package fanchip

import (
	"math"
	"time"
)

// Calibration of the fan: below StopDuty the fan is stopped, above it RPM rises
// linearly from MinRPM to MinRPM+RPMSpan at 100% duty.
const (
	StopDuty = 0.25
	MinRPM   = 2500.0
	RPMSpan  = 4000.0

	// FullScaleRPM normalizes the visualization bar.
	FullScaleRPM = 6500.0
)

// DutyToRPM maps a PWM duty cycle in [0,1] to the unbraked fan speed.
func DutyToRPM(duty float64) float64 {
	if duty < StopDuty {
		return 0
	}
	return (duty-StopDuty)*(RPMSpan/(1-StopDuty)) + MinRPM
}

// ApplyBrake attenuates rpm by the braking factor b. b is clamped to [0,1] so
// that b=1 always yields exactly 0.
func ApplyBrake(rpm, b float64) float64 {
	if !(b > 0) {
		return rpm
	}
	if b >= 1 {
		return 0
	}
	return rpm * (1 - b)
}

// TachoHalfPeriodSeconds returns the time between two tachometer toggles.
// The fan emits two pulses per revolution, so the output toggles four times.
func TachoHalfPeriodSeconds(rpm float64) float64 {
	return 0.25 / (rpm / 60.0)
}

// TachoHalfPeriod is TachoHalfPeriodSeconds as a duration. It returns 0 for a
// stopped fan.
func TachoHalfPeriod(rpm float64) time.Duration {
	if rpm <= 0 {
		return 0
	}
	ns := TachoHalfPeriodSeconds(rpm) * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
