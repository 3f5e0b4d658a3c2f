package sim

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, script-driven stimulus for the fan chip:
// what the PWM input does over time and how the brake attribute moves.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 2s
//	interpolate: linear   # or "step" (default)
//	keyframes:
//	  - t: 0s
//	    frequency_hz: 25000
//	    duty: 0.5
//	  - t: 500ms
//	    duty: 0.9
//	    brake: 0.25
//	  - t: 1500ms
//	    signal: false     # PWM line goes quiet
//
// Fields omitted from a keyframe carry over from the previous one. The first
// keyframe defaults to 1 kHz, duty 0, brake 0, signal present.
//
// Keyframes must use non-decreasing t values.
type ScenarioScript struct {
	Version     int           `yaml:"version"`
	Duration    time.Duration `yaml:"duration"`
	Interpolate string        `yaml:"interpolate"`
	Keyframes   []Keyframe    `yaml:"keyframes"`
}

// Keyframe is a time-stamped stimulus change. Nil fields carry over.
type Keyframe struct {
	T           time.Duration `yaml:"t"`
	FrequencyHz *float64      `yaml:"frequency_hz"`
	Duty        *float64      `yaml:"duty"`
	Brake       *float64      `yaml:"brake"`
	Signal      *bool         `yaml:"signal"`
}

// Stimulus is the resolved input state at a point in time.
type Stimulus struct {
	FrequencyHz float64
	Duty        float64
	Brake       float64
	Signal      bool
}

const (
	InterpolateStep   = "step"
	InterpolateLinear = "linear"
)

// Scenario is the validated, runtime representation.
//
// Use StateAt to compute the deterministic stimulus at a given elapsed time.
type Scenario struct {
	times    []time.Duration
	resolved []Stimulus
	linear   bool
	// Derived duration (script.Duration or max keyframe time).
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}

	var linear bool
	switch script.Interpolate {
	case "", InterpolateStep:
	case InterpolateLinear:
		linear = true
	default:
		return nil, fmt.Errorf("interpolate must be %q or %q", InterpolateStep, InterpolateLinear)
	}

	cur := Stimulus{FrequencyHz: 1000, Signal: true}
	times := make([]time.Duration, 0, len(script.Keyframes))
	resolved := make([]Stimulus, 0, len(script.Keyframes))
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.FrequencyHz != nil {
			if !(*kf.FrequencyHz > 0) || math.IsInf(*kf.FrequencyHz, 0) {
				return nil, fmt.Errorf("keyframes[%d].frequency_hz must be > 0", i)
			}
			cur.FrequencyHz = *kf.FrequencyHz
		}
		if kf.Duty != nil {
			if !inUnit(*kf.Duty) {
				return nil, fmt.Errorf("keyframes[%d].duty must be in [0, 1]", i)
			}
			cur.Duty = *kf.Duty
		}
		if kf.Brake != nil {
			if !inUnit(*kf.Brake) {
				return nil, fmt.Errorf("keyframes[%d].brake must be in [0, 1]", i)
			}
			cur.Brake = *kf.Brake
		}
		if kf.Signal != nil {
			cur.Signal = *kf.Signal
		}
		times = append(times, kf.T)
		resolved = append(resolved, cur)
	}

	dur := script.Duration
	if dur <= 0 {
		dur = times[len(times)-1]
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}

	return &Scenario{times: times, resolved: resolved, linear: linear, duration: dur}, nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt computes the stimulus at elapsed.
//
// If loop is true, elapsed wraps around Duration(). Otherwise elapsed is clamped
// to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration, loop bool) Stimulus {
	if s == nil {
		return Stimulus{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	k0, k1, alpha := s.selectSegment(elapsed)
	if !s.linear || alpha == 0 {
		return k0
	}
	// Signal loss is a discrete event: it switches at the keyframe, not halfway.
	return Stimulus{
		FrequencyHz: lerp(k0.FrequencyHz, k1.FrequencyHz, alpha),
		Duty:        lerp(k0.Duty, k1.Duty, alpha),
		Brake:       lerp(k0.Brake, k1.Brake, alpha),
		Signal:      k0.Signal,
	}
}

func (s *Scenario) selectSegment(t time.Duration) (Stimulus, Stimulus, float64) {
	kfs := s.resolved
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(s.times), func(i int) bool { return s.times[i] > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := s.times[idx] - s.times[idx-1]
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-s.times[idx-1]) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
