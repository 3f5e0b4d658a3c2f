package host

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Attr is a user-adjustable float attribute with a [Min, Max] range, readable
// on demand by the chip. Safe for concurrent use.
type Attr struct {
	name     string
	min, max float64
	bits     atomic.Uint64
}

func NewAttr(name string, def, min, max float64) *Attr {
	a := &Attr{name: name, min: min, max: max}
	if err := a.Set(def); err != nil {
		panic(err)
	}
	return a
}

// NewBrakeAttr returns the "break" attribute: 0 = free running, 1 = full stop.
func NewBrakeAttr(def float64) *Attr {
	return NewAttr("break", def, 0, 1)
}

func (a *Attr) Name() string { return a.name }

func (a *Attr) Get() float64 { return math.Float64frombits(a.bits.Load()) }

// Brake makes an Attr usable as the chip's brake source.
func (a *Attr) Brake() float64 { return a.Get() }

func (a *Attr) Set(v float64) error {
	if math.IsNaN(v) || v < a.min || v > a.max {
		return fmt.Errorf("attribute %s: value %v outside [%v, %v]", a.name, v, a.min, a.max)
	}
	a.bits.Store(math.Float64bits(v))
	return nil
}
