package host

import (
	"sync"

	"fanchip/internal/fanchip"
)

// Transition is a level change observed on a pin.
type Transition struct {
	At    uint64
	Level fanchip.Level
}

// OutputPin records the level the chip drives and, optionally, the history of
// writes. Safe for concurrent use.
type OutputPin struct {
	name string

	mu      sync.Mutex
	level   fanchip.Level
	writes  uint64
	history []Transition
	keep    int
	onWrite func(Transition)
}

// NewOutputPin keeps up to keep recent writes (0 disables the history).
func NewOutputPin(name string, keep int) *OutputPin {
	return &OutputPin{name: name, keep: keep}
}

func (p *OutputPin) Name() string { return p.name }

// OnWrite registers a callback invoked for every write, after it is recorded.
func (p *OutputPin) OnWrite(fn func(Transition)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = fn
}

func (p *OutputPin) Write(at uint64, level fanchip.Level) {
	tr := Transition{At: at, Level: level}
	p.mu.Lock()
	p.level = level
	p.writes++
	if p.keep > 0 {
		p.history = append(p.history, tr)
		if len(p.history) > p.keep {
			p.history = p.history[len(p.history)-p.keep:]
		}
	}
	fn := p.onWrite
	p.mu.Unlock()

	if fn != nil {
		fn(tr)
	}
}

func (p *OutputPin) Level() fanchip.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *OutputPin) Writes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

func (p *OutputPin) History() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transition(nil), p.history...)
}
